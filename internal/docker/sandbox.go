package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sirupsen/logrus"

	"covhook/scan-runner/internal/model"
	"covhook/scan-runner/internal/scanners"
)

const (
	pingTimeout    = 5 * time.Second
	cleanupTimeout = 30 * time.Second
)

// Runner builds the project inside a throwaway container.
type Runner struct {
	api        API
	connectErr error
	limits     Limits
	mavenCache string
	log        logrus.FieldLogger
}

// NewRunner returns a container runner. A nil api (with connectErr set)
// yields a runner whose every build is classified infra_error, so the
// executor can fall back to the local toolchain.
func NewRunner(api API, connectErr error, limits Limits, mavenCache string, log logrus.FieldLogger) *Runner {
	return &Runner{api: api, connectErr: connectErr, limits: limits, mavenCache: mavenCache, log: log}
}

func (r *Runner) Environment() model.Environment {
	return model.EnvironmentDocker
}

func (r *Runner) RunBuild(ctx context.Context, job scanners.BuildJob) model.BuildOutcome {
	start := time.Now()
	outcome := model.BuildOutcome{Environment: model.EnvironmentDocker, ExitCode: -1}
	infra := func(format string, args ...any) model.BuildOutcome {
		outcome.Classification = model.InfraError
		outcome.Detail = fmt.Sprintf(format, args...)
		outcome.Elapsed = time.Since(start)
		return outcome
	}

	if r.api == nil {
		return infra("container runtime unavailable: %v", r.connectErr)
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	_, err := r.api.Ping(pingCtx)
	cancel()
	if err != nil {
		return infra("container runtime unreachable: %v", err)
	}

	log := r.log.WithFields(logrus.Fields{
		"request_id": job.RequestID,
		"image":      job.Image,
	})

	hostConfig := BuildHostConfig(r.limits, job.Workspace, job.ReportDir, r.mavenCache)
	create := func() (container.CreateResponse, error) {
		return r.api.ContainerCreate(
			ctx,
			&container.Config{
				Image:      job.Image,
				Cmd:        append([]string{"mvn"}, scanners.MavenArgs(job.Goals, ReportsMount)...),
				WorkingDir: WorkspaceMount,
				Labels: map[string]string{
					"covhook.request_id": job.RequestID,
					"covhook.service":    job.Service,
				},
			},
			&hostConfig,
			nil,
			nil,
			"",
		)
	}
	resp, err := create()
	if errdefs.IsNotFound(err) {
		log.Info("build image not present, pulling")
		if err := r.pull(ctx, job.Image); err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				outcome.Classification = model.BuildTimeout
				outcome.Detail = fmt.Sprintf("pulling %s exceeded %s", job.Image, job.Timeout)
				outcome.Elapsed = time.Since(start)
				return outcome
			}
			return infra("pulling build image %s: %v", job.Image, err)
		}
		resp, err = create()
	}
	switch {
	case err == nil:
	case errdefs.IsNotFound(err):
		return infra("build image %s not found after pull: %v", job.Image, err)
	case client.IsErrConnectionFailed(err):
		return infra("container runtime unreachable: %v", err)
	default:
		return infra("creating build container: %v", err)
	}
	defer r.remove(resp.ID)

	log = log.WithField("container_id", resp.ID)
	log.Debug("starting build container")

	if err := r.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return infra("starting build container: %v", err)
	}

	statusCh, errCh := r.api.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		outcome.ExitCode = int(status.StatusCode)
		if status.Error != nil && status.Error.Message != "" {
			outcome.Detail = status.Error.Message
		}
	case err := <-errCh:
		if ctx.Err() == nil {
			return infra("waiting for build container: %v", err)
		}
	case <-ctx.Done():
	}

	if ctx.Err() == context.DeadlineExceeded {
		r.kill(resp.ID, log)
		outcome.Classification = model.BuildTimeout
		outcome.Detail = fmt.Sprintf("build exceeded %s and the container was killed", job.Timeout)
		outcome.Elapsed = time.Since(start)
		return outcome
	}
	if ctx.Err() != nil {
		r.kill(resp.ID, log)
		return infra("build interrupted: %v", ctx.Err())
	}

	stdout, stderr := r.logs(resp.ID, log)
	outcome.Stdout = scanners.TruncateTail(stdout, scanners.MaxOutput)
	outcome.Stderr = scanners.TruncateTail(stderr, scanners.MaxOutput)
	outcome.Elapsed = time.Since(start)
	outcome.Classification = scanners.Classify(outcome.ExitCode, outcome.Stdout+"\n"+outcome.Stderr)
	return outcome
}

// pull fetches ref and drains the progress stream, which carries any
// error the daemon hits after the request was accepted.
func (r *Runner) pull(ctx context.Context, ref string) error {
	rc, err := r.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()
	return jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, nil)
}

func (r *Runner) logs(id string, log logrus.FieldLogger) (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	rc, err := r.api.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		log.WithError(err).Warn("could not read build container logs")
		return "", ""
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		log.WithError(err).Warn("could not demultiplex build container logs")
	}
	return stdout.String(), stderr.String()
}

func (r *Runner) kill(id string, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := r.api.ContainerKill(ctx, id, "SIGKILL"); err != nil && !errdefs.IsNotFound(err) {
		log.WithError(err).Warn("could not kill build container")
	}
}

func (r *Runner) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	err := r.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !errdefs.IsNotFound(err) {
		r.log.WithError(err).WithField("container_id", id).Warn("could not remove build container")
	}
}
