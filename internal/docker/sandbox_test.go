package docker_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"covhook/scan-runner/internal/docker"
	"covhook/scan-runner/internal/model"
	"covhook/scan-runner/internal/scanners"
)

type fakeAPI struct {
	mu       sync.Mutex
	pingErr  error
	exitCode int64
	hang     bool
	stdout   string
	stderr   string

	// imageMissing makes create fail until the image was pulled.
	imageMissing bool
	pullErr      error
	pullStream   string
	pulled       []string
	creates      int

	created *container.Config
	host    *container.HostConfig
	killed  bool
	removed bool
}

func (f *fakeAPI) Ping(context.Context) (types.Ping, error) {
	return types.Ping{}, f.pingErr
}

func (f *fakeAPI) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.imageMissing && len(f.pulled) == 0 {
		return container.CreateResponse{}, errdefs.NotFound(errors.New("No such image: " + cfg.Image))
	}
	f.created = cfg
	f.host = host
	return container.CreateResponse{ID: "c1"}, nil
}

func (f *fakeAPI) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	stream := f.pullStream
	if stream == "" {
		stream = `{"status":"Pulling from library/maven"}` + "\n" + `{"status":"Download complete"}` + "\n"
	}
	if !strings.Contains(stream, "errorDetail") {
		f.pulled = append(f.pulled, ref)
	}
	return io.NopCloser(strings.NewReader(stream)), nil
}

func (f *fakeAPI) ContainerStart(context.Context, string, container.StartOptions) error {
	return nil
}

func (f *fakeAPI) ContainerWait(ctx context.Context, _ string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	if f.hang {
		go func() {
			<-ctx.Done()
			errCh <- ctx.Err()
		}()
		return statusCh, errCh
	}
	statusCh <- container.WaitResponse{StatusCode: f.exitCode}
	return statusCh, errCh
}

func (f *fakeAPI) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	return io.NopCloser(&buf), nil
}

func (f *fakeAPI) ContainerKill(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = true
	return nil
}

func (f *fakeAPI) ContainerRemove(context.Context, string, container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = true
	return nil
}

func newRunner(api docker.API) *docker.Runner {
	log, _ := logtest.NewNullLogger()
	return docker.NewRunner(api, nil, docker.Limits{}, "/cache/m2", log)
}

func job() scanners.BuildJob {
	return scanners.BuildJob{
		RequestID: "req-1",
		Workspace: "/tmp/ws",
		ReportDir: "/tmp/ws-reports",
		Goals:     []string{"clean", "test"},
		Image:     "maven:3.9-eclipse-temurin-17",
		Timeout:   time.Minute,
	}
}

func TestRunner_Success(t *testing.T) {
	api := &fakeAPI{stdout: "[INFO] BUILD SUCCESS\n", stderr: "warning\n"}
	outcome := newRunner(api).RunBuild(context.Background(), job())

	if outcome.Classification != model.BuildSuccess {
		t.Fatalf("expected success, got %s (%s)", outcome.Classification, outcome.Detail)
	}
	if outcome.Stdout != "[INFO] BUILD SUCCESS\n" || outcome.Stderr != "warning\n" {
		t.Errorf("unexpected logs: %q / %q", outcome.Stdout, outcome.Stderr)
	}
	if !api.removed {
		t.Error("container must be removed after the build")
	}
	cmd := strings.Join(api.created.Cmd, " ")
	if cmd != "mvn -B -Dcovhook.jacoco.outputDirectory=/reports clean test" {
		t.Errorf("unexpected command: %s", cmd)
	}
	if api.created.WorkingDir != docker.WorkspaceMount {
		t.Errorf("expected working dir %s, got %s", docker.WorkspaceMount, api.created.WorkingDir)
	}
	targets := map[string]string{}
	for _, m := range api.host.Mounts {
		targets[m.Target] = m.Source
		if m.ReadOnly {
			t.Errorf("mount %s must be read-write", m.Target)
		}
	}
	if targets[docker.WorkspaceMount] != "/tmp/ws" || targets[docker.ReportsMount] != "/tmp/ws-reports" || targets[docker.MavenHomeMount] != "/cache/m2" {
		t.Errorf("unexpected mounts: %v", targets)
	}
}

func TestRunner_BuildFailureIsNotInfra(t *testing.T) {
	api := &fakeAPI{exitCode: 1, stdout: "Tests run: 3, Failures: 2, Errors: 0\n[INFO] BUILD FAILURE\n"}
	outcome := newRunner(api).RunBuild(context.Background(), job())
	if outcome.Classification != model.BuildFailure {
		t.Errorf("expected build_failure, got %s", outcome.Classification)
	}
	if outcome.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", outcome.ExitCode)
	}
}

func TestRunner_UnreachableDaemonIsInfra(t *testing.T) {
	api := &fakeAPI{pingErr: errors.New("connect: connection refused")}
	outcome := newRunner(api).RunBuild(context.Background(), job())
	if !outcome.InfraAttributable() {
		t.Fatalf("expected infra_error, got %s", outcome.Classification)
	}
	if !strings.Contains(outcome.Detail, "connection refused") {
		t.Errorf("expected diagnostics in detail, got %q", outcome.Detail)
	}
	if api.created != nil {
		t.Error("no container may be created when the daemon is unreachable")
	}
}

func TestRunner_NoClientIsInfra(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	runner := docker.NewRunner(nil, errors.New("bad DOCKER_HOST"), docker.Limits{}, "", log)
	outcome := runner.RunBuild(context.Background(), job())
	if !outcome.InfraAttributable() {
		t.Errorf("expected infra_error, got %s", outcome.Classification)
	}
}

func TestRunner_TimeoutKillsContainer(t *testing.T) {
	api := &fakeAPI{hang: true}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	outcome := newRunner(api).RunBuild(ctx, job())
	if outcome.Classification != model.BuildTimeout {
		t.Fatalf("expected timeout, got %s", outcome.Classification)
	}
	if !api.killed || !api.removed {
		t.Errorf("expected container to be killed and removed, killed=%v removed=%v", api.killed, api.removed)
	}
}

func TestRunner_PullsMissingImage(t *testing.T) {
	api := &fakeAPI{imageMissing: true, stdout: "[INFO] BUILD SUCCESS\n"}
	outcome := newRunner(api).RunBuild(context.Background(), job())

	if outcome.Classification != model.BuildSuccess {
		t.Fatalf("expected success after pulling, got %s (%s)", outcome.Classification, outcome.Detail)
	}
	if len(api.pulled) != 1 || api.pulled[0] != "maven:3.9-eclipse-temurin-17" {
		t.Errorf("expected one pull of the build image, got %v", api.pulled)
	}
	if api.creates != 2 {
		t.Errorf("expected create to be retried once, got %d calls", api.creates)
	}
}

func TestRunner_FailedPullIsInfra(t *testing.T) {
	cases := map[string]*fakeAPI{
		"request rejected": {imageMissing: true, pullErr: errors.New("pull access denied")},
		"stream error":     {imageMissing: true, pullStream: `{"errorDetail":{"message":"manifest unknown"},"error":"manifest unknown"}` + "\n"},
	}
	for name, api := range cases {
		t.Run(name, func(t *testing.T) {
			outcome := newRunner(api).RunBuild(context.Background(), job())
			if outcome.Classification != model.InfraError {
				t.Errorf("expected infra_error, got %s", outcome.Classification)
			}
			if !strings.Contains(outcome.Detail, "pulling build image") {
				t.Errorf("expected pull diagnostics, got %q", outcome.Detail)
			}
			if api.removed {
				t.Error("no container was created, nothing to remove")
			}
		})
	}
}
