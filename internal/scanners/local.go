package scanners

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"

	"covhook/scan-runner/internal/instrument"
	"covhook/scan-runner/internal/model"
)

// LocalRunner runs maven as a subprocess in the checked-out workspace.
type LocalRunner struct {
	binary string
	log    logrus.FieldLogger
}

func NewLocalRunner(binary string, log logrus.FieldLogger) *LocalRunner {
	if binary == "" {
		binary = "mvn"
	}
	return &LocalRunner{binary: binary, log: log}
}

func (r *LocalRunner) Environment() model.Environment {
	return model.EnvironmentLocal
}

// MavenArgs returns the maven command line for goals writing reports to reportDir.
func MavenArgs(goals []string, reportDir string) []string {
	args := []string{"-B", "-D" + instrument.OutputDirProperty + "=" + reportDir}
	return append(args, goals...)
}

func (r *LocalRunner) RunBuild(ctx context.Context, job BuildJob) model.BuildOutcome {
	start := time.Now()
	outcome := model.BuildOutcome{Environment: model.EnvironmentLocal, ExitCode: -1}

	path, err := exec.LookPath(r.binary)
	if err != nil {
		outcome.Classification = model.InfraError
		outcome.Detail = fmt.Sprintf("build tool unavailable: %v", err)
		return outcome
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, MavenArgs(job.Goals, job.ReportDir)...)
	cmd.Dir = job.Workspace
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// forked test JVMs may keep the pipes open after maven is killed
	cmd.WaitDelay = 5 * time.Second

	r.log.WithFields(logrus.Fields{
		"request_id": job.RequestID,
		"workspace":  job.Workspace,
		"goals":      job.Goals,
	}).Debug("starting local build")

	err = cmd.Run()
	outcome.Elapsed = time.Since(start)
	outcome.Stdout = TruncateTail(stdout.String(), MaxOutput)
	outcome.Stderr = TruncateTail(stderr.String(), MaxOutput)

	if ctx.Err() == context.DeadlineExceeded {
		outcome.Classification = model.BuildTimeout
		outcome.Detail = fmt.Sprintf("build exceeded %s and was killed", job.Timeout)
		return outcome
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		outcome.ExitCode = 0
	case errors.As(err, &exitErr):
		outcome.ExitCode = exitErr.ExitCode()
	default:
		outcome.Classification = model.InfraError
		outcome.Detail = fmt.Sprintf("starting build: %v", err)
		return outcome
	}
	outcome.Classification = Classify(outcome.ExitCode, outcome.Stdout+"\n"+outcome.Stderr)
	return outcome
}
