package scanners_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"covhook/scan-runner/internal/model"
	"covhook/scan-runner/internal/scanners"
)

type fakeRunner struct {
	env     model.Environment
	outcome model.BuildOutcome
	calls   atomic.Int32
	delay   time.Duration
}

func (f *fakeRunner) Environment() model.Environment { return f.env }

func (f *fakeRunner) RunBuild(ctx context.Context, _ scanners.BuildJob) model.BuildOutcome {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return model.BuildOutcome{Environment: f.env, Classification: model.BuildTimeout, ExitCode: -1}
		}
	}
	out := f.outcome
	out.Environment = f.env
	return out
}

func quietLogger() logrus.FieldLogger {
	log, _ := logtest.NewNullLogger()
	return log
}

func boolPtr(b bool) *bool { return &b }

func TestSelect_FallsBackOnInfraFailure(t *testing.T) {
	docker := &fakeRunner{env: model.EnvironmentDocker, outcome: model.BuildOutcome{Classification: model.InfraError, Detail: "daemon unreachable"}}
	local := &fakeRunner{env: model.EnvironmentLocal, outcome: model.BuildOutcome{Classification: model.BuildSuccess}}
	reg := scanners.NewRegistry(quietLogger(), docker, local)

	reportDir := filepath.Join(t.TempDir(), "reports")
	if err := os.MkdirAll(reportDir, 0755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(reportDir, "jacoco.xml")
	if err := os.WriteFile(stale, []byte("partial"), 0644); err != nil {
		t.Fatal(err)
	}

	exec, err := reg.Select(model.ServiceConfig{UseDocker: boolPtr(true)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := exec.Execute(context.Background(), scanners.BuildJob{ReportDir: reportDir})

	if len(result.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(result.Attempts))
	}
	if result.Attempts[0].Detail != "daemon unreachable" {
		t.Errorf("expected docker diagnostics to be kept, got %q", result.Attempts[0].Detail)
	}
	if result.Final().Environment != model.EnvironmentLocal {
		t.Errorf("expected final environment local, got %s", result.Final().Environment)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("partial report from the failed attempt must be discarded")
	}
}

func TestSelect_NoFallbackOnBuildFailure(t *testing.T) {
	for _, c := range []model.Classification{model.BuildFailure, model.CompileError, model.BuildSuccess} {
		docker := &fakeRunner{env: model.EnvironmentDocker, outcome: model.BuildOutcome{Classification: c}}
		local := &fakeRunner{env: model.EnvironmentLocal, outcome: model.BuildOutcome{Classification: model.BuildSuccess}}
		exec, _ := scanners.NewRegistry(quietLogger(), docker, local).Select(model.ServiceConfig{UseDocker: boolPtr(true)})

		result := exec.Execute(context.Background(), scanners.BuildJob{})
		if len(result.Attempts) != 1 {
			t.Errorf("%s: expected a single attempt, got %d", c, len(result.Attempts))
		}
		if local.calls.Load() != 0 {
			t.Errorf("%s: fallback runner must not be called", c)
		}
	}
}

func TestSelect_TimeoutIsNeverRetried(t *testing.T) {
	local := &fakeRunner{env: model.EnvironmentLocal, delay: time.Second}
	docker := &fakeRunner{env: model.EnvironmentDocker, outcome: model.BuildOutcome{Classification: model.BuildSuccess}}
	exec, _ := scanners.NewRegistry(quietLogger(), docker, local).Select(model.ServiceConfig{UseDocker: boolPtr(false)})

	start := time.Now()
	result := exec.Execute(context.Background(), scanners.BuildJob{Timeout: 50 * time.Millisecond})
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("timeout not enforced, took %v", elapsed)
	}
	if result.Final().Classification != model.BuildTimeout {
		t.Errorf("expected timeout, got %s", result.Final().Classification)
	}
	if docker.calls.Load() != 0 {
		t.Error("a timed out build must not fall back")
	}
}

func TestSelect_BothEnvironmentsFail(t *testing.T) {
	docker := &fakeRunner{env: model.EnvironmentDocker, outcome: model.BuildOutcome{Classification: model.InfraError, Detail: "no daemon"}}
	local := &fakeRunner{env: model.EnvironmentLocal, outcome: model.BuildOutcome{Classification: model.InfraError, Detail: "no mvn"}}
	exec, _ := scanners.NewRegistry(quietLogger(), docker, local).Select(model.ServiceConfig{UseDocker: boolPtr(true)})

	result := exec.Execute(context.Background(), scanners.BuildJob{})
	if len(result.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(result.Attempts))
	}
	if result.Final().Succeeded() {
		t.Error("expected failure")
	}
}

func TestSelect_MissingPrimaryRunnerFallsBack(t *testing.T) {
	local := &fakeRunner{env: model.EnvironmentLocal, outcome: model.BuildOutcome{Classification: model.BuildSuccess}}
	exec, err := scanners.NewRegistry(quietLogger(), local).Select(model.ServiceConfig{UseDocker: boolPtr(true)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := exec.Execute(context.Background(), scanners.BuildJob{})
	if len(result.Attempts) != 2 || result.Attempts[0].Environment != model.EnvironmentDocker {
		t.Fatalf("expected docker attempt then local, got %+v", result.Attempts)
	}
	if result.Final().Environment != model.EnvironmentLocal || !result.Final().Succeeded() {
		t.Errorf("unexpected final outcome %+v", result.Final())
	}
}

func TestSelect_NoRunners(t *testing.T) {
	if _, err := scanners.NewRegistry(quietLogger()).Select(model.ServiceConfig{}); err == nil {
		t.Fatal("expected error with no runners registered")
	}
}
