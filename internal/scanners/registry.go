package scanners

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"covhook/scan-runner/internal/model"
)

// Registry holds the runners available to this process, keyed by environment.
type Registry struct {
	runners map[model.Environment]Runner
	log     logrus.FieldLogger
}

func NewRegistry(log logrus.FieldLogger, runners ...Runner) *Registry {
	r := &Registry{runners: make(map[model.Environment]Runner, len(runners)), log: log}
	for _, runner := range runners {
		r.runners[runner.Environment()] = runner
	}
	return r
}

// Select returns the executor for a service: its primary environment,
// wrapped so that an infra-attributable failure is retried once in the
// other environment.
func (r *Registry) Select(cfg model.ServiceConfig) (Executor, error) {
	primaryEnv := cfg.PrimaryEnvironment()
	primary, ok := r.runners[primaryEnv]
	secondary := r.runners[primaryEnv.Other()]
	if !ok {
		if secondary == nil {
			return nil, fmt.Errorf("no runner registered for %s or %s", primaryEnv, primaryEnv.Other())
		}
		// treat the missing runner like an unreachable one
		primary = unavailableRunner{env: primaryEnv}
	}
	return &FallbackExecutor{Primary: primary, Secondary: secondary, Log: r.log}, nil
}

// FallbackExecutor runs Primary and, only when that attempt failed for an
// infra-attributable reason, Secondary. Timeouts and build failures are
// never retried.
type FallbackExecutor struct {
	Primary   Runner
	Secondary Runner
	Log       logrus.FieldLogger
}

func (f *FallbackExecutor) Execute(ctx context.Context, job BuildJob) model.Execution {
	var result model.Execution

	first := f.attempt(ctx, f.Primary, job)
	result.Attempts = append(result.Attempts, first)
	if !first.InfraAttributable() || f.Secondary == nil {
		return result
	}

	f.Log.WithFields(logrus.Fields{
		"request_id": job.RequestID,
		"stage":      model.StageExecuting,
		"from":       f.Primary.Environment(),
		"to":         f.Secondary.Environment(),
		"detail":     first.Detail,
	}).Warn("environment unavailable, falling back")

	if err := resetDir(job.ReportDir); err != nil {
		f.Log.WithError(err).WithField("request_id", job.RequestID).Warn("could not clear report directory before fallback")
	}
	result.Attempts = append(result.Attempts, f.attempt(ctx, f.Secondary, job))
	return result
}

func (f *FallbackExecutor) attempt(ctx context.Context, runner Runner, job BuildJob) model.BuildOutcome {
	if job.Timeout <= 0 {
		return runner.RunBuild(ctx, job)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()
	return runner.RunBuild(attemptCtx, job)
}

func resetDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

type unavailableRunner struct {
	env model.Environment
}

func (u unavailableRunner) Environment() model.Environment {
	return u.env
}

func (u unavailableRunner) RunBuild(context.Context, BuildJob) model.BuildOutcome {
	return model.BuildOutcome{
		Environment:    u.env,
		ExitCode:       -1,
		Classification: model.InfraError,
		Detail:         fmt.Sprintf("%s runner is not configured", u.env),
	}
}
