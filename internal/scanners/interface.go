package scanners

import (
	"context"
	"time"

	"covhook/scan-runner/internal/model"
)

type BuildJob struct {
	RequestID string
	Service   string
	Workspace string
	// ReportDir receives the coverage reports. It is emptied before a
	// fallback attempt so partial output is never trusted.
	ReportDir string
	Goals     []string
	Image     string
	Timeout   time.Duration
}

// Runner executes a build in one environment.
type Runner interface {
	Environment() model.Environment
	RunBuild(ctx context.Context, job BuildJob) model.BuildOutcome
}

type Executor interface {
	Execute(ctx context.Context, job BuildJob) model.Execution
}
