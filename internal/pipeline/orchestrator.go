package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"covhook/scan-runner/internal/instrument"
	"covhook/scan-runner/internal/metrics"
	"covhook/scan-runner/internal/model"
	"covhook/scan-runner/internal/scanners"
	"covhook/scan-runner/internal/scanners/jacoco"
	"covhook/scan-runner/internal/workspace"
)

// DescriptorFile is the build descriptor instrumented in the workspace.
const DescriptorFile = "pom.xml"

type Resolver interface {
	Resolve(repoURL string) (model.ServiceConfig, error)
}

type Selector interface {
	Select(cfg model.ServiceConfig) (scanners.Executor, error)
}

type Tracker interface {
	Track(ctx context.Context, service, commitID string, report *model.CoverageReport) model.Delta
}

type Notifier interface {
	Send(ctx context.Context, webhook, content string) error
}

type Options struct {
	JacocoVersion  string
	ReportsDir     string
	ReportsBaseURL string
	// Timeout applies to services without their own timeout.
	Timeout time.Duration
	// AcquireTimeout bounds cloning the workspace. Defaults to the
	// service timeout.
	AcquireTimeout time.Duration
	// NotifyTimeout bounds notification delivery.
	NotifyTimeout time.Duration
}

// Orchestrator sequences one scan from config resolution to notification.
type Orchestrator struct {
	resolver   Resolver
	workspaces workspace.Provider
	selector   Selector
	tracker    Tracker
	notifier   Notifier
	format     func(model.ScanResult, float64) string
	opts       Options
	log        logrus.FieldLogger
	now        func() time.Time
}

func New(
	resolver Resolver,
	workspaces workspace.Provider,
	selector Selector,
	tracker Tracker,
	notifier Notifier,
	format func(model.ScanResult, float64) string,
	opts Options,
	log logrus.FieldLogger,
) *Orchestrator {
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 15 * time.Second
	}
	return &Orchestrator{
		resolver:   resolver,
		workspaces: workspaces,
		selector:   selector,
		tracker:    tracker,
		notifier:   notifier,
		format:     format,
		opts:       opts,
		log:        log,
		now:        time.Now,
	}
}

// scan carries the state of one pipeline run.
type scan struct {
	req    model.ScanRequest
	cfg    model.ServiceConfig
	ws     *workspace.Workspace
	result model.ScanResult
	log    logrus.FieldLogger
}

func (s *scan) enter(stage model.Stage) {
	s.log.WithField("stage", stage).Info("stage started")
}

// Run executes the pipeline for req and returns its terminal result. Every
// failure is tagged with its stage; the workspace is released on every path.
func (o *Orchestrator) Run(ctx context.Context, req model.ScanRequest, taskID string) model.ScanResult {
	s := &scan{
		req: req,
		result: model.ScanResult{
			TaskID:      taskID,
			RequestID:   req.RequestID,
			ServiceName: req.ServiceName,
			CommitID:    req.CommitID,
			Branch:      req.Branch,
			Status:      model.StatusRunning,
			StartedAt:   o.now().UTC(),
		},
		log: o.log.WithFields(logrus.Fields{
			"request_id": req.RequestID,
			"task_id":    taskID,
			"commit":     req.CommitID,
			"repo_url":   req.RepoURL,
		}),
	}
	defer func() {
		if s.ws == nil {
			return
		}
		if err := s.ws.Release(); err != nil {
			s.log.WithError(err).Warn("could not release workspace")
		}
	}()

	err := o.execute(ctx, s)
	switch {
	case errors.Is(err, model.ErrConfigNotFound):
		s.result.Status = model.StatusIgnored
		s.result.Stage = model.StageResolving
		s.result.Reason = model.ReasonConfigNotFound
		s.log.WithField("stage", model.StageResolving).Info("no service configured for repository, ignoring")
		return o.finish(s)
	case err != nil:
		stage := model.StageExecuting
		if se, ok := model.AsStageError(err); ok {
			stage = se.Stage
		}
		s.result.Fail(stage, err)
		s.log.WithFields(logrus.Fields{"stage": s.result.Stage, "reason": s.result.Reason}).WithError(err).Error("scan failed")
	default:
		s.result.Status = model.StatusCompleted
		s.result.Stage = model.StageDone
	}

	o.notify(ctx, s)
	return o.finish(s)
}

func (o *Orchestrator) finish(s *scan) model.ScanResult {
	s.result.FinishedAt = o.now().UTC()
	metrics.ObserveResult(s.result)
	s.log.WithFields(logrus.Fields{
		"stage":        model.StageDone,
		"status":       s.result.Status,
		"reason":       s.result.Reason,
		"environment":  s.result.Environment,
		"notification": s.result.Notification,
	}).Info("scan finished")
	return s.result
}

func (o *Orchestrator) execute(ctx context.Context, s *scan) error {
	s.enter(model.StageResolving)
	cfg, err := o.resolver.Resolve(s.req.RepoURL)
	if err != nil {
		return err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = o.opts.Timeout
	}
	s.cfg = cfg
	s.result.ServiceName = cfg.ServiceName
	s.log = s.log.WithField("service", cfg.ServiceName)

	s.enter(model.StageAcquiring)
	acquireTimeout := o.opts.AcquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = cfg.Timeout
	}
	acquireCtx, cancel := ctx, context.CancelFunc(func() {})
	if acquireTimeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, acquireTimeout)
	}
	ws, err := o.workspaces.Acquire(acquireCtx, s.req, cfg)
	expired := acquireCtx.Err() == context.DeadlineExceeded
	cancel()
	if err != nil {
		if expired {
			err = fmt.Errorf("workspace not ready after %s: %w", acquireTimeout, err)
		}
		return model.NewStageError(model.StageAcquiring, model.ReasonWorkspaceError, err)
	}
	s.ws = ws

	s.enter(model.StageInstrumenting)
	res, err := instrument.InstrumentFile(filepath.Join(ws.RepoDir, DescriptorFile), instrument.Options{
		Version: o.opts.JacocoVersion,
		Formats: cfg.ReportFormats,
	})
	if err != nil {
		return model.NewStageError(model.StageInstrumenting, model.ReasonInstrumentationFailure, err)
	}
	s.log.WithFields(logrus.Fields{
		"stage":      model.StageInstrumenting,
		"changed":    res.Changed,
		"properties": res.Properties,
		"plugin":     res.Plugin,
	}).Debug("build descriptor checked")

	s.enter(model.StageSelecting)
	executor, err := o.selector.Select(cfg)
	if err != nil {
		return model.NewStageError(model.StageSelecting, model.ReasonEnvironmentUnavailable, err)
	}

	s.enter(model.StageExecuting)
	execution := executor.Execute(ctx, scanners.BuildJob{
		RequestID: s.req.RequestID,
		Service:   cfg.ServiceName,
		Workspace: ws.RepoDir,
		ReportDir: ws.ReportDir,
		Goals:     cfg.MavenGoals,
		Image:     cfg.DockerImage,
		Timeout:   cfg.Timeout,
	})
	metrics.ObserveExecution(execution)
	final := execution.Final()
	s.result.Attempts = execution.Attempts
	s.result.Environment = final.Environment
	s.result.Classification = final.Classification
	if !final.Succeeded() {
		return model.NewStageError(model.StageExecuting, model.ReasonFor(final.Classification), attemptsError(execution))
	}

	s.enter(model.StageParsing)
	reportDir, err := locateReports(ws)
	if err != nil {
		return model.NewStageError(model.StageParsing, model.ReasonReportParseFailure, err)
	}
	report, err := jacoco.ParseFile(filepath.Join(reportDir, jacoco.ReportFile))
	if err != nil {
		return model.NewStageError(model.StageParsing, model.ReasonReportParseFailure, err)
	}
	s.result.Coverage = report
	s.result.Artifacts = o.persistReports(s, reportDir)

	if cfg.UseIncremental && o.tracker != nil {
		s.enter(model.StageTracking)
		s.result.Delta = o.tracker.Track(ctx, cfg.ServiceName, s.req.CommitID, report)
	}
	s.result.BelowThreshold = !report.NoData && cfg.CoverageThreshold > 0 &&
		report.Percentage(model.CounterLine) < cfg.CoverageThreshold
	return nil
}

// attemptsError summarizes every build attempt into one error.
func attemptsError(e model.Execution) error {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		detail := a.Detail
		if detail == "" {
			detail = lastLines(a.Stdout+"\n"+a.Stderr, 5)
		}
		parts = append(parts, fmt.Sprintf("%s attempt: %s (exit %d): %s", a.Environment, a.Classification, a.ExitCode, detail))
	}
	return errors.New(strings.Join(parts, "; "))
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

// locateReports returns the directory holding the XML report. A build that
// succeeded without any execution data gets a placeholder report so that it
// surfaces as no_data rather than as a parse failure.
func locateReports(ws *workspace.Workspace) (string, error) {
	candidates := []string{
		ws.ReportDir,
		filepath.Join(ws.RepoDir, "target", "site", "jacoco"),
	}
	for _, dir := range candidates {
		if fileExists(filepath.Join(dir, jacoco.ReportFile)) {
			return dir, nil
		}
	}
	execData := filepath.Join(ws.RepoDir, "target", "jacoco.exec")
	if fileExists(execData) {
		return "", fmt.Errorf("execution data %s exists but no %s was generated", execData, jacoco.ReportFile)
	}
	if _, err := jacoco.WritePlaceholder(ws.ReportDir); err != nil {
		return "", fmt.Errorf("writing placeholder report: %w", err)
	}
	return ws.ReportDir, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (o *Orchestrator) notify(ctx context.Context, s *scan) {
	if s.cfg.NotificationWebhook == "" || o.notifier == nil {
		s.result.Notification = model.NotificationSkipped
		return
	}
	s.enter(model.StageNotifying)
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.NotifyTimeout)
	defer cancel()

	msg := o.format(s.result, s.cfg.CoverageThreshold)
	if err := o.notifier.Send(notifyCtx, s.cfg.NotificationWebhook, msg); err != nil {
		s.result.Notification = model.NotificationError
		s.result.NotifyError = err.Error()
		s.log.WithField("stage", model.StageNotifying).WithError(err).Warn("notification delivery failed")
		return
	}
	s.result.Notification = model.NotificationSent
}
