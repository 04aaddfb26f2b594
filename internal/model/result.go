package model

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusIgnored   Status = "ignored"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusIgnored
}

type Stage string

const (
	StageResolving     Stage = "resolving"
	StageAcquiring     Stage = "acquiring"
	StageInstrumenting Stage = "instrumenting"
	StageSelecting     Stage = "selecting"
	StageExecuting     Stage = "executing"
	StageParsing       Stage = "parsing"
	StageTracking      Stage = "tracking"
	StageNotifying     Stage = "notifying"
	StageDone          Stage = "done"
)

type Reason string

const (
	ReasonConfigNotFound         Reason = "config_not_found"
	ReasonWorkspaceError         Reason = "workspace_error"
	ReasonInstrumentationFailure Reason = "instrumentation_failure"
	ReasonEnvironmentUnavailable Reason = "environment_unavailable"
	ReasonBuildFailure           Reason = "build_failure"
	ReasonCompileError           Reason = "compile_error"
	ReasonTimeout                Reason = "timeout"
	ReasonReportParseFailure     Reason = "report_parse_failure"
)

// ReasonFor maps a failed build classification to its error reason.
func ReasonFor(c Classification) Reason {
	switch c {
	case CompileError:
		return ReasonCompileError
	case BuildTimeout:
		return ReasonTimeout
	case InfraError:
		return ReasonEnvironmentUnavailable
	default:
		return ReasonBuildFailure
	}
}

// StageError tags a pipeline failure with the stage it happened in.
type StageError struct {
	Stage  Stage
	Reason Reason
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Reason, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func NewStageError(stage Stage, reason Reason, err error) *StageError {
	return &StageError{Stage: stage, Reason: reason, Err: err}
}

func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

type NotificationStatus string

const (
	NotificationSkipped NotificationStatus = "skipped"
	NotificationSent    NotificationStatus = "sent"
	NotificationError   NotificationStatus = "notification_error"
)

type ScanResult struct {
	TaskID         string             `json:"task_id"`
	RequestID      string             `json:"request_id"`
	ServiceName    string             `json:"service_name,omitempty"`
	CommitID       string             `json:"commit_id,omitempty"`
	Branch         string             `json:"branch,omitempty"`
	Status         Status             `json:"status"`
	Stage          Stage              `json:"stage,omitempty"`
	Reason         Reason             `json:"reason,omitempty"`
	Error          string             `json:"error,omitempty"`
	Classification Classification     `json:"classification,omitempty"`
	Environment    Environment        `json:"environment,omitempty"`
	Attempts       []BuildOutcome     `json:"attempts,omitempty"`
	Coverage       *CoverageReport    `json:"coverage,omitempty"`
	Delta          Delta              `json:"delta,omitempty"`
	BelowThreshold bool               `json:"below_threshold"`
	Artifacts      *ReportArtifacts   `json:"artifacts,omitempty"`
	Notification   NotificationStatus `json:"notification,omitempty"`
	NotifyError    string             `json:"notification_error,omitempty"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     time.Time          `json:"finished_at,omitempty"`
}

// Fail records err on the result. A StageError contributes its stage and
// reason; any other error is tagged with the given stage.
func (r *ScanResult) Fail(stage Stage, err error) {
	r.Status = StatusError
	r.Stage = stage
	if se, ok := AsStageError(err); ok {
		r.Stage = se.Stage
		r.Reason = se.Reason
	}
	r.Error = err.Error()
}
