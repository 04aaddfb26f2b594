package model

import "time"

type Classification string

const (
	BuildSuccess Classification = "build_success"
	BuildFailure Classification = "build_failure"
	CompileError Classification = "compile_error"
	BuildTimeout Classification = "timeout"
	InfraError   Classification = "infra_error"
)

type BuildOutcome struct {
	Environment    Environment    `json:"environment"`
	ExitCode       int            `json:"exit_code"`
	Stdout         string         `json:"stdout,omitempty"`
	Stderr         string         `json:"stderr,omitempty"`
	Elapsed        time.Duration  `json:"elapsed_ns"`
	Classification Classification `json:"classification"`
	Detail         string         `json:"detail,omitempty"`
}

func (o BuildOutcome) Succeeded() bool {
	return o.Classification == BuildSuccess
}

// InfraAttributable reports whether the failure was caused by the
// environment rather than the project itself.
func (o BuildOutcome) InfraAttributable() bool {
	return o.Classification == InfraError
}

// Execution is the result of running a build, possibly across two
// environments. Final is the last attempt made.
type Execution struct {
	Attempts []BuildOutcome `json:"attempts"`
}

func (e Execution) Final() BuildOutcome {
	if len(e.Attempts) == 0 {
		return BuildOutcome{Classification: InfraError, ExitCode: -1, Detail: "no attempt made"}
	}
	return e.Attempts[len(e.Attempts)-1]
}

func (e Execution) FellBack() bool {
	return len(e.Attempts) > 1
}
