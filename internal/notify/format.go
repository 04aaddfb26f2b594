package notify

import (
	"fmt"
	"strings"
	"time"

	"covhook/scan-runner/internal/model"
)

// Format renders a scan result as a markdown chat message.
func Format(result model.ScanResult, threshold float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### Coverage: %s\n", result.ServiceName)
	commit := result.CommitID
	if len(commit) > 8 {
		commit = commit[:8]
	}
	fmt.Fprintf(&b, "> commit: `%s`", commit)
	if result.Branch != "" {
		fmt.Fprintf(&b, " on `%s`", result.Branch)
	}
	b.WriteString("\n")

	if result.Classification != "" {
		fmt.Fprintf(&b, "> build: %s", result.Classification)
		if result.Environment != "" {
			fmt.Fprintf(&b, " (%s", result.Environment)
			if n := len(result.Attempts); n > 0 {
				fmt.Fprintf(&b, ", %s", result.Attempts[n-1].Elapsed.Round(time.Second))
			}
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	if len(result.Attempts) > 1 {
		first := result.Attempts[0]
		fmt.Fprintf(&b, "> fell back from %s: %s\n", first.Environment, firstLine(first.Detail))
	}
	b.WriteString("\n")

	switch {
	case result.Status == model.StatusError:
		fmt.Fprintf(&b, "**Scan failed** at `%s`: %s\n", result.Stage, describe(result.Reason))
		if result.Error != "" {
			fmt.Fprintf(&b, "```\n%s\n```\n", firstLine(result.Error))
		}
	case result.Coverage == nil:
		b.WriteString("No coverage report was produced.\n")
	case result.Coverage.NoData:
		b.WriteString("**No coverage data**: no tests were executed.\n")
	default:
		writeCounters(&b, result.Coverage, result.Delta)
		if result.BelowThreshold {
			fmt.Fprintf(&b, "\n**Warning**: line coverage %.2f%% is below the %.2f%% threshold.\n",
				result.Coverage.Percentage(model.CounterLine), threshold)
		}
	}

	if result.Artifacts != nil && result.Artifacts.HTML != "" {
		fmt.Fprintf(&b, "\n[HTML report](%s)\n", result.Artifacts.HTML)
	}
	return b.String()
}

func writeCounters(b *strings.Builder, report *model.CoverageReport, delta model.Delta) {
	b.WriteString("| Counter | Covered | Missed | Coverage |")
	if delta != nil {
		b.WriteString(" Change |")
	}
	b.WriteString("\n|---|---|---|---|")
	if delta != nil {
		b.WriteString("---|")
	}
	b.WriteString("\n")
	for _, typ := range model.CounterTypes {
		c, ok := report.Counters[typ]
		if !ok {
			continue
		}
		fmt.Fprintf(b, "| %s | %d | %d | %.2f%% |", typ, c.Covered, c.Missed, c.Percentage)
		if delta != nil {
			if d, ok := delta[typ]; ok {
				fmt.Fprintf(b, " %+.2f |", d)
			} else {
				b.WriteString(" n/a |")
			}
		}
		b.WriteString("\n")
	}
}

func describe(reason model.Reason) string {
	switch reason {
	case model.ReasonCompileError:
		return "compile error"
	case model.ReasonBuildFailure:
		return "build or test failure"
	case model.ReasonTimeout:
		return "build timed out"
	case model.ReasonEnvironmentUnavailable:
		return "infrastructure unavailable"
	case model.ReasonInstrumentationFailure:
		return "could not instrument the build descriptor"
	case model.ReasonReportParseFailure:
		return "coverage report could not be parsed"
	case model.ReasonWorkspaceError:
		return "could not check out the commit"
	}
	return string(reason)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
