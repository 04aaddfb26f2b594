package scanners

import (
	"regexp"
	"strings"

	"covhook/scan-runner/internal/model"
)

// MaxOutput is how much of the tail of stdout/stderr an outcome keeps.
const MaxOutput = 64 * 1024

var (
	compileErrorPattern = regexp.MustCompile(`COMPILATION ERROR|Compilation failure|cannot find symbol`)
	testFailurePattern  = regexp.MustCompile(`There are test failures|Tests run: \d+, Failures: [1-9]|Tests run: \d+, Failures: \d+, Errors: [1-9]`)
	infraPattern        = regexp.MustCompile(`command not found|executable file not found|mvn: not found|Cannot connect to the Docker daemon|Could not transfer artifact|Could not resolve dependencies|Unknown host`)
)

// Classify maps a finished build's exit code and combined log to an
// outcome classification. A non-zero exit without an actionable build log
// is attributed to the environment.
func Classify(exitCode int, output string) model.Classification {
	if exitCode == 0 && !strings.Contains(output, "BUILD FAILURE") {
		return model.BuildSuccess
	}
	switch {
	case compileErrorPattern.MatchString(output):
		return model.CompileError
	case testFailurePattern.MatchString(output):
		return model.BuildFailure
	case infraPattern.MatchString(output):
		return model.InfraError
	case exitCode == 126 || exitCode == 127:
		return model.InfraError
	case strings.Contains(output, "BUILD FAILURE"), strings.Contains(output, "[ERROR]"):
		return model.BuildFailure
	}
	return model.InfraError
}

func TruncateTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "...(truncated)\n" + s[len(s)-n:]
}
