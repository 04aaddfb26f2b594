package scanners_test

import (
	"strings"
	"testing"

	"covhook/scan-runner/internal/model"
	"covhook/scan-runner/internal/scanners"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
		output   string
		expected model.Classification
	}{
		{"success", 0, "[INFO] BUILD SUCCESS", model.BuildSuccess},
		{"compile error", 1, "[ERROR] COMPILATION ERROR :\n[ERROR] App.java:[3,1] cannot find symbol\n[INFO] BUILD FAILURE", model.CompileError},
		{"test failure", 1, "Tests run: 4, Failures: 1, Errors: 0\n[ERROR] There are test failures.\n[INFO] BUILD FAILURE", model.BuildFailure},
		{"generic build failure", 1, "[INFO] BUILD FAILURE\n[ERROR] Failed to execute goal", model.BuildFailure},
		{"missing tool", 127, "sh: 1: mvn: not found", model.InfraError},
		{"no actionable log", 137, "", model.InfraError},
		{"dependency download", 1, "[ERROR] Could not transfer artifact org.jacoco:jacoco:0.8.11", model.InfraError},
	}
	for _, tt := range tests {
		if got := scanners.Classify(tt.exitCode, tt.output); got != tt.expected {
			t.Errorf("%s: expected %s, got %s", tt.name, tt.expected, got)
		}
	}
}

func TestTruncateTail(t *testing.T) {
	s := strings.Repeat("a", 10) + "END"
	got := scanners.TruncateTail(s, 3)
	if !strings.HasSuffix(got, "END") || strings.Contains(got, "aaaa") {
		t.Errorf("unexpected truncation: %q", got)
	}
	if scanners.TruncateTail("short", 10) != "short" {
		t.Error("short output must be kept as-is")
	}
}
