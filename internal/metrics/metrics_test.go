package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"covhook/scan-runner/internal/model"
)

func TestObserveExecution_CountsFallback(t *testing.T) {
	before := testutil.ToFloat64(fallbackCounter)
	ObserveExecution(model.Execution{Attempts: []model.BuildOutcome{
		{Environment: model.EnvironmentDocker, Classification: model.InfraError},
		{Environment: model.EnvironmentLocal, Classification: model.BuildSuccess, Elapsed: time.Minute},
	}})
	if got := testutil.ToFloat64(fallbackCounter); got != before+1 {
		t.Errorf("expected fallback counter %v, got %v", before+1, got)
	}
}

func TestObserveResult_NotificationFailure(t *testing.T) {
	before := testutil.ToFloat64(notificationFailedCounter)
	ObserveResult(model.ScanResult{Status: model.StatusCompleted, Notification: model.NotificationError})
	if got := testutil.ToFloat64(notificationFailedCounter); got != before+1 {
		t.Errorf("expected notification failure counter %v, got %v", before+1, got)
	}
	if got := testutil.ToFloat64(scansCounter.WithLabelValues("completed", "")); got < 1 {
		t.Errorf("expected completed scan to be counted, got %v", got)
	}
}

func TestRegister_Idempotent(t *testing.T) {
	Register()
	Register()
}
