package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"covhook/scan-runner/internal/model"
)

var (
	scansCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "covhook_scans_total",
		Help: "Counter for finished scans by terminal status and failure reason.",
	}, []string{"status", "reason"})
	buildDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "covhook_build_duration_seconds",
		Help:    "Duration of build attempts by environment and classification.",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1200},
	}, []string{"environment", "classification"})
	fallbackCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "covhook_environment_fallbacks_total",
		Help: "Counter for builds retried in the other environment after an infra failure.",
	})
	notificationFailedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "covhook_notifications_failed_total",
		Help: "Counter for chat notifications that could not be delivered.",
	})
	coalescedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "covhook_coalesced_requests_total",
		Help: "Counter for scan requests merged into an in-flight scan of the same commit.",
	})
	queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "covhook_queue_depth",
		Help: "Number of scans waiting for a worker.",
	})
)

var registerOnce sync.Once

// Register adds all collectors to the default registry. It is safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(scansCounter)
		prometheus.MustRegister(buildDuration)
		prometheus.MustRegister(fallbackCounter)
		prometheus.MustRegister(notificationFailedCounter)
		prometheus.MustRegister(coalescedCounter)
		prometheus.MustRegister(queueDepthGauge)
	})
}

func ObserveResult(r model.ScanResult) {
	scansCounter.WithLabelValues(string(r.Status), string(r.Reason)).Inc()
	if r.Notification == model.NotificationError {
		notificationFailedCounter.Inc()
	}
}

func ObserveExecution(e model.Execution) {
	for _, a := range e.Attempts {
		buildDuration.WithLabelValues(string(a.Environment), string(a.Classification)).Observe(a.Elapsed.Seconds())
	}
	if e.FellBack() {
		fallbackCounter.Inc()
	}
}

func Coalesced() {
	coalescedCounter.Inc()
}

func SetQueueDepth(n int) {
	queueDepthGauge.Set(float64(n))
}
