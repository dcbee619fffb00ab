package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "talentai"
	subsystem = "learning"
)

var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "cycles_total",
		Help:      "Learning cycles by outcome",
	}, []string{"outcome"})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "cycle_duration_seconds",
		Help:      "Wall-clock duration of learning cycles",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	conversationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "conversations_total",
		Help:      "Conversations recorded",
	})

	feedbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "feedback_total",
		Help:      "Feedback recorded by category",
	}, []string{"type"})

	deploymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "deployments_total",
		Help:      "Model deployments by strategy",
	}, []string{"strategy"})

	rollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rollbacks_total",
		Help:      "Model rollbacks",
	})

	cleanupRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "cleanup_removed_total",
		Help:      "Conversations removed by retention cleanup",
	})

	experimentRoutesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "experiment_routes_total",
		Help:      "Requests routed during an experiment, by arm",
	}, []string{"arm"})

	validationAccuracy = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "last_validation_accuracy",
		Help:      "Validation accuracy of the most recently trained model",
	})
)

func ObserveCycle(outcome string, d time.Duration) {
	cyclesTotal.WithLabelValues(outcome).Inc()
	cycleDuration.Observe(d.Seconds())
}

func IncConversations() {
	conversationsTotal.Inc()
}

func IncFeedback(feedbackType string) {
	feedbackTotal.WithLabelValues(feedbackType).Inc()
}

func IncDeployment(strategy string) {
	deploymentsTotal.WithLabelValues(strategy).Inc()
}

func IncRollback() {
	rollbacksTotal.Inc()
}

func AddCleanupRemoved(n int64) {
	if n > 0 {
		cleanupRemovedTotal.Add(float64(n))
	}
}

func IncExperimentRoute(arm string) {
	experimentRoutesTotal.WithLabelValues(arm).Inc()
}

func SetValidationAccuracy(v float64) {
	validationAccuracy.Set(v)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
