package session

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsRecorder exports dispatch metrics as a Prometheus
// histogram and counter pair labelled by mutation and status.
type PrometheusMetricsRecorder struct {
	durations *prometheus.HistogramVec
	results   *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder builds the collectors and registers them with
// reg. A nil registerer leaves registration to the caller via Collectors.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "coursestate",
		Subsystem: "session",
		Name:      "dispatch_duration_seconds",
		Help:      "Duration of dispatched mutations.",
	}, []string{"mutation"})
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coursestate",
		Subsystem: "session",
		Name:      "dispatch_total",
		Help:      "Dispatched mutations by result.",
	}, []string{"mutation", "status"})
	if reg != nil {
		if err := reg.Register(durations); err != nil {
			return nil, fmt.Errorf("register duration histogram: %w", err)
		}
		if err := reg.Register(results); err != nil {
			return nil, fmt.Errorf("register result counter: %w", err)
		}
	}
	return &PrometheusMetricsRecorder{durations: durations, results: results}, nil
}

// Collectors returns the underlying collectors for manual registration.
func (r *PrometheusMetricsRecorder) Collectors() []prometheus.Collector {
	return []prometheus.Collector{r.durations, r.results}
}

// Observe records one dispatch outcome.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, status).Inc()
}
