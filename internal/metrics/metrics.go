// Package metrics provides Prometheus metrics for collection sessions,
// generator calls, and pipeline runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder records application metrics. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry          *prometheus.Registry
	generatorRequests *prometheus.CounterVec
	generatorDuration *prometheus.HistogramVec
	sessionsActive    prometheus.Gauge
	sessionsTotal     *prometheus.CounterVec
	followUps         *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	deliveries        *prometheus.CounterVec
}

// New creates a Recorder backed by its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		generatorRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "briefsmith_generator_requests_total",
				Help: "Total number of text generator requests by provider, call site, and status",
			},
			[]string{"provider", "label", "status", "error_type"},
		),
		generatorDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "briefsmith_generator_request_duration_seconds",
				Help:    "Duration of text generator requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "label"},
		),
		sessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "briefsmith_collection_sessions_active",
				Help: "Number of open collection connections",
			},
		),
		sessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "briefsmith_collection_sessions_total",
				Help: "Finished collection sessions by outcome",
			},
			[]string{"outcome"},
		),
		followUps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "briefsmith_followups_total",
				Help: "Follow-up questions asked by field",
			},
			[]string{"field"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "briefsmith_pipeline_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"stage", "status"},
		),
		deliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "briefsmith_deliveries_total",
				Help: "Backend delivery attempts by result",
			},
			[]string{"result"},
		),
	}
}

// Handler exposes the recorder's registry in Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveGenerator records one generator call. errorType is empty on success.
func (r *Recorder) ObserveGenerator(provider, label string, d time.Duration, errorType string) {
	if r == nil {
		return
	}
	status := "success"
	if errorType != "" {
		status = "error"
	}
	r.generatorRequests.WithLabelValues(provider, label, status, errorType).Inc()
	r.generatorDuration.WithLabelValues(provider, label).Observe(d.Seconds())
}

// SessionOpened increments the active session gauge.
func (r *Recorder) SessionOpened() {
	if r == nil {
		return
	}
	r.sessionsActive.Inc()
}

// SessionClosed decrements the active gauge and counts the outcome.
func (r *Recorder) SessionClosed(outcome string) {
	if r == nil {
		return
	}
	r.sessionsActive.Dec()
	r.sessionsTotal.WithLabelValues(outcome).Inc()
}

// FollowUp counts a follow-up question for field.
func (r *Recorder) FollowUp(field string) {
	if r == nil {
		return
	}
	r.followUps.WithLabelValues(field).Inc()
}

// ObserveStage records a pipeline stage duration.
func (r *Recorder) ObserveStage(stage string, d time.Duration, err error) {
	if r == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	r.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

// Delivery counts a delivery attempt.
func (r *Recorder) Delivery(sent bool) {
	if r == nil {
		return
	}
	result := "failed"
	if sent {
		result = "sent"
	}
	r.deliveries.WithLabelValues(result).Inc()
}
