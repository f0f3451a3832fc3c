// Package metrics holds the router's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Turn outcomes.
const (
	OutcomeOK             = "ok"
	OutcomeInvalid        = "invalid_input"
	OutcomeProtocol       = "protocol_error"
	OutcomeUnavailable    = "unavailable"
	OutcomeTimeout        = "timeout"
	OutcomeError          = "error"
	OutcomePersistFailure = "persist_failed"
)

var (
	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_router_turns_total",
			Help: "Total number of user turns handled, by outcome",
		},
		[]string{"outcome"},
	)
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_router_stage_duration_milliseconds",
			Help:    "Duration of routing, delegation and synthesis stages in milliseconds",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"stage"},
	)
	SpecialistCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_router_specialist_calls_total",
			Help: "Total number of specialist invocations, by specialist and status",
		},
		[]string{"specialist", "status"},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_router_http_requests_total",
			Help: "Total number of HTTP requests, by route and status code",
		},
		[]string{"route", "code"},
	)
)

func init() {
	prometheus.MustRegister(TurnsTotal)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(SpecialistCalls)
	prometheus.MustRegister(HTTPRequests)
}

// ObserveStage records the duration of a stage that started at start.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(float64(time.Since(start).Milliseconds()))
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
