package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTurnsCounter(t *testing.T) {
	before := testutil.ToFloat64(TurnsTotal.WithLabelValues(OutcomeOK))
	TurnsTotal.WithLabelValues(OutcomeOK).Inc()
	if got := testutil.ToFloat64(TurnsTotal.WithLabelValues(OutcomeOK)); got != before+1 {
		t.Errorf("turns = %v, want %v", got, before+1)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveStage("route", time.Now())
	SpecialistCalls.WithLabelValues("docuAgent", "ok").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{"ai_router_stage_duration_milliseconds", "ai_router_specialist_calls_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
