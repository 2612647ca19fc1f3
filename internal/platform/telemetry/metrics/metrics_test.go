package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.SweepRuns.WithLabelValues(SweepIdle).Inc()
	c.WebhookEvents.WithLabelValues("participant_joined", "ok").Add(2)

	if got := testutil.ToFloat64(c.SweepRuns.WithLabelValues(SweepIdle)); got != 1 {
		t.Fatalf("sweep runs = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`gatekeeper_sweep_runs_total{sweep="idle_ttl"} 1`,
		`gatekeeper_webhook_events_total{outcome="ok",type="participant_joined"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestNewWithoutRegistry(t *testing.T) {
	c := New(nil)
	c.SweepSkipped.WithLabelValues(SweepDuration).Inc()
	if got := testutil.ToFloat64(c.SweepSkipped.WithLabelValues(SweepDuration)); got != 1 {
		t.Fatalf("skipped = %v, want 1", got)
	}
}
