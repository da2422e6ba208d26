package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	m := New()
	m.TunersLoaded.Set(3)
	m.EventsDispatched.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "bpftune_tuners_loaded 3") {
		t.Fatalf("expected tuners_loaded gauge in output, got: %s", body)
	}
	if !strings.Contains(body, "bpftune_events_dispatched_total 1") {
		t.Fatalf("expected events_dispatched counter in output, got: %s", body)
	}
}

func TestNewDoesNotPanicOnDoubleConstruction(t *testing.T) {
	New()
	New()
}
