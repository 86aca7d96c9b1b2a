package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.WatchStarted()
	m.WatchEvent("Pod", "Applied")
	m.CellError("ready")
	m.AckTimeout()
	m.QueueDrop("signals")
}

func TestCounters(t *testing.T) {
	m := New()
	m.WatchStarted()
	m.WatchStarted()
	m.WatchStopped()
	m.WatchEvent("Pod", "Applied")
	m.WatchEvent("Pod", "Applied")
	m.AckTimeout()

	if got := testutil.ToFloat64(m.WatchTasks); got != 1 {
		t.Fatalf("watch_tasks = %v; want 1", got)
	}
	if got := testutil.ToFloat64(m.WatchEvents.WithLabelValues("Pod", "Applied")); got != 2 {
		t.Fatalf("events_total = %v; want 2", got)
	}
	if got := testutil.ToFloat64(m.AckTimeouts); got != 1 {
		t.Fatalf("ack_timeouts_total = %v; want 1", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.Signal("ok")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `kw_dispatch_signals_total{outcome="ok"} 1`) {
		t.Fatalf("metrics output missing signal counter:\n%s", rec.Body.String())
	}
}
