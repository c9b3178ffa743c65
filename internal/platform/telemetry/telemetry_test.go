package telemetry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestCounter_IncAndAdd(t *testing.T) {
	r := NewRegistry()
	c := r.Counter("requests_total")
	c.Inc()
	c.Inc()
	c.Add(3)
	if got := c.Value(); got != 5 {
		t.Errorf("Value() = %d, want 5", got)
	}
}

func TestCounter_SameKeyReturnsSameCounter(t *testing.T) {
	r := NewRegistry()
	a := r.Counter("runs_total", "job", "sweep")
	b := r.Counter("runs_total", "job", "sweep")
	a.Inc()
	if b.Value() != 1 {
		t.Error("expected same counter instance for same name and labels")
	}

	other := r.Counter("runs_total", "job", "generate")
	if other.Value() != 0 {
		t.Error("expected distinct counter for different labels")
	}
}

func TestGauge_Set(t *testing.T) {
	r := NewRegistry()
	g := r.Gauge("open_followups")
	g.Set(12)
	if got := g.Value(); got != 12 {
		t.Errorf("Value() = %v, want 12", got)
	}
	g.Set(7)
	if got := g.Value(); got != 7 {
		t.Errorf("Value() = %v, want 7", got)
	}
}

func TestHistogram_Observe(t *testing.T) {
	r := NewRegistry()
	h := r.Histogram("sweep_duration_seconds")
	h.Observe(0.1)
	h.Observe(0.3)
	h.Observe(0.2)

	snap := h.snapshot()
	if snap.Count != 3 {
		t.Errorf("Count = %d, want 3", snap.Count)
	}
	if snap.Min != 0.1 {
		t.Errorf("Min = %v, want 0.1", snap.Min)
	}
	if snap.Max != 0.3 {
		t.Errorf("Max = %v, want 0.3", snap.Max)
	}
	mean := snap.Mean
	if mean < 0.19 || mean > 0.21 {
		t.Errorf("Mean = %v, want ~0.2", mean)
	}
}

func TestMetricKey(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   string
	}{
		{"plain", nil, "plain"},
		{"with_label", []string{"job", "sweep"}, "with_label{job=sweep}"},
		{"two_labels", []string{"job", "sweep", "tenant", "t1"}, "two_labels{job=sweep,tenant=t1}"},
	}
	for _, tt := range tests {
		if got := metricKey(tt.name, tt.labels); got != tt.want {
			t.Errorf("metricKey(%q, %v) = %q, want %q", tt.name, tt.labels, got, tt.want)
		}
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry()
	r.Counter("a_total").Add(2)
	r.Gauge("b_current").Set(1.5)
	r.Histogram("c_seconds").Observe(0.5)

	snap := r.Snapshot()
	if snap.Counters["a_total"] != 2 {
		t.Errorf("counter = %d, want 2", snap.Counters["a_total"])
	}
	if snap.Gauges["b_current"] != 1.5 {
		t.Errorf("gauge = %v, want 1.5", snap.Gauges["b_current"])
	}
	if snap.Histograms["c_seconds"].Count != 1 {
		t.Errorf("histogram count = %d, want 1", snap.Histograms["c_seconds"].Count)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Counter("concurrent_total").Inc()
			r.Histogram("concurrent_seconds").Observe(0.01)
		}()
	}
	wg.Wait()

	if got := r.Counter("concurrent_total").Value(); got != 50 {
		t.Errorf("counter = %d, want 50", got)
	}
	if got := r.Snapshot().Histograms["concurrent_seconds"].Count; got != 50 {
		t.Errorf("histogram count = %d, want 50", got)
	}
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.Counter("served_total").Inc()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := r.Handler()(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if snap.Counters["served_total"] != 1 {
		t.Errorf("counter = %d, want 1", snap.Counters["served_total"])
	}
}
