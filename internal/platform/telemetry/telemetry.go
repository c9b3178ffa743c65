// Package telemetry provides in-process counters, gauges, and histograms with
// an HTTP snapshot endpoint.
package telemetry

import (
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/labstack/echo/v4"
)

// Counter is a monotonically increasing value.
type Counter struct {
	v atomic.Int64
}

// Inc adds one to the counter.
func (c *Counter) Inc() { c.v.Add(1) }

// Add adds n to the counter.
func (c *Counter) Add(n int64) { c.v.Add(n) }

// Value returns the current count.
func (c *Counter) Value() int64 { return c.v.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	mu sync.Mutex
	v  float64
}

// Set replaces the gauge value.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.v = v
	g.mu.Unlock()
}

// Value returns the current gauge value.
func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.v
}

// Histogram accumulates observations into fixed buckets plus count/sum.
type Histogram struct {
	mu      sync.Mutex
	bounds  []float64
	buckets []int64
	count   int64
	sum     float64
	min     float64
	max     float64
}

// defaultBounds suit second-scale durations.
var defaultBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

func newHistogram() *Histogram {
	return &Histogram{
		bounds:  defaultBounds,
		buckets: make([]int64, len(defaultBounds)+1),
		min:     math.Inf(1),
		max:     math.Inf(-1),
	}
}

// Observe records a single observation.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := len(h.bounds)
	for i, b := range h.bounds {
		if v <= b {
			idx = i
			break
		}
	}
	h.buckets[idx]++
	h.count++
	h.sum += v
	if v < h.min {
		h.min = v
	}
	if v > h.max {
		h.max = v
	}
}

// HistogramSnapshot is the JSON form of a histogram.
type HistogramSnapshot struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
}

func (h *Histogram) snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := HistogramSnapshot{Count: h.count, Sum: h.sum}
	if h.count > 0 {
		snap.Min = h.min
		snap.Max = h.max
		snap.Mean = h.sum / float64(h.count)
	}
	return snap
}

// Registry holds named metrics. Metric identity is name plus ordered label
// key/value pairs.
type Registry struct {
	mu         sync.Mutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

// metricKey builds "name{k=v,k=v}" from name and alternating label pairs.
func metricKey(name string, labels []string) string {
	if len(labels) == 0 {
		return name
	}
	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteString("{")
	for i := 0; i+1 < len(labels); i += 2 {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(labels[i])
		sb.WriteString("=")
		sb.WriteString(labels[i+1])
	}
	sb.WriteString("}")
	return sb.String()
}

// Counter returns (creating if needed) the counter for name and labels.
// Labels are alternating key/value pairs.
func (r *Registry) Counter(name string, labels ...string) *Counter {
	key := metricKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[key]
	if !ok {
		c = &Counter{}
		r.counters[key] = c
	}
	return c
}

// Gauge returns (creating if needed) the gauge for name and labels.
func (r *Registry) Gauge(name string, labels ...string) *Gauge {
	key := metricKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gauges[key]
	if !ok {
		g = &Gauge{}
		r.gauges[key] = g
	}
	return g
}

// Histogram returns (creating if needed) the histogram for name and labels.
func (r *Registry) Histogram(name string, labels ...string) *Histogram {
	key := metricKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.histograms[key]
	if !ok {
		h = newHistogram()
		r.histograms[key] = h
	}
	return h
}

// Snapshot is the JSON view of every registered metric.
type Snapshot struct {
	Counters   map[string]int64             `json:"counters"`
	Gauges     map[string]float64           `json:"gauges"`
	Histograms map[string]HistogramSnapshot `json:"histograms"`
}

// Snapshot returns a point-in-time copy of all metrics, with keys sorted for
// deterministic iteration.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	counterKeys := make([]string, 0, len(r.counters))
	for k := range r.counters {
		counterKeys = append(counterKeys, k)
	}
	gaugeKeys := make([]string, 0, len(r.gauges))
	for k := range r.gauges {
		gaugeKeys = append(gaugeKeys, k)
	}
	histKeys := make([]string, 0, len(r.histograms))
	for k := range r.histograms {
		histKeys = append(histKeys, k)
	}
	sort.Strings(counterKeys)
	sort.Strings(gaugeKeys)
	sort.Strings(histKeys)

	snap := Snapshot{
		Counters:   make(map[string]int64, len(counterKeys)),
		Gauges:     make(map[string]float64, len(gaugeKeys)),
		Histograms: make(map[string]HistogramSnapshot, len(histKeys)),
	}
	for _, k := range counterKeys {
		snap.Counters[k] = r.counters[k].Value()
	}
	for _, k := range gaugeKeys {
		snap.Gauges[k] = r.gauges[k].Value()
	}
	for _, k := range histKeys {
		snap.Histograms[k] = r.histograms[k].snapshot()
	}
	return snap
}

// Handler returns an echo handler serving the metrics snapshot as JSON.
func (r *Registry) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, r.Snapshot())
	}
}
