package observability

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// Minimal Prometheus text-format collectors. Label values are positional;
// missing or empty values render as "unknown".

var defaultBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

type desc struct {
	name   string
	help   string
	kind   string
	labels []string
}

func (d desc) writeHeader(w io.Writer) error {
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", d.name, d.help, d.name, d.kind)
	return err
}

type CounterVec struct {
	desc
	mu     sync.RWMutex
	series map[string]float64
}

func NewCounterVec(name, help string, labels []string) *CounterVec {
	return &CounterVec{desc: desc{name, help, "counter", labels}, series: make(map[string]float64)}
}

func (c *CounterVec) Inc(values ...string) { c.Add(1, values...) }

func (c *CounterVec) Add(v float64, values ...string) {
	if c == nil {
		return
	}
	key := labelString(c.labels, values)
	c.mu.Lock()
	c.series[key] += v
	c.mu.Unlock()
}

// Value returns the current value for one label combination.
func (c *CounterVec) Value(values ...string) float64 {
	if c == nil {
		return 0
	}
	key := labelString(c.labels, values)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.series[key]
}

func (c *CounterVec) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	if err := c.writeHeader(w); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, key := range sortedSeries(c.series) {
		if _, err := fmt.Fprintf(w, "%s%s %s\n", c.name, key, formatFloat(c.series[key])); err != nil {
			return err
		}
	}
	return nil
}

// Gauge is an unlabelled value that moves both ways.
type Gauge struct {
	desc
	mu  sync.Mutex
	val float64
}

func NewGauge(name, help string) *Gauge {
	return &Gauge{desc: desc{name: name, help: help, kind: "gauge"}}
}

func (g *Gauge) Add(v float64) {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.val += v
	g.mu.Unlock()
}

func (g *Gauge) WritePrometheus(w io.Writer) error {
	if g == nil {
		return nil
	}
	if err := g.writeHeader(w); err != nil {
		return err
	}
	g.mu.Lock()
	v := g.val
	g.mu.Unlock()
	_, err := fmt.Fprintf(w, "%s %s\n", g.name, formatFloat(v))
	return err
}

type HistogramVec struct {
	desc
	bounds []float64
	mu     sync.Mutex
	series map[string]*buckets
}

// buckets holds non-cumulative counts; exposition accumulates them.
type buckets struct {
	counts []uint64
	sum    float64
	n      uint64
}

func NewHistogramVec(name, help string, labels []string, bounds []float64) *HistogramVec {
	if len(bounds) == 0 {
		bounds = defaultBuckets
	}
	bounds = slices.Clone(bounds)
	slices.Sort(bounds)
	return &HistogramVec{desc: desc{name, help, "histogram", labels}, bounds: bounds, series: make(map[string]*buckets)}
}

func (h *HistogramVec) Observe(v float64, values ...string) {
	if h == nil {
		return
	}
	key := labelString(h.labels, values)
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.series[key]
	if b == nil {
		b = &buckets{counts: make([]uint64, len(h.bounds))}
		h.series[key] = b
	}
	b.sum += v
	b.n++
	if i, _ := slices.BinarySearch(h.bounds, v); i < len(h.bounds) {
		b.counts[i]++
	}
}

func (h *HistogramVec) WritePrometheus(w io.Writer) error {
	if h == nil {
		return nil
	}
	if err := h.writeHeader(w); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, key := range sortedSeries(h.series) {
		b := h.series[key]
		var cum uint64
		for i, le := range h.bounds {
			cum += b.counts[i]
			if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(key, formatFloat(le)), cum); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n%s_sum%s %s\n%s_count%s %d\n",
			h.name, withLe(key, "+Inf"), b.n,
			h.name, key, formatFloat(b.sum),
			h.name, key, b.n); err != nil {
			return err
		}
	}
	return nil
}

func sortedSeries[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func labelString(names []string, values []string) string {
	if len(names) == 0 {
		return ""
	}
	pairs := make([]string, len(names))
	for i, name := range names {
		val := "unknown"
		if i < len(values) && values[i] != "" {
			val = values[i]
		}
		pairs[i] = name + `="` + labelEscaper.Replace(val) + `"`
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

func withLe(labels, le string) string {
	pair := `le="` + labelEscaper.Replace(le) + `"`
	if labels == "" {
		return "{" + pair + "}"
	}
	return strings.TrimSuffix(labels, "}") + "," + pair + "}"
}
