// Package metrics is the sidecar's Prometheus-exposition-format registry:
// atomic-backed Counter/Gauge/Histogram types keyed by name and sorted
// label set, with a hand-written text exposition Handler. It exposes only
// the local scrape surface; it does not ship samples to any backend.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a monotonically increasing value.
type Counter struct {
	value int64
}

func (c *Counter) Inc()         { atomic.AddInt64(&c.value, 1) }
func (c *Counter) Add(n int64)  { atomic.AddInt64(&c.value, n) }
func (c *Counter) Value() int64 { return atomic.LoadInt64(&c.value) }

// Gauge is a value that can go up and down, stored as micros for
// float-like precision without a lock.
type Gauge struct {
	value int64
}

func (g *Gauge) Set(v float64)  { atomic.StoreInt64(&g.value, int64(v*1e6)) }
func (g *Gauge) Value() float64 { return float64(atomic.LoadInt64(&g.value)) / 1e6 }

// Histogram tracks a value distribution over fixed buckets.
type Histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []int64 // per-bucket differential counts (+Inf last)
	sum     float64
	count   int64
}

func newHistogram(buckets []float64) *Histogram {
	sorted := make([]float64, len(buckets))
	copy(sorted, buckets)
	sort.Float64s(sorted)
	return &Histogram{
		buckets: sorted,
		counts:  make([]int64, len(sorted)+1),
	}
}

// Observe records a value, placing it into the first bucket it fits.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
			return
		}
	}
	h.counts[len(h.buckets)]++
}

func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return strings.Join(parts, ",")
}

// durationBuckets are the buckets for
// infrapass_sidecar_request_duration_seconds: 1ms through 1s.
var durationBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// Registry is the sidecar's metrics registry.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]map[string]*Counter
	gauges     map[string]map[string]*Gauge
	histograms map[string]map[string]*Histogram
}

// New creates an empty metrics registry.
func New() *Registry {
	return &Registry{
		counters:   make(map[string]map[string]*Counter),
		gauges:     make(map[string]map[string]*Gauge),
		histograms: make(map[string]map[string]*Histogram),
	}
}

func (r *Registry) getCounter(name string, labels map[string]string) *Counter {
	key := labelKey(labels)
	r.mu.RLock()
	if byName, ok := r.counters[name]; ok {
		if c, ok := byName[key]; ok {
			r.mu.RUnlock()
			return c
		}
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.counters[name]; !ok {
		r.counters[name] = make(map[string]*Counter)
	}
	if _, ok := r.counters[name][key]; !ok {
		r.counters[name][key] = &Counter{}
	}
	return r.counters[name][key]
}

func (r *Registry) getGauge(name string, labels map[string]string) *Gauge {
	key := labelKey(labels)
	r.mu.RLock()
	if byName, ok := r.gauges[name]; ok {
		if g, ok := byName[key]; ok {
			r.mu.RUnlock()
			return g
		}
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.gauges[name]; !ok {
		r.gauges[name] = make(map[string]*Gauge)
	}
	if _, ok := r.gauges[name][key]; !ok {
		r.gauges[name][key] = &Gauge{}
	}
	return r.gauges[name][key]
}

func (r *Registry) getHistogram(name string, labels map[string]string) *Histogram {
	key := labelKey(labels)
	r.mu.RLock()
	if byName, ok := r.histograms[name]; ok {
		if h, ok := byName[key]; ok {
			r.mu.RUnlock()
			return h
		}
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.histograms[name]; !ok {
		r.histograms[name] = make(map[string]*Histogram)
	}
	if _, ok := r.histograms[name][key]; !ok {
		r.histograms[name][key] = newHistogram(durationBuckets)
	}
	return r.histograms[name][key]
}

// The following helpers correspond one-to-one with the sidecar's exported
// metric names.

func (r *Registry) IncAllowed()  { r.getCounter("infrapass_sidecar_requests_allowed_total", nil).Inc() }
func (r *Registry) IncDenied()   { r.getCounter("infrapass_sidecar_requests_denied_total", nil).Inc() }
func (r *Registry) IncCacheHit() { r.getCounter("infrapass_sidecar_cache_hits_total", nil).Inc() }
func (r *Registry) IncCacheMiss() {
	r.getCounter("infrapass_sidecar_cache_misses_total", nil).Inc()
}
func (r *Registry) IncValidatorError() {
	r.getCounter("infrapass_sidecar_validator_errors_total", nil).Inc()
}

// ObserveRequestDuration records the end-to-end enforcement-pipeline
// latency in seconds.
func (r *Registry) ObserveRequestDuration(d time.Duration) {
	r.getHistogram("infrapass_sidecar_request_duration_seconds", nil).Observe(d.Seconds())
}

// Handler serves /metrics in Prometheus text exposition format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		r.mu.RLock()
		defer r.mu.RUnlock()

		for name, byLabel := range r.counters {
			sb.WriteString(fmt.Sprintf("# TYPE %s counter\n", name))
			for lk, c := range byLabel {
				if lk == "" {
					sb.WriteString(fmt.Sprintf("%s %d\n", name, c.Value()))
				} else {
					sb.WriteString(fmt.Sprintf("%s{%s} %d\n", name, lk, c.Value()))
				}
			}
		}

		for name, byLabel := range r.gauges {
			sb.WriteString(fmt.Sprintf("# TYPE %s gauge\n", name))
			for lk, g := range byLabel {
				if lk == "" {
					sb.WriteString(fmt.Sprintf("%s %f\n", name, g.Value()))
				} else {
					sb.WriteString(fmt.Sprintf("%s{%s} %f\n", name, lk, g.Value()))
				}
			}
		}

		for name, byLabel := range r.histograms {
			sb.WriteString(fmt.Sprintf("# TYPE %s histogram\n", name))
			for lk, h := range byLabel {
				h.mu.Lock()
				prefix := name
				if lk != "" {
					prefix = fmt.Sprintf("%s{%s}", name, lk)
				}
				cumulative := int64(0)
				for i, b := range h.buckets {
					cumulative += h.counts[i]
					if lk != "" {
						sb.WriteString(fmt.Sprintf("%s_bucket{le=\"%g\",%s} %d\n", name, b, lk, cumulative))
					} else {
						sb.WriteString(fmt.Sprintf("%s_bucket{le=\"%g\"} %d\n", name, b, cumulative))
					}
				}
				cumulative += h.counts[len(h.buckets)]
				if lk != "" {
					sb.WriteString(fmt.Sprintf("%s_bucket{le=\"+Inf\",%s} %d\n", name, lk, cumulative))
				} else {
					sb.WriteString(fmt.Sprintf("%s_bucket{le=\"+Inf\"} %d\n", name, cumulative))
				}
				sb.WriteString(fmt.Sprintf("%s_sum %f\n", prefix, h.sum))
				sb.WriteString(fmt.Sprintf("%s_count %d\n", prefix, h.count))
				h.mu.Unlock()
			}
		}

		_, _ = w.Write([]byte(sb.String()))
	}
}
