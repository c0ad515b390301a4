// Package metrics keeps in-memory request statistics for the interceptor
// pipeline.
package metrics

import (
	"slices"
	"sync"
	"time"

	"github.com/glimte/jsonp-bridge/contracts"
	"github.com/glimte/jsonp-bridge/interceptors"
)

const maxSamples = 100

// Collector is an in-memory interceptors.MetricsCollector
type Collector struct {
	mu sync.RWMutex

	requestCounters map[contracts.Method]int64
	errorCounters   map[contracts.Method]map[string]int64
	latencies       map[contracts.Method]*timeStats
}

type timeStats struct {
	count   int64
	total   time.Duration
	min     time.Duration
	max     time.Duration
	samples []time.Duration // last maxSamples, for percentiles
}

var _ interceptors.MetricsCollector = (*Collector)(nil)

// NewCollector creates an empty collector
func NewCollector() *Collector {
	return &Collector{
		requestCounters: make(map[contracts.Method]int64),
		errorCounters:   make(map[contracts.Method]map[string]int64),
		latencies:       make(map[contracts.Method]*timeStats),
	}
}

// IncrementRequestCount implements interceptors.MetricsCollector
func (c *Collector) IncrementRequestCount(method contracts.Method) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestCounters[method]++
}

// RecordLatency implements interceptors.MetricsCollector
func (c *Collector) RecordLatency(method contracts.Method, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.latencies[method]
	if !exists {
		stats = &timeStats{
			min:     duration,
			max:     duration,
			samples: make([]time.Duration, 0, maxSamples),
		}
		c.latencies[method] = stats
	}

	stats.count++
	stats.total += duration
	stats.min = min(stats.min, duration)
	stats.max = max(stats.max, duration)

	if len(stats.samples) >= maxSamples {
		stats.samples = stats.samples[1:]
	}
	stats.samples = append(stats.samples, duration)
}

// IncrementErrorCount implements interceptors.MetricsCollector
func (c *Collector) IncrementErrorCount(method contracts.Method, errorClass string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.errorCounters[method] == nil {
		c.errorCounters[method] = make(map[string]int64)
	}
	c.errorCounters[method][errorClass]++
}

// Snapshot is a copy of the collected metrics
type Snapshot struct {
	Requests map[contracts.Method]int64            `json:"requests"`
	Errors   map[contracts.Method]map[string]int64 `json:"errors"`
	Latency  map[contracts.Method]LatencyStats     `json:"latency"`
}

// LatencyStats summarizes request latency for one method
type LatencyStats struct {
	Count int64         `json:"count"`
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}

// Snapshot returns a copy of all metrics
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Requests: make(map[contracts.Method]int64, len(c.requestCounters)),
		Errors:   make(map[contracts.Method]map[string]int64, len(c.errorCounters)),
		Latency:  make(map[contracts.Method]LatencyStats, len(c.latencies)),
	}

	for method, count := range c.requestCounters {
		snap.Requests[method] = count
	}

	for method, classes := range c.errorCounters {
		snap.Errors[method] = make(map[string]int64, len(classes))
		for class, count := range classes {
			snap.Errors[method][class] = count
		}
	}

	for method, stats := range c.latencies {
		ls := LatencyStats{
			Count: stats.count,
			Min:   stats.min,
			Max:   stats.max,
		}
		if stats.count > 0 {
			ls.Avg = stats.total / time.Duration(stats.count)
		}
		if len(stats.samples) > 0 {
			sorted := slices.Clone(stats.samples)
			slices.Sort(sorted)
			ls.P50 = percentile(sorted, 0.50)
			ls.P95 = percentile(sorted, 0.95)
			ls.P99 = percentile(sorted, 0.99)
		}
		snap.Latency[method] = ls
	}

	return snap
}

// ErrorRate returns errors divided by requests for method
func (c *Collector) ErrorRate(method contracts.Method) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	requests := c.requestCounters[method]
	if requests == 0 {
		return 0
	}
	var errs int64
	for _, count := range c.errorCounters[method] {
		errs += count
	}
	return float64(errs) / float64(requests)
}

// Reset clears all collected metrics
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestCounters = make(map[contracts.Method]int64)
	c.errorCounters = make(map[contracts.Method]map[string]int64)
	c.latencies = make(map[contracts.Method]*timeStats)
}

// percentile expects sorted samples
func percentile(sorted []time.Duration, p float64) time.Duration {
	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}
