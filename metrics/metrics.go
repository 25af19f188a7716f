// Package metrics provides an in-process metrics collector for the
// classification pipeline. Counters and duration aggregates accumulate in
// memory and are emitted as a structured log snapshot on demand.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"payclassd/llm"
)

type durationStats struct {
	count    int64
	failures int64
	totalMS  float64
	maxMS    float64
}

// Collector implements llm.Metrics.
type Collector struct {
	logger zerolog.Logger

	mu        sync.Mutex
	counters  map[string]int64
	durations map[string]*durationStats
}

// NewCollector creates an empty Collector.
func NewCollector(logger zerolog.Logger) *Collector {
	return &Collector{
		logger:    logger.With().Str("component", "metrics").Logger(),
		counters:  make(map[string]int64),
		durations: make(map[string]*durationStats),
	}
}

// RecordRequestDuration implements llm.Metrics.
func (c *Collector) RecordRequestDuration(model string, durationMS float64, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.durations[model]
	if !ok {
		stats = &durationStats{}
		c.durations[model] = stats
	}
	stats.count++
	stats.totalMS += durationMS
	if durationMS > stats.maxMS {
		stats.maxMS = durationMS
	}
	if !success {
		stats.failures++
	}
}

// IncrementCounter implements llm.Metrics.
func (c *Collector) IncrementCounter(name string, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[counterKey(name, tags)]++
}

// CounterValue returns the current value of a counter. Used by tests and
// the snapshot emitter.
func (c *Collector) CounterValue(name string, tags map[string]string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[counterKey(name, tags)]
}

// EmitSnapshot logs the current aggregates. Scheduled from the daemon.
func (c *Collector) EmitSnapshot() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for model, stats := range c.durations {
		avg := 0.0
		if stats.count > 0 {
			avg = stats.totalMS / float64(stats.count)
		}
		c.logger.Info().
			Str("model", model).
			Int64("requests", stats.count).
			Int64("failures", stats.failures).
			Float64("avg_duration_ms", avg).
			Float64("max_duration_ms", stats.maxMS).
			Msg("Classification metrics snapshot")
	}
}

// counterKey flattens a tag set into a stable map key.
func counterKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	parts := make([]string, 0, len(tags))
	for k, v := range tags {
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(parts)
	return name + "{" + strings.Join(parts, ",") + "}"
}

var _ llm.Metrics = (*Collector)(nil)
