package metrics

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestIncrementCounter(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	tags := map[string]string{"model": "m", "success": "true"}

	c.IncrementCounter("llm_requests_total", tags)
	c.IncrementCounter("llm_requests_total", tags)
	c.IncrementCounter("llm_requests_total", map[string]string{"model": "m", "success": "false"})

	if got := c.CounterValue("llm_requests_total", tags); got != 2 {
		t.Errorf("Expected counter 2, got %d", got)
	}
	if got := c.CounterValue("llm_requests_total", map[string]string{"success": "true", "model": "m"}); got != 2 {
		t.Errorf("Expected tag order not to matter, got %d", got)
	}
	if got := c.CounterValue("llm_requests_total", nil); got != 0 {
		t.Errorf("Expected untagged counter unset, got %d", got)
	}
}

func TestRecordRequestDuration(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	c.RecordRequestDuration("m", 10, true)
	c.RecordRequestDuration("m", 30, false)

	stats := c.durations["m"]
	if stats == nil {
		t.Fatal("Expected duration stats for model")
	}
	if stats.count != 2 || stats.failures != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if stats.maxMS != 30 || stats.totalMS != 40 {
		t.Errorf("Unexpected aggregates %+v", stats)
	}
}

func TestCollectorConcurrentUse(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncrementCounter("n", nil)
			c.RecordRequestDuration("m", 1, true)
		}()
	}
	wg.Wait()

	if got := c.CounterValue("n", nil); got != 16 {
		t.Errorf("Expected counter 16, got %d", got)
	}
	c.EmitSnapshot()
}
