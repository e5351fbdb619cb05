package composer

import (
	"sync"
	"time"
)

// ComposerMetrics tracks statistics about plan execution.
type ComposerMetrics struct {
	StepsExecuted    int
	StepsSucceeded   int
	StepsFailed      int
	StepsBlocked     int
	BatchesExecuted  int
	TotalDuration    time.Duration
	LongestStepTime  time.Duration
	ShortestStepTime time.Duration

	mu sync.Mutex // Protects metrics updates
}

// Copy returns a snapshot of the metrics without the mutex.
func (m *ComposerMetrics) Copy() ComposerMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	return ComposerMetrics{
		StepsExecuted:    m.StepsExecuted,
		StepsSucceeded:   m.StepsSucceeded,
		StepsFailed:      m.StepsFailed,
		StepsBlocked:     m.StepsBlocked,
		BatchesExecuted:  m.BatchesExecuted,
		TotalDuration:    m.TotalDuration,
		LongestStepTime:  m.LongestStepTime,
		ShortestStepTime: m.ShortestStepTime,
	}
}

// resetMetrics clears the counters for a new run. Fields are reset one by
// one so the mutex itself is never overwritten while held.
func (c *Composer) resetMetrics() {
	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()

	c.metrics.StepsExecuted = 0
	c.metrics.StepsSucceeded = 0
	c.metrics.StepsFailed = 0
	c.metrics.StepsBlocked = 0
	c.metrics.BatchesExecuted = 0
	c.metrics.TotalDuration = 0
	c.metrics.LongestStepTime = 0
	c.metrics.ShortestStepTime = time.Hour * 24 // Set to a large value initially
}

// observeStep records one attempted step and its duration.
func (c *Composer) observeStep(duration time.Duration, succeeded bool) {
	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()

	c.metrics.StepsExecuted++
	c.metrics.TotalDuration += duration
	if succeeded {
		c.metrics.StepsSucceeded++
	} else {
		c.metrics.StepsFailed++
	}

	if duration > c.metrics.LongestStepTime {
		c.metrics.LongestStepTime = duration
	}
	if duration < c.metrics.ShortestStepTime && duration > 0 {
		c.metrics.ShortestStepTime = duration
	}
}

// observeBlocked records steps that were never attempted because a
// dependency failed.
func (c *Composer) observeBlocked(count int) {
	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()
	c.metrics.StepsBlocked += count
}

// observeBatch records one dispatched batch.
func (c *Composer) observeBatch() {
	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()
	c.metrics.BatchesExecuted++
}

// GetMetrics returns a copy of the current execution metrics.
func (c *Composer) GetMetrics() ComposerMetrics {
	return c.metrics.Copy()
}
