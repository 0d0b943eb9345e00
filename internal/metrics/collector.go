// Package metrics provides in-memory runtime statistics and Prometheus
// instruments for ingestion runs.
package metrics

import (
	"sync"
	"time"
)

// Operation names for the collector.
const (
	OpTransfer   = "transfer"
	OpRemoteList = "remote_list"
	OpCheckpoint = "checkpoint"
	OpConvert    = "convert"
)

// opStats accumulates one operation. Min is only valid when count > 0.
type opStats struct {
	count     int64
	errors    int64
	total     time.Duration
	min       time.Duration
	max       time.Duration
	lastError string
	lastAt    time.Time
}

func (s *opStats) observe(d time.Duration) {
	if s.count == 0 || d < s.min {
		s.min = d
	}
	s.max = max(s.max, d)
	s.count++
	s.total += d
}

// OperationSnapshot provides computed stats for one operation.
type OperationSnapshot struct {
	Count       int64      `json:"count"`
	Errors      int64      `json:"errors"`
	ErrorRate   float64    `json:"error_rate"`
	TotalTimeMs int64      `json:"total_time_ms"`
	AvgTimeMs   float64    `json:"avg_time_ms"`
	MinTimeMs   int64      `json:"min_time_ms"`
	MaxTimeMs   int64      `json:"max_time_ms"`
	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
}

// Snapshot represents collector statistics at a point in time. Operations
// without observations are nil.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptime_seconds"`
	Transfer      *OperationSnapshot `json:"transfer,omitempty"`
	RemoteList    *OperationSnapshot `json:"remote_list,omitempty"`
	Checkpoint    *OperationSnapshot `json:"checkpoint,omitempty"`
	Convert       *OperationSnapshot `json:"convert,omitempty"`
}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe; a nil *Collector ignores every call.
type Collector struct {
	mu      sync.RWMutex
	started time.Time
	ops     map[string]*opStats
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		started: time.Now(),
		ops:     make(map[string]*opStats),
	}
}

// stats returns the accumulator for op. Caller must hold the write lock.
func (c *Collector) stats(op string) *opStats {
	s, ok := c.ops[op]
	if !ok {
		s = &opStats{}
		c.ops[op] = s
	}
	return s
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.RecordResult(op, duration, nil)
}

// RecordResult records timing and counts a non-nil err as a failure.
func (c *Collector) RecordResult(op string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats(op)
	s.observe(duration)
	if err != nil {
		s.errors++
		s.lastError = err.Error()
		s.lastAt = time.Now()
	}
}

// Reset drops all observations and restarts the uptime clock.
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.ops)
	c.started = time.Now()
}

func (s *opStats) snapshot() *OperationSnapshot {
	if s == nil || s.count == 0 {
		return nil
	}
	snap := &OperationSnapshot{
		Count:       s.count,
		Errors:      s.errors,
		ErrorRate:   float64(s.errors) / float64(s.count),
		TotalTimeMs: s.total.Milliseconds(),
		AvgTimeMs:   float64(s.total.Milliseconds()) / float64(s.count),
		MinTimeMs:   s.min.Milliseconds(),
		MaxTimeMs:   s.max.Milliseconds(),
		LastError:   s.lastError,
	}
	if !s.lastAt.IsZero() {
		at := s.lastAt
		snap.LastErrorAt = &at
	}
	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.started).Seconds(),
		Transfer:      c.ops[OpTransfer].snapshot(),
		RemoteList:    c.ops[OpRemoteList].snapshot(),
		Checkpoint:    c.ops[OpCheckpoint].snapshot(),
		Convert:       c.ops[OpConvert].snapshot(),
	}
}
