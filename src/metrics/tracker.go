package metrics

import (
	"sync"
	"time"
)

// CollectorStats are the cumulative counters for one collector. Derived
// values (success rate, averages) are computed on read.
type CollectorStats struct {
	TotalRuns             int64      `json:"total_runs"`
	SuccessfulRuns        int64      `json:"successful_runs"`
	FailedRuns            int64      `json:"failed_runs"`
	TotalRecordsCollected int64      `json:"total_records_collected"`
	TotalLatencySeconds   float64    `json:"total_latency_seconds"`
	LastRunAt             *time.Time `json:"last_run_at,omitempty"`
	LastSuccessAt         *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt         *time.Time `json:"last_failure_at,omitempty"`
	LastError             string     `json:"last_error,omitempty"`
}

// SuccessRate is in [0, 1]; a collector that never ran scores 0.
func (s CollectorStats) SuccessRate() float64 {
	if s.TotalRuns == 0 {
		return 0
	}
	return float64(s.SuccessfulRuns) / float64(s.TotalRuns)
}

func (s CollectorStats) AverageLatencySeconds() float64 {
	if s.TotalRuns == 0 {
		return 0
	}
	return s.TotalLatencySeconds / float64(s.TotalRuns)
}

func (s CollectorStats) AverageRecordsPerSuccess() float64 {
	if s.SuccessfulRuns == 0 {
		return 0
	}
	return float64(s.TotalRecordsCollected) / float64(s.SuccessfulRuns)
}

// Tracker accumulates per-collector stats. Created once at startup and
// injected; safe for concurrent use by independent collector jobs.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*CollectorStats
	prom  *PromMetrics
}

func NewTracker() *Tracker {
	return &Tracker{stats: make(map[string]*CollectorStats)}
}

func (t *Tracker) get(name string) *CollectorStats {
	s, ok := t.stats[name]
	if !ok {
		s = &CollectorStats{}
		t.stats[name] = s
	}
	return s
}

// RecordRun folds one finished run into the collector's counters.
func (t *Tracker) RecordRun(name string, success bool, records int, latency time.Duration, runErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	s := t.get(name)
	s.TotalRuns++
	s.TotalLatencySeconds += latency.Seconds()
	s.LastRunAt = &now

	if success {
		s.SuccessfulRuns++
		s.TotalRecordsCollected += int64(records)
		s.LastSuccessAt = &now
	} else {
		s.FailedRuns++
		s.LastFailureAt = &now
		if runErr != nil {
			s.LastError = runErr.Error()
		}
	}

	if t.prom != nil {
		t.prom.observeRun(name, success, records, latency)
	}
}

// Snapshot returns a copy of one collector's stats.
func (t *Tracker) Snapshot(name string) CollectorStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if s, ok := t.stats[name]; ok {
		return *s
	}
	return CollectorStats{}
}

// All returns a copy of every collector's stats keyed by name.
func (t *Tracker) All() map[string]CollectorStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]CollectorStats, len(t.stats))
	for name, s := range t.stats {
		out[name] = *s
	}
	return out
}
