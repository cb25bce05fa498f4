package partnersync

import (
	"context"
	"sync"
	"time"
)

// Report summarizes one reconciliation sweep for one owner.
type Report struct {
	OwnerID         int64     `json:"owner_id"`
	Processed       int       `json:"processed"`
	Created         int       `json:"created"`
	Updated         int       `json:"updated"`
	Removed         int       `json:"removed"`
	Errors          int       `json:"errors"`
	FailedTransient int       `json:"failed_transient"`
	FailedPermanent int       `json:"failed_permanent"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

func (r *Report) fail(state State) {
	r.Errors++
	if state == FailedTransient {
		r.FailedTransient++
	} else {
		r.FailedPermanent++
	}
}

// Duration of the sweep.
func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// SchedulerInfo exposes the background scheduler to status snapshots.
type SchedulerInfo interface {
	Enabled() bool
	Running() bool
	Interval() time.Duration
}

// Snapshot is the read-only sync status of one owner.
type Snapshot struct {
	Enabled       bool          `json:"enabled"`
	Running       bool          `json:"running"`
	Interval      time.Duration `json:"interval"`
	RelevantCount int           `json:"relevant_count"`
	SyncedCount   int           `json:"synced_count"`
	LastRun       *Report       `json:"last_run,omitempty"`
}

// RunLedger keeps the last sweep report per owner.
type RunLedger interface {
	Record(ctx context.Context, r Report) error
	// Last returns nil, nil when the owner was never reconciled.
	Last(ctx context.Context, ownerID int64) (*Report, error)
}

// MemoryLedger is a process-local RunLedger.
type MemoryLedger struct {
	mu   sync.RWMutex
	last map[int64]Report
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{last: make(map[int64]Report)}
}

func (l *MemoryLedger) Record(_ context.Context, r Report) error {
	l.mu.Lock()
	l.last[r.OwnerID] = r
	l.mu.Unlock()
	return nil
}

func (l *MemoryLedger) Last(_ context.Context, ownerID int64) (*Report, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.last[ownerID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}
