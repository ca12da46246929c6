package sync

import (
	"time"
)

// Snapshot is the read-only status aggregate consumed by the UI and posctl
type Snapshot struct {
	Online           bool       `json:"online"`
	LastTransitionAt time.Time  `json:"lastTransitionAt"`
	PendingCount     int64      `json:"pendingCount"`
	ConflictCount    int64      `json:"conflictCount"`
	FailedCount      int64      `json:"failedCount"`
	SyncedCount      int64      `json:"syncedCount"`
	CachedCount      int64      `json:"cachedCount"`
	IsSyncing        bool       `json:"isSyncing"`
	LastSyncAt       *time.Time `json:"lastSyncAt,omitempty"`
}

// StatusReporter aggregates connectivity and queue counters. Pure reader; it
// mutates nothing.
type StatusReporter struct {
	store   Storage
	monitor *Monitor
	engine  *Engine
}

// NewStatusReporter creates a status reporter
func NewStatusReporter(st Storage, monitor *Monitor, engine *Engine) *StatusReporter {
	return &StatusReporter{
		store:   st,
		monitor: monitor,
		engine:  engine,
	}
}

// Snapshot computes the current status
func (r *StatusReporter) Snapshot() (*Snapshot, error) {
	stats, err := r.store.Stats()
	if err != nil {
		return nil, err
	}

	state := r.monitor.State()
	snap := &Snapshot{
		Online:           state.Online,
		LastTransitionAt: state.LastTransitionAt,
		PendingCount:     stats.PendingCount + stats.SyncingCount,
		ConflictCount:    stats.ConflictCount,
		FailedCount:      stats.FailedCount,
		SyncedCount:      stats.SyncedCount,
		CachedCount:      stats.CachedCount,
		IsSyncing:        r.engine.IsSyncing(),
	}

	if last := r.engine.LastSyncAt(); !last.IsZero() {
		snap.LastSyncAt = &last
	}
	return snap, nil
}

// ExitCode maps a snapshot onto the diagnostic exit code contract:
// 0 clean, 1 pending work, 2 unresolved conflicts.
func (s *Snapshot) ExitCode() int {
	switch {
	case s.ConflictCount > 0:
		return 2
	case s.PendingCount > 0:
		return 1
	default:
		return 0
	}
}
