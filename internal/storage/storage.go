// Package storage implements the persistence contract of spec §6: signal
// history, background job queueing, and active-anomaly bookkeeping. Two
// adapters satisfy the same Store interface — a GORM/Postgres backend
// grounded on nofendian17-stockbit-haka-haki's database/signals/repository.go,
// and a file-based fallback grounded on the teacher's internal/store/store.go
// atomic write-then-rename pattern — so a deployment without Postgres still
// runs.
package storage

import (
	"context"
	"time"

	"signalbot/pkg/types"
)

// Job is one queued background unit of work (e.g. deferred persistence,
// signal-outcome backfill), per spec §6's enqueueJob/dequeueJobs/markJobCompleted.
type Job struct {
	ID        int64
	Kind      string
	Payload   map[string]any
	EnqueuedAt time.Time
	CompletedAt *time.Time
}

// ActiveAnomaly mirrors one entry of saveActiveAnomaly/getActiveAnomalies.
type ActiveAnomaly struct {
	ID        string
	Symbol    string
	Kind      string
	Severity  string
	DetectedAt time.Time
}

// Store is the full persistence contract the signal manager and dashboard
// depend on.
type Store interface {
	SaveSignalHistory(ctx context.Context, signal types.ConfirmedSignal) error
	GetRecentSignals(ctx context.Context, sinceMs int64, limit int) ([]types.ConfirmedSignal, error)
	PurgeSignalHistory(ctx context.Context, olderThan time.Time) error
	// PurgeSignalHistoryExcess trims persisted signal history down to the
	// most recent keep entries, enforcing the maxHistorySize cap alongside
	// PurgeSignalHistory's time-based retention window. keep <= 0 is a no-op.
	PurgeSignalHistoryExcess(ctx context.Context, keep int) error

	EnqueueJob(ctx context.Context, kind string, payload map[string]any) (int64, error)
	DequeueJobs(ctx context.Context, limit int) ([]Job, error)
	MarkJobCompleted(ctx context.Context, id int64) error

	SaveActiveAnomaly(ctx context.Context, anomaly ActiveAnomaly) error
	RemoveActiveAnomaly(ctx context.Context, id string) error
	GetActiveAnomalies(ctx context.Context) ([]ActiveAnomaly, error)

	Close() error
}
