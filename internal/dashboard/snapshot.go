package dashboard

import (
	"time"

	"signalbot/internal/metrics"
	"signalbot/pkg/types"
)

// SnapshotProvider supplies the live pipeline state the dashboard renders,
// analogous to the teacher's MarketSnapshotProvider.
type SnapshotProvider interface {
	DetectorStatuses() []types.DetectorStatus
	MetricsSnapshot() metrics.Snapshot
	RecentConfirmed(limit int) []types.SignalConfirmedEvent
	RecentRejected(limit int) []types.SignalRejectedEvent
	// Events returns the channel of dashboard events to broadcast, or nil
	// if this provider does not push incremental updates.
	Events() <-chan Event
}

const recentEventLimit = 20

// BuildSnapshot aggregates state from the pipeline into one dashboard frame.
func BuildSnapshot(provider SnapshotProvider, cfg ConfigSummary) PipelineSnapshot {
	return PipelineSnapshot{
		Timestamp:       time.Now(),
		Detectors:       provider.DetectorStatuses(),
		Throughput:      NewThroughputSummary(provider.MetricsSnapshot()),
		RecentConfirmed: provider.RecentConfirmed(recentEventLimit),
		RecentRejected:  provider.RecentRejected(recentEventLimit),
		Config:          cfg,
	}
}
