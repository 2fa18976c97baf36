// Package metrics tracks aggregate pipeline throughput and outcome counters
// for dashboard/health exposure. Grounded on the teacher's
// risk.Manager.GetRiskSnapshot pattern (internal/risk/manager.go): a
// mutex-guarded accumulator struct with a single Snapshot() method that
// copies out a point-in-time view, rather than exposing the counters
// directly.
package metrics

import (
	"sync"
	"time"

	"signalbot/pkg/types"
)

// Snapshot is a point-in-time copy of the pipeline's aggregate counters.
type Snapshot struct {
	TradesIngested      int64
	DepthUpdatesIngested int64
	TradesDropped       int64
	DepthUpdatesDropped int64
	CandidatesGenerated int64
	SignalsConfirmed    int64
	SignalsRejected     int64
	RejectionsByReason  map[types.RejectionReason]int64
	DetectorErrors      int64
	StartedAt           time.Time
	SnapshotAt          time.Time
}

// Registry accumulates counters across the ingest, detector, and signal
// manager stages of the pipeline.
type Registry struct {
	mu sync.Mutex

	tradesIngested       int64
	depthUpdatesIngested int64
	tradesDropped        int64
	depthUpdatesDropped  int64
	candidatesGenerated  int64
	signalsConfirmed     int64
	signalsRejected      int64
	rejectionsByReason   map[types.RejectionReason]int64
	detectorErrors       int64
	startedAt            time.Time
}

// New creates an empty Registry, timestamped now.
func New() *Registry {
	return &Registry{
		rejectionsByReason: make(map[types.RejectionReason]int64),
		startedAt:          time.Now(),
	}
}

func (r *Registry) IncTradesIngested()       { r.mu.Lock(); r.tradesIngested++; r.mu.Unlock() }
func (r *Registry) IncDepthUpdatesIngested() { r.mu.Lock(); r.depthUpdatesIngested++; r.mu.Unlock() }
func (r *Registry) IncTradesDropped()        { r.mu.Lock(); r.tradesDropped++; r.mu.Unlock() }
func (r *Registry) IncDepthUpdatesDropped()  { r.mu.Lock(); r.depthUpdatesDropped++; r.mu.Unlock() }
func (r *Registry) IncCandidatesGenerated()  { r.mu.Lock(); r.candidatesGenerated++; r.mu.Unlock() }
func (r *Registry) IncSignalsConfirmed()     { r.mu.Lock(); r.signalsConfirmed++; r.mu.Unlock() }
func (r *Registry) IncDetectorErrors()       { r.mu.Lock(); r.detectorErrors++; r.mu.Unlock() }

// IncSignalsRejected records a rejection and bumps its reason breakdown.
func (r *Registry) IncSignalsRejected(reason types.RejectionReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signalsRejected++
	r.rejectionsByReason[reason]++
}

// Snapshot returns a copy of the current counters, safe to hold or encode
// without further synchronization.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	reasons := make(map[types.RejectionReason]int64, len(r.rejectionsByReason))
	for k, v := range r.rejectionsByReason {
		reasons[k] = v
	}

	return Snapshot{
		TradesIngested:       r.tradesIngested,
		DepthUpdatesIngested: r.depthUpdatesIngested,
		TradesDropped:        r.tradesDropped,
		DepthUpdatesDropped:  r.depthUpdatesDropped,
		CandidatesGenerated:  r.candidatesGenerated,
		SignalsConfirmed:     r.signalsConfirmed,
		SignalsRejected:      r.signalsRejected,
		RejectionsByReason:   reasons,
		DetectorErrors:       r.detectorErrors,
		StartedAt:            r.startedAt,
		SnapshotAt:           time.Now(),
	}
}
