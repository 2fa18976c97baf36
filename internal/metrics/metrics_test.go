package metrics

import (
	"testing"

	"signalbot/pkg/types"
)

func TestSnapshotReflectsCounters(t *testing.T) {
	t.Parallel()

	r := New()
	r.IncTradesIngested()
	r.IncTradesIngested()
	r.IncTradesDropped()
	r.IncCandidatesGenerated()
	r.IncSignalsConfirmed()
	r.IncSignalsRejected(types.RejectLowConfidence)
	r.IncSignalsRejected(types.RejectLowConfidence)
	r.IncSignalsRejected(types.RejectUnhealthyMarket)
	r.IncDetectorErrors()

	snap := r.Snapshot()
	if snap.TradesIngested != 2 {
		t.Errorf("TradesIngested = %d, want 2", snap.TradesIngested)
	}
	if snap.TradesDropped != 1 {
		t.Errorf("TradesDropped = %d, want 1", snap.TradesDropped)
	}
	if snap.SignalsRejected != 3 {
		t.Errorf("SignalsRejected = %d, want 3", snap.SignalsRejected)
	}
	if snap.RejectionsByReason[types.RejectLowConfidence] != 2 {
		t.Errorf("RejectionsByReason[low_confidence] = %d, want 2", snap.RejectionsByReason[types.RejectLowConfidence])
	}
	if snap.RejectionsByReason[types.RejectUnhealthyMarket] != 1 {
		t.Errorf("RejectionsByReason[unhealthy_market] = %d, want 1", snap.RejectionsByReason[types.RejectUnhealthyMarket])
	}
	if snap.DetectorErrors != 1 {
		t.Errorf("DetectorErrors = %d, want 1", snap.DetectorErrors)
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	t.Parallel()

	r := New()
	r.IncSignalsRejected(types.RejectTimeout)
	snap := r.Snapshot()

	r.IncSignalsRejected(types.RejectTimeout)
	if snap.RejectionsByReason[types.RejectTimeout] != 1 {
		t.Errorf("earlier snapshot mutated: got %d, want 1", snap.RejectionsByReason[types.RejectTimeout])
	}
}
