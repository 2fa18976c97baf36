package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signalbot/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func confirmedSignal(ts int64) types.ConfirmedSignal {
	return types.ConfirmedSignal{
		Processed: types.ProcessedSignal{
			Candidate: types.SignalCandidate{
				Type:   types.SignalAbsorption,
				Side:   types.Sell,
				Price:  d("100"),
				Symbol: "BTCUSDT",
				Data:   map[string]any{"k": "v"},
			},
			DetectorKind: "absorption",
		},
		FinalConfidence: d("0.9"),
		Side:            types.Sell,
		TakeProfit:      d("99"),
		StopLoss:        d("101"),
		ConfirmedAt:     ts,
	}
}

func TestFileStoreSaveAndGetRecentSignals(t *testing.T) {
	t.Parallel()

	store, err := OpenFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}

	ctx := context.Background()
	if err := store.SaveSignalHistory(ctx, confirmedSignal(1000)); err != nil {
		t.Fatalf("SaveSignalHistory: %v", err)
	}
	if err := store.SaveSignalHistory(ctx, confirmedSignal(2000)); err != nil {
		t.Fatalf("SaveSignalHistory: %v", err)
	}

	recent, err := store.GetRecentSignals(ctx, 1500, 10)
	if err != nil {
		t.Fatalf("GetRecentSignals: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("len(recent) = %d, want 1", len(recent))
	}
	if !recent[0].FinalConfidence.Equal(d("0.9")) {
		t.Errorf("FinalConfidence = %s, want 0.9", recent[0].FinalConfidence)
	}
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := OpenFileStore(dir)
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	if err := store.SaveSignalHistory(context.Background(), confirmedSignal(500)); err != nil {
		t.Fatalf("SaveSignalHistory: %v", err)
	}

	reopened, err := OpenFileStore(dir)
	if err != nil {
		t.Fatalf("OpenFileStore (reopen): %v", err)
	}
	recent, err := reopened.GetRecentSignals(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("GetRecentSignals: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("len(recent) after reopen = %d, want 1", len(recent))
	}
}

func TestFileStorePurgeSignalHistory(t *testing.T) {
	t.Parallel()

	store, err := OpenFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}

	ctx := context.Background()
	store.SaveSignalHistory(ctx, confirmedSignal(1000))
	store.SaveSignalHistory(ctx, confirmedSignal(5000))

	if err := store.PurgeSignalHistory(ctx, time.UnixMilli(3000)); err != nil {
		t.Fatalf("PurgeSignalHistory: %v", err)
	}

	recent, err := store.GetRecentSignals(ctx, 0, 10)
	if err != nil {
		t.Fatalf("GetRecentSignals: %v", err)
	}
	if len(recent) != 1 || recent[0].ConfirmedAt != 5000 {
		t.Fatalf("recent = %+v, want only the 5000ms entry", recent)
	}
}

func TestFileStorePurgeSignalHistoryExcess(t *testing.T) {
	t.Parallel()

	store, err := OpenFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}

	ctx := context.Background()
	for _, ts := range []int64{1000, 2000, 3000, 4000} {
		if err := store.SaveSignalHistory(ctx, confirmedSignal(ts)); err != nil {
			t.Fatalf("SaveSignalHistory: %v", err)
		}
	}

	if err := store.PurgeSignalHistoryExcess(ctx, 2); err != nil {
		t.Fatalf("PurgeSignalHistoryExcess: %v", err)
	}

	recent, err := store.GetRecentSignals(ctx, 0, 10)
	if err != nil {
		t.Fatalf("GetRecentSignals: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("len(recent) = %d, want 2 after capping to 2", len(recent))
	}
	if recent[0].ConfirmedAt != 4000 || recent[1].ConfirmedAt != 3000 {
		t.Fatalf("recent = %+v, want the two most recent entries (4000, 3000)", recent)
	}
}

func TestFileStorePurgeSignalHistoryExcessIsNoOpUnderCap(t *testing.T) {
	t.Parallel()

	store, err := OpenFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}

	ctx := context.Background()
	store.SaveSignalHistory(ctx, confirmedSignal(1000))

	if err := store.PurgeSignalHistoryExcess(ctx, 10); err != nil {
		t.Fatalf("PurgeSignalHistoryExcess: %v", err)
	}

	recent, err := store.GetRecentSignals(ctx, 0, 10)
	if err != nil {
		t.Fatalf("GetRecentSignals: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("len(recent) = %d, want 1 (below cap, no-op)", len(recent))
	}
}

func TestFileStoreJobLifecycle(t *testing.T) {
	t.Parallel()

	store, err := OpenFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	ctx := context.Background()

	id, err := store.EnqueueJob(ctx, "backfill", map[string]any{"signal_id": "abc"})
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	pending, err := store.DequeueJobs(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("pending = %+v, want one job with id %d", pending, id)
	}

	if err := store.MarkJobCompleted(ctx, id); err != nil {
		t.Fatalf("MarkJobCompleted: %v", err)
	}

	pending, err = store.DequeueJobs(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueJobs after completion: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after completion = %+v, want none", pending)
	}
}

func TestFileStoreActiveAnomalyLifecycle(t *testing.T) {
	t.Parallel()

	store, err := OpenFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	ctx := context.Background()

	anomaly := ActiveAnomaly{ID: "a1", Symbol: "BTCUSDT", Kind: "spoofing", Severity: "high", DetectedAt: time.Now()}
	if err := store.SaveActiveAnomaly(ctx, anomaly); err != nil {
		t.Fatalf("SaveActiveAnomaly: %v", err)
	}

	active, err := store.GetActiveAnomalies(ctx)
	if err != nil {
		t.Fatalf("GetActiveAnomalies: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active = %+v, want 1 entry", active)
	}

	if err := store.RemoveActiveAnomaly(ctx, "a1"); err != nil {
		t.Fatalf("RemoveActiveAnomaly: %v", err)
	}
	active, err = store.GetActiveAnomalies(ctx)
	if err != nil {
		t.Fatalf("GetActiveAnomalies after removal: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active after removal = %+v, want none", active)
	}
}
