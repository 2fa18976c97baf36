package signalmanager

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signalbot/internal/config"
	"signalbot/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type fakeHealth struct {
	snapshot types.MarketHealthSnapshot
	err      error
}

func (f fakeHealth) GetMarketHealth(ctx context.Context) (types.MarketHealthSnapshot, error) {
	return f.snapshot, f.err
}

type fakeStorage struct {
	saved []types.ConfirmedSignal
}

func (f *fakeStorage) SaveSignalHistory(ctx context.Context, signal types.ConfirmedSignal) error {
	f.saved = append(f.saved, signal)
	return nil
}

func (f *fakeStorage) PurgeSignalHistory(ctx context.Context, olderThan time.Time) error {
	return nil
}

func (f *fakeStorage) PurgeSignalHistoryExcess(ctx context.Context, keep int) error {
	return nil
}

func baseCfg() config.SignalManagerConfig {
	return config.SignalManagerConfig{
		ConfidenceThreshold:   0.75,
		CorrelationWindowMs:   60_000,
		SignalTimeoutMs:       300_000,
		MaintenanceIntervalMs: 60_000,
		TakeProfitBps:         50,
		StopLossBps:           25,
	}
}

func healthySnapshot() types.MarketHealthSnapshot {
	return types.MarketHealthSnapshot{IsHealthy: true, Recommendation: "none", HighestSeverity: "none"}
}

func candidate(confidence string) types.ProcessedSignal {
	return types.ProcessedSignal{
		Candidate: types.SignalCandidate{
			ID:         "sig-1",
			Type:       types.SignalAbsorption,
			Side:       types.Sell,
			Confidence: d(confidence),
			Timestamp:  1_000,
			Symbol:     "BTCUSDT",
			Price:      d("100.00"),
			Data:       map[string]any{},
		},
	}
}

// TestConfidenceGateRejectsBelowThreshold encodes spec scenario S5's reject
// leg: 0.749 rounds below 0.75 and is rejected with low_confidence.
func TestConfidenceGateRejectsBelowThreshold(t *testing.T) {
	t.Parallel()

	storage := &fakeStorage{}
	mgr := New(baseCfg(), fakeHealth{snapshot: healthySnapshot()}, storage, nil)

	mgr.process(context.Background(), candidate("0.749"))

	select {
	case rejected := <-mgr.RejectedCh():
		if rejected.Reason != types.RejectLowConfidence {
			t.Errorf("Reason = %s, want low_confidence", rejected.Reason)
		}
	default:
		t.Fatal("expected a rejected event")
	}
	select {
	case <-mgr.ConfirmedCh():
		t.Fatal("did not expect a confirmed event")
	default:
	}
}

// TestConfidenceGateAcceptsAtThreshold encodes spec scenario S5's accept
// leg: exactly 0.750 is accepted and emits signalGenerated.
func TestConfidenceGateAcceptsAtThreshold(t *testing.T) {
	t.Parallel()

	storage := &fakeStorage{}
	mgr := New(baseCfg(), fakeHealth{snapshot: healthySnapshot()}, storage, nil)

	mgr.process(context.Background(), candidate("0.750"))

	select {
	case <-mgr.RejectedCh():
		t.Fatal("did not expect a rejected event")
	default:
	}
	select {
	case confirmed := <-mgr.ConfirmedCh():
		if confirmed.ID != "sig-1" {
			t.Errorf("ID = %s, want sig-1", confirmed.ID)
		}
	default:
		t.Fatal("expected a confirmed event")
	}
	select {
	case <-mgr.GeneratedCh():
	default:
		t.Fatal("expected a generated event")
	}
	if len(storage.saved) != 1 {
		t.Fatalf("saved = %d entries, want 1", len(storage.saved))
	}
}

// TestMarketHealthBlockRejectsRegardlessOfConfidence encodes spec scenario
// S6: close_positions recommendation blocks a high-confidence signal.
func TestMarketHealthBlockRejectsRegardlessOfConfidence(t *testing.T) {
	t.Parallel()

	storage := &fakeStorage{}
	unhealthySnapshot := types.MarketHealthSnapshot{IsHealthy: false, Recommendation: "close_positions", HighestSeverity: "critical"}
	mgr := New(baseCfg(), fakeHealth{snapshot: unhealthySnapshot}, storage, nil)

	mgr.process(context.Background(), candidate("0.90"))

	select {
	case rejected := <-mgr.RejectedCh():
		if rejected.Reason != types.RejectUnhealthyMarket {
			t.Errorf("Reason = %s, want unhealthy_market", rejected.Reason)
		}
	default:
		t.Fatal("expected a rejected event")
	}
	select {
	case <-mgr.ConfirmedCh():
		t.Fatal("did not expect a confirmed event")
	default:
	}
	if len(storage.saved) != 0 {
		t.Fatalf("saved = %d entries, want 0", len(storage.saved))
	}
}

// TestHealthCheckErrorFailsOpen verifies the pipeline proceeds to the
// confidence gate when the external health provider errors, per spec §5's
// fail-open suspension-point policy.
func TestHealthCheckErrorFailsOpen(t *testing.T) {
	t.Parallel()

	storage := &fakeStorage{}
	mgr := New(baseCfg(), fakeHealth{err: context.DeadlineExceeded}, storage, nil)

	mgr.process(context.Background(), candidate("0.90"))

	select {
	case <-mgr.ConfirmedCh():
	default:
		t.Fatal("expected a confirmed event when health check fails open")
	}
}

// TestCorrelationStrengthBoostsConfidence verifies repeated same-type
// signals near the same price raise final confidence via the 0.15 strength
// scaling, per spec §4.9 step 4.
func TestCorrelationStrengthBoostsConfidence(t *testing.T) {
	t.Parallel()

	storage := &fakeStorage{}
	mgr := New(baseCfg(), fakeHealth{snapshot: healthySnapshot()}, storage, nil)

	for i := 0; i < 3; i++ {
		ps := candidate("0.80")
		ps.Candidate.Timestamp = int64(i) * 1000
		mgr.process(context.Background(), ps)
		<-mgr.ConfirmedCh()
		<-mgr.GeneratedCh()
	}

	ps := candidate("0.80")
	ps.Candidate.Timestamp = 3500
	mgr.process(context.Background(), ps)

	confirmed := <-mgr.ConfirmedCh()
	if !confirmed.Confidence.GreaterThan(d("0.80")) {
		t.Errorf("Confidence = %s, want boosted above 0.80", confirmed.Confidence)
	}
}

// TestMaintenancePurgesStaleCorrelationHistory verifies the periodic sweep
// drops entries older than signalTimeoutMs.
func TestMaintenancePurgesStaleCorrelationHistory(t *testing.T) {
	t.Parallel()

	storage := &fakeStorage{}
	cfg := baseCfg()
	cfg.SignalTimeoutMs = 1000
	mgr := New(cfg, fakeHealth{snapshot: healthySnapshot()}, storage, nil)

	for _, ts := range []int64{0, 5000} {
		ps := candidate("0.80")
		ps.Candidate.Timestamp = ts
		mgr.process(context.Background(), ps)
		<-mgr.ConfirmedCh()
		<-mgr.GeneratedCh()
	}

	mgr.mu.RLock()
	before := len(mgr.recentByType[types.SignalAbsorption])
	mgr.mu.RUnlock()
	if before != 2 {
		t.Fatalf("recentByType before maintenance = %d, want 2", before)
	}

	mgr.maintenance(context.Background())

	mgr.mu.RLock()
	after := len(mgr.recentByType[types.SignalAbsorption])
	mgr.mu.RUnlock()
	if after != 1 {
		t.Errorf("recentByType after maintenance = %d, want 1 (the 0ms entry is older than 5000-1000)", after)
	}
}

// TestMaintenanceCapsHistoryByCount verifies maxHistorySize trims
// recentByType down to the most recent N entries even when none are stale
// enough to be dropped by the time-based cutoff.
func TestMaintenanceCapsHistoryByCount(t *testing.T) {
	t.Parallel()

	storage := &fakeStorage{}
	cfg := baseCfg()
	cfg.SignalTimeoutMs = 1_000_000
	cfg.MaxHistorySize = 2
	mgr := New(cfg, fakeHealth{snapshot: healthySnapshot()}, storage, nil)

	for i := 0; i < 5; i++ {
		ps := candidate("0.80")
		ps.Candidate.Timestamp = int64(i) * 1000
		mgr.process(context.Background(), ps)
		<-mgr.ConfirmedCh()
		<-mgr.GeneratedCh()
	}

	mgr.maintenance(context.Background())

	mgr.mu.RLock()
	entries := mgr.recentByType[types.SignalAbsorption]
	mgr.mu.RUnlock()
	if len(entries) != 2 {
		t.Fatalf("recentByType after maintenance = %d entries, want 2 (max_history_size cap)", len(entries))
	}
	if entries[len(entries)-1].timestamp != 4000 {
		t.Errorf("most recent kept entry has timestamp %d, want 4000", entries[len(entries)-1].timestamp)
	}
}
