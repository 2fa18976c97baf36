package cache

import (
	"context"
	"testing"

	"signalbot/pkg/types"
)

func TestDegradedModeWhenNoAddrConfigured(t *testing.T) {
	t.Parallel()

	c := New("", "", nil)
	ctx := context.Background()

	c.SetMarketHealth(ctx, "BTCUSDT", types.MarketHealthSnapshot{IsHealthy: true})
	if _, ok := c.GetMarketHealth(ctx, "BTCUSDT"); ok {
		t.Error("GetMarketHealth ok=true in degraded mode, want false")
	}

	if err := c.AppendRecentSignal(ctx, "BTCUSDT", types.SignalConfirmedEvent{ID: "s1"}); err != nil {
		t.Errorf("AppendRecentSignal in degraded mode returned error: %v", err)
	}

	signals, err := c.RecentSignals(ctx, "BTCUSDT")
	if err != nil {
		t.Errorf("RecentSignals in degraded mode returned error: %v", err)
	}
	if signals != nil {
		t.Errorf("RecentSignals in degraded mode = %v, want nil", signals)
	}
}

func TestDegradedModeWhenConnectFails(t *testing.T) {
	t.Parallel()

	c := New("127.0.0.1:1", "", nil) // unroutable port, connect must fail fast
	if c.client != nil {
		t.Fatal("expected degraded mode (nil client) when redis is unreachable")
	}
}

func TestCloseIsNoOpInDegradedMode(t *testing.T) {
	t.Parallel()

	c := New("", "", nil)
	if err := c.Close(); err != nil {
		t.Errorf("Close() in degraded mode returned error: %v", err)
	}
}
