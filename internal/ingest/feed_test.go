package ingest

import (
	"encoding/json"
	"testing"
	"time"

	"signalbot/internal/metrics"
	"signalbot/pkg/types"
)

func TestDispatchRoutesAggTradeToTradeChannel(t *testing.T) {
	t.Parallel()

	f := New("ws://example.invalid", "BTCUSDT", 0, 0, nil, nil)
	msg, _ := json.Marshal(map[string]any{
		"event_type":     "agg_trade",
		"agg_trade_id":   42,
		"price":          "100.50",
		"quantity":       "1.25",
		"buyer_is_maker": false,
	})

	f.dispatch(msg)

	select {
	case trade := <-f.Trades():
		if trade.AggTradeID != 42 {
			t.Errorf("AggTradeID = %d, want 42", trade.AggTradeID)
		}
		if trade.Price != "100.50" {
			t.Errorf("Price = %s, want 100.50", trade.Price)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a trade on the trade channel")
	}
}

func TestDispatchRoutesDepthDiffToDepthChannel(t *testing.T) {
	t.Parallel()

	f := New("ws://example.invalid", "BTCUSDT", 0, 0, nil, nil)
	msg, _ := json.Marshal(map[string]any{
		"event_type":      "depth_diff",
		"final_update_id": 7,
		"bids":            [][]string{{"100", "1"}},
		"asks":            [][]string{{"101", "1"}},
	})

	f.dispatch(msg)

	select {
	case diff := <-f.DepthDiffs():
		if diff.FinalUpdateID != 7 {
			t.Errorf("FinalUpdateID = %d, want 7", diff.FinalUpdateID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a diff on the depth channel")
	}
}

func TestDispatchDropsUnknownEventType(t *testing.T) {
	t.Parallel()

	f := New("ws://example.invalid", "BTCUSDT", 0, 0, nil, nil)
	msg, _ := json.Marshal(map[string]any{"event_type": "ping"})

	f.dispatch(msg)

	select {
	case <-f.Trades():
		t.Fatal("did not expect a trade")
	case <-f.DepthDiffs():
		t.Fatal("did not expect a diff")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestDispatchDropsMalformedJSON(t *testing.T) {
	t.Parallel()

	f := New("ws://example.invalid", "BTCUSDT", 0, 0, nil, nil)
	f.dispatch([]byte("not json"))

	select {
	case <-f.Trades():
		t.Fatal("did not expect a trade")
	default:
	}
}

func TestTradeChannelOverflowDropsOldestWithoutBlocking(t *testing.T) {
	t.Parallel()

	reg := metrics.New()
	f := New("ws://example.invalid", "BTCUSDT", 0, 0, reg, nil)
	f.tradeCh = make(chan types.AggregatedTrade, 1)

	msg, _ := json.Marshal(map[string]any{"event_type": "agg_trade", "agg_trade_id": 1, "price": "1", "quantity": "1"})
	f.dispatch(msg) // fills the channel to capacity

	msg2, _ := json.Marshal(map[string]any{"event_type": "agg_trade", "agg_trade_id": 2, "price": "2", "quantity": "2"})
	done := make(chan struct{})
	go func() {
		f.dispatch(msg2) // must not block even though the channel is full
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on a full trade channel")
	}

	if len(f.tradeCh) != 1 {
		t.Fatalf("tradeCh length = %d, want 1 (overflow dropped)", len(f.tradeCh))
	}
	kept := <-f.tradeCh
	if kept.AggTradeID != 2 {
		t.Errorf("kept AggTradeID = %d, want 2 (oldest dropped, newest kept)", kept.AggTradeID)
	}
	if reg.Snapshot().TradesDropped != 1 {
		t.Errorf("TradesDropped = %d, want 1", reg.Snapshot().TradesDropped)
	}
}

func TestDepthChannelOverflowDropsOldestAndCounts(t *testing.T) {
	t.Parallel()

	reg := metrics.New()
	f := New("ws://example.invalid", "BTCUSDT", 0, 0, reg, nil)
	f.depthCh = make(chan types.DepthDiff, 1)

	msg, _ := json.Marshal(map[string]any{"event_type": "depth_diff", "final_update_id": 1})
	f.dispatch(msg)

	msg2, _ := json.Marshal(map[string]any{"event_type": "depth_diff", "final_update_id": 2})
	f.dispatch(msg2)

	if len(f.depthCh) != 1 {
		t.Fatalf("depthCh length = %d, want 1 (overflow dropped)", len(f.depthCh))
	}
	kept := <-f.depthCh
	if kept.FinalUpdateID != 2 {
		t.Errorf("kept FinalUpdateID = %d, want 2 (oldest dropped, newest kept)", kept.FinalUpdateID)
	}
	if reg.Snapshot().DepthUpdatesDropped != 1 {
		t.Errorf("DepthUpdatesDropped = %d, want 1", reg.Snapshot().DepthUpdatesDropped)
	}
}
