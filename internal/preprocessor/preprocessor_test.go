package preprocessor

import (
	"testing"

	"signalbot/internal/book"
	"signalbot/internal/zone"
	"signalbot/pkg/types"
)

func testAggregator(t *testing.T) *zone.Aggregator {
	t.Helper()
	tick, err := types.NewTick("0.01")
	if err != nil {
		t.Fatal(err)
	}
	cfg := types.ZoneConfig{
		BaseTick: tick,
		Resolutions: []types.ZoneResolutionConfig{
			{ZoneTicks: 1, TimeWindowMs: 30_000},
		},
	}
	return zone.New(cfg, 100, 0, 5)
}

func TestProcessRejectsNonPositiveQuantity(t *testing.T) {
	t.Parallel()

	tick, _ := types.NewTick("0.01")
	p := New("BTCUSDT", tick, book.New("BTCUSDT"), testAggregator(t), nil)

	_, err := p.Process(types.AggregatedTrade{Price: "100.00", Quantity: "0", TradeTime: 1})
	if err != ErrInvalidTrade {
		t.Fatalf("err = %v, want ErrInvalidTrade", err)
	}
}

func TestProcessRejectsUnalignedPrice(t *testing.T) {
	t.Parallel()

	tick, _ := types.NewTick("0.01")
	p := New("BTCUSDT", tick, book.New("BTCUSDT"), testAggregator(t), nil)

	_, err := p.Process(types.AggregatedTrade{Price: "100.001", Quantity: "1", TradeTime: 1})
	if err != ErrInvalidTrade {
		t.Fatalf("err = %v, want ErrInvalidTrade", err)
	}
}

func TestProcessEnrichesWithZoneDataReflectingOwnTrade(t *testing.T) {
	t.Parallel()

	tick, _ := types.NewTick("0.01")
	b := book.New("BTCUSDT")
	p := New("BTCUSDT", tick, b, testAggregator(t), nil)

	enriched, err := p.Process(types.AggregatedTrade{
		Price:        "100.01",
		Quantity:     "10",
		TradeTime:    1000,
		BuyerIsMaker: false,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enriched.Aggressor != types.Buy {
		t.Errorf("Aggressor = %v, want Buy", enriched.Aggressor)
	}

	snaps := enriched.ZoneData.Resolutions[1]
	found := false
	for _, s := range snaps {
		if s.PriceLevel.Equal(enriched.Price.Truncate(2)) || s.TradeCount > 0 {
			found = true
		}
	}
	if !found {
		t.Fatal("triggering trade not reflected in its own EnrichedTrade's zone data")
	}
}

func TestProcessLeavesBookFieldsAbsentWhenUnavailable(t *testing.T) {
	t.Parallel()

	tick, _ := types.NewTick("0.01")
	p := New("BTCUSDT", tick, book.New("BTCUSDT"), testAggregator(t), nil)

	enriched, err := p.Process(types.AggregatedTrade{Price: "100.01", Quantity: "1", TradeTime: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enriched.BookKnown {
		t.Error("BookKnown = true with no book snapshot applied")
	}
}
