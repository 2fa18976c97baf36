package detector

import (
	"strconv"
	"testing"

	"signalbot/internal/config"
	"signalbot/pkg/types"
)

func baseFilterConfig() config.FilterConfig {
	return config.FilterConfig{
		VWAP: config.VWAPFilterConfig{IndicatorWeightConfig: config.IndicatorWeightConfig{Enabled: true, Weight: 1}, WindowMs: 60_000},
		RSI:  config.RSIFilterConfig{IndicatorWeightConfig: config.IndicatorWeightConfig{Enabled: true, Weight: 1}, Period: 14},
		OIR:  config.OIRFilterConfig{IndicatorWeightConfig: config.IndicatorWeightConfig{Enabled: true, Weight: 1}, WindowMs: 60_000, MinVolumeThreshold: 1},
		Mode: "majority",
	}
}

func observeTrade(ti *TraditionalIndicators, ts int64, price, qty string, side types.Side) {
	ti.Observe(&types.EnrichedTrade{Price: d(price), Quantity: d(qty), Timestamp: ts, Aggressor: side})
}

func TestRSIReturns50BeforeSeeded(t *testing.T) {
	t.Parallel()
	ti := NewTraditionalIndicators(baseFilterConfig(), nil)
	if !ti.RSI().Equal(d("50")) {
		t.Errorf("RSI() = %s, want 50 before seeding", ti.RSI())
	}
}

func TestRSIReturns100WhenAvgLossZero(t *testing.T) {
	t.Parallel()
	ti := NewTraditionalIndicators(baseFilterConfig(), nil)

	price := 100.0
	for i := 0; i < 20; i++ {
		observeTrade(ti, int64(i)*1000, strconv.FormatFloat(price, 'f', -1, 64), "1", types.Buy)
		price += 1
	}

	if !ti.RSI().Equal(d("100")) {
		t.Errorf("RSI() = %s, want 100 for a strictly rising series", ti.RSI())
	}
}

func TestOIRUndefinedBelowMinVolume(t *testing.T) {
	t.Parallel()
	ti := NewTraditionalIndicators(baseFilterConfig(), nil)
	observeTrade(ti, 0, "100", "0.1", types.Buy)

	cfg := baseFilterConfig()
	cfg.OIR.MinVolumeThreshold = 10
	ti2 := NewTraditionalIndicators(cfg, nil)
	observeTrade(ti2, 0, "100", "0.1", types.Buy)

	if _, ok := ti2.OIR(); ok {
		t.Error("OIR() ok=true below minVolumeThreshold, want false")
	}
}

func TestVWAPComputesVolumeWeightedAverage(t *testing.T) {
	t.Parallel()
	ti := NewTraditionalIndicators(baseFilterConfig(), nil)
	observeTrade(ti, 0, "100", "10", types.Buy)
	observeTrade(ti, 100, "102", "10", types.Sell)

	vwap, ok := ti.VWAP()
	if !ok {
		t.Fatal("VWAP ok=false")
	}
	if !vwap.Equal(d("101")) {
		t.Errorf("VWAP = %s, want 101", vwap)
	}
}

func TestPassesAllModeRequiresEveryFilter(t *testing.T) {
	t.Parallel()
	cfg := baseFilterConfig()
	cfg.Mode = "all"
	ti := NewTraditionalIndicators(cfg, nil)
	observeTrade(ti, 0, "100", "10", types.Buy)

	candidate := types.SignalCandidate{Type: types.SignalAbsorption, Side: types.Buy, Price: d("100")}
	// One buy trade at 100: the VWAP deviation is zero and OIR is fully
	// buy-skewed, so only the neutral RSI agrees with a buy reversal.
	if ti.Passes(candidate) {
		t.Error("Passes() = true in all mode with only one of three filters agreeing, want false")
	}
}
