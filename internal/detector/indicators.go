package detector

import (
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"signalbot/internal/config"
	"signalbot/internal/financial"
	"signalbot/internal/ringbuffer"
	"signalbot/pkg/types"
)

type priceVolumeSample struct {
	ts       int64
	price    decimal.Decimal
	quantity decimal.Decimal
	side     types.Side
}

func (s priceVolumeSample) TimestampMs() int64 { return s.ts }

// TraditionalIndicators is the optional VWAP/RSI/OIR filter of spec §4.8,
// evaluated independently of the microstructure detectors and combined
// into a pass/fail decision per-SignalCandidate.
type TraditionalIndicators struct {
	mu sync.Mutex

	cfg config.FilterConfig

	vwapWindow *ringbuffer.RollingWindow[priceVolumeSample]
	oirWindow  *ringbuffer.RollingWindow[priceVolumeSample]

	rsiPeriod      int
	rsiSeeded      bool
	rsiAvgGain     decimal.Decimal
	rsiAvgLoss     decimal.Decimal
	rsiLastPrice   decimal.Decimal
	rsiSeedPrices  []decimal.Decimal

	oirMinVolume decimal.Decimal

	log *slog.Logger
}

// NewTraditionalIndicators builds the filter from raw config.
func NewTraditionalIndicators(cfg config.FilterConfig, log *slog.Logger) *TraditionalIndicators {
	if log == nil {
		log = slog.Default()
	}
	return &TraditionalIndicators{
		cfg:          cfg,
		vwapWindow:   ringbuffer.NewRollingWindow[priceVolumeSample](4096, cfg.VWAP.WindowMs),
		oirWindow:    ringbuffer.NewRollingWindow[priceVolumeSample](4096, cfg.OIR.WindowMs),
		rsiPeriod:    cfg.RSI.Period,
		oirMinVolume: decimal.NewFromFloat(cfg.OIR.MinVolumeThreshold),
		log:          log.With("component", "detector", "detector_kind", "traditional_indicators"),
	}
}

// Observe feeds one trade into the rolling indicator state. Must be called
// once per trade, in timestamp order, before Evaluate is meaningful.
func (t *TraditionalIndicators) Observe(trade *types.EnrichedTrade) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sample := priceVolumeSample{ts: trade.Timestamp, price: trade.Price, quantity: trade.Quantity, side: trade.Aggressor}
	t.vwapWindow.Push(sample)
	t.oirWindow.Push(sample)
	t.updateRSILocked(trade.Price)
}

func (t *TraditionalIndicators) updateRSILocked(price decimal.Decimal) {
	if t.rsiLastPrice.IsZero() {
		t.rsiLastPrice = price
		t.rsiSeedPrices = append(t.rsiSeedPrices, price)
		return
	}

	change := price.Sub(t.rsiLastPrice)
	t.rsiLastPrice = price

	if !t.rsiSeeded {
		t.rsiSeedPrices = append(t.rsiSeedPrices, price)
		if len(t.rsiSeedPrices) <= t.rsiPeriod {
			return
		}
		var gainSum, lossSum decimal.Decimal
		for i := 1; i < len(t.rsiSeedPrices); i++ {
			d := t.rsiSeedPrices[i].Sub(t.rsiSeedPrices[i-1])
			if d.IsPositive() {
				gainSum = gainSum.Add(d)
			} else {
				lossSum = lossSum.Add(d.Abs())
			}
		}
		n := decimal.NewFromInt(int64(t.rsiPeriod))
		t.rsiAvgGain, _ = financial.DivideQuantities(gainSum, n)
		t.rsiAvgLoss, _ = financial.DivideQuantities(lossSum, n)
		t.rsiSeeded = true
		return
	}

	n := decimal.NewFromInt(int64(t.rsiPeriod))
	one := decimal.NewFromInt(1)
	decayFactor := one.Sub(one.DivRound(n, financial.WorkingPrecision))

	gain, loss := decimal.Zero, decimal.Zero
	if change.IsPositive() {
		gain = change
	} else {
		loss = change.Abs()
	}

	t.rsiAvgGain = t.rsiAvgGain.Mul(decayFactor).Add(gain.DivRound(n, financial.WorkingPrecision))
	t.rsiAvgLoss = t.rsiAvgLoss.Mul(decayFactor).Add(loss.DivRound(n, financial.WorkingPrecision))
}

// VWAP returns the VWAP over the configured window. ok is false when the
// window has no volume.
func (t *TraditionalIndicators) VWAP() (decimal.Decimal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var numerator, volume decimal.Decimal
	for _, s := range t.vwapWindow.ToSlice() {
		numerator = numerator.Add(financial.MultiplyQuantities(s.price, s.quantity))
		volume = volume.Add(s.quantity)
	}
	return financial.DivideQuantities(numerator, volume)
}

// RSI returns the current Wilder's-smoothing RSI. Per spec §4.8: RSI=100
// when avg_loss is zero and avg_gain is positive; RSI=50 when both are
// zero (no movement observed yet).
func (t *TraditionalIndicators) RSI() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.rsiSeeded {
		return decimal.NewFromInt(50)
	}
	if t.rsiAvgLoss.IsZero() {
		if t.rsiAvgGain.IsPositive() {
			return decimal.NewFromInt(100)
		}
		return decimal.NewFromInt(50)
	}
	rs, _ := financial.DivideQuantities(t.rsiAvgGain, t.rsiAvgLoss)
	hundred := decimal.NewFromInt(100)
	return hundred.Sub(hundred.DivRound(decimal.NewFromInt(1).Add(rs), financial.WorkingPrecision))
}

// OIR returns the order imbalance ratio (buyVolume / totalVolume) over the
// configured window. ok is false when total volume is below
// minVolumeThreshold, per spec §4.8's "undefined, pass-through" rule.
func (t *TraditionalIndicators) OIR() (decimal.Decimal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var buyVolume, totalVolume decimal.Decimal
	for _, s := range t.oirWindow.ToSlice() {
		totalVolume = totalVolume.Add(s.quantity)
		if s.side == types.Buy {
			buyVolume = buyVolume.Add(s.quantity)
		}
	}
	if totalVolume.LessThan(t.oirMinVolume) {
		return decimal.Zero, false
	}
	return financial.DivideQuantities(buyVolume, totalVolume)
}

// Passes evaluates whether the candidate survives the combined filter.
// Signal-type-aware semantics (spec §4.8): for reversal signal classes,
// an extreme reading that agrees with the signal's direction (e.g. oversold
// RSI for a buy) is favorable and passes. For trend classes, an RSI extreme
// in the signal's own direction (overbought for a buy, oversold for a sell)
// is against the signal and is filtered, and the VWAP and OIR votes are the
// inverse of their reversal-class votes.
func (t *TraditionalIndicators) Passes(candidate types.SignalCandidate) bool {
	class := types.ClassOf(candidate.Type)

	votes := 0
	total := 0

	if t.cfg.VWAP.Enabled && t.cfg.VWAP.Weight > 0 {
		total++
		if vwap, ok := t.VWAP(); ok {
			deviation := candidate.Price.Sub(vwap)
			favorable := (candidate.Side == types.Buy && deviation.IsNegative()) || (candidate.Side == types.Sell && deviation.IsPositive())
			if vwapAgrees(class, favorable) {
				votes++
			}
		} else {
			votes++ // no data: pass-through
		}
	}

	if t.cfg.RSI.Enabled && t.cfg.RSI.Weight > 0 {
		total++
		rsi := t.RSI()
		overbought := rsi.GreaterThanOrEqual(decimal.NewFromInt(70))
		oversold := rsi.LessThanOrEqual(decimal.NewFromInt(30))
		if rsiAgrees(class, candidate.Side, overbought, oversold) {
			votes++
		}
	}

	if t.cfg.OIR.Enabled && t.cfg.OIR.Weight > 0 {
		total++
		if oir, ok := t.OIR(); ok {
			buySkewed := oir.GreaterThanOrEqual(decimal.NewFromFloat(0.65))
			sellSkewed := oir.LessThanOrEqual(decimal.NewFromFloat(0.35))
			if oirAgrees(class, candidate.Side, buySkewed, sellSkewed) {
				votes++
			}
		} else {
			votes++
		}
	}

	if total == 0 {
		return true
	}

	switch t.cfg.Mode {
	case "all":
		return votes == total
	case "any":
		return votes > 0
	default: // "majority"
		return votes*2 > total
	}
}

// vwapAgrees implements the reversal-favors-extreme / trend-against-extreme
// inversion for the VWAP deviation filter.
func vwapAgrees(class types.SignalClass, favorable bool) bool {
	if class == types.ClassReversal {
		return favorable
	}
	return !favorable
}

func rsiAgrees(class types.SignalClass, side types.Side, overbought, oversold bool) bool {
	if class == types.ClassReversal {
		extreme := (side == types.Buy && oversold) || (side == types.Sell && overbought)
		return extreme || (!overbought && !oversold)
	}
	against := (side == types.Buy && overbought) || (side == types.Sell && oversold)
	return !against
}

func oirAgrees(class types.SignalClass, side types.Side, buySkewed, sellSkewed bool) bool {
	extreme := (side == types.Buy && sellSkewed) || (side == types.Sell && buySkewed)
	if class == types.ClassReversal {
		return extreme || (!buySkewed && !sellSkewed)
	}
	return !extreme
}
