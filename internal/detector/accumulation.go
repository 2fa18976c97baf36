package detector

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"signalbot/internal/config"
	"signalbot/pkg/types"
)

// AccumulationDetector tracks zones where buy-side flow dominates for a
// sustained period, per spec §4.7. Its candidates carry side Buy, set here
// by the detector; the SignalManager passes that side through unchanged.
type AccumulationDetector struct {
	inner *zoneLifecycleDetector
}

// NewAccumulationDetector builds an AccumulationDetector.
func NewAccumulationDetector(cfg config.AccumulationConfig, log *slog.Logger) *AccumulationDetector {
	return &AccumulationDetector{
		inner: newZoneLifecycleDetector("accumulation", types.SignalAccumulation, types.Buy, types.Buy, cfg, log),
	}
}

func (a *AccumulationDetector) OnEnrichedTrade(trade *types.EnrichedTrade) (*types.SignalCandidate, error) {
	return a.inner.onEnrichedTrade(trade)
}

// Maintenance emits zone_completed candidates for long-idle active zones.
func (a *AccumulationDetector) Maintenance(now int64) []types.SignalCandidate {
	return a.inner.maintenance(now)
}

func (a *AccumulationDetector) Status() types.DetectorStatus {
	return a.inner.status()
}

func (a *AccumulationDetector) MarkSignalConfirmed(price decimal.Decimal, _ types.Side) {
	a.inner.markSignalConfirmed(price)
}

var _ Kind = (*AccumulationDetector)(nil)
