package detector

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"signalbot/internal/config"
	"signalbot/pkg/types"
)

// DistributionDetector tracks zones where sell-side flow dominates for a
// sustained period, per spec §4.7. Its candidates carry side Sell, set here
// by the detector; the SignalManager passes that side through unchanged.
type DistributionDetector struct {
	inner *zoneLifecycleDetector
}

// NewDistributionDetector builds a DistributionDetector.
func NewDistributionDetector(cfg config.AccumulationConfig, log *slog.Logger) *DistributionDetector {
	return &DistributionDetector{
		inner: newZoneLifecycleDetector("distribution", types.SignalDistribution, types.Sell, types.Sell, cfg, log),
	}
}

func (d *DistributionDetector) OnEnrichedTrade(trade *types.EnrichedTrade) (*types.SignalCandidate, error) {
	return d.inner.onEnrichedTrade(trade)
}

// Maintenance emits zone_completed candidates for long-idle active zones.
func (d *DistributionDetector) Maintenance(now int64) []types.SignalCandidate {
	return d.inner.maintenance(now)
}

func (d *DistributionDetector) Status() types.DetectorStatus {
	return d.inner.status()
}

func (d *DistributionDetector) MarkSignalConfirmed(price decimal.Decimal, _ types.Side) {
	d.inner.markSignalConfirmed(price)
}

var _ Kind = (*DistributionDetector)(nil)
