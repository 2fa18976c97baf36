package detector

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"signalbot/internal/config"
	"signalbot/internal/financial"
	"signalbot/pkg/types"
)

type lifecycleZoneState struct {
	priceLevel   decimal.Decimal
	startedAt    int64
	tradeCount   int
	buyVolume    decimal.Decimal
	sellVolume   decimal.Decimal
	maxDeviation decimal.Decimal
	strength     decimal.Decimal
	active       bool
	lastUpdate   int64
}

// zoneLifecycleDetector implements the near-symmetric accumulation/
// distribution behavior of spec §4.7: the only difference between the two
// detectors is which side's volume dominance promotes a zone and which
// trading side the resulting signal carries, so both are one type
// parametrized by dominantSide/signalType/tradingSide, grounded on the
// teacher's pattern of sharing one FlowTracker across both sides of flow
// instead of duplicating the tracker per direction.
type zoneLifecycleDetector struct {
	mu sync.Mutex

	kindName    string
	signalType  types.SignalType
	dominantSide types.Side
	tradingSide  types.Side

	cfg config.AccumulationConfig

	minDuration        int64
	dominantRatio      decimal.Decimal
	minTradeCount      int
	maxDeviation       decimal.Decimal
	minInstitutional   decimal.Decimal
	strengthChangeStep decimal.Decimal

	zones      map[string]*lifecycleZoneState
	rejections map[types.DetectorRejectReason]int
	lastSignal int64

	log *slog.Logger
}

func newZoneLifecycleDetector(kindName string, signalType types.SignalType, dominantSide, tradingSide types.Side, cfg config.AccumulationConfig, log *slog.Logger) *zoneLifecycleDetector {
	if log == nil {
		log = slog.Default()
	}
	return &zoneLifecycleDetector{
		kindName:           kindName,
		signalType:         signalType,
		dominantSide:       dominantSide,
		tradingSide:        tradingSide,
		cfg:                cfg,
		minDuration:        cfg.MinCandidateDurationMs,
		dominantRatio:      decimal.NewFromFloat(cfg.DominantVolumeRatio),
		minTradeCount:      cfg.MinTradeCount,
		maxDeviation:       decimal.NewFromFloat(cfg.MaxVwapDeviation),
		minInstitutional:   decimal.NewFromFloat(cfg.MinInstitutionalScore),
		strengthChangeStep: decimal.NewFromFloat(cfg.StrengthChangeThreshold),
		zones:              make(map[string]*lifecycleZoneState),
		rejections:         make(map[types.DetectorRejectReason]int),
		log:                log.With("component", "detector", "detector_kind", kindName),
	}
}

func (z *zoneLifecycleDetector) onEnrichedTrade(trade *types.EnrichedTrade) (*types.SignalCandidate, error) {
	z.mu.Lock()
	defer z.mu.Unlock()

	zone := findZoneContaining(trade.ZoneData.Resolutions[1], trade.Price)
	if zone == nil {
		return nil, nil
	}

	zs := z.touchZone(zone.ZoneID, zone.PriceLevel, trade.Timestamp)
	zs.tradeCount++
	if trade.Aggressor == types.Buy {
		zs.buyVolume = zs.buyVolume.Add(trade.Quantity)
	} else {
		zs.sellVolume = zs.sellVolume.Add(trade.Quantity)
	}

	deviation := trade.Price.Sub(zone.VolumeWeightedPrice).Abs()
	zs.maxDeviation = financial.Max(zs.maxDeviation, deviation)

	dominantVolume := zs.buyVolume
	if z.dominantSide == types.Sell {
		dominantVolume = zs.sellVolume
	}
	totalVolume := zs.buyVolume.Add(zs.sellVolume)
	ratio, ok := financial.DivideQuantities(dominantVolume, totalVolume)
	if !ok {
		return nil, nil
	}

	duration := trade.Timestamp - zs.startedAt
	stabilityScore := decimal.NewFromInt(1)
	if !z.maxDeviation.IsZero() {
		if d, ok := financial.DivideQuantities(zs.maxDeviation, z.maxDeviation); ok {
			stabilityScore = financial.ClampUnit(decimal.NewFromInt(1).Sub(d))
		}
	}
	tradeCountScore := financial.Min(decimal.NewFromInt(1), decimal.NewFromInt(int64(zs.tradeCount)).Div(decimal.NewFromInt(int64(z.minTradeCount))))

	institutionalScore := financial.ClampUnit(
		ratio.Mul(decimal.NewFromFloat(0.4)).
			Add(tradeCountScore.Mul(decimal.NewFromFloat(0.3))).
			Add(stabilityScore.Mul(decimal.NewFromFloat(0.3))),
	)

	meetsAll := duration >= z.minDuration &&
		ratio.GreaterThanOrEqual(z.dominantRatio) &&
		zs.tradeCount >= z.minTradeCount &&
		zs.maxDeviation.LessThanOrEqual(z.maxDeviation) &&
		institutionalScore.GreaterThanOrEqual(z.minInstitutional)

	event := ""
	switch {
	case !zs.active && meetsAll:
		zs.active = true
		event = "zone_created"
	case zs.active && !meetsAll:
		zs.active = false
		event = "zone_invalidated"
	case zs.active:
		delta := institutionalScore.Sub(zs.strength)
		if delta.Abs().GreaterThanOrEqual(z.strengthChangeStep) {
			if delta.IsPositive() {
				event = "zone_strengthened"
			} else {
				event = "zone_weakened"
			}
		}
	}
	zs.strength = institutionalScore

	if event == "" {
		return nil, nil
	}

	z.lastSignal = trade.Timestamp

	return &types.SignalCandidate{
		ID:         fmt.Sprintf("%s-%s-%d", z.kindName, trade.Symbol, trade.Timestamp),
		Type:       z.signalType,
		Side:       z.tradingSide,
		Confidence: institutionalScore,
		Timestamp:  trade.Timestamp,
		Symbol:     trade.Symbol,
		Price:      trade.Price,
		Data: map[string]any{
			"event":                event,
			"zone_id":              zone.ZoneID,
			"duration_ms":          duration,
			"dominant_ratio":       ratio,
			"institutional_score":  institutionalScore,
		},
	}, nil
}

// touchZone returns zoneID's state, creating it (after evicting the
// least-recently-touched zone if the map is at capacity) on first sight,
// mirroring ExhaustionDetector.touchZone's lazy-create/bounded-evict shape.
func (z *zoneLifecycleDetector) touchZone(zoneID string, priceLevel decimal.Decimal, now int64) *lifecycleZoneState {
	zs, ok := z.zones[zoneID]
	if !ok {
		z.evictIfFull(now)
		zs = &lifecycleZoneState{startedAt: now, priceLevel: priceLevel}
		z.zones[zoneID] = zs
	}
	zs.lastUpdate = now
	return zs
}

func (z *zoneLifecycleDetector) evictIfFull(now int64) {
	if z.cfg.MaxZones <= 0 || len(z.zones) < z.cfg.MaxZones {
		return
	}
	var oldestID string
	var oldestTime int64 = -1
	for id, zs := range z.zones {
		if oldestTime == -1 || zs.lastUpdate < oldestTime {
			oldestTime = zs.lastUpdate
			oldestID = id
		}
	}
	if oldestID != "" {
		delete(z.zones, oldestID)
	}
}

// maintenance marks long-idle active zones as completed and reclaims them,
// the lifecycle analogue of the zone aggregator's maxZoneCacheAgeMs eviction.
func (z *zoneLifecycleDetector) maintenance(now int64) []types.SignalCandidate {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.cfg.CompletionIdleMs <= 0 {
		return nil
	}

	var completed []types.SignalCandidate
	for id, zs := range z.zones {
		if zs.active && now-zs.lastUpdate >= z.cfg.CompletionIdleMs {
			zs.active = false
			completed = append(completed, types.SignalCandidate{
				ID:         fmt.Sprintf("%s-completed-%s-%d", z.kindName, id, now),
				Type:       z.signalType,
				Side:       z.tradingSide,
				Confidence: zs.strength,
				Timestamp:  now,
				Data:       map[string]any{"event": "zone_completed", "zone_id": id},
			})
			delete(z.zones, id)
		}
	}
	return completed
}

func (z *zoneLifecycleDetector) status() types.DetectorStatus {
	z.mu.Lock()
	defer z.mu.Unlock()

	counts := make(map[types.DetectorRejectReason]int, len(z.rejections))
	for k, v := range z.rejections {
		counts[k] = v
	}
	return types.DetectorStatus{
		Kind:            z.kindName,
		TrackedZones:    len(z.zones),
		LastSignalAt:    z.lastSignal,
		RejectionCounts: counts,
	}
}

func (z *zoneLifecycleDetector) markSignalConfirmed(price decimal.Decimal) {
	z.mu.Lock()
	defer z.mu.Unlock()

	for _, zs := range z.zones {
		if zs.priceLevel.Equal(price) {
			zs.active = false
		}
	}
}
