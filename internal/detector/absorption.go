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

// absorptionState names the per-zone lifecycle stage tracked by
// AbsorptionDetector, per spec §4.5's state machine.
type absorptionState string

const (
	stateIdle               absorptionState = "idle"
	stateAbsorptionStart    absorptionState = "absorption_start"
	stateAbsorptionProgress absorptionState = "absorption_progress"
	stateAbsorptionComplete absorptionState = "absorption_complete"
)

// fadeFraction is how far the ratio must drop from its zone peak before the
// state machine considers absorption complete and resets.
const fadeFraction = 0.7

type absorptionZoneState struct {
	state      absorptionState
	peak       decimal.Decimal
	lastUpdate int64
}

// AbsorptionDetector implements spec §4.5. Grounded on the teacher's
// FlowTracker: the directional-ratio-against-threshold decision and
// cooldown/decay shape generalize CalculateToxicity/GetSpreadMultiplier,
// replacing toxicity-vs-spread-widening with absorption-ratio-vs-signal.
type AbsorptionDetector struct {
	mu sync.Mutex

	tick types.Tick
	cfg  config.AbsorptionConfig

	minAggVolume               decimal.Decimal
	passiveAbsorptionThreshold decimal.Decimal
	priceEfficiencyThreshold   decimal.Decimal
	scalingFactor              decimal.Decimal
	finalConfidenceRequired    decimal.Decimal

	confluenceDistanceWeight decimal.Decimal
	confluenceVolumeWeight   decimal.Decimal
	confluenceRatioWeight    decimal.Decimal
	confluenceBoost          decimal.Decimal

	institutionalVolumeThreshold decimal.Decimal
	institutionalRatioThreshold  decimal.Decimal
	institutionalBoost           decimal.Decimal

	zones       map[string]*absorptionZoneState
	lastEventAt map[string]int64

	rejections map[types.DetectorRejectReason]int
	lastSignal int64

	log *slog.Logger
}

// NewAbsorptionDetector builds an AbsorptionDetector from raw viper-loaded
// config, converting every threshold to decimal.Decimal once at
// construction so no float64 reaches a runtime comparison.
func NewAbsorptionDetector(tick types.Tick, cfg config.AbsorptionConfig, log *slog.Logger) *AbsorptionDetector {
	if log == nil {
		log = slog.Default()
	}
	return &AbsorptionDetector{
		tick:                          tick,
		cfg:                           cfg,
		minAggVolume:                  decimal.NewFromFloat(cfg.MinAggVolume),
		passiveAbsorptionThreshold:    decimal.NewFromFloat(cfg.PassiveAbsorptionThreshold),
		priceEfficiencyThreshold:      decimal.NewFromFloat(cfg.PriceEfficiencyThreshold),
		scalingFactor:                 decimal.NewFromFloat(cfg.ExpectedMovementScalingFactor),
		finalConfidenceRequired:       decimal.NewFromFloat(cfg.FinalConfidenceRequired),
		confluenceDistanceWeight:      decimal.NewFromFloat(cfg.Confluence.DistanceWeight),
		confluenceVolumeWeight:        decimal.NewFromFloat(cfg.Confluence.VolumeWeight),
		confluenceRatioWeight:         decimal.NewFromFloat(cfg.Confluence.AbsorptionRatioWeight),
		confluenceBoost:               decimal.NewFromFloat(cfg.Confluence.ConfidenceBoost),
		institutionalVolumeThreshold:  decimal.NewFromFloat(cfg.Institutional.VolumeThreshold),
		institutionalRatioThreshold:   decimal.NewFromFloat(cfg.Institutional.RatioThreshold),
		institutionalBoost:            decimal.NewFromFloat(cfg.Institutional.ConfidenceBoost),
		zones:                         make(map[string]*absorptionZoneState),
		lastEventAt:                   make(map[string]int64),
		rejections:                    make(map[types.DetectorRejectReason]int),
		log:                           log.With("component", "detector", "detector_kind", "absorption"),
	}
}

func findZoneContaining(snapshots []types.ZoneSnapshot, price decimal.Decimal) *types.ZoneSnapshot {
	for i := range snapshots {
		s := &snapshots[i]
		if !price.LessThan(s.Boundaries.Min) && price.LessThan(s.Boundaries.Max) {
			return s
		}
	}
	return nil
}

// OnEnrichedTrade implements Kind.
func (a *AbsorptionDetector) OnEnrichedTrade(trade *types.EnrichedTrade) (*types.SignalCandidate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	zone1x := findZoneContaining(trade.ZoneData.Resolutions[1], trade.Price)
	if zone1x == nil || zone1x.AggressiveVolume.LessThan(a.minAggVolume) {
		a.reject(types.RejectInsufficientAggressiveVolume)
		return nil, nil
	}

	relevantPassive := zone1x.PassiveAskVolume
	if trade.Aggressor == types.Sell {
		relevantPassive = zone1x.PassiveBidVolume
	}

	absorptionRatio, ok := financial.DivideQuantities(relevantPassive, zone1x.AggressiveVolume.Add(relevantPassive))
	if !ok || absorptionRatio.LessThan(a.passiveAbsorptionThreshold) {
		a.reject(types.RejectPassiveVolumeRatioTooLow)
		return nil, nil
	}

	deltaVWAP := trade.Price.Sub(zone1x.VolumeWeightedPrice).Abs()
	if priceEfficiency, ok := financial.DivideQuantities(deltaVWAP, zone1x.AggressiveVolume.Mul(a.scalingFactor)); ok {
		if priceEfficiency.GreaterThan(a.priceEfficiencyThreshold) {
			a.reject(types.RejectPriceEfficiencyTooHigh)
			return nil, nil
		}
	}

	confidence := financial.ClampUnit(absorptionRatio)
	enhanced := false

	if a.cfg.Confluence.Enabled {
		if concurCount := a.evaluateConfluence(trade, absorptionRatio); concurCount >= a.cfg.Confluence.MinZoneConfluenceCount {
			confidence = financial.ClampUnit(confidence.Add(a.confluenceBoost))
			enhanced = true
		}
	}

	institutionalRatio := decimal.Zero
	if a.cfg.Institutional.Enabled {
		totalPassive := zone1x.PassiveBidVolume.Add(zone1x.PassiveAskVolume)
		if r, ok := financial.DivideQuantities(totalPassive, zone1x.AggressiveVolume.Add(totalPassive)); ok {
			institutionalRatio = r
		}
		if zone1x.AggressiveVolume.GreaterThanOrEqual(a.institutionalVolumeThreshold) &&
			institutionalRatio.GreaterThanOrEqual(a.institutionalRatioThreshold) {
			confidence = financial.ClampUnit(confidence.Add(a.institutionalBoost))
			enhanced = true
		}
	}

	side := types.Sell
	if trade.Aggressor == types.Sell {
		side = types.Buy
	}

	zoneKey := zone1x.PriceLevel.String()
	cooldownKey := zoneKey + "|" + string(side)
	if last, seen := a.lastEventAt[cooldownKey]; seen && trade.Timestamp-last < a.cfg.EventCooldownMs {
		a.reject(types.RejectCooldownActive)
		return nil, nil
	}

	a.advanceState(zoneKey, absorptionRatio, trade.Timestamp)

	if confidence.LessThan(a.finalConfidenceRequired) {
		return nil, nil
	}

	a.lastEventAt[cooldownKey] = trade.Timestamp
	a.lastSignal = trade.Timestamp

	return &types.SignalCandidate{
		ID:         fmt.Sprintf("absorption-%s-%d", trade.Symbol, trade.Timestamp),
		Type:       types.SignalAbsorption,
		Side:       side,
		Confidence: confidence,
		Timestamp:  trade.Timestamp,
		Symbol:     trade.Symbol,
		Price:      trade.Price,
		Data: map[string]any{
			"absorption_ratio":    absorptionRatio,
			"institutional_ratio": institutionalRatio,
			"enhanced":            enhanced,
			"zone_id":             zone1x.ZoneID,
		},
	}, nil
}

// evaluateConfluence scores the trade's zone at each configured resolution
// and returns how many resolutions concur: the zone's price level lies
// within maxZoneConfluenceDistance ticks of the trade price, and its weighted
// strength (distance, volume and passive-ratio scores) is at least baseRatio.
func (a *AbsorptionDetector) evaluateConfluence(trade *types.EnrichedTrade, baseRatio decimal.Decimal) int {
	maxDistance := a.tick.Size.Mul(decimal.NewFromInt(int64(a.cfg.Confluence.MaxZoneConfluenceDistanceTicks)))
	count := 0

	for _, snapshots := range trade.ZoneData.Resolutions {
		zone := findZoneContaining(snapshots, trade.Price)
		if zone == nil {
			continue
		}

		relevantPassive := zone.PassiveAskVolume
		if trade.Aggressor == types.Sell {
			relevantPassive = zone.PassiveBidVolume
		}
		ratio, ok := financial.DivideQuantities(relevantPassive, zone.AggressiveVolume.Add(relevantPassive))
		if !ok {
			continue
		}

		distance := zone.PriceLevel.Sub(trade.Price).Abs()
		volumeScore := financial.Min(decimal.NewFromInt(1), zone.AggressiveVolume.Div(a.minAggVolume))
		distanceScore := decimal.NewFromInt(1)
		if a.cfg.Confluence.MaxZoneConfluenceDistanceTicks > 0 {
			if d, ok := financial.DivideQuantities(distance, maxDistance); ok {
				distanceScore = financial.ClampUnit(decimal.NewFromInt(1).Sub(d))
			}
		}

		strength := distanceScore.Mul(a.confluenceDistanceWeight).
			Add(volumeScore.Mul(a.confluenceVolumeWeight)).
			Add(ratio.Mul(a.confluenceRatioWeight))

		if distance.LessThanOrEqual(maxDistance) && strength.GreaterThanOrEqual(baseRatio) {
			count++
		}
	}
	return count
}

// touchZone returns zoneKey's state, creating it (after evicting the
// least-recently-touched zone if the map is at capacity) on first sight, the
// same lazy-create/bounded-evict shape as ExhaustionDetector.touchZone.
func (a *AbsorptionDetector) touchZone(zoneKey string, now int64) *absorptionZoneState {
	zs, ok := a.zones[zoneKey]
	if !ok {
		a.evictIfFull(now)
		zs = &absorptionZoneState{state: stateIdle, peak: decimal.Zero}
		a.zones[zoneKey] = zs
	}
	zs.lastUpdate = now
	return zs
}

func (a *AbsorptionDetector) evictIfFull(now int64) {
	if a.cfg.MaxZones <= 0 || len(a.zones) < a.cfg.MaxZones {
		return
	}
	var oldestKey string
	var oldestTime int64 = -1
	for key, zs := range a.zones {
		if oldestTime == -1 || zs.lastUpdate < oldestTime {
			oldestTime = zs.lastUpdate
			oldestKey = key
		}
	}
	if oldestKey != "" {
		delete(a.zones, oldestKey)
		delete(a.lastEventAt, oldestKey+"|"+string(types.Buy))
		delete(a.lastEventAt, oldestKey+"|"+string(types.Sell))
	}
}

// advanceState drives the idle → absorption_start → absorption_progress* →
// absorption_complete → idle machine per spec §4.5.
func (a *AbsorptionDetector) advanceState(zoneKey string, ratio decimal.Decimal, now int64) {
	zs := a.touchZone(zoneKey, now)

	switch zs.state {
	case stateIdle:
		if ratio.GreaterThanOrEqual(a.passiveAbsorptionThreshold) {
			zs.state = stateAbsorptionStart
			zs.peak = ratio
		}
	case stateAbsorptionStart, stateAbsorptionProgress:
		switch {
		case ratio.GreaterThan(zs.peak):
			zs.peak = ratio
			zs.state = stateAbsorptionProgress
		case ratio.LessThan(zs.peak.Mul(decimal.NewFromFloat(fadeFraction))):
			zs.state = stateAbsorptionComplete
		}
	case stateAbsorptionComplete:
		zs.state = stateIdle
		zs.peak = decimal.Zero
	}
}

var _ Kind = (*AbsorptionDetector)(nil)

func (a *AbsorptionDetector) reject(reason types.DetectorRejectReason) {
	a.rejections[reason]++
}

// Status implements Kind.
func (a *AbsorptionDetector) Status() types.DetectorStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	counts := make(map[types.DetectorRejectReason]int, len(a.rejections))
	for k, v := range a.rejections {
		counts[k] = v
	}
	return types.DetectorStatus{
		Kind:            "absorption",
		TrackedZones:    len(a.zones),
		LastSignalAt:    a.lastSignal,
		RejectionCounts: counts,
	}
}

// MarkSignalConfirmed implements Kind: resets the confirming zone's state
// machine to idle so the next absorption cycle starts fresh.
func (a *AbsorptionDetector) MarkSignalConfirmed(price decimal.Decimal, _ types.Side) {
	a.mu.Lock()
	defer a.mu.Unlock()

	zoneKey := a.tick.Align(price).String()
	if zs, ok := a.zones[zoneKey]; ok {
		zs.state = stateIdle
		zs.peak = decimal.Zero
	}
}
