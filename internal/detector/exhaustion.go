package detector

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"signalbot/internal/config"
	"signalbot/internal/financial"
	"signalbot/internal/ringbuffer"
	"signalbot/pkg/types"
)

type liquiditySample struct {
	ts        int64
	liquidity decimal.Decimal
}

func (l liquiditySample) TimestampMs() int64 { return l.ts }

type exhaustionZoneState struct {
	bidHistory *ringbuffer.RollingWindow[liquiditySample]
	askHistory *ringbuffer.RollingWindow[liquiditySample]
	lastUpdate int64
}

// ExhaustionDetector implements spec §4.6. Grounded on the same
// RollingWindow eviction shape as the zone aggregator (internal/zone),
// tracking per-side liquidity history instead of trade history, plus a
// circuit breaker adapted from the teacher's FlowTracker cooldown-after-
// toxicity pattern (flow_tracker.go GetSpreadMultiplier), here tripped by
// consecutive processing errors instead of toxicity score.
type ExhaustionDetector struct {
	mu sync.Mutex

	cfg config.ExhaustionConfig

	minDepletionFactor       decimal.Decimal
	minAggVolume             decimal.Decimal
	depletionRatioThreshold  decimal.Decimal
	depletionVolumeThreshold decimal.Decimal

	zones map[string]*exhaustionZoneState

	consecutiveErrors int
	circuitTrippedAt  int64
	lastClockMs       int64

	rejections map[types.DetectorRejectReason]int
	lastSignal int64

	log *slog.Logger
}

// NewExhaustionDetector builds an ExhaustionDetector from raw config.
func NewExhaustionDetector(cfg config.ExhaustionConfig, log *slog.Logger) *ExhaustionDetector {
	if log == nil {
		log = slog.Default()
	}
	return &ExhaustionDetector{
		cfg:                       cfg,
		minDepletionFactor:        decimal.NewFromFloat(cfg.MinDepletionFactor),
		minAggVolume:              decimal.NewFromFloat(cfg.MinAggVolume),
		depletionRatioThreshold:   decimal.NewFromFloat(cfg.DepletionRatioThreshold),
		depletionVolumeThreshold:  decimal.NewFromFloat(cfg.DepletionVolumeThreshold),
		zones:                     make(map[string]*exhaustionZoneState),
		rejections:                make(map[types.DetectorRejectReason]int),
		log:                       log.With("component", "detector", "detector_kind", "exhaustion"),
	}
}

// OnEnrichedTrade implements Kind.
func (e *ExhaustionDetector) OnEnrichedTrade(trade *types.EnrichedTrade) (*types.SignalCandidate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastClockMs = trade.Timestamp

	if e.circuitOpenLocked(trade.Timestamp) {
		e.reject(types.RejectCircuitBreakerOpen)
		return nil, nil
	}

	zone := findZoneContaining(trade.ZoneData.Resolutions[1], trade.Price)
	if zone == nil {
		return nil, nil
	}

	if zone.AggressiveVolume.LessThan(e.minAggVolume) {
		e.reject(types.RejectInsufficientAggressiveVolume)
		return nil, nil
	}

	zs := e.touchZone(zone.ZoneID, trade.Timestamp)

	// The side being hit is opposite the aggressor: a buy aggressor depletes
	// the ask, a sell aggressor depletes the bid.
	currentLiquidity := zone.PassiveAskVolume
	history := zs.askHistory
	if trade.Aggressor == types.Sell {
		currentLiquidity = zone.PassiveBidVolume
		history = zs.bidHistory
	}
	history.Push(liquiditySample{ts: trade.Timestamp, liquidity: currentLiquidity})

	maxLiquidity := currentLiquidity
	for _, s := range history.ToSlice() {
		maxLiquidity = financial.Max(maxLiquidity, s.liquidity)
	}

	depletionFactor := decimal.NewFromInt(1)
	if !maxLiquidity.IsZero() {
		if ratio, ok := financial.DivideQuantities(currentLiquidity, maxLiquidity); ok {
			depletionFactor = decimal.NewFromInt(1).Sub(ratio)
		}
	}
	if depletionFactor.LessThan(e.minDepletionFactor) {
		e.reject(types.RejectDepletionFactorTooLow)
		return nil, nil
	}

	depletionRatio := depletionFactor
	if depletionRatio.LessThanOrEqual(e.depletionRatioThreshold) || zone.AggressiveVolume.LessThan(e.depletionVolumeThreshold) {
		e.reject(types.RejectDepletionFactorTooLow)
		return nil, nil
	}

	// Continuation, not reversal (spec §4.6 / §9 resolved open question):
	// the aggressor's direction persists.
	side := trade.Aggressor

	confidence := financial.ClampUnit(depletionFactor)
	e.lastSignal = trade.Timestamp
	e.consecutiveErrors = 0

	return &types.SignalCandidate{
		ID:         fmt.Sprintf("exhaustion-%s-%d", trade.Symbol, trade.Timestamp),
		Type:       types.SignalExhaustion,
		Side:       side,
		Confidence: confidence,
		Timestamp:  trade.Timestamp,
		Symbol:     trade.Symbol,
		Price:      trade.Price,
		Data: map[string]any{
			"depletion_factor": depletionFactor,
			"zone_id":          zone.ZoneID,
		},
	}, nil
}

func (e *ExhaustionDetector) touchZone(zoneID string, now int64) *exhaustionZoneState {
	zs, ok := e.zones[zoneID]
	if !ok {
		e.evictIfFull(now)
		zs = &exhaustionZoneState{
			bidHistory: ringbuffer.NewRollingWindow[liquiditySample](256, e.cfg.CircuitBreakerWindowMs+60_000),
			askHistory: ringbuffer.NewRollingWindow[liquiditySample](256, e.cfg.CircuitBreakerWindowMs+60_000),
		}
		e.zones[zoneID] = zs
	}
	zs.lastUpdate = now
	return zs
}

func (e *ExhaustionDetector) evictIfFull(now int64) {
	if e.cfg.MaxZones <= 0 || len(e.zones) < e.cfg.MaxZones {
		return
	}
	var oldestID string
	var oldestTime int64 = -1
	for id, zs := range e.zones {
		if oldestTime == -1 || zs.lastUpdate < oldestTime {
			oldestTime = zs.lastUpdate
			oldestID = id
		}
	}
	if oldestID != "" {
		delete(e.zones, oldestID)
	}
}

// circuitOpenLocked reports whether the breaker is currently open. Must be
// called with the lock held.
func (e *ExhaustionDetector) circuitOpenLocked(now int64) bool {
	if e.circuitTrippedAt == 0 {
		return false
	}
	if now-e.circuitTrippedAt >= e.cfg.CircuitBreakerWindowMs {
		e.circuitTrippedAt = 0
		e.consecutiveErrors = 0
		return false
	}
	return true
}

// RecordProcessingError is called by the pipeline when this detector's
// OnEnrichedTrade returns an error (distinct from a normal rejection). Each
// call adds to a consecutive-error count that only an emitted candidate or a
// breaker reset clears; the count is not limited to a time window. When it
// reaches circuitBreakerMaxErrors the breaker trips, and OnEnrichedTrade
// rejects everything until circuitBreakerWindowMs has elapsed since the trip.
func (e *ExhaustionDetector) RecordProcessingError(now int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.consecutiveErrors++
	if e.consecutiveErrors >= e.cfg.CircuitBreakerMaxErrors {
		e.circuitTrippedAt = now
	}
}

func (e *ExhaustionDetector) reject(reason types.DetectorRejectReason) {
	e.rejections[reason]++
}

// Status implements Kind.
func (e *ExhaustionDetector) Status() types.DetectorStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	counts := make(map[types.DetectorRejectReason]int, len(e.rejections))
	for k, v := range e.rejections {
		counts[k] = v
	}
	return types.DetectorStatus{
		Kind:            "exhaustion",
		TrackedZones:    len(e.zones),
		CircuitOpen:     e.circuitOpenLocked(e.lastClockMs),
		LastSignalAt:    e.lastSignal,
		RejectionCounts: counts,
	}
}

// MarkSignalConfirmed implements Kind. Exhaustion has no per-side state
// machine to reset (unlike absorption); liquidity history is left intact
// so depletion tracking continues uninterrupted through the next trade.
func (e *ExhaustionDetector) MarkSignalConfirmed(decimal.Decimal, types.Side) {}

var _ Kind = (*ExhaustionDetector)(nil)
