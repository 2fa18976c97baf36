// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the signal pipeline — trade and
// depth wire shapes, zone snapshots, and signal lifecycle types. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of a trade or signal: Buy, Sell, or Neutral.
type Side string

const (
	Buy     Side = "buy"
	Sell    Side = "sell"
	Neutral Side = "neutral"
)

// SignalType enumerates the detector families that can produce a SignalCandidate.
type SignalType string

const (
	SignalAbsorption   SignalType = "absorption"
	SignalExhaustion   SignalType = "exhaustion"
	SignalAccumulation SignalType = "accumulation"
	SignalDistribution SignalType = "distribution"
)

// SignalClass distinguishes reversal-style signals (absorption, accumulation
// reversals) from trend-continuation signals (exhaustion, distribution),
// which TraditionalIndicators filters use with opposite extreme-reading logic.
type SignalClass string

const (
	ClassReversal SignalClass = "reversal"
	ClassTrend    SignalClass = "trend"
)

// ClassOf returns the signal class used by the indicator filter layer for a
// given detector type: absorption/accumulation are reversal signals,
// exhaustion/distribution are trend-continuation signals.
func ClassOf(t SignalType) SignalClass {
	switch t {
	case SignalAbsorption, SignalAccumulation:
		return ClassReversal
	default:
		return ClassTrend
	}
}

// RejectionReason enumerates why the signal manager refused to confirm a signal.
type RejectionReason string

const (
	RejectUnhealthyMarket  RejectionReason = "unhealthy_market"
	RejectLowConfidence    RejectionReason = "low_confidence"
	RejectProcessingError  RejectionReason = "processing_error"
	RejectTimeout          RejectionReason = "timeout"
	RejectDuplicate        RejectionReason = "duplicate"
)

// DetectorRejectReason enumerates why a detector declined to emit a candidate.
type DetectorRejectReason string

const (
	RejectInsufficientAggressiveVolume DetectorRejectReason = "insufficient_aggressive_volume"
	RejectPassiveVolumeRatioTooLow     DetectorRejectReason = "passive_volume_ratio_too_low"
	RejectPriceEfficiencyTooHigh       DetectorRejectReason = "price_efficiency_too_high"
	RejectDepletionFactorTooLow        DetectorRejectReason = "depletion_factor_too_low"
	RejectCooldownActive               DetectorRejectReason = "cooldown_active"
	RejectCircuitBreakerOpen           DetectorRejectReason = "circuit_breaker_open"
)

// Tick represents a market's price quantum: all legal prices are multiples
// of Size. Generalizes the teacher's fixed TickSize enum (which only covered
// Polymarket's four published tick sizes) into an arbitrary decimal value,
// since the detector domain is not restricted to those four increments.
type Tick struct {
	Size decimal.Decimal
}

// NewTick builds a Tick from a decimal string, e.g. NewTick("0.01").
func NewTick(s string) (Tick, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Tick{}, err
	}
	return Tick{Size: d}, nil
}

// Decimals returns the number of fractional digits implied by the tick size,
// mirroring the teacher's TickSize.Decimals() used for rounding precision.
func (t Tick) Decimals() int32 {
	exp := t.Size.Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}

// Align rounds price down to the nearest multiple of the tick size, as
// required by spec §3's "All price arithmetic must round to a multiple of
// the tick."
func (t Tick) Align(price decimal.Decimal) decimal.Decimal {
	if t.Size.IsZero() {
		return price
	}
	quotient := price.Div(t.Size).Floor()
	return quotient.Mul(t.Size)
}

// ————————————————————————————————————————————————————————————————————————
// Inbound wire shapes
// ————————————————————————————————————————————————————————————————————————

// AggregatedTrade is the external input for one aggregated trade print.
// Price and Quantity arrive as decimal strings on the wire — no float parse,
// per spec §6.
type AggregatedTrade struct {
	EventTime    int64  `json:"event_time"`
	Symbol       string `json:"symbol"`
	AggTradeID   int64  `json:"agg_trade_id"`
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
	FirstTradeID int64  `json:"first_trade_id"`
	LastTradeID  int64  `json:"last_trade_id"`
	TradeTime    int64  `json:"trade_time"`
	BuyerIsMaker bool   `json:"buyer_is_maker"`
}

// Aggressor derives the taker side from BuyerIsMaker: when the buyer is the
// maker, the taker (aggressor) is the seller.
func (a AggregatedTrade) Aggressor() Side {
	if a.BuyerIsMaker {
		return Sell
	}
	return Buy
}

// DepthLevel is one [price, quantity] pair in a depth diff.
type DepthLevel struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

// DepthDiff is the external input for an incremental order-book update.
type DepthDiff struct {
	EventTime     int64        `json:"event_time"`
	Symbol        string       `json:"symbol"`
	FirstUpdateID int64        `json:"first_update_id"`
	FinalUpdateID int64        `json:"final_update_id"`
	Bids          []DepthLevel `json:"bids"`
	Asks          []DepthLevel `json:"asks"`
}

// ————————————————————————————————————————————————————————————————————————
// Zone aggregation
// ————————————————————————————————————————————————————————————————————————

// ZoneBoundaries describes the half-open price interval a zone covers.
type ZoneBoundaries struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// ZoneTrade is one trade retained in a zone's bounded history.
type ZoneTrade struct {
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Timestamp int64
	Aggressor Side
}

// ZoneSnapshot is the per-price-level, per-resolution state maintained by the
// zone aggregator, per spec §3/§4.3.
type ZoneSnapshot struct {
	ZoneID      string
	PriceLevel  decimal.Decimal
	Boundaries  ZoneBoundaries
	TickSize    decimal.Decimal
	ZoneTicks   int

	VolumeWeightedPrice decimal.Decimal

	AggressiveVolume     decimal.Decimal
	AggressiveBuyVolume  decimal.Decimal
	AggressiveSellVolume decimal.Decimal

	PassiveVolume    decimal.Decimal
	PassiveBidVolume decimal.Decimal
	PassiveAskVolume decimal.Decimal

	TradeCount  int
	TimespanMs  int64
	LastUpdate  int64

	TradeHistory []ZoneTrade
}

// ZoneResolutionConfig configures one tick-multiple resolution of zone
// aggregation (e.g. 1x, 2x, 4x base ticks).
type ZoneResolutionConfig struct {
	ZoneTicks    int
	TimeWindowMs int64
}

// ZoneConfig is the full multi-resolution zone aggregation configuration.
type ZoneConfig struct {
	BaseTick    Tick
	Resolutions []ZoneResolutionConfig
}

// StandardZoneData is attached to every EnrichedTrade: the set of zone
// snapshots near the trade price at each configured resolution.
type StandardZoneData struct {
	Resolutions map[int][]ZoneSnapshot // keyed by ZoneTicks
	Config      ZoneConfig
}

// ————————————————————————————————————————————————————————————————————————
// Preprocessor output
// ————————————————————————————————————————————————————————————————————————

// BookQuote is a minimal best-bid/best-ask-with-size snapshot, the contract
// the preprocessor consumes from the external order-book maintainer.
type BookQuote struct {
	BestBid       decimal.Decimal
	BestBidSize   decimal.Decimal
	BestAsk       decimal.Decimal
	BestAskSize   decimal.Decimal
	Available     bool
}

// EnrichedTrade is produced by the preprocessor and consumed by detectors.
type EnrichedTrade struct {
	Symbol    string
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Timestamp int64
	Aggressor Side

	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	BookKnown bool

	ZoneData StandardZoneData
}

// DetectorStatus reports the live health of one detector instance, returned
// by DetectorKind.Status() for dashboard/health exposure.
type DetectorStatus struct {
	Kind            string
	TrackedZones    int
	CircuitOpen     bool
	LastSignalAt    int64
	RejectionCounts map[DetectorRejectReason]int
}

// ————————————————————————————————————————————————————————————————————————
// Signal lifecycle
// ————————————————————————————————————————————————————————————————————————

// SignalCandidate is the raw output of a detector before gating/confirmation.
type SignalCandidate struct {
	ID         string
	Type       SignalType
	Side       Side
	Confidence decimal.Decimal
	Timestamp  int64
	Symbol     string
	Price      decimal.Decimal
	Data       map[string]any
}

// ProcessedSignal wraps a SignalCandidate with detector identity and
// processing metadata, as it flows into the signal manager.
type ProcessedSignal struct {
	Candidate    SignalCandidate
	DetectorKind string
	ProcessedAt  int64
}

// CorrelationStats describes how a signal correlates with recent
// same-type signals near the same price, per spec §4.9 step 3.
type CorrelationStats struct {
	CorrelatedCount int
	Strength        decimal.Decimal
}

// MarketHealthSnapshot is a frozen copy of the external anomaly detector's
// health assessment at the time a signal was evaluated.
type MarketHealthSnapshot struct {
	IsHealthy          bool
	Recommendation     string
	HighestSeverity    string
	CriticalIssues     []string
	RecentAnomalyTypes []string
	EvaluatedAt        int64
}

// ConfirmedSignal is a ProcessedSignal that passed every gate in the signal
// manager pipeline, enriched with correlation and market-health context.
type ConfirmedSignal struct {
	Processed      ProcessedSignal
	FinalConfidence decimal.Decimal
	Correlation    CorrelationStats
	Health         MarketHealthSnapshot
	Side           Side
	TakeProfit     decimal.Decimal
	StopLoss       decimal.Decimal
	ConfirmedAt    int64
}

// ————————————————————————————————————————————————————————————————————————
// Outbound events
// ————————————————————————————————————————————————————————————————————————

// SignalGeneratedEvent is the final trading-signal payload emitted downstream.
type SignalGeneratedEvent struct {
	ID            string          `json:"id"`
	Type          SignalType      `json:"type"`
	Side          Side            `json:"side"`
	Time          time.Time       `json:"time"`
	Price         decimal.Decimal `json:"price"`
	TakeProfit    decimal.Decimal `json:"take_profit"`
	StopLoss      decimal.Decimal `json:"stop_loss"`
	Confidence    decimal.Decimal `json:"confidence"`
	Confirmations []string        `json:"confirmations"`
	SignalData    map[string]any  `json:"signal_data,omitempty"`
}

// SignalConfirmedEvent mirrors the intermediate ConfirmedSignal outward.
type SignalConfirmedEvent struct {
	ID          string          `json:"id"`
	Type        SignalType      `json:"type"`
	Side        Side            `json:"side"`
	Confidence  decimal.Decimal `json:"confidence"`
	Time        time.Time       `json:"time"`
}

// SignalRejectedEvent announces a signal that did not survive the pipeline.
type SignalRejectedEvent struct {
	Signal SignalCandidate `json:"signal"`
	Reason RejectionReason `json:"reason"`
	Time   time.Time       `json:"time"`
}
