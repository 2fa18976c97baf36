// Package zone implements the multi-resolution, time-windowed order-flow
// zone aggregator (spec §4.3).
//
// Grounded on the teacher's FlowTracker.evictStaleLocked
// (internal/strategy/flow_tracker.go): the cutoff-based linear-scan-then-
// reslice eviction pattern is lifted directly, generalized into
// ringbuffer.RollingWindow and applied per zone per resolution instead of
// once per market. Zone cache LRU-by-lastUpdate mirrors the teacher's
// marketSlot map lifecycle in engine.go.
package zone

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"signalbot/internal/financial"
	"signalbot/internal/ringbuffer"
	"signalbot/pkg/types"
)

// zoneTradeItem adapts types.ZoneTrade to ringbuffer.Timestamped.
type zoneTradeItem struct {
	types.ZoneTrade
}

func (z zoneTradeItem) TimestampMs() int64 { return z.Timestamp }

// zoneState is the live, per-resolution state for a single zone.
type zoneState struct {
	id         string
	priceLevel decimal.Decimal
	boundaries types.ZoneBoundaries
	window     *ringbuffer.RollingWindow[zoneTradeItem]
	lastUpdate int64
	passiveBid decimal.Decimal
	passiveAsk decimal.Decimal
}

// resolutionState holds every tracked zone at one tick-multiple resolution.
type resolutionState struct {
	cfg   types.ZoneResolutionConfig
	zones map[string]*zoneState
}

// Aggregator maintains per-price-level, per-resolution trade histories and
// produces ZoneSnapshots on demand.
type Aggregator struct {
	mu sync.Mutex

	cfg               types.ZoneConfig
	resolutions       map[int]*resolutionState // keyed by ZoneTicks
	zoneCacheSize     int
	maxZoneCacheAgeMs int64
	calcRangeTicks    int
}

// New builds an Aggregator. zoneCacheSize bounds the number of tracked zones
// per resolution (LRU by lastUpdate); maxZoneCacheAgeMs additionally drops
// zones untouched for that long; calcRangeTicks bounds how many ticks around
// the current price are returned by Snapshots.
func New(cfg types.ZoneConfig, zoneCacheSize int, maxZoneCacheAgeMs int64, calcRangeTicks int) *Aggregator {
	resolutions := make(map[int]*resolutionState, len(cfg.Resolutions))
	for _, r := range cfg.Resolutions {
		resolutions[r.ZoneTicks] = &resolutionState{
			cfg:   r,
			zones: make(map[string]*zoneState),
		}
	}
	return &Aggregator{
		cfg:               cfg,
		resolutions:       resolutions,
		zoneCacheSize:     zoneCacheSize,
		maxZoneCacheAgeMs: maxZoneCacheAgeMs,
		calcRangeTicks:    calcRangeTicks,
	}
}

// zoneWidth returns tickSize * zoneTicks for a resolution.
func (a *Aggregator) zoneWidth(zoneTicks int) decimal.Decimal {
	return a.cfg.BaseTick.Size.Mul(decimal.NewFromInt(int64(zoneTicks)))
}

// ComputeZoneID computes the stable zone identifier for a price at a given
// resolution: floor(price / (tickSize*zoneTicks)) * tickSize*zoneTicks.
func (a *Aggregator) ComputeZoneID(price decimal.Decimal, zoneTicks int) (string, decimal.Decimal) {
	width := a.zoneWidth(zoneTicks)
	if width.IsZero() {
		return price.String(), price
	}
	quotient := price.Div(width).Floor()
	lower := quotient.Mul(width)
	return fmt.Sprintf("%s@%d", lower.String(), zoneTicks), lower
}

// Update applies one enriched trade to every configured resolution and
// returns the resulting StandardZoneData. The critical ordering rule (spec
// §4.3) is enforced structurally: Update mutates state and returns the
// snapshot in the same call, so the trade that triggered an update is
// necessarily already reflected in the snapshot handed back to the caller.
func (a *Aggregator) Update(price, quantity decimal.Decimal, timestampMs int64, aggressor types.Side, quote types.BookQuote) types.StandardZoneData {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := types.StandardZoneData{
		Resolutions: make(map[int][]types.ZoneSnapshot, len(a.resolutions)),
		Config:      a.cfg,
	}

	for zoneTicks, res := range a.resolutions {
		zs := a.touchZoneLocked(res, price, timestampMs)

		zs.window.Push(zoneTradeItem{types.ZoneTrade{
			Price:     price,
			Quantity:  quantity,
			Timestamp: timestampMs,
			Aggressor: aggressor,
		}})
		zs.lastUpdate = timestampMs

		a.foldPassiveLocked(zs, quote)

		out.Resolutions[zoneTicks] = a.snapshotsNearLocked(res, price)
	}

	return out
}

// touchZoneLocked returns the zone containing price, creating it (and
// evicting per the cache policy) if necessary. Must be called with the lock
// held.
func (a *Aggregator) touchZoneLocked(res *resolutionState, price decimal.Decimal, now int64) *zoneState {
	id, lower := a.ComputeZoneID(price, res.cfg.ZoneTicks)

	if zs, ok := res.zones[id]; ok {
		return zs
	}

	a.evictLocked(res, now)

	width := a.zoneWidth(res.cfg.ZoneTicks)
	zs := &zoneState{
		id:         id,
		priceLevel: lower,
		boundaries: types.ZoneBoundaries{Min: lower, Max: lower.Add(width)},
		window:     ringbuffer.NewRollingWindow[zoneTradeItem](4096, res.cfg.TimeWindowMs),
		passiveBid: decimal.Zero,
		passiveAsk: decimal.Zero,
	}
	res.zones[id] = zs
	return zs
}

// evictLocked enforces zoneCacheSize and maxZoneCacheAgeMs, LRU by
// lastUpdate, directly analogous to the teacher's marketSlot reconciliation
// in engine.go (stop markets no longer in scope before starting new ones).
func (a *Aggregator) evictLocked(res *resolutionState, now int64) {
	for id, zs := range res.zones {
		if a.maxZoneCacheAgeMs > 0 && now-zs.lastUpdate > a.maxZoneCacheAgeMs {
			delete(res.zones, id)
		}
	}

	for len(res.zones) >= a.zoneCacheSize && a.zoneCacheSize > 0 {
		var oldestID string
		var oldestTime int64 = -1
		for id, zs := range res.zones {
			if oldestTime == -1 || zs.lastUpdate < oldestTime {
				oldestTime = zs.lastUpdate
				oldestID = id
			}
		}
		if oldestID == "" {
			break
		}
		delete(res.zones, oldestID)
	}
}

// foldPassiveLocked attributes the current best-bid/best-ask size to
// whichever zone contains that price, per spec §4.3 step 1e. The external
// order book is a named contract, not a full depth ladder the aggregator
// reimplements, so passive attribution is at the resolution the book
// actually exposes: top-of-book size at the zone containing it.
func (a *Aggregator) foldPassiveLocked(zs *zoneState, quote types.BookQuote) {
	if !quote.Available {
		return
	}
	if withinBounds(zs.boundaries, quote.BestBid) {
		zs.passiveBid = quote.BestBidSize
	}
	if withinBounds(zs.boundaries, quote.BestAsk) {
		zs.passiveAsk = quote.BestAskSize
	}
}

func withinBounds(b types.ZoneBoundaries, price decimal.Decimal) bool {
	return !price.LessThan(b.Min) && price.LessThan(b.Max)
}

// snapshotsNearLocked returns ZoneSnapshots for zones within calcRangeTicks
// of price, for zones with non-empty history. Must be called with the lock
// held.
func (a *Aggregator) snapshotsNearLocked(res *resolutionState, price decimal.Decimal) []types.ZoneSnapshot {
	width := a.zoneWidth(res.cfg.ZoneTicks)
	rangeWidth := width.Mul(decimal.NewFromInt(int64(a.calcRangeTicks + 1)))

	var out []types.ZoneSnapshot
	for _, zs := range res.zones {
		if a.calcRangeTicks > 0 {
			dist := zs.priceLevel.Sub(price).Abs()
			if dist.GreaterThan(rangeWidth) {
				continue
			}
		}
		trades := zs.window.ToSlice()
		if len(trades) == 0 {
			continue
		}
		out = append(out, buildSnapshot(zs, res.cfg, a.cfg.BaseTick.Size, trades))
	}
	return out
}

func buildSnapshot(zs *zoneState, cfg types.ZoneResolutionConfig, tickSize decimal.Decimal, trades []zoneTradeItem) types.ZoneSnapshot {
	var aggVol, buyVol, sellVol decimal.Decimal
	var vwapNumerator decimal.Decimal
	history := make([]types.ZoneTrade, 0, len(trades))

	for _, t := range trades {
		aggVol = financial.SafeAdd(aggVol, t.Quantity)
		if t.Aggressor == types.Buy {
			buyVol = financial.SafeAdd(buyVol, t.Quantity)
		} else {
			sellVol = financial.SafeAdd(sellVol, t.Quantity)
		}
		vwapNumerator = financial.SafeAdd(vwapNumerator, financial.MultiplyQuantities(t.Price, t.Quantity))
		history = append(history, t.ZoneTrade)
	}

	vwap := decimal.Zero
	if v, ok := financial.DivideQuantities(vwapNumerator, aggVol); ok {
		vwap = v
	}

	timespan := int64(0)
	if len(trades) > 1 {
		timespan = trades[len(trades)-1].Timestamp - trades[0].Timestamp
	}

	return types.ZoneSnapshot{
		ZoneID:               zs.id,
		PriceLevel:           zs.priceLevel,
		Boundaries:           zs.boundaries,
		TickSize:             tickSize,
		ZoneTicks:            cfg.ZoneTicks,
		VolumeWeightedPrice:  vwap,
		AggressiveVolume:     aggVol,
		AggressiveBuyVolume:  buyVol,
		AggressiveSellVolume: sellVol,
		PassiveVolume:        financial.SafeAdd(zs.passiveBid, zs.passiveAsk),
		PassiveBidVolume:     zs.passiveBid,
		PassiveAskVolume:     zs.passiveAsk,
		TradeCount:           len(trades),
		TimespanMs:           timespan,
		LastUpdate:           zs.lastUpdate,
		TradeHistory:         history,
	}
}
