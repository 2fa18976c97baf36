// Package preprocessor transforms raw AggregatedTrades into EnrichedTrades
// per spec §4.4, the single owner of zone-aggregator state.
//
// The per-trade pipeline (validate → ask book → update zones → assemble →
// publish) mirrors the teacher's Engine trade-handling path in engine.go,
// which validated an incoming fill, queried the book, updated FlowTracker,
// then dispatched to the strategy. Here the stages are named functions on
// Preprocessor instead of being inlined in one event-loop case.
package preprocessor

import (
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"signalbot/internal/book"
	"signalbot/internal/zone"
	"signalbot/pkg/types"
)

// ErrInvalidTrade is returned when a trade fails validation: non-positive
// quantity or a price not aligned to the configured tick.
var ErrInvalidTrade = errors.New("invalid trade")

// Preprocessor enriches trades for one symbol.
type Preprocessor struct {
	symbol string
	tick   types.Tick
	book   *book.Book
	zones  *zone.Aggregator
	log    *slog.Logger
}

// New builds a Preprocessor for symbol, backed by the given book mirror and
// zone aggregator. Both are owned by the caller's lifecycle but the zone
// aggregator's state is written exclusively through this Preprocessor.
func New(symbol string, tick types.Tick, b *book.Book, agg *zone.Aggregator, log *slog.Logger) *Preprocessor {
	if log == nil {
		log = slog.Default()
	}
	return &Preprocessor{symbol: symbol, tick: tick, book: b, zones: agg, log: log}
}

// Process validates, enriches, and returns one EnrichedTrade. Malformed
// input is logged and dropped (per spec §4.4 failure semantics), signaled
// to the caller via ErrInvalidTrade so the pipeline can count drops without
// treating them as fatal.
func (p *Preprocessor) Process(trade types.AggregatedTrade) (types.EnrichedTrade, error) {
	price, err := decimal.NewFromString(trade.Price)
	if err != nil {
		p.log.Warn("dropping trade: unparseable price", "symbol", p.symbol, "price", trade.Price)
		return types.EnrichedTrade{}, ErrInvalidTrade
	}
	quantity, err := decimal.NewFromString(trade.Quantity)
	if err != nil {
		p.log.Warn("dropping trade: unparseable quantity", "symbol", p.symbol, "quantity", trade.Quantity)
		return types.EnrichedTrade{}, ErrInvalidTrade
	}

	if !quantity.IsPositive() {
		p.log.Warn("dropping trade: non-positive quantity", "symbol", p.symbol, "quantity", quantity)
		return types.EnrichedTrade{}, ErrInvalidTrade
	}
	if !price.Equal(p.tick.Align(price)) {
		p.log.Warn("dropping trade: price not tick-aligned", "symbol", p.symbol, "price", price, "tick", p.tick.Size)
		return types.EnrichedTrade{}, ErrInvalidTrade
	}

	quote := p.book.Quote()
	aggressor := trade.Aggressor()

	zoneData := p.zones.Update(price, quantity, trade.TradeTime, aggressor, quote)

	enriched := types.EnrichedTrade{
		Symbol:    p.symbol,
		Price:     price,
		Quantity:  quantity,
		Timestamp: trade.TradeTime,
		Aggressor: aggressor,
		ZoneData:  zoneData,
	}
	if quote.Available {
		enriched.BestBid = quote.BestBid
		enriched.BestAsk = quote.BestAsk
		enriched.BookKnown = true
	}

	return enriched, nil
}
