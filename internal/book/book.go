// Package book maintains a local mirror of the external order book for one
// symbol, adapted from the teacher's internal/market/book.go.
//
// The teacher tracked a dual-token (YES/NO) CLOB book with float64 prices
// from a REST/WS hybrid feed; this keeps the RWMutex-guarded snapshot shape
// and a Quote/MidPrice/IsStale surface but collapses it to a single plain
// depth book addressed by decimal.Decimal prices, fed by ApplySnapshot and
// by types.DepthDiff updates.
package book

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"signalbot/internal/financial"
	"signalbot/pkg/types"
)

// Book is a concurrency-safe local mirror of one symbol's order book.
type Book struct {
	mu      sync.RWMutex
	symbol  string
	bids    []types.DepthLevel // parsed, sorted descending by price
	asks    []types.DepthLevel // parsed, sorted ascending by price
	updated time.Time
}

// New creates an empty Book for symbol.
func New(symbol string) *Book {
	return &Book{symbol: symbol}
}

// ApplySnapshot replaces the full book with a fresh set of levels, e.g. from
// an initial REST snapshot.
func (b *Book) ApplySnapshot(bids, asks []types.DepthLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = sortLevels(bids, true)
	b.asks = sortLevels(asks, false)
	b.updated = time.Now()
}

// ApplyDiff merges an incremental depth update: a zero quantity removes the
// level, any other quantity sets/replaces it.
func (b *Book) ApplyDiff(diff types.DepthDiff) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = mergeLevels(b.bids, diff.Bids, true)
	b.asks = mergeLevels(b.asks, diff.Asks, false)
	b.updated = time.Now()
}

// Quote returns the current BookQuote contract the preprocessor consumes.
func (b *Book) Quote() types.BookQuote {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.bids) == 0 || len(b.asks) == 0 {
		return types.BookQuote{Available: false}
	}

	bidPrice, bidSize := parseLevel(b.bids[0])
	askPrice, askSize := parseLevel(b.asks[0])

	return types.BookQuote{
		BestBid:     bidPrice,
		BestBidSize: bidSize,
		BestAsk:     askPrice,
		BestAskSize: askSize,
		Available:   true,
	}
}

// MidPrice returns the mid price at the given tick precision. ok is false
// when either side of the book is empty.
func (b *Book) MidPrice(decimals int32) (decimal.Decimal, bool) {
	q := b.Quote()
	if !q.Available {
		return decimal.Zero, false
	}
	return financial.CalculateMidPrice(q.BestBid, q.BestAsk, decimals), true
}

// IsStale reports whether the book has not been updated within maxAge.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}

// LastUpdated returns the timestamp of the last applied snapshot or diff.
func (b *Book) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

func parseLevel(l types.DepthLevel) (price, quantity decimal.Decimal) {
	price, _ = decimal.NewFromString(l.Price)
	quantity, _ = decimal.NewFromString(l.Quantity)
	return price, quantity
}

// sortLevels sorts a fresh set of levels; descending for bids, ascending
// for asks, matching how the teacher's book always kept bids[0]/asks[0] as
// best-of-book without a re-sort on every read.
func sortLevels(levels []types.DepthLevel, descending bool) []types.DepthLevel {
	out := make([]types.DepthLevel, len(levels))
	copy(out, levels)
	sort.Slice(out, func(i, j int) bool {
		pi, _ := decimal.NewFromString(out[i].Price)
		pj, _ := decimal.NewFromString(out[j].Price)
		if descending {
			return pi.GreaterThan(pj)
		}
		return pi.LessThan(pj)
	})
	return out
}

// mergeLevels applies incremental level updates into an existing sorted
// side, removing zero-quantity levels and keeping the result sorted.
func mergeLevels(existing, updates []types.DepthLevel, descending bool) []types.DepthLevel {
	byPrice := make(map[string]types.DepthLevel, len(existing)+len(updates))
	for _, l := range existing {
		byPrice[l.Price] = l
	}
	for _, u := range updates {
		qty, _ := decimal.NewFromString(u.Quantity)
		if qty.IsZero() {
			delete(byPrice, u.Price)
			continue
		}
		byPrice[u.Price] = u
	}

	merged := make([]types.DepthLevel, 0, len(byPrice))
	for _, l := range byPrice {
		merged = append(merged, l)
	}
	return sortLevels(merged, descending)
}
