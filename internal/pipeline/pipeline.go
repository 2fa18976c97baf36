// Package pipeline wires one symbol's ingest feed through the preprocessor,
// detector family, and signal manager, and relays outcomes to the cache and
// the dashboard (the signal manager itself writes confirmed signals to
// storage).
//
// Adapted from the teacher's internal/engine.Engine: the same
// New() → Start() → Stop() lifecycle, context-cancellation-driven goroutine
// set tracked by a sync.WaitGroup, and non-blocking channel dispatch with a
// dropped-and-logged fallback. The teacher managed many concurrent
// marketSlots behind a scanner; this system trades against one fixed
// symbol, so the per-market slot map collapses into a single inline
// dispatch loop — there is exactly one "slot" and it never needs to be
// torn down and rebuilt at runtime.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"signalbot/internal/book"
	"signalbot/internal/cache"
	"signalbot/internal/config"
	"signalbot/internal/dashboard"
	"signalbot/internal/detector"
	"signalbot/internal/ingest"
	"signalbot/internal/metrics"
	"signalbot/internal/preprocessor"
	"signalbot/internal/signalmanager"
	"signalbot/internal/zone"
	"signalbot/pkg/types"
)

// pendingCandidate tracks the price/side/detector of a SignalCandidate that
// has been submitted to the signal manager but not yet resolved, so that a
// later SignalConfirmedEvent (which carries only an ID) can still be routed
// back to the detector instance that produced it.
type pendingCandidate struct {
	detectorKind string
	price        decimal.Decimal
	side         types.Side
}

// Pipeline drives one symbol's full signal-generation path.
type Pipeline struct {
	symbol string
	tick   types.Tick

	feed       *ingest.Feed
	book       *book.Book
	pre        *preprocessor.Preprocessor
	detectors  []detector.Kind
	indicators *detector.TraditionalIndicators

	signalMgr *signalmanager.Manager
	cache     *cache.Cache
	metrics   *metrics.Registry
	eventsCh  chan dashboard.Event

	maintenanceIntervalMs int64

	log *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]pendingCandidate

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Deps bundles the dependencies New needs beyond the static YAML config,
// all already constructed and independently lifecycle-managed by the
// caller.
type Deps struct {
	SignalMgr *signalmanager.Manager
	Cache     *cache.Cache
	Metrics   *metrics.Registry
	Log       *slog.Logger
}

const dashboardEventBuffer = 256

// New builds a Pipeline for cfg.Ingest.Symbol: the book mirror, zone
// aggregator, preprocessor, detector family, and optional indicator filter,
// all wired against the feed and signal manager supplied in deps.
func New(cfg config.Config, feed *ingest.Feed, deps Deps) (*Pipeline, error) {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "pipeline", "symbol", cfg.Ingest.Symbol)

	tick, err := types.NewTick(cfg.Zone.TickSize)
	if err != nil {
		return nil, fmt.Errorf("parse zone.tick_size: %w", err)
	}

	zoneCfg, err := buildZoneConfig(cfg.Zone, tick)
	if err != nil {
		return nil, err
	}

	agg := zone.New(zoneCfg, cfg.Zone.ZoneCacheSize, cfg.Zone.MaxZoneCacheAgeMs, cfg.Zone.ZoneCalculationRange)
	b := book.New(cfg.Ingest.Symbol)
	pre := preprocessor.New(cfg.Ingest.Symbol, tick, b, agg, log)

	detectors := []detector.Kind{
		detector.NewAbsorptionDetector(tick, cfg.Absorption, log),
		detector.NewExhaustionDetector(cfg.Exhaustion, log),
		detector.NewAccumulationDetector(cfg.Accumulation, log),
		detector.NewDistributionDetector(cfg.Distribution, log),
	}

	var indicators *detector.TraditionalIndicators
	if cfg.Filter.VWAP.Enabled || cfg.Filter.RSI.Enabled || cfg.Filter.OIR.Enabled {
		indicators = detector.NewTraditionalIndicators(cfg.Filter, log)
	}

	return &Pipeline{
		symbol:                cfg.Ingest.Symbol,
		tick:                  tick,
		feed:                  feed,
		book:                  b,
		pre:                   pre,
		detectors:             detectors,
		indicators:            indicators,
		signalMgr:             deps.SignalMgr,
		cache:                 deps.Cache,
		metrics:               deps.Metrics,
		eventsCh:              make(chan dashboard.Event, dashboardEventBuffer),
		maintenanceIntervalMs: cfg.Accumulation.MaintenanceIntervalMs,
		log:                   log,
		pending:               make(map[string]pendingCandidate),
	}, nil
}

// Start launches the trade/depth dispatch loops and the signal-manager event
// relay goroutines. It does not block.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.spawn(func() { p.dispatchTrades(ctx) })
	p.spawn(func() { p.dispatchDepth(ctx) })
	p.spawn(func() { p.relayConfirmed(ctx) })
	p.spawn(func() { p.relayRejected(ctx) })

	interval := time.Duration(p.maintenanceIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 60 * time.Second
	}
	p.spawn(func() { p.maintenanceLoop(ctx, interval) })
}

// maintainer is implemented by detectors (accumulation, distribution) that
// need a periodic sweep to emit terminal zone_completed candidates for
// zones that went idle without ever invalidating, per spec §4.7.
type maintainer interface {
	Maintenance(now int64) []types.SignalCandidate
}

func (p *Pipeline) maintenanceLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			p.runMaintenance(t.UnixMilli())
		}
	}
}

func (p *Pipeline) runMaintenance(now int64) {
	for _, d := range p.detectors {
		m, ok := d.(maintainer)
		if !ok {
			continue
		}
		for _, candidate := range m.Maintenance(now) {
			p.submitCandidate(d.Status().Kind, candidate)
		}
	}
}

func (p *Pipeline) spawn(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

// Stop cancels all pipeline goroutines and waits for them to exit.
func (p *Pipeline) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) dispatchTrades(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case trade, ok := <-p.feed.Trades():
			if !ok {
				return
			}
			p.metrics.IncTradesIngested()
			p.handleTrade(trade)
		}
	}
}

func (p *Pipeline) dispatchDepth(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case diff, ok := <-p.feed.DepthDiffs():
			if !ok {
				return
			}
			p.metrics.IncDepthUpdatesIngested()
			p.book.ApplyDiff(diff)
		}
	}
}

func (p *Pipeline) handleTrade(trade types.AggregatedTrade) {
	enriched, err := p.pre.Process(trade)
	if err != nil {
		p.metrics.IncTradesDropped()
		return
	}

	if p.indicators != nil {
		p.indicators.Observe(&enriched)
	}

	for _, d := range p.detectors {
		candidate, err := d.OnEnrichedTrade(&enriched)
		if err != nil {
			p.metrics.IncDetectorErrors()
			if rec, ok := d.(interface{ RecordProcessingError(now int64) }); ok {
				rec.RecordProcessingError(enriched.Timestamp)
			}
			p.log.Error("detector processing error", "error", err)
			continue
		}
		if candidate == nil {
			continue
		}
		if p.indicators != nil && !p.indicators.Passes(*candidate) {
			continue
		}

		p.submitCandidate(string(candidate.Type), *candidate)
	}
}

// submitCandidate tracks candidate as pending and hands it to the signal
// manager, the path shared by per-trade detection (handleTrade) and the
// periodic maintenance sweep (runMaintenance).
func (p *Pipeline) submitCandidate(detectorKind string, candidate types.SignalCandidate) {
	if candidate.Symbol == "" {
		candidate.Symbol = p.symbol
	}
	p.metrics.IncCandidatesGenerated()
	p.trackPending(candidate)
	p.signalMgr.Submit(types.ProcessedSignal{
		Candidate:    candidate,
		DetectorKind: detectorKind,
		ProcessedAt:  time.Now().UnixMilli(),
	})
}

func (p *Pipeline) trackPending(candidate types.SignalCandidate) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	if len(p.pending) > 4096 {
		p.pending = make(map[string]pendingCandidate)
	}
	p.pending[candidate.ID] = pendingCandidate{
		detectorKind: string(candidate.Type),
		price:        candidate.Price,
		side:         candidate.Side,
	}
}

func (p *Pipeline) relayConfirmed(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-p.signalMgr.ConfirmedCh():
			if !ok {
				return
			}
			p.metrics.IncSignalsConfirmed()
			p.resolveDetector(evt.ID, evt.Side)
			p.cache.AppendRecentSignal(ctx, p.symbol, evt)
			p.publish(dashboard.NewConfirmedEvent(evt))
		}
	}
}

func (p *Pipeline) relayRejected(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-p.signalMgr.RejectedCh():
			if !ok {
				return
			}
			p.metrics.IncSignalsRejected(evt.Reason)
			p.publish(dashboard.NewRejectedEvent(evt))
		}
	}
}

// resolveDetector notifies the detector that produced candidateID that its
// signal was confirmed, so it can reset its per-zone signal state (see
// detector.Kind.MarkSignalConfirmed); absorption cooldowns are not cleared.
func (p *Pipeline) resolveDetector(candidateID string, side types.Side) {
	p.pendingMu.Lock()
	pc, ok := p.pending[candidateID]
	if ok {
		delete(p.pending, candidateID)
	}
	p.pendingMu.Unlock()
	if !ok {
		return
	}
	for _, d := range p.detectors {
		if d.Status().Kind == pc.detectorKind {
			d.MarkSignalConfirmed(pc.price, side)
		}
	}
}

func (p *Pipeline) publish(evt dashboard.Event) {
	select {
	case p.eventsCh <- evt:
	default:
		p.log.Warn("dashboard event channel full, dropping event")
	}
}

// DetectorStatuses implements dashboard.SnapshotProvider.
func (p *Pipeline) DetectorStatuses() []types.DetectorStatus {
	statuses := make([]types.DetectorStatus, 0, len(p.detectors))
	for _, d := range p.detectors {
		statuses = append(statuses, d.Status())
	}
	return statuses
}

// MetricsSnapshot implements dashboard.SnapshotProvider.
func (p *Pipeline) MetricsSnapshot() metrics.Snapshot {
	return p.metrics.Snapshot()
}

// RecentConfirmed implements dashboard.SnapshotProvider via the cache.
func (p *Pipeline) RecentConfirmed(limit int) []types.SignalConfirmedEvent {
	signals, err := p.cache.RecentSignals(context.Background(), p.symbol)
	if err != nil {
		p.log.Warn("fetch recent signals for dashboard", "error", err)
		return nil
	}
	if len(signals) > limit {
		signals = signals[:limit]
	}
	return signals
}

// RecentRejected implements dashboard.SnapshotProvider. Rejections are not
// persisted, so the dashboard only ever shows what has arrived since the
// process started, via the same Events() stream the websocket hub drains.
func (p *Pipeline) RecentRejected(limit int) []types.SignalRejectedEvent {
	return nil
}

// Events implements dashboard.SnapshotProvider, mirroring the teacher's
// Engine.DashboardEvents(): the pipeline owns the channel and the dashboard
// server only drains it.
func (p *Pipeline) Events() <-chan dashboard.Event {
	return p.eventsCh
}

func buildZoneConfig(cfg config.ZoneConfig, baseTick types.Tick) (types.ZoneConfig, error) {
	resolutions := make([]types.ZoneResolutionConfig, 0, len(cfg.Resolutions))
	for _, r := range cfg.Resolutions {
		resolutions = append(resolutions, types.ZoneResolutionConfig{
			ZoneTicks:    r.ZoneTicks,
			TimeWindowMs: r.TimeWindowMs,
		})
	}
	return types.ZoneConfig{BaseTick: baseTick, Resolutions: resolutions}, nil
}
