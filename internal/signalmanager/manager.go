// Package signalmanager implements the SignalManager gating pipeline of
// spec §4.9, adapted from the teacher's internal/risk.Manager.
//
// The shape is the same: a buffered inbound channel fed by Submit (mirrors
// Manager.Report), a background Run loop selecting between inbound work and
// a periodic maintenance ticker (mirrors the 5s clearExpiredKillSwitch
// ticker, here 60s per spec §4.9), and outbound channels the caller drains
// (mirrors KillCh()). Kill-switch-style global state is replaced with
// per-signal-type recent-signal history used for correlation scoring.
package signalmanager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"signalbot/internal/config"
	"signalbot/internal/financial"
	"signalbot/pkg/types"
)

// MarketHealthProvider is the external anomaly-detector contract consulted
// by the market-health gate (spec §4.9 step 1).
type MarketHealthProvider interface {
	GetMarketHealth(ctx context.Context) (types.MarketHealthSnapshot, error)
}

// Storage is the narrow persistence contract the signal manager depends on.
type Storage interface {
	SaveSignalHistory(ctx context.Context, signal types.ConfirmedSignal) error
	PurgeSignalHistory(ctx context.Context, olderThan time.Time) error
	PurgeSignalHistoryExcess(ctx context.Context, keep int) error
}

type recentSignal struct {
	price     decimal.Decimal
	timestamp int64
}

// Manager transforms ProcessedSignals into ConfirmedSignals per the
// per-signal pipeline in spec §4.9.
type Manager struct {
	cfg     config.SignalManagerConfig
	health  MarketHealthProvider
	storage Storage
	log     *slog.Logger

	mu            sync.RWMutex
	recentByType  map[types.SignalType][]recentSignal
	confidenceThr decimal.Decimal
	priceTolScale decimal.Decimal

	inCh        chan types.ProcessedSignal
	generatedCh chan types.SignalGeneratedEvent
	confirmedCh chan types.SignalConfirmedEvent
	rejectedCh  chan types.SignalRejectedEvent
}

// New builds a Manager.
func New(cfg config.SignalManagerConfig, health MarketHealthProvider, storage Storage, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:           cfg,
		health:        health,
		storage:       storage,
		log:           log.With("component", "signalmanager"),
		recentByType:  make(map[types.SignalType][]recentSignal),
		confidenceThr: decimal.NewFromFloat(cfg.ConfidenceThreshold).Round(2),
		priceTolScale: decimal.NewFromFloat(0.001),
		inCh:          make(chan types.ProcessedSignal, 256),
		generatedCh:   make(chan types.SignalGeneratedEvent, 64),
		confirmedCh:   make(chan types.SignalConfirmedEvent, 64),
		rejectedCh:    make(chan types.SignalRejectedEvent, 64),
	}
}

// Submit enqueues a ProcessedSignal for gating (non-blocking).
func (m *Manager) Submit(ps types.ProcessedSignal) {
	select {
	case m.inCh <- ps:
	default:
		m.log.Warn("signal manager input channel full, dropping signal", "detector", ps.DetectorKind)
	}
}

// GeneratedCh, ConfirmedCh, RejectedCh expose the outbound event streams.
func (m *Manager) GeneratedCh() <-chan types.SignalGeneratedEvent { return m.generatedCh }
func (m *Manager) ConfirmedCh() <-chan types.SignalConfirmedEvent { return m.confirmedCh }
func (m *Manager) RejectedCh() <-chan types.SignalRejectedEvent   { return m.rejectedCh }

// Run processes inbound signals and runs periodic maintenance until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) {
	interval := time.Duration(m.cfg.MaintenanceIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ps := <-m.inCh:
			m.process(ctx, ps)
		case <-ticker.C:
			m.maintenance(ctx)
		}
	}
}

func (m *Manager) process(ctx context.Context, ps types.ProcessedSignal) {
	health, err := m.evaluateHealth(ctx)
	if err != nil {
		m.log.Warn("market health check failed, failing open", "error", err)
	} else if unhealthy(health) {
		m.reject(ps, types.RejectUnhealthyMarket)
		return
	}

	rounded := ps.Candidate.Confidence.Truncate(2)
	if rounded.LessThan(m.confidenceThr) {
		m.reject(ps, types.RejectLowConfidence)
		return
	}

	correlation := m.scoreCorrelation(ps.Candidate)

	final := financial.ClampUnit(
		ps.Candidate.Confidence.Mul(
			decimal.NewFromInt(1).Add(correlation.Strength.Mul(decimal.NewFromFloat(0.15))),
		),
	)

	confirmed := types.ConfirmedSignal{
		Processed:       ps,
		FinalConfidence: final,
		Correlation:     correlation,
		Health:          health,
		Side:            ps.Candidate.Side,
		TakeProfit:      takeProfit(ps.Candidate.Price, ps.Candidate.Side, m.cfg.TakeProfitBps),
		StopLoss:        stopLoss(ps.Candidate.Price, ps.Candidate.Side, m.cfg.StopLossBps),
		ConfirmedAt:     ps.Candidate.Timestamp,
	}

	m.recordRecent(ps.Candidate)

	if err := m.storage.SaveSignalHistory(ctx, confirmed); err != nil {
		m.log.Error("persist signal history failed", "error", err)
	}

	m.emit(confirmed)
}

// evaluateHealth isolates the external call behind a short timeout so one
// slow anomaly detector never stalls the pipeline (spec §5 suspension-point
// policy).
func (m *Manager) evaluateHealth(ctx context.Context) (types.MarketHealthSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return m.health.GetMarketHealth(ctx)
}

func unhealthy(h types.MarketHealthSnapshot) bool {
	if h.Recommendation == "close_positions" || h.Recommendation == "insufficient_data" {
		return true
	}
	if h.HighestSeverity == "critical" {
		return true
	}
	return len(h.CriticalIssues) > 0
}

func (m *Manager) scoreCorrelation(candidate types.SignalCandidate) types.CorrelationStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tolerance := candidate.Price.Mul(m.priceTolScale)
	cutoff := candidate.Timestamp - m.cfg.CorrelationWindowMs

	count := 0
	for _, prior := range m.recentByType[candidate.Type] {
		if prior.timestamp < cutoff {
			continue
		}
		if prior.price.Sub(candidate.Price).Abs().LessThanOrEqual(tolerance) {
			count++
		}
	}

	strength := financial.Min(decimal.NewFromInt(1), decimal.NewFromInt(int64(count)).Div(decimal.NewFromInt(3)))
	return types.CorrelationStats{CorrelatedCount: count, Strength: strength}
}

func (m *Manager) recordRecent(candidate types.SignalCandidate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recentByType[candidate.Type] = append(m.recentByType[candidate.Type], recentSignal{
		price:     candidate.Price,
		timestamp: candidate.Timestamp,
	})
}

func (m *Manager) reject(ps types.ProcessedSignal, reason types.RejectionReason) {
	event := types.SignalRejectedEvent{Signal: ps.Candidate, Reason: reason, Time: time.Now()}
	select {
	case m.rejectedCh <- event:
	default:
		m.log.Warn("rejected-signal channel full, dropping event")
	}
}

func (m *Manager) emit(confirmed types.ConfirmedSignal) {
	confirmedEvent := types.SignalConfirmedEvent{
		ID:         confirmed.Processed.Candidate.ID,
		Type:       confirmed.Processed.Candidate.Type,
		Side:       confirmed.Side,
		Confidence: confirmed.FinalConfidence,
		Time:       time.Now(),
	}
	generatedEvent := types.SignalGeneratedEvent{
		ID:         confirmed.Processed.Candidate.ID,
		Type:       confirmed.Processed.Candidate.Type,
		Side:       confirmed.Side,
		Time:       time.Now(),
		Price:      confirmed.Processed.Candidate.Price,
		TakeProfit: confirmed.TakeProfit,
		StopLoss:   confirmed.StopLoss,
		Confidence: confirmed.FinalConfidence,
		SignalData: confirmed.Processed.Candidate.Data,
	}

	select {
	case m.confirmedCh <- confirmedEvent:
	default:
		m.log.Warn("confirmed-signal channel full, dropping event")
	}
	select {
	case m.generatedCh <- generatedEvent:
	default:
		m.log.Warn("generated-signal channel full, dropping event")
	}
}

// maintenance purges recentByType entries by age and count, and instructs
// storage to purge signal history beyond the retention window and the
// maxHistorySize cap, per spec §4.9's periodic 60s sweep and spec §3's
// history-size limit.
func (m *Manager) maintenance(ctx context.Context) {
	m.mu.Lock()
	nowMs := latestTimestamp(m.recentByType)
	cutoff := nowMs - m.cfg.SignalTimeoutMs
	for signalType, entries := range m.recentByType {
		kept := entries[:0]
		for _, e := range entries {
			if e.timestamp >= cutoff {
				kept = append(kept, e)
			}
		}
		if m.cfg.MaxHistorySize > 0 && len(kept) > m.cfg.MaxHistorySize {
			kept = kept[len(kept)-m.cfg.MaxHistorySize:]
		}
		m.recentByType[signalType] = kept
	}
	m.mu.Unlock()

	retentionCutoff := time.Now().Add(-time.Duration(m.cfg.SignalTimeoutMs) * time.Millisecond)
	if err := m.storage.PurgeSignalHistory(ctx, retentionCutoff); err != nil {
		m.log.Error("purge signal history failed", "error", err)
	}
	if m.cfg.MaxHistorySize > 0 {
		if err := m.storage.PurgeSignalHistoryExcess(ctx, m.cfg.MaxHistorySize); err != nil {
			m.log.Error("purge excess signal history failed", "error", err)
		}
	}
}

func latestTimestamp(byType map[types.SignalType][]recentSignal) int64 {
	var max int64
	for _, entries := range byType {
		for _, e := range entries {
			if e.timestamp > max {
				max = e.timestamp
			}
		}
	}
	return max
}

// takeProfit and stopLoss are pure functions of price and side, the
// calculation library spec §4.9 step 6 explicitly leaves out of scope.
// Offsets are basis points of price, symmetric around the entry.
func takeProfit(price decimal.Decimal, side types.Side, bps float64) decimal.Decimal {
	offset := price.Mul(decimal.NewFromFloat(bps / 10000))
	if side == types.Sell {
		return price.Sub(offset)
	}
	return price.Add(offset)
}

func stopLoss(price decimal.Decimal, side types.Side, bps float64) decimal.Decimal {
	offset := price.Mul(decimal.NewFromFloat(bps / 10000))
	if side == types.Sell {
		return price.Add(offset)
	}
	return price.Sub(offset)
}
