// Package ingest is the upstream WebSocket client consuming the aggTrade and
// depth-diff feed for one symbol, adapted from the teacher's
// internal/exchange/ws.go WSFeed.
//
// Stripped of Polymarket's dual-channel (market/user) subscription model and
// auth payload: this is a single public feed for one symbol, reconnecting
// with the same exponential-backoff shape and dropping on channel overflow
// rather than blocking, per spec §5's backpressure rule.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"signalbot/internal/metrics"
	"signalbot/pkg/types"
)

const (
	readTimeout     = 90 * time.Second
	writeTimeout    = 10 * time.Second
	pingInterval    = 50 * time.Second
	tradeBufferSize = 1024
	depthBufferSize = 256
)

// Feed maintains one auto-reconnecting WebSocket connection and dispatches
// inbound aggTrade/depthDiff messages onto typed channels.
type Feed struct {
	url    string
	symbol string

	minReconnectWait time.Duration
	maxReconnectWait time.Duration

	conn *websocket.Conn

	tradeCh chan types.AggregatedTrade
	depthCh chan types.DepthDiff

	metrics *metrics.Registry
	log     *slog.Logger
}

// New builds a Feed for one symbol against wsURL. metrics may be nil, in
// which case overflow drops are logged but not counted.
func New(wsURL, symbol string, minReconnectWait, maxReconnectWait time.Duration, reg *metrics.Registry, log *slog.Logger) *Feed {
	if log == nil {
		log = slog.Default()
	}
	if minReconnectWait <= 0 {
		minReconnectWait = time.Second
	}
	if maxReconnectWait <= 0 {
		maxReconnectWait = 30 * time.Second
	}
	return &Feed{
		url:              wsURL,
		symbol:           symbol,
		minReconnectWait: minReconnectWait,
		maxReconnectWait: maxReconnectWait,
		tradeCh:          make(chan types.AggregatedTrade, tradeBufferSize),
		depthCh:          make(chan types.DepthDiff, depthBufferSize),
		metrics:          reg,
		log:              log.With("component", "ingest", "symbol", symbol),
	}
}

// Trades returns the inbound aggregated-trade stream.
func (f *Feed) Trades() <-chan types.AggregatedTrade { return f.tradeCh }

// DepthDiffs returns the inbound order-book diff stream.
func (f *Feed) DepthDiffs() <-chan types.DepthDiff { return f.depthCh }

// Run connects and maintains the connection with exponential backoff until
// ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := f.minReconnectWait

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.log.Warn("ingest feed disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > f.maxReconnectWait {
			backoff = f.maxReconnectWait
		}
	}
}

// Close closes the underlying connection, if any.
func (f *Feed) Close() error {
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	f.conn = conn
	defer func() {
		conn.Close()
		f.conn = nil
	}()

	f.log.Info("ingest feed connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatch(msg)
	}
}

func (f *Feed) dispatch(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.log.Debug("ignoring non-json ingest message", "data", string(data))
		return
	}

	switch envelope.EventType {
	case "agg_trade":
		var trade types.AggregatedTrade
		if err := json.Unmarshal(data, &trade); err != nil {
			f.log.Error("unmarshal agg_trade", "error", err)
			return
		}
		select {
		case f.tradeCh <- trade:
		default:
			// Buffer full: drop the oldest queued trade to make room rather
			// than rejecting the newest one, per the backpressure policy.
			select {
			case <-f.tradeCh:
			default:
			}
			select {
			case f.tradeCh <- trade:
			default:
			}
			if f.metrics != nil {
				f.metrics.IncTradesDropped()
			}
			f.log.Warn("trade channel full, dropped oldest aggTrade", "agg_trade_id", trade.AggTradeID)
		}

	case "depth_diff":
		var diff types.DepthDiff
		if err := json.Unmarshal(data, &diff); err != nil {
			f.log.Error("unmarshal depth_diff", "error", err)
			return
		}
		select {
		case f.depthCh <- diff:
		default:
			select {
			case <-f.depthCh:
			default:
			}
			select {
			case f.depthCh <- diff:
			default:
			}
			if f.metrics != nil {
				f.metrics.IncDepthUpdatesDropped()
			}
			f.log.Warn("depth channel full, dropped oldest diff", "final_update_id", diff.FinalUpdateID)
		}

	default:
		f.log.Debug("ignoring unknown ingest event type", "type", envelope.EventType)
	}
}

func (f *Feed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.log.Warn("ping failed", "error", err)
				return
			}
		}
	}
}
