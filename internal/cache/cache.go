// Package cache wraps go-redis to hold the latest MarketHealth response and
// recent confirmed signals per symbol. The signal manager does not read
// market health through this cache; it calls the anomaly client directly.
// Adapted from
// nofendian17-stockbit-haka-haki/cache/redis.go's RedisClient.Set/Get
// pattern: nil-safe degraded mode when Redis is unreachable, so a cache
// outage never takes the pipeline down with it.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"signalbot/pkg/types"
)

const (
	marketHealthTTL = 5 * time.Second
	signalTTL       = 5 * time.Minute
	recentSignalCap = 50
)

// Cache is the degraded-mode-safe Redis wrapper. A nil client (failed
// connect) makes every method a no-op/miss rather than an error, matching
// the teacher's RedisClient(nil) pattern.
type Cache struct {
	client *redis.Client
	log    *slog.Logger
}

// New connects to addr and pings it once; on failure it returns a Cache
// running in degraded (no-op) mode instead of erroring, exactly as the
// teacher's NewRedisClient logs a warning and returns nil on connect failure.
func New(addr, password string, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "cache")

	if addr == "" {
		log.Info("no redis addr configured, running in degraded mode")
		return &Cache{log: log}
	}

	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: 0})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("failed to connect to redis, running in degraded mode", "addr", addr, "error", err)
		return &Cache{log: log}
	}

	log.Info("connected to redis", "addr", addr)
	return &Cache{client: client, log: log}
}

func marketHealthKey(symbol string) string { return "market_health:" + symbol }
func recentSignalsKey(symbol string) string { return "recent_signals:" + symbol }

// SetMarketHealth caches the latest health snapshot for symbol.
func (c *Cache) SetMarketHealth(ctx context.Context, symbol string, snapshot types.MarketHealthSnapshot) {
	if c.client == nil {
		return
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		c.log.Warn("marshal market health for cache", "error", err)
		return
	}
	if err := c.client.Set(ctx, marketHealthKey(symbol), data, marketHealthTTL).Err(); err != nil {
		c.log.Warn("cache market health", "error", err)
	}
}

// GetMarketHealth returns the cached snapshot, if any and not expired.
func (c *Cache) GetMarketHealth(ctx context.Context, symbol string) (types.MarketHealthSnapshot, bool) {
	if c.client == nil {
		return types.MarketHealthSnapshot{}, false
	}
	val, err := c.client.Get(ctx, marketHealthKey(symbol)).Result()
	if err != nil {
		return types.MarketHealthSnapshot{}, false
	}
	var snapshot types.MarketHealthSnapshot
	if err := json.Unmarshal([]byte(val), &snapshot); err != nil {
		c.log.Warn("unmarshal cached market health", "error", err)
		return types.MarketHealthSnapshot{}, false
	}
	return snapshot, true
}

// AppendRecentSignal pushes a confirmed signal onto symbol's bounded recent
// list, trimmed to recentSignalCap.
func (c *Cache) AppendRecentSignal(ctx context.Context, symbol string, signal types.SignalConfirmedEvent) error {
	if c.client == nil {
		return nil
	}
	data, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("marshal recent signal: %w", err)
	}
	key := recentSignalsKey(symbol)
	pipe := c.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, recentSignalCap-1)
	pipe.Expire(ctx, key, signalTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// RecentSignals returns the cached recent confirmed signals for symbol,
// newest first.
func (c *Cache) RecentSignals(ctx context.Context, symbol string) ([]types.SignalConfirmedEvent, error) {
	if c.client == nil {
		return nil, nil
	}
	raw, err := c.client.LRange(ctx, recentSignalsKey(symbol), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent signals: %w", err)
	}
	out := make([]types.SignalConfirmedEvent, 0, len(raw))
	for _, item := range raw {
		var signal types.SignalConfirmedEvent
		if err := json.Unmarshal([]byte(item), &signal); err != nil {
			c.log.Warn("unmarshal cached recent signal", "error", err)
			continue
		}
		out = append(out, signal)
	}
	return out, nil
}

// Close closes the underlying Redis connection, if any.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
