// Package cache is a redis-backed depth-snapshot cache and pub/sub layer
// sitting alongside the in-memory order book, for read replicas or
// external consumers that shouldn't share the engine's process. Modeled
// on the teacher's services/bookkeeper/cache.BalanceCacheImp (hash-per-key
// snapshots with an expiration, JSON-encoded payloads).
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qtexchange/vexchange/internal/orderbook"
	"github.com/qtexchange/vexchange/internal/platform/xerrors"
)

// DepthSnapshot is the cached view of one symbol's order book.
type DepthSnapshot struct {
	Symbol       string                  `json:"symbol"`
	Bids         []orderbook.DepthLevel  `json:"bids"`
	Asks         []orderbook.DepthLevel  `json:"asks"`
	LastUpdateID uint64                  `json:"last_update_id"`
	CapturedAtMs int64                   `json:"captured_at_ms"`
}

// DepthCache caches per-symbol depth snapshots in redis and republishes
// updates on a pub/sub channel per symbol.
type DepthCache struct {
	client     *redis.Client
	expiration time.Duration
}

// New wraps an existing redis client. expiration is how long a cached
// snapshot survives without a refresh.
func New(client *redis.Client, expiration time.Duration) *DepthCache {
	return &DepthCache{client: client, expiration: expiration}
}

func depthKey(symbol string) string    { return fmt.Sprintf("depth:%s", symbol) }
func depthChannel(symbol string) string { return fmt.Sprintf("depth-updates:%s", symbol) }

// Set writes snap to the cache and publishes it on the symbol's channel.
func (c *DepthCache) Set(ctx context.Context, snap DepthSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return xerrors.Wrap(xerrors.KindInternal, err, "marshal depth snapshot")
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, depthKey(snap.Symbol), data, c.expiration)
	pipe.Publish(ctx, depthChannel(snap.Symbol), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return xerrors.Wrap(xerrors.KindInternal, err, "cache depth snapshot")
	}
	return nil
}

// Get returns the cached snapshot for symbol, or (zero, false) on a cache
// miss (redis.Nil) — callers fall back to the live order book.
func (c *DepthCache) Get(ctx context.Context, symbol string) (DepthSnapshot, bool, error) {
	data, err := c.client.Get(ctx, depthKey(symbol)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return DepthSnapshot{}, false, nil
		}
		return DepthSnapshot{}, false, xerrors.Wrap(xerrors.KindInternal, err, "get depth snapshot")
	}
	var snap DepthSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return DepthSnapshot{}, false, xerrors.Wrap(xerrors.KindInternal, err, "unmarshal depth snapshot")
	}
	return snap, true, nil
}

// Subscribe returns a redis.PubSub for symbol's depth-update channel; the
// caller is responsible for closing it.
func (c *DepthCache) Subscribe(ctx context.Context, symbol string) *redis.PubSub {
	return c.client.Subscribe(ctx, depthChannel(symbol))
}
