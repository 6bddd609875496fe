package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wisbric/courier/internal/telemetry"
	"github.com/wisbric/courier/pkg/message"
)

const (
	// dedupTTL is the Redis TTL for webhook dedup keys.
	dedupTTL = 24 * time.Hour

	// redisKeyPrefix is the prefix for all webhook dedup keys in Redis.
	redisKeyPrefix = "courier:webhook:dedup:"
)

// EventChecker is the store surface the deduplicator falls back to. The
// store's unique constraint on (provider, provider_message_id, status)
// stays authoritative; Redis only short-circuits the common case.
type EventChecker interface {
	HasEvent(ctx context.Context, provider, providerMessageID string, status message.EventStatus) (bool, error)
}

// Deduplicator recognizes replayed webhook deliveries by their
// (provider, providerMessageId, status) key. It uses Redis as a fast
// cache with a store fallback.
type Deduplicator struct {
	rdb    *redis.Client
	store  EventChecker
	logger *slog.Logger
}

// NewDeduplicator creates a Deduplicator. rdb may be nil, in which case
// every check goes to the store.
func NewDeduplicator(rdb *redis.Client, store EventChecker, logger *slog.Logger) *Deduplicator {
	return &Deduplicator{rdb: rdb, store: store, logger: logger}
}

func redisKey(provider, providerMessageID string, status message.EventStatus) string {
	return redisKeyPrefix + provider + ":" + providerMessageID + ":" + string(status)
}

// Seen reports whether an event with this exact key was already folded.
func (d *Deduplicator) Seen(ctx context.Context, provider, providerMessageID string, status message.EventStatus) (bool, error) {
	key := redisKey(provider, providerMessageID, status)

	if d.rdb != nil {
		_, err := d.rdb.Get(ctx, key).Result()
		if err == nil {
			telemetry.WebhookDeduplicatedTotal.Inc()
			return true, nil
		}
		if err != redis.Nil {
			d.logger.Warn("redis dedup lookup failed, falling back to store", "error", err)
		}
	}

	seen, err := d.store.HasEvent(ctx, provider, providerMessageID, status)
	if err != nil {
		return false, fmt.Errorf("dedup store lookup: %w", err)
	}
	if seen {
		// Warm the cache for the next replay.
		d.Record(ctx, provider, providerMessageID, status)
		telemetry.WebhookDeduplicatedTotal.Inc()
	}
	return seen, nil
}

// Record marks the key as folded for future Seen checks. Failures are
// logged, not returned: the store constraint still catches replays.
func (d *Deduplicator) Record(ctx context.Context, provider, providerMessageID string, status message.EventStatus) {
	if d.rdb == nil {
		return
	}
	key := redisKey(provider, providerMessageID, status)
	if err := d.rdb.Set(ctx, key, "1", dedupTTL).Err(); err != nil {
		d.logger.Warn("recording dedup key failed", "error", err, "key", key)
	}
}
