package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"campusfound/pkg/domain"
)

const (
	defaultTTL     = 30 * time.Second
	invalidChannel = "campusfound:items:changed"
)

// Listing caches the open-item listing in Redis. The cache is strictly a
// read-side view: a Redis failure degrades to the underlying store, it never
// fails the request.
type Listing struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	group  singleflight.Group
}

// NewListing creates the cache, or nil when no client is supplied so callers
// can feature-gate on the cache itself.
func NewListing(client *redis.Client, key string, ttl time.Duration) *Listing {
	if client == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "campusfound:items:open"
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Listing{client: client, key: key, ttl: ttl}
}

// Get returns the cached listing, filling it from the store on a miss.
// Concurrent misses collapse into a single fill.
func (l *Listing) Get(ctx context.Context, fill func() ([]domain.Item, error)) ([]domain.Item, error) {
	if l == nil {
		return fill()
	}
	raw, err := l.client.Get(ctx, l.key).Bytes()
	if err == nil {
		var items []domain.Item
		if jsonErr := json.Unmarshal(raw, &items); jsonErr == nil {
			return items, nil
		}
		// Corrupt payload: fall through and refill.
	} else if !errors.Is(err, redis.Nil) {
		slog.Warn("listing cache read failed, serving from store", "err", err)
		return fill()
	}

	v, err, _ := l.group.Do(l.key, func() (any, error) {
		items, err := fill()
		if err != nil {
			return nil, err
		}
		if payload, jsonErr := json.Marshal(items); jsonErr == nil {
			if setErr := l.client.Set(ctx, l.key, payload, l.ttl).Err(); setErr != nil {
				slog.Warn("listing cache write failed", "err", setErr)
			}
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Item), nil
}

// Invalidate drops the cached listing and signals dependent views. It is
// fire-and-forget: failures are logged, never propagated.
func (l *Listing) Invalidate(ctx context.Context) {
	if l == nil {
		return
	}
	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		slog.Warn("listing cache invalidation failed", "err", err)
		return
	}
	if err := l.client.Publish(ctx, invalidChannel, "changed").Err(); err != nil {
		slog.Warn("listing change publish failed", "err", err)
	}
}
