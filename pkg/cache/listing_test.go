package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"campusfound/pkg/domain"
)

func newTestListing(t *testing.T) (*Listing, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewListing(client, "test:items:open", time.Minute), mr
}

func TestListingFillsOnceUntilInvalidated(t *testing.T) {
	l, _ := newTestListing(t)
	ctx := context.Background()

	fills := 0
	fill := func() ([]domain.Item, error) {
		fills++
		return []domain.Item{{ID: "i1", Title: "Black Wallet"}}, nil
	}

	for i := 0; i < 3; i++ {
		items, err := l.Get(ctx, fill)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if len(items) != 1 || items[0].ID != "i1" {
			t.Fatalf("get %d returned %+v", i, items)
		}
	}
	if fills != 1 {
		t.Fatalf("expected a single fill, got %d", fills)
	}

	l.Invalidate(ctx)
	if _, err := l.Get(ctx, fill); err != nil {
		t.Fatalf("get after invalidation: %v", err)
	}
	if fills != 2 {
		t.Fatalf("expected refill after invalidation, got %d fills", fills)
	}
}

func TestListingDegradesToStoreOnRedisFailure(t *testing.T) {
	l, mr := newTestListing(t)
	mr.Close()

	items, err := l.Get(context.Background(), func() ([]domain.Item, error) {
		return []domain.Item{{ID: "i1"}}, nil
	})
	if err != nil {
		t.Fatalf("get with redis down: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected store items, got %+v", items)
	}
}

func TestNilListingIsPassThrough(t *testing.T) {
	var l *Listing
	items, err := l.Get(context.Background(), func() ([]domain.Item, error) {
		return []domain.Item{{ID: "i1"}}, nil
	})
	if err != nil || len(items) != 1 {
		t.Fatalf("nil cache should pass through: items=%+v err=%v", items, err)
	}
	l.Invalidate(context.Background())
}
