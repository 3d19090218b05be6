package session

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &Redis{R: client, TTL: time.Minute}, mr
}

func TestRedisRoundTrip(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "sess-1", KeyCartNumber); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Set(ctx, "sess-1", KeyCartNumber, "cart-abc"); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(ctx, "sess-1", KeyCartNumber)
	if err != nil {
		t.Fatal(err)
	}
	if got != "cart-abc" {
		t.Fatalf("expected cart-abc, got %s", got)
	}

	// Sessions are independent of each other.
	if _, err := store.Get(ctx, "sess-2", KeyCartNumber); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other session, got %v", err)
	}

	if err := store.Delete(ctx, "sess-1", KeyCartNumber); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "sess-1", KeyCartNumber); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestRedisEntriesExpire(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "sess-1", KeyCartNumber, "cart-abc"); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx, "sess-1", KeyCartNumber); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemory(time.Minute)
	ctx := context.Background()

	if err := store.Set(ctx, "s", KeyCartNumber, "n1"); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(ctx, "s", KeyCartNumber)
	if err != nil || got != "n1" {
		t.Fatalf("got %q, %v", got, err)
	}
	if err := store.Delete(ctx, "s", KeyCartNumber); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "s", KeyCartNumber); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
