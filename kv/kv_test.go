package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type backend struct {
	name    string
	store   Store
	advance func(time.Duration)
}

func backends(t *testing.T) []backend {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	var (
		mu  sync.Mutex
		now = time.Unix(1_700_000_000, 0)
	)
	mem := NewMemory(MemoryConfig{Size: 128, Now: func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}})

	return []backend{
		{name: "redis", store: NewRedis(rdb, "test"), advance: mr.FastForward},
		{name: "memory", store: mem, advance: func(d time.Duration) {
			mu.Lock()
			now = now.Add(d)
			mu.Unlock()
		}},
	}
}

func TestStoreGetSetDelete(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := b.store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := b.store.Set(ctx, "a", []byte("1"), time.Minute); err != nil {
				t.Fatalf("set: %v", err)
			}
			got, err := b.store.Get(ctx, "a")
			if err != nil || string(got) != "1" {
				t.Fatalf("get = %q, %v", got, err)
			}
			if err := b.store.Delete(ctx, "a", "never-existed"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := b.store.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected deleted key to be missing, got %v", err)
			}
		})
	}
}

func TestStoreTTLExpiry(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()

			if err := b.store.Set(ctx, "ttl", []byte("v"), 10*time.Second); err != nil {
				t.Fatalf("set: %v", err)
			}
			b.advance(9 * time.Second)
			if _, err := b.store.Get(ctx, "ttl"); err != nil {
				t.Fatalf("expected key before expiry: %v", err)
			}
			b.advance(time.Second)
			if _, err := b.store.Get(ctx, "ttl"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected key expired, got %v", err)
			}
		})
	}
}

func TestStoreTakeIsSingleUse(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			if err := b.store.Set(ctx, "once", []byte("secret"), time.Minute); err != nil {
				t.Fatalf("set: %v", err)
			}

			const n = 8
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			start := make(chan struct{})
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					if _, err := b.store.Take(ctx, "once"); err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			close(start)
			wg.Wait()

			if wins != 1 {
				t.Fatalf("expected exactly one Take to succeed, got %d", wins)
			}
		})
	}
}

func TestStoreDeletePrefix(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				if err := b.store.Set(ctx, fmt.Sprintf("perm:u%d", i), []byte("x"), time.Minute); err != nil {
					t.Fatalf("set: %v", err)
				}
			}
			if err := b.store.Set(ctx, "other:k", []byte("y"), time.Minute); err != nil {
				t.Fatalf("set: %v", err)
			}

			if err := b.store.DeletePrefix(ctx, "perm:"); err != nil {
				t.Fatalf("delete prefix: %v", err)
			}
			for i := 0; i < 5; i++ {
				if _, err := b.store.Get(ctx, fmt.Sprintf("perm:u%d", i)); !errors.Is(err, ErrNotFound) {
					t.Fatalf("expected perm:u%d removed, got %v", i, err)
				}
			}
			if _, err := b.store.Get(ctx, "other:k"); err != nil {
				t.Fatalf("expected unrelated key kept: %v", err)
			}
		})
	}
}

func TestStoreIncrementFixedWindow(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			for want := int64(1); want <= 3; want++ {
				got, err := b.store.Increment(ctx, "ctr", time.Minute)
				if err != nil {
					t.Fatalf("increment: %v", err)
				}
				if got != want {
					t.Fatalf("increment = %d, want %d", got, want)
				}
				b.advance(10 * time.Second)
			}

			// The window started at the first increment and must not slide.
			b.advance(31 * time.Second)
			got, err := b.store.Increment(ctx, "ctr", time.Minute)
			if err != nil {
				t.Fatalf("increment: %v", err)
			}
			if got != 1 {
				t.Fatalf("expected counter to restart after window, got %d", got)
			}
		})
	}
}

func TestRedisIncrementAlwaysLeavesTTL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	store := NewRedis(rdb, "rl")
	ctx := context.Background()

	if _, err := store.Increment(ctx, "fresh", time.Minute); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if ttl := mr.TTL("rl:fresh"); ttl != time.Minute {
		t.Fatalf("fresh counter ttl = %s, want 1m", ttl)
	}

	// A counter left without a TTL is given one on its next increment.
	mr.Set("rl:stuck", "7")
	got, err := store.Increment(ctx, "stuck", time.Minute)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if got != 8 {
		t.Fatalf("increment = %d, want 8", got)
	}
	if ttl := mr.TTL("rl:stuck"); ttl != time.Minute {
		t.Fatalf("stuck counter ttl = %s, want 1m", ttl)
	}

	mr.FastForward(30 * time.Second)
	if _, err := store.Increment(ctx, "fresh", time.Minute); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if ttl := mr.TTL("rl:fresh"); ttl != 30*time.Second {
		t.Fatalf("window slid: ttl = %s, want 30s", ttl)
	}
}

func TestRedisUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	store := NewRedis(rdb, "down")
	mr.Close()

	if _, err := store.Increment(context.Background(), "k", time.Minute); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := store.Get(context.Background(), "k"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	m := NewMemory(MemoryConfig{Size: 2})
	ctx := context.Background()

	_ = m.Set(ctx, "a", []byte("1"), time.Minute)
	_ = m.Set(ctx, "b", []byte("2"), time.Minute)
	_, _ = m.Get(ctx, "a")
	_ = m.Set(ctx, "c", []byte("3"), time.Minute)

	if _, err := m.Get(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected b evicted, got %v", err)
	}
	if _, err := m.Get(ctx, "a"); err != nil {
		t.Fatalf("expected a retained: %v", err)
	}
}
