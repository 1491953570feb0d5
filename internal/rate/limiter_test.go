package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/kv"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestFixedWindowBlocksThenRecovers(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	store := kv.NewMemory(kv.MemoryConfig{Now: c.now})
	l := New(store, "rl", c.now)
	p := Policy{Limit: 5, Window: time.Minute}
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d, err := l.Check(ctx, "login", "alice@example.com", p)
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("attempt %d should be allowed", i)
		}
		if d.Remaining != 5-i {
			t.Fatalf("attempt %d remaining = %d, want %d", i, d.Remaining, 5-i)
		}
	}

	d, err := l.Check(ctx, "login", "alice@example.com", p)
	if err != nil {
		t.Fatalf("sixth attempt: %v", err)
	}
	if d.Allowed || d.Remaining != 0 {
		t.Fatalf("sixth attempt should be denied, got %+v", d)
	}
	if got := d.RetryAfter(c.t); got <= 0 || got > time.Minute {
		t.Fatalf("retry after = %v", got)
	}

	other, err := l.Check(ctx, "login", "bob@example.com", p)
	if err != nil || !other.Allowed {
		t.Fatalf("identities must not share a budget: %+v %v", other, err)
	}

	c.t = d.ResetAt
	d, err = l.Check(ctx, "login", "alice@example.com", p)
	if err != nil || !d.Allowed {
		t.Fatalf("expected new window to allow, got %+v %v", d, err)
	}
}

func TestWindowsAreAligned(t *testing.T) {
	base := time.Unix(1_700_000_040, 0)
	idx, reset := Window(base, time.Minute)
	if reset.Unix()%60 != 0 {
		t.Fatalf("reset %v not aligned to the minute", reset)
	}
	idx2, _ := Window(reset.Add(-time.Nanosecond), time.Minute)
	if idx != idx2 {
		t.Fatalf("instants in the same window got indexes %d and %d", idx, idx2)
	}
	idx3, _ := Window(reset, time.Minute)
	if idx3 != idx+1 {
		t.Fatalf("reset instant should open the next window")
	}
}

func TestKeyLayout(t *testing.T) {
	l := New(kv.NewMemory(kv.MemoryConfig{}), "authcore:rl", nil)
	if got := l.Key("api", "u-1", 42); got != "authcore:rl:api:u-1:42" {
		t.Fatalf("key = %q", got)
	}
}

func TestFailsOpenWhenStoreDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := New(kv.NewRedis(client, "test"), "rl", nil)
	mr.Close()

	d, err := l.Check(context.Background(), "api", "u-1", Policy{Limit: 1, Window: time.Second})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if !d.Allowed {
		t.Fatal("store failure must allow the request")
	}
}

func TestRedisBackedWindowExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := New(kv.NewRedis(client, "test"), "rl", c.now)
	p := Policy{Limit: 1, Window: 10 * time.Second}
	ctx := context.Background()

	if d, _ := l.Check(ctx, "auth", "ip-1", p); !d.Allowed {
		t.Fatal("first request should pass")
	}
	if d, _ := l.Check(ctx, "auth", "ip-1", p); d.Allowed {
		t.Fatal("second request should be limited")
	}

	idx, _ := Window(c.t, p.Window)
	if ttl := mr.TTL("test:" + l.Key("auth", "ip-1", idx)); ttl <= 0 || ttl > p.Window {
		t.Fatalf("counter ttl = %v", ttl)
	}
}

func TestResetAndDisabledPolicy(t *testing.T) {
	l := New(kv.NewMemory(kv.MemoryConfig{}), "rl", nil)
	ctx := context.Background()
	p := Policy{Limit: 1, Window: time.Hour}

	_, _ = l.Check(ctx, "login", "x", p)
	if d, _ := l.Check(ctx, "login", "x", p); d.Allowed {
		t.Fatal("expected limit")
	}
	if err := l.Reset(ctx, "login", "x", p); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if d, _ := l.Check(ctx, "login", "x", p); !d.Allowed {
		t.Fatal("expected reset to reopen the window")
	}

	for i := 0; i < 10; i++ {
		if d, _ := l.Check(ctx, "login", "x", Policy{}); !d.Allowed {
			t.Fatal("disabled policy must allow")
		}
	}
}
