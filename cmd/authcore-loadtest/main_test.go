package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/session"
)

func TestPercentile(t *testing.T) {
	samples := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(samples, 50); got != 5 {
		t.Fatalf("p50 = %v", got)
	}
	if got := percentile(samples, 100); got != 10 {
		t.Fatalf("p100 = %v", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("empty = %v", got)
	}
}

func TestRacesHaveSingleWinner(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := session.NewRedisStore(client, "load-test", time.Hour)

	if v := runRaces(context.Background(), store, 5, 8); v != 0 {
		t.Fatalf("%d races without a single winner", v)
	}
}

func TestRotateChain(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := session.NewRedisStore(client, "load-test", time.Hour)
	ctx := context.Background()

	hash, err := seedToken(ctx, store, "u1")
	if err != nil {
		t.Fatal(err)
	}
	next, err := rotate(ctx, store, hash)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := rotate(ctx, store, hash); err == nil {
		t.Fatal("rotating a spent token succeeded")
	}
	rec, err := store.Lookup(ctx, next)
	if err != nil || rec.UserID != "u1" {
		t.Fatalf("successor lookup: %+v, %v", rec, err)
	}
}
