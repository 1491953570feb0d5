// Command authcore-loadtest measures refresh token lookup and rotation
// throughput against Redis, and checks that contended rotations of one
// token produce exactly one winner.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	mrand "math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/session"
)

type lineage struct {
	mu   sync.Mutex
	hash string
}

func main() {
	var (
		lineages    = flag.Int("lineages", 50000, "refresh token lineages to seed")
		concurrency = flag.Int("concurrency", 256, "concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase")
		races       = flag.Int("races", 500, "contended rotations, each raced by every worker")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "authcore-load", "refresh token key prefix")
	)
	flag.Parse()

	if *lineages <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "lineages, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()
	client, cleanup, err := connect(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	store := session.NewRedisStore(client, *prefix, time.Hour)

	states := make([]lineage, *lineages)
	fmt.Printf("seeding %d lineages...\n", *lineages)
	startSeed := time.Now()
	for i := range states {
		hash, err := seedToken(ctx, store, fmt.Sprintf("user-%d", i%1000))
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
		states[i].hash = hash
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	lookupStats := runPhase(*ops, *concurrency, func(r *mrand.Rand, _ int) error {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		hash := state.hash
		state.mu.Unlock()
		_, err := store.Lookup(ctx, hash)
		return err
	})
	rotateStats := runPhase(*ops, *concurrency, func(r *mrand.Rand, _ int) error {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		defer state.mu.Unlock()
		next, err := rotate(ctx, store, state.hash)
		if err == nil {
			state.hash = next
		}
		return err
	})
	violations := runRaces(ctx, store, *races, *concurrency)

	fmt.Println("---- results ----")
	printStats("lookup", lookupStats)
	printStats("rotate", rotateStats)
	fmt.Printf("contended: races=%d violations=%d\n", *races, violations)
	if violations > 0 {
		os.Exit(1)
	}
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func seedToken(ctx context.Context, store session.Store, userID string) (string, error) {
	_, record, err := session.Issue(rand.Reader, userID, "", time.Now(), 24*time.Hour)
	if err != nil {
		return "", err
	}
	if err := store.Create(ctx, record); err != nil {
		return "", err
	}
	return record.TokenHash, nil
}

// rotate replaces presented with a fresh successor and returns the
// successor's hash.
func rotate(ctx context.Context, store session.Store, presented string) (string, error) {
	_, successor, err := session.Issue(rand.Reader, "", "", time.Now(), 24*time.Hour)
	if err != nil {
		return "", err
	}
	if _, err := store.Rotate(ctx, presented, successor, time.Now()); err != nil {
		return "", err
	}
	return successor.TokenHash, nil
}

// runRaces rotates one fresh token from every worker at once and counts
// races that did not end with exactly one winner.
func runRaces(ctx context.Context, store session.Store, races, concurrency int) int {
	violations := 0
	for i := 0; i < races; i++ {
		hash, err := seedToken(ctx, store, "racer")
		if err != nil {
			fmt.Fprintf(os.Stderr, "race seed failed: %v\n", err)
			return violations + 1
		}
		var (
			wg      sync.WaitGroup
			winners int64
			other   int64
		)
		start := make(chan struct{})
		for w := 0; w < concurrency; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := rotate(ctx, store, hash)
				switch {
				case err == nil:
					atomic.AddInt64(&winners, 1)
				case errors.Is(err, session.ErrRevoked):
				default:
					atomic.AddInt64(&other, 1)
				}
			}()
		}
		close(start)
		wg.Wait()
		if winners != 1 || other != 0 {
			violations++
		}
	}
	return violations
}

func runPhase(ops, concurrency int, op func(r *mrand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
