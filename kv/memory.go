package kv

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryConfig configures the in-process backend.
type MemoryConfig struct {
	// Size bounds the number of live keys. Least recently used keys are
	// evicted first.
	Size int
	// MaxTTL caps how long any key is retained regardless of its own TTL.
	MaxTTL time.Duration
	// Now drives per-key expiry. Defaults to time.Now.
	Now func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory implements Store on a bounded expirable LRU. Per-key expiry follows
// the configured clock so tests can move time deterministically.
type Memory struct {
	mu    sync.Mutex
	cache *lru.LRU[string, memoryEntry]
	now   func() time.Time
}

// NewMemory returns an in-process Store.
func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.Size <= 0 {
		cfg.Size = 10_000
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Memory{
		cache: lru.NewLRU[string, memoryEntry](cfg.Size, nil, cfg.MaxTTL),
		now:   cfg.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.live(key)
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(entry.value), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.Add(key, memoryEntry{value: cloneBytes(value), expiresAt: m.expiry(ttl)})
	return nil
}

func (m *Memory) Take(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.live(key)
	if !ok {
		return nil, ErrNotFound
	}
	m.cache.Remove(key)
	return entry.value, nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		m.cache.Remove(k)
	}
	return nil
}

func (m *Memory) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range m.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			m.cache.Remove(k)
		}
	}
	return nil
}

func (m *Memory) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		count     int64
		expiresAt = m.expiry(ttl)
	)
	if entry, ok := m.live(key); ok {
		parsed, err := strconv.ParseInt(string(entry.value), 10, 64)
		if err == nil {
			count = parsed
		}
		expiresAt = entry.expiresAt
	}
	count++

	m.cache.Add(key, memoryEntry{value: []byte(strconv.FormatInt(count, 10)), expiresAt: expiresAt})
	return count, nil
}

// live must be called with mu held.
func (m *Memory) live(key string) (memoryEntry, bool) {
	entry, ok := m.cache.Get(key)
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		m.cache.Remove(key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
