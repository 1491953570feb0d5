package authcore

import (
	"errors"
	"io"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/kv"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/session"
)

// dummyPassword is hashed once at build time. Unknown-user logins verify
// against it so they cost the same as wrong-password logins.
const dummyPassword = "authcore-timing-equalizer"

// Builder assembles an Engine. A Builder can be built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users        UserStore
	permissions  permission.Store
	sessions     session.Store
	cache        kv.Store
	registry     *permission.Registry
	auditSink    AuditSink
	logger       logrus.FieldLogger
	clock        Clock
	random       io.Reader
	permNames    []string
	metricsOn    *bool
	histogramsOn *bool

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing refresh tokens and, unless WithCache
// is used, the shared key-value store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore is required.
func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.users = store
	return b
}

// WithPermissionStore is required.
func (b *Builder) WithPermissionStore(store permission.Store) *Builder {
	b.permissions = store
	return b
}

// WithSessionStore overrides the Redis refresh token store, for example
// with the Postgres implementation.
func (b *Builder) WithSessionStore(store session.Store) *Builder {
	b.sessions = store
	return b
}

// WithCache overrides the key-value store shared by the permission cache,
// rate limiter and reset tokens. Without Redis or a cache the Engine uses
// a bounded in-process LRU, which is only correct for a single instance.
func (b *Builder) WithCache(store kv.Store) *Builder {
	b.cache = store
	return b
}

// WithPermissions declares the permission catalog. When set, role
// permission sets and route requirements are checked against it.
func (b *Builder) WithPermissions(names ...string) *Builder {
	b.permNames = append(b.permNames, names...)
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger logrus.FieldLogger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces the system clock, mainly for tests.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// WithRandom replaces crypto/rand as the source of refresh and reset token
// bytes.
func (b *Builder) WithRandom(r io.Reader) *Builder {
	b.random = r
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.metricsOn = &enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.histogramsOn = &enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if b.metricsOn != nil {
		cfg.Metrics.Enabled = *b.metricsOn
	}
	if b.histogramsOn != nil {
		cfg.Metrics.EnableLatencyHistograms = *b.histogramsOn
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if b.permissions == nil {
		return nil, errors.New("permission store required")
	}
	if b.sessions == nil && b.redis == nil {
		return nil, errors.New("redis client or session store required")
	}

	engine := &Engine{
		config: cfg,
		users:  b.users,
		clock:  b.clock,
		random: b.random,
		log:    b.logger,
	}
	if engine.clock == nil {
		engine.clock = systemClock{}
	}
	if engine.log == nil {
		engine.log = logrus.StandardLogger()
	}
	engine.log = engine.log.WithField("component", "authcore")
	engine.metrics = NewMetrics(cfg.Metrics)

	// -------- PERMISSION REGISTRY --------
	if len(b.permNames) > 0 {
		registry := permission.NewRegistry()
		for _, name := range b.permNames {
			if err := registry.Register(strings.TrimSpace(name)); err != nil {
				return nil, err
			}
		}
		registry.Freeze()
		engine.registry = registry
	}

	// -------- KEY-VALUE STORE --------
	store := b.cache
	switch {
	case store != nil:
	case b.redis != nil:
		store = kv.NewRedis(b.redis, cfg.Cache.RedisPrefix)
	default:
		store = kv.NewMemory(kv.MemoryConfig{Size: cfg.Cache.LRUSize, Now: engine.clock.Now})
	}
	engine.kv = store

	// -------- PERMISSIONS --------
	engine.perms = permission.NewService(b.permissions, store, permission.ServiceConfig{
		CacheTTL:  cfg.Permission.CacheTTL,
		KeyPrefix: cfg.Permission.CachePrefix,
		Registry:  engine.registry,
		Now:       engine.clock.Now,
		Logger:    engine.log,
		Hooks: permission.Hooks{
			CacheHit:      func() { engine.metricInc(MetricPermissionCacheHit) },
			CacheMiss:     func() { engine.metricInc(MetricPermissionCacheMiss) },
			StoreDegraded: func() { engine.metricInc(MetricPermissionStoreDegraded) },
		},
	})

	// -------- SESSIONS --------
	engine.sessions = b.sessions
	if engine.sessions == nil {
		engine.sessions = session.NewRedisStore(b.redis, cfg.Refresh.RedisPrefix, cfg.Refresh.Retain)
	}

	// -------- RATE LIMIT --------
	if cfg.RateLimit.Enabled {
		engine.limiter = rate.New(store, cfg.RateLimit.Prefix, engine.clock.Now)
	}

	// -------- PASSWORDS --------
	primary, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
		MinLength:   cfg.Password.MinLength,
		MaxLength:   cfg.Password.MaxLength,
	})
	if err != nil {
		return nil, err
	}
	var legacy []password.Algorithm
	if cfg.Password.AcceptBcrypt {
		bc, err := password.NewBcrypt(cfg.Password.BcryptCost)
		if err != nil {
			return nil, err
		}
		legacy = append(legacy, bc)
	}
	engine.hasher, err = password.NewHasher(primary, legacy...)
	if err != nil {
		return nil, err
	}
	engine.dummyHash, err = engine.hasher.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}

	// -------- ACCESS TOKENS --------
	verifyKeys := cfg.JWT.VerifyKeys
	if len(verifyKeys) > 0 {
		current := cfg.JWT.PublicKey
		if cfg.JWT.SigningMethod == "hs256" {
			current = cfg.JWT.PrivateKey
		}
		if _, ok := verifyKeys[cfg.JWT.KeyID]; !ok {
			verifyKeys[cfg.JWT.KeyID] = cloneBytes(current)
		}
	}
	engine.tokens, err = jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    verifyKeys,
		Now:           engine.clock.Now,
	})
	if err != nil {
		return nil, err
	}

	// -------- AUDIT --------
	// Must stay last: the dispatcher owns a goroutine.
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:     cfg.Audit.Enabled,
		BufferSize:  cfg.Audit.BufferSize,
		DropIfFull:  cfg.Audit.DropIfFull,
		SinkTimeout: cfg.Audit.SinkTimeout,
	}, b.auditSink, engine.log)

	b.built = true

	return engine, nil
}
