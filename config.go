package authcore

import (
	"errors"
	"strings"
	"time"
)

// Config holds every tunable of an Engine. Obtain one from DefaultConfig or
// ConfigFromEnv, adjust it, and pass it to Builder.WithConfig.
type Config struct {
	JWT           JWTConfig
	Refresh       RefreshConfig
	Password      PasswordConfig
	Lockout       LockoutConfig
	Login         LoginConfig
	PasswordReset PasswordResetConfig
	RateLimit     RateLimitConfig
	Permission    PermissionConfig
	Cache         CacheConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
	Transport     TransportConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access tokens.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration

	// KeyID is written to the kid header. VerifyKeys lists previous keys
	// that must keep verifying during a rotation; the current key is added
	// under KeyID automatically.
	KeyID      string
	VerifyKeys map[string][]byte
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig configures opaque refresh tokens.
type RefreshConfig struct {
	TTL         time.Duration
	RedisPrefix string
	// Retain keeps revoked records past their expiry so replays are
	// reported as revoked instead of unknown.
	Retain time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig configures the argon2id primary hasher and the bcrypt
// legacy verifier.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MinLength int
	MaxLength int

	UpgradeOnLogin bool
	// AcceptBcrypt verifies $2a$/$2b$/$2y$ hashes from earlier deployments.
	AcceptBcrypt bool
	BcryptCost   int
}

// LockoutConfig locks an account after repeated password failures.
type LockoutConfig struct {
	Enabled           bool
	MaxFailedAttempts int
	Duration          time.Duration
}

// LoginConfig holds login policy switches.
type LoginConfig struct {
	RequireVerified bool
}

// PasswordResetConfig configures the token based reset flow.
type PasswordResetConfig struct {
	Enabled bool
	TTL     time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig configures the two limiter classes. A zero limit disables
// the class.
type RateLimitConfig struct {
	Enabled    bool
	Prefix     string
	AuthLimit  int
	AuthWindow time.Duration
	APILimit   int
	APIWindow  time.Duration
}

/*
====================================
PERMISSION / CACHE CONFIG
====================================
*/

// PermissionConfig configures permission resolution caching.
type PermissionConfig struct {
	CacheTTL    time.Duration
	CachePrefix string
}

// CacheConfig configures the shared key-value store used by the permission
// cache, the rate limiter and reset tokens.
type CacheConfig struct {
	// RedisPrefix namespaces keys when the store is Redis.
	RedisPrefix string
	// LRUSize bounds the in-process store used when no Redis client is set.
	LRUSize int
}

// AuditConfig configures audit dispatching.
type AuditConfig struct {
	Enabled     bool
	BufferSize  int
	DropIfFull  bool
	SinkTimeout time.Duration
}

// MetricsConfig configures in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// TransportConfig configures how HTTP transports find credentials.
type TransportConfig struct {
	// CookieName is read when no Authorization header is present.
	CookieName string
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration. Signing keys are not
// set and must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
		},
		Refresh: RefreshConfig{
			TTL:         7 * 24 * time.Hour,
			RedisPrefix: "authcore",
			Retain:      24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      8,
			MaxLength:      1024,
			UpgradeOnLogin: true,
			AcceptBcrypt:   true,
			BcryptCost:     12,
		},
		Lockout: LockoutConfig{
			Enabled:           true,
			MaxFailedAttempts: 5,
			Duration:          15 * time.Minute,
		},
		PasswordReset: PasswordResetConfig{
			Enabled: false,
			TTL:     15 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:    true,
			Prefix:     "rl",
			AuthLimit:  5,
			AuthWindow: time.Minute,
			APILimit:   300,
			APIWindow:  time.Minute,
		},
		Permission: PermissionConfig{
			CacheTTL:    5 * time.Minute,
			CachePrefix: "perm",
		},
		Cache: CacheConfig{
			RedisPrefix: "authcore",
			LRUSize:     10000,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Transport: TransportConfig{
			CookieName: "access_token",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}
	if len(c.JWT.VerifyKeys) > 0 && strings.TrimSpace(c.JWT.KeyID) == "" {
		return errors.New("JWT VerifyKeys requires KeyID")
	}

	// Refresh
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}
	if c.Refresh.TTL <= c.JWT.AccessTTL {
		return errors.New("Refresh TTL must exceed JWT AccessTTL")
	}
	if c.Refresh.Retain < 0 {
		return errors.New("Refresh Retain must be >= 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}
	if c.Password.AcceptBcrypt && (c.Password.BcryptCost < 10 || c.Password.BcryptCost > 31) {
		return errors.New("Password BcryptCost must be between 10 and 31")
	}

	// Lockout
	if c.Lockout.Enabled {
		if c.Lockout.MaxFailedAttempts <= 0 {
			return errors.New("Lockout MaxFailedAttempts must be > 0")
		}
		if c.Lockout.Duration <= 0 {
			return errors.New("Lockout Duration must be > 0")
		}
	}

	// Password Reset
	if c.PasswordReset.Enabled && c.PasswordReset.TTL <= 0 {
		return errors.New("PasswordReset TTL must be > 0")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if c.RateLimit.AuthLimit < 0 || c.RateLimit.APILimit < 0 {
			return errors.New("RateLimit limits must be >= 0")
		}
		if c.RateLimit.AuthLimit > 0 && c.RateLimit.AuthWindow <= 0 {
			return errors.New("RateLimit AuthWindow must be > 0")
		}
		if c.RateLimit.APILimit > 0 && c.RateLimit.APIWindow <= 0 {
			return errors.New("RateLimit APIWindow must be > 0")
		}
	}

	// Permission cache
	if c.Permission.CacheTTL < 0 {
		return errors.New("Permission CacheTTL must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	if strings.TrimSpace(c.Transport.CookieName) == "" {
		return errors.New("Transport CookieName must be set")
	}

	return nil
}
