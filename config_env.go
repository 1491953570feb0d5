package authcore

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every variable read by ConfigFromEnv.
const EnvPrefix = "AUTHCORE_"

// ConfigFromEnv overlays AUTHCORE_* environment variables on base. Unset
// variables keep the base value. Key material is base64 (standard
// encoding) or PEM:
//
//	AUTHCORE_JWT_SIGNING_METHOD   ed25519 | hs256
//	AUTHCORE_JWT_PRIVATE_KEY      signing key
//	AUTHCORE_JWT_PUBLIC_KEY       verification key (ed25519)
//	AUTHCORE_JWT_KEY_ID           kid of the signing key
//	AUTHCORE_JWT_VERIFY_KEYS      kid=key,kid=key previous keys kept during rotation
//	AUTHCORE_JWT_ISSUER, AUTHCORE_JWT_AUDIENCE
//	AUTHCORE_ACCESS_TTL, AUTHCORE_REFRESH_TTL
//	AUTHCORE_LOCKOUT_MAX_ATTEMPTS, AUTHCORE_LOCKOUT_DURATION
//	AUTHCORE_RATE_LIMIT_ENABLED
//	AUTHCORE_AUTH_RATE_LIMIT, AUTHCORE_AUTH_RATE_WINDOW
//	AUTHCORE_API_RATE_LIMIT, AUTHCORE_API_RATE_WINDOW
//	AUTHCORE_PERMISSION_CACHE_TTL
//	AUTHCORE_PASSWORD_RESET_ENABLED, AUTHCORE_PASSWORD_RESET_TTL
//	AUTHCORE_REQUIRE_VERIFIED
//	AUTHCORE_AUDIT_ENABLED, AUTHCORE_METRICS_ENABLED
//	AUTHCORE_COOKIE_NAME
//
// Malformed key material is an error; other malformed values are ignored.
func ConfigFromEnv(base Config) (Config, error) {
	cfg := cloneConfig(base)

	cfg.JWT.SigningMethod = strings.ToLower(getEnv("JWT_SIGNING_METHOD", cfg.JWT.SigningMethod))
	if key, err := getEnvKey("JWT_PRIVATE_KEY"); err != nil {
		return Config{}, err
	} else if key != nil {
		cfg.JWT.PrivateKey = key
	}
	if key, err := getEnvKey("JWT_PUBLIC_KEY"); err != nil {
		return Config{}, err
	} else if key != nil {
		cfg.JWT.PublicKey = key
	}
	cfg.JWT.KeyID = getEnv("JWT_KEY_ID", cfg.JWT.KeyID)
	if raw := os.Getenv(EnvPrefix + "JWT_VERIFY_KEYS"); raw != "" {
		keys, err := parseVerifyKeys(raw)
		if err != nil {
			return Config{}, err
		}
		cfg.JWT.VerifyKeys = keys
	}
	cfg.JWT.Issuer = getEnv("JWT_ISSUER", cfg.JWT.Issuer)
	cfg.JWT.Audience = getEnv("JWT_AUDIENCE", cfg.JWT.Audience)
	cfg.JWT.AccessTTL = getEnvDuration("ACCESS_TTL", cfg.JWT.AccessTTL)
	cfg.Refresh.TTL = getEnvDuration("REFRESH_TTL", cfg.Refresh.TTL)

	cfg.Lockout.MaxFailedAttempts = getEnvInt("LOCKOUT_MAX_ATTEMPTS", cfg.Lockout.MaxFailedAttempts)
	cfg.Lockout.Duration = getEnvDuration("LOCKOUT_DURATION", cfg.Lockout.Duration)

	cfg.RateLimit.Enabled = getEnvBool("RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled)
	cfg.RateLimit.AuthLimit = getEnvInt("AUTH_RATE_LIMIT", cfg.RateLimit.AuthLimit)
	cfg.RateLimit.AuthWindow = getEnvDuration("AUTH_RATE_WINDOW", cfg.RateLimit.AuthWindow)
	cfg.RateLimit.APILimit = getEnvInt("API_RATE_LIMIT", cfg.RateLimit.APILimit)
	cfg.RateLimit.APIWindow = getEnvDuration("API_RATE_WINDOW", cfg.RateLimit.APIWindow)

	cfg.Permission.CacheTTL = getEnvDuration("PERMISSION_CACHE_TTL", cfg.Permission.CacheTTL)
	cfg.PasswordReset.Enabled = getEnvBool("PASSWORD_RESET_ENABLED", cfg.PasswordReset.Enabled)
	cfg.PasswordReset.TTL = getEnvDuration("PASSWORD_RESET_TTL", cfg.PasswordReset.TTL)
	cfg.Login.RequireVerified = getEnvBool("REQUIRE_VERIFIED", cfg.Login.RequireVerified)
	cfg.Audit.Enabled = getEnvBool("AUDIT_ENABLED", cfg.Audit.Enabled)
	cfg.Metrics.Enabled = getEnvBool("METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Transport.CookieName = getEnv("COOKIE_NAME", cfg.Transport.CookieName)

	return cfg, nil
}

func parseVerifyKeys(raw string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		// Cut splits on the first "=", so trailing base64 padding survives.
		kid, encoded, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(kid) == "" {
			return nil, fmt.Errorf("%sJWT_VERIFY_KEYS: malformed entry %q", EnvPrefix, pair)
		}
		key, err := decodeKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("%sJWT_VERIFY_KEYS: kid %q: %w", EnvPrefix, kid, err)
		}
		out[strings.TrimSpace(kid)] = key
	}
	return out, nil
}

func getEnvKey(key string) ([]byte, error) {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return nil, nil
	}
	decoded, err := decodeKey(value)
	if err != nil {
		return nil, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	return decoded, nil
}

// decodeKey accepts PEM as-is and otherwise base64 with or without padding.
func decodeKey(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "-----BEGIN") {
		return []byte(value), nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return base64.RawStdEncoding.DecodeString(value)
}

// lookupEnv reads EnvPrefix+key. An empty value counts as unset.
func lookupEnv(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(EnvPrefix + key))
	return value, value != ""
}

func getEnv(key, fallback string) string {
	if value, ok := lookupEnv(key); ok {
		return value
	}
	return fallback
}

// getEnvBool takes anything strconv.ParseBool does; other values leave
// fallback in place.
func getEnvBool(key string, fallback bool) bool {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration parses Go duration syntax such as "15m" or "720h".
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
