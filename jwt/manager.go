package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the access token signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Ed25519 keys.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 over a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

const (
	maxLeeway           = 2 * time.Minute
	defaultMaxFutureIAT = 10 * time.Minute
	maxFutureIATCeiling = 24 * time.Hour
)

var (
	// ErrExpired is returned when now >= exp.
	ErrExpired = errors.New("access token expired")
	// ErrBadSignature is returned for an invalid signature, an unexpected
	// algorithm or an unknown key id.
	ErrBadSignature = errors.New("access token signature invalid")
	// ErrMalformed is returned for anything that is not a well-formed token
	// with the expected claims.
	ErrMalformed = errors.New("access token malformed")

	errNoSigningKey = errors.New("jwt: manager has no signing key")
	errMissingKID   = errors.New("jwt: token has no kid")
	errUnknownKID   = errors.New("jwt: unknown kid")
)

// Config configures a Manager.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	MaxFutureIAT  time.Duration

	// KeyID is written to the kid header of issued tokens. VerifyKeys maps
	// every accepted kid to its verification key, so a previous key can keep
	// verifying while a new one signs.
	KeyID      string
	VerifyKeys map[string][]byte

	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager issues and verifies access tokens. Key material is decoded once in
// NewManager; a Manager is safe for concurrent use.
type Manager struct {
	ttl          time.Duration
	issuer       string
	audience     string
	kid          string
	maxFutureIAT time.Duration
	now          func() time.Time

	method jwt.SigningMethod
	keys   keyring
	parser *jwt.Parser
}

// keyring holds decoded keys. byKID, when non-empty, is authoritative: every
// token must name one of its kids.
type keyring struct {
	sign   any
	verify any
	byKID  map[string]any
}

// Subject is the identity snapshot embedded in an access token.
type Subject struct {
	UserID      string
	Email       string
	Roles       []string
	Permissions []string
}

// AccessClaims is the flat wire shape of an access token payload.
type AccessClaims struct {
	UserID      string   `json:"userId"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// NewManager validates cfg, decodes its keys and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	switch {
	case cfg.AccessTTL <= 0:
		return nil, errors.New("jwt: AccessTTL must be positive")
	case cfg.Leeway < 0 || cfg.Leeway > maxLeeway:
		return nil, fmt.Errorf("jwt: Leeway must be within [0, %s]", maxLeeway)
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = defaultMaxFutureIAT
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > maxFutureIATCeiling {
		return nil, fmt.Errorf("jwt: MaxFutureIAT must be within (0, %s]", maxFutureIATCeiling)
	}

	m := &Manager{
		ttl:          cfg.AccessTTL,
		issuer:       cfg.Issuer,
		audience:     cfg.Audience,
		kid:          strings.TrimSpace(cfg.KeyID),
		maxFutureIAT: cfg.MaxFutureIAT,
		now:          cfg.Now,
	}
	if m.now == nil {
		m.now = time.Now
	}

	var decode func([]byte) (any, error)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("jwt: hs256 needs a shared secret in PrivateKey")
		}
		m.method = jwt.SigningMethodHS256
		m.keys.sign = cfg.PrivateKey
		m.keys.verify = cfg.PrivateKey
		decode = func(b []byte) (any, error) { return b, nil }
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		decode = func(b []byte) (any, error) { return decodeEdPublic(b) }
		if len(cfg.PrivateKey) > 0 {
			priv, err := decodeEdPrivate(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			m.keys.sign = priv
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := decodeEdPublic(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			m.keys.verify = pub
		}
		if m.keys.verify == nil && len(cfg.VerifyKeys) == 0 {
			return nil, errors.New("jwt: ed25519 needs PublicKey or VerifyKeys")
		}
	default:
		return nil, fmt.Errorf("jwt: unsupported signing method %q", cfg.SigningMethod)
	}

	if len(cfg.VerifyKeys) > 0 {
		m.keys.byKID = make(map[string]any, len(cfg.VerifyKeys))
		for kid, raw := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("jwt: VerifyKeys has an empty kid")
			}
			if len(raw) == 0 {
				return nil, fmt.Errorf("jwt: VerifyKeys[%q] is empty", kid)
			}
			key, err := decode(raw)
			if err != nil {
				return nil, fmt.Errorf("jwt: VerifyKeys[%q]: %w", kid, err)
			}
			m.keys.byKID[kid] = key
		}
		if _, ok := m.keys.byKID[m.kid]; m.kid != "" && !ok {
			return nil, fmt.Errorf("jwt: KeyID %q is not in VerifyKeys", m.kid)
		}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.RequireIAT {
		opts = append(opts, jwt.WithIssuedAt())
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}
	m.parser = jwt.NewParser(opts...)

	return m, nil
}

// TTL returns the configured access token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a token for sub and returns it with its expiry.
func (m *Manager) Issue(sub Subject) (string, time.Time, error) {
	if m.keys.sign == nil {
		return "", time.Time{}, errNoSigningKey
	}

	issuedAt := m.now()
	expiresAt := issuedAt.Add(m.ttl)
	reg := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	if m.audience != "" {
		reg.Audience = jwt.ClaimStrings{m.audience}
	}

	tok := jwt.NewWithClaims(m.method, AccessClaims{
		UserID:           sub.UserID,
		Email:            sub.Email,
		Roles:            orEmpty(sub.Roles),
		Permissions:      orEmpty(sub.Permissions),
		RegisteredClaims: reg,
	})
	if m.kid != "" {
		tok.Header["kid"] = m.kid
	}

	signed, err := tok.SignedString(m.keys.sign)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: sign: %w", err)
	}
	return signed, reg.ExpiresAt.Time, nil
}

// Parse verifies raw and returns its claims. Errors are always one of
// ErrExpired, ErrBadSignature or ErrMalformed, wrapping the parser cause.
func (m *Manager) Parse(raw string) (*AccessClaims, error) {
	if raw == "" {
		return nil, ErrMalformed
	}

	claims := &AccessClaims{}
	tok, err := m.parser.ParseWithClaims(raw, claims, m.lookupKey)
	switch {
	case err != nil:
		return nil, classify(err)
	case !tok.Valid:
		return nil, ErrMalformed
	case claims.UserID == "":
		return nil, fmt.Errorf("%w: missing userId", ErrMalformed)
	}

	if iat := claims.IssuedAt; iat != nil && iat.Time.After(m.now().Add(m.maxFutureIAT)) {
		return nil, fmt.Errorf("%w: iat too far in the future", ErrMalformed)
	}
	return claims, nil
}

func (m *Manager) lookupKey(tok *jwt.Token) (any, error) {
	if alg := tok.Method.Alg(); alg != m.method.Alg() {
		return nil, fmt.Errorf("jwt: unexpected algorithm %s", alg)
	}

	kid, _ := tok.Header["kid"].(string)
	if len(m.keys.byKID) > 0 {
		if kid == "" {
			return nil, errMissingKID
		}
		key, ok := m.keys.byKID[kid]
		if !ok {
			return nil, errUnknownKID
		}
		return key, nil
	}
	if m.kid != "" && kid != m.kid {
		return nil, errUnknownKID
	}
	if m.keys.verify == nil {
		return nil, errUnknownKID
	}
	return m.keys.verify, nil
}

func classify(err error) error {
	kind := ErrMalformed
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		kind = ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		kind = ErrBadSignature
	}
	return fmt.Errorf("%w: %v", kind, err)
}

func orEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// decodeEdPrivate accepts a raw 64-byte key or a PKCS#8 PEM block.
func decodeEdPrivate(b []byte) (ed25519.PrivateKey, error) {
	if len(b) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(b), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("jwt: ed25519 private key: %w", err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("jwt: ed25519 private key: unexpected type %T", parsed)
	}
	return key, nil
}

// decodeEdPublic accepts a raw 32-byte key or a PKIX PEM block.
func decodeEdPublic(b []byte) (ed25519.PublicKey, error) {
	if len(b) == ed25519.PublicKeySize {
		return ed25519.PublicKey(b), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("jwt: ed25519 public key: %w", err)
	}
	key, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("jwt: ed25519 public key: unexpected type %T", parsed)
	}
	return key, nil
}
