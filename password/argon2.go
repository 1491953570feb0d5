package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Lower bounds accepted both in Config and in stored hashes.
const (
	floorMemoryKB   = 8 * 1024
	floorTime       = 1
	floorThreads    = 1
	floorSaltBytes  = 16
	floorKeyBytes   = 16
	ceilingFactor   = 4
	ceilingKeyBytes = 1024
	phcAlgorithm    = "argon2id"
	phcPrefix       = "$" + phcAlgorithm + "$"
	defaultMaxBytes = 1024
)

// Config holds argon2id cost parameters and password length bounds.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	// MinLength and MaxLength bound the raw password size in bytes.
	// MaxLength defaults to 1024 when zero.
	MinLength int
	MaxLength int

	// Rand supplies salt bytes. Defaults to crypto/rand.Reader.
	Rand io.Reader
}

// cost is the part of an argon2id hash that decides how expensive it is.
type cost struct {
	memory  uint32
	time    uint32
	threads uint8
	keyLen  uint32
}

func (c cost) weakerThan(o cost) bool {
	return c.memory < o.memory || c.time < o.time || c.threads < o.threads || c.keyLen != o.keyLen
}

// ceiling is the most expensive cost a stored hash may ask for. Anything
// above it is treated as corrupt rather than computed.
func (c cost) ceiling() (mem, iter, par uint64) {
	return ceilingFactor * uint64(c.memory), ceilingFactor * uint64(c.time), ceilingFactor * uint64(c.threads)
}

func (c cost) derive(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, c.time, c.memory, c.threads, c.keyLen)
}

// phc is a decoded "$argon2id$v=19$m=..,t=..,p=..$salt$hash" string.
type phc struct {
	cost
	salt []byte
	sum  []byte
}

func (p phc) String() string {
	return fmt.Sprintf("%s%s$%s$%s",
		phcPrefix,
		phcParams(argon2.Version, p.cost),
		base64.RawStdEncoding.EncodeToString(p.salt),
		base64.RawStdEncoding.EncodeToString(p.sum),
	)
}

func phcParams(version int, c cost) string {
	return fmt.Sprintf("v=%d$m=%d,t=%d,p=%d", version, c.memory, c.time, c.threads)
}

// Argon2 produces and checks PHC-encoded argon2id hashes.
type Argon2 struct {
	cost     cost
	saltLen  uint32
	minBytes int
	maxBytes int
	rand     io.Reader
}

// NewArgon2 validates cfg and returns an argon2id algorithm.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	a := &Argon2{
		cost: cost{
			memory:  cfg.Memory,
			time:    cfg.Time,
			threads: cfg.Parallelism,
			keyLen:  cfg.KeyLength,
		},
		saltLen:  cfg.SaltLength,
		minBytes: cfg.MinLength,
		maxBytes: cfg.MaxLength,
		rand:     cfg.Rand,
	}
	if a.maxBytes == 0 {
		a.maxBytes = defaultMaxBytes
	}
	if a.rand == nil {
		a.rand = rand.Reader
	}
	return a, nil
}

// Hash derives a new salted hash. Password bytes are used as given, without
// Unicode normalization.
func (a *Argon2) Hash(password string) (string, error) {
	switch n := len(password); {
	case n == 0:
		return "", ErrEmptyPassword
	case n < a.minBytes:
		return "", fmt.Errorf("%w: shorter than %d bytes", ErrPolicy, a.minBytes)
	case n > a.maxBytes:
		return "", fmt.Errorf("%w: longer than %d bytes", ErrPolicy, a.maxBytes)
	}

	salt := make([]byte, a.saltLen)
	if _, err := io.ReadFull(a.rand, salt); err != nil {
		return "", fmt.Errorf("password: read salt: %w", err)
	}
	return phc{cost: a.cost, salt: salt, sum: a.cost.derive(password, salt)}.String(), nil
}

// Verify recomputes the hash with the parameters embedded in encodedHash and
// compares in constant time.
func (a *Argon2) Verify(password string, encodedHash string) (bool, error) {
	if len(password) > a.maxBytes {
		return false, nil
	}
	h, err := decodePHC(encodedHash, a.cost)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(h.derive(password, h.salt), h.sum) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker
// parameters than the current configuration.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	h, err := decodePHC(encodedHash, a.cost)
	if err != nil {
		return false, err
	}
	return h.cost.weakerThan(a.cost), nil
}

// Recognizes reports whether encodedHash is in argon2id PHC format.
func (a *Argon2) Recognizes(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, phcPrefix)
}

func malformed(what string) error {
	return fmt.Errorf("%w: %s", ErrMalformedHash, what)
}

// decodePHC is strict: the version and parameter segments must round-trip
// through their canonical formatting exactly, and the cost must lie between
// the floors and limit.ceiling().
func decodePHC(encoded string, limit cost) (phc, error) {
	var h phc
	rest, ok := strings.CutPrefix(encoded, phcPrefix)
	if !ok {
		return h, malformed("not an argon2id PHC string")
	}
	seg := strings.Split(rest, "$")
	if len(seg) != 4 {
		return h, malformed("wrong number of segments")
	}

	var version int
	n, err := fmt.Sscanf(seg[0]+"$"+seg[1], "v=%d$m=%d,t=%d,p=%d", &version, &h.memory, &h.time, &h.threads)
	if err != nil || n != 4 || phcParams(version, h.cost) != seg[0]+"$"+seg[1] {
		return h, malformed("bad version or parameters")
	}
	switch {
	case version != argon2.Version:
		return h, malformed("unsupported argon2 version")
	case h.memory < floorMemoryKB, h.time < floorTime, h.threads < floorThreads:
		return h, malformed("parameters below floor")
	}
	maxMemory, maxTime, maxThreads := limit.ceiling()
	if uint64(h.memory) > maxMemory || uint64(h.time) > maxTime || uint64(h.threads) > maxThreads {
		return h, malformed("parameters above ceiling")
	}

	if h.salt, err = decodeSegment(seg[2]); err != nil || len(h.salt) < floorSaltBytes {
		return h, malformed("bad salt")
	}
	if h.sum, err = decodeSegment(seg[3]); err != nil || len(h.sum) < floorKeyBytes || len(h.sum) > ceilingKeyBytes {
		return h, malformed("bad digest")
	}
	h.keyLen = uint32(len(h.sum))
	return h, nil
}

// decodeSegment accepts both unpadded (PHC canonical) and padded base64.
func decodeSegment(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func (cfg Config) validate() error {
	switch {
	case cfg.Memory < floorMemoryKB:
		return fmt.Errorf("password: Memory must be at least %d KiB", floorMemoryKB)
	case cfg.Time < floorTime:
		return errors.New("password: Time must be at least 1")
	case cfg.Parallelism < floorThreads:
		return errors.New("password: Parallelism must be at least 1")
	case cfg.SaltLength < floorSaltBytes:
		return fmt.Errorf("password: SaltLength must be at least %d", floorSaltBytes)
	case cfg.KeyLength < floorKeyBytes:
		return fmt.Errorf("password: KeyLength must be at least %d", floorKeyBytes)
	case cfg.MinLength < 0 || cfg.MaxLength < 0:
		return errors.New("password: length bounds must not be negative")
	case cfg.MaxLength > 0 && cfg.MinLength > cfg.MaxLength:
		return errors.New("password: MinLength exceeds MaxLength")
	}
	return nil
}
