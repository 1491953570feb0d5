package password

import "errors"

var (
	// ErrEmptyPassword is returned when hashing an empty password.
	ErrEmptyPassword = errors.New("password is empty")
	// ErrPolicy is returned when a password is outside the configured length bounds.
	ErrPolicy = errors.New("password policy violation")
	// ErrMalformedHash is returned when a stored hash cannot be parsed.
	ErrMalformedHash = errors.New("malformed password hash")
)

// Algorithm is one encoded hash format.
type Algorithm interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
	Recognizes(encodedHash string) bool
}

// Hasher hashes with a primary algorithm and verifies against whichever
// configured algorithm recognizes the stored hash prefix.
type Hasher struct {
	primary Algorithm
	legacy  []Algorithm
}

// NewHasher returns a Hasher. primary must not be nil.
func NewHasher(primary Algorithm, legacy ...Algorithm) (*Hasher, error) {
	if primary == nil {
		return nil, errors.New("primary password algorithm required")
	}
	out := make([]Algorithm, 0, len(legacy))
	for _, alg := range legacy {
		if alg != nil {
			out = append(out, alg)
		}
	}
	return &Hasher{primary: primary, legacy: out}, nil
}

// Hash produces a new primary-format hash.
func (h *Hasher) Hash(password string) (string, error) {
	return h.primary.Hash(password)
}

// Verify reports whether password matches encodedHash. Unknown formats,
// corrupt hashes and computation errors all yield false.
func (h *Hasher) Verify(password, encodedHash string) bool {
	alg := h.algorithmFor(encodedHash)
	if alg == nil {
		return false
	}
	ok, err := alg.Verify(password, encodedHash)
	if err != nil {
		return false
	}
	return ok
}

// NeedsUpgrade reports whether encodedHash should be replaced with a fresh
// primary hash after a successful verification.
func (h *Hasher) NeedsUpgrade(encodedHash string) bool {
	if h.primary.Recognizes(encodedHash) {
		upgrade, err := h.primary.NeedsUpgrade(encodedHash)
		return err == nil && upgrade
	}
	return h.algorithmFor(encodedHash) != nil
}

func (h *Hasher) algorithmFor(encodedHash string) Algorithm {
	if h.primary.Recognizes(encodedHash) {
		return h.primary
	}
	for _, alg := range h.legacy {
		if alg.Recognizes(encodedHash) {
			return alg
		}
	}
	return nil
}
