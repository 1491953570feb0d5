package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

const secretSize = 32

// ErrMalformedToken is returned for token strings that cannot have been
// produced by NewToken.
var ErrMalformedToken = errors.New("malformed refresh token")

// NewToken reads 32 bytes from r (crypto/rand.Reader when nil) and returns
// the opaque token string.
func NewToken(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	var secret [secretSize]byte
	if _, err := io.ReadFull(r, secret[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(secret[:]), nil
}

// HashToken returns the lookup digest for token after checking its shape.
func HashToken(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != secretSize {
		return "", ErrMalformedToken
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Issue creates a new token and its record. familyID may be empty to start a
// new lineage.
func Issue(r io.Reader, userID, familyID string, now time.Time, ttl time.Duration) (string, *RefreshToken, error) {
	plain, err := NewToken(r)
	if err != nil {
		return "", nil, err
	}
	hash, err := HashToken(plain)
	if err != nil {
		return "", nil, err
	}
	if familyID == "" {
		familyID = uuid.NewString()
	}

	return plain, &RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		FamilyID:  familyID,
		TokenHash: hash,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}
