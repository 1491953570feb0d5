package jwt

import (
	"errors"
	"testing"
	"time"
)

func FuzzParse(f *testing.F) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	m, err := NewManager(Config{
		AccessTTL:     5 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "authcore",
		RequireIAT:    true,
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": []byte("0123456789abcdef0123456789abcdef")},
		Now:           clock.Now,
	})
	if err != nil {
		f.Fatal(err)
	}
	good, _, err := m.Issue(testSubject())
	if err != nil {
		f.Fatal(err)
	}

	for _, seed := range []string{
		good,
		good[:len(good)-4],
		"",
		"a.b.c",
		"eyJhbGciOiJub25lIn0.eyJ1c2VySWQiOiJ4In0.",
		"eyJhbGciOiJIUzI1NiIsImtpZCI6ImsyIn0.e30.sig",
	} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		claims, err := m.Parse(raw)
		if err != nil {
			if !errors.Is(err, ErrMalformed) && !errors.Is(err, ErrBadSignature) && !errors.Is(err, ErrExpired) {
				t.Fatalf("unclassified error %v", err)
			}
			return
		}
		if claims == nil || claims.UserID == "" {
			t.Fatalf("accepted token without identity: %+v", claims)
		}
	})
}
