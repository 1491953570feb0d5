package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/authcore"
)

// ErrEmailTaken is returned by CreateUser for a duplicate email.
var ErrEmailTaken = errors.New("email already registered")

// Users is a concurrency-safe authcore.UserStore.
type Users struct {
	mu      sync.RWMutex
	byID    map[string]*authcore.User
	byEmail map[string]string
	now     func() time.Time
}

// NewUsers returns an empty store. now may be nil.
func NewUsers(now func() time.Time) *Users {
	if now == nil {
		now = time.Now
	}
	return &Users{
		byID:    make(map[string]*authcore.User),
		byEmail: make(map[string]string),
		now:     now,
	}
}

// CreateUser stores u. An empty ID is replaced with a random UUID and the
// email is normalised the way the engine looks it up.
func (s *Users) CreateUser(_ context.Context, u authcore.User) (authcore.User, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Email == "" {
		return authcore.User{}, errors.New("email required")
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := s.now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[u.Email]; ok {
		return authcore.User{}, fmt.Errorf("%w: %s", ErrEmailTaken, u.Email)
	}
	if _, ok := s.byID[u.ID]; ok {
		return authcore.User{}, fmt.Errorf("user %s already exists", u.ID)
	}
	stored := u
	s.byID[u.ID] = &stored
	s.byEmail[u.Email] = u.ID
	return u, nil
}

// SetActive soft-deactivates or reactivates a user.
func (s *Users) SetActive(_ context.Context, userID string, active bool) error {
	return s.update(userID, func(u *authcore.User) { u.Active = active })
}

func (s *Users) GetUserByEmail(_ context.Context, email string) (authcore.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return authcore.User{}, authcore.ErrUserNotFound
	}
	return *s.byID[id], nil
}

func (s *Users) GetUserByID(_ context.Context, userID string) (authcore.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[userID]
	if !ok {
		return authcore.User{}, authcore.ErrUserNotFound
	}
	return *u, nil
}

func (s *Users) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	return s.update(userID, func(u *authcore.User) { u.PasswordHash = hash })
}

func (s *Users) IncrementFailedLogins(_ context.Context, userID string) (int, error) {
	var n int
	err := s.update(userID, func(u *authcore.User) {
		u.FailedLogins++
		n = u.FailedLogins
	})
	return n, err
}

func (s *Users) ResetFailedLogins(_ context.Context, userID string) error {
	return s.update(userID, func(u *authcore.User) { u.FailedLogins = 0 })
}

func (s *Users) SetLockedUntil(_ context.Context, userID string, until time.Time) error {
	return s.update(userID, func(u *authcore.User) { u.LockedUntil = until })
}

func (s *Users) update(userID string, fn func(*authcore.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	fn(u)
	u.UpdatedAt = s.now()
	return nil
}
