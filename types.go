package authcore

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/permission"
)

// User is the identity anchor read through [UserStore]. Users are
// soft-deactivated, never deleted while refresh tokens reference them.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Active       bool
	Verified     bool
	FailedLogins int
	// LockedUntil is zero when the account is not locked.
	LockedUntil time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Locked reports whether the account lock is in effect at now.
func (u User) Locked(now time.Time) bool {
	return !u.LockedUntil.IsZero() && now.Before(u.LockedUntil)
}

// UserStore is the persistence contract the Engine needs for users. Lookups
// of unknown users return an error wrapping [ErrUserNotFound]. Email lookups
// receive the normalised (trimmed, lower-case) address.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	// IncrementFailedLogins atomically increments the counter and returns
	// the new value.
	IncrementFailedLogins(ctx context.Context, userID string) (int, error)
	ResetFailedLogins(ctx context.Context, userID string) error
	// SetLockedUntil sets the lock expiry. The zero time unlocks.
	SetLockedUntil(ctx context.Context, userID string, until time.Time) error
}

// PublicUser is the subset of [User] returned to clients.
type PublicUser struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Verified    bool     `json:"verified"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// TokenPair is the result of a successful refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64 `json:"expiresIn"`
}

// LoginResult is the result of a successful login.
type LoginResult struct {
	TokenPair
	User PublicUser `json:"user"`
}

// LogoutScope selects what Logout revokes.
type LogoutScope uint8

const (
	// LogoutSession revokes only the presented refresh token.
	LogoutSession LogoutScope = iota
	// LogoutAll revokes every refresh token of the token's owner.
	LogoutAll
)

// Identity is an authenticated caller, built from access token claims.
// Roles and Permissions are the snapshot taken when the token was issued.
type Identity struct {
	UserID      string
	Email       string
	Roles       []string
	Permissions []string
	TokenID     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Administrator role and permission. Admin status is derived from holding
// both; there is no separate flag.
const (
	AdminRole       = "admin"
	AdminPermission = "admin:manage"
)

// HasRole reports whether role is in the snapshot.
func (i *Identity) HasRole(role string) bool {
	return i != nil && permission.NewSet(i.Roles...).Has(role)
}

// HasPermission reports whether perm is in the snapshot.
func (i *Identity) HasPermission(perm string) bool {
	return i != nil && permission.NewSet(i.Permissions...).Has(perm)
}

// IsAdmin reports whether the identity holds the admin role and the
// admin:manage permission.
func (i *Identity) IsAdmin() bool {
	return i.HasRole(AdminRole) && i.HasPermission(AdminPermission)
}

// Clock is the Engine's time source.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to [Clock].
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// LimitClass selects a rate limiter configuration.
type LimitClass uint8

const (
	// LimitAuth is the tight budget for credential endpoints.
	LimitAuth LimitClass = iota
	// LimitAPI is the loose budget for general traffic.
	LimitAPI
)

func (c LimitClass) String() string {
	if c == LimitAPI {
		return "api"
	}
	return "auth"
}

// RateLimitDecision is the outcome of [Engine.CheckRateLimit].
type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// Enforced is false when the class is disabled or the counter store
	// failed and the request was let through.
	Enforced bool
}

// RetryAfter returns the wait until the window resets, rounded up to whole
// seconds and at least one second.
func (d RateLimitDecision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return time.Second
	}
	return ((wait + time.Second - 1) / time.Second) * time.Second
}
