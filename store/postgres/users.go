package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/authcore"
)

// Users implements authcore.UserStore.
type Users struct {
	db  *sql.DB
	now func() time.Time
}

func NewUsers(db *sql.DB) *Users {
	return &Users{db: db, now: time.Now}
}

const userColumns = `id, email, password_hash, active, verified, failed_logins, locked_until, created_at, updated_at`

// CreateUser inserts u. An empty ID is replaced with a random UUID.
func (s *Users) CreateUser(ctx context.Context, u authcore.User) (authcore.User, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, u.ID, u.Email, u.PasswordHash, u.Active, u.Verified, u.FailedLogins, nullTime(u.LockedUntil), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return authcore.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *Users) GetUserByEmail(ctx context.Context, email string) (authcore.User, error) {
	return s.get(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (s *Users) GetUserByID(ctx context.Context, userID string) (authcore.User, error) {
	return s.get(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
}

func (s *Users) get(ctx context.Context, query string, arg string) (authcore.User, error) {
	var (
		u      authcore.User
		locked sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Active, &u.Verified,
		&u.FailedLogins, &locked, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return authcore.User{}, authcore.ErrUserNotFound
	}
	if err != nil {
		return authcore.User{}, err
	}
	if locked.Valid {
		u.LockedUntil = locked.Time
	}
	return u, nil
}

func (s *Users) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	return s.exec(ctx, `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`, userID, hash, s.now().UTC())
}

// IncrementFailedLogins increments in a single statement so concurrent
// failures are all counted.
func (s *Users) IncrementFailedLogins(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		UPDATE users SET failed_logins = failed_logins + 1, updated_at = $2
		WHERE id = $1
		RETURNING failed_logins
	`, userID, s.now().UTC()).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, authcore.ErrUserNotFound
	}
	return n, err
}

func (s *Users) ResetFailedLogins(ctx context.Context, userID string) error {
	return s.exec(ctx, `UPDATE users SET failed_logins = 0, updated_at = $2 WHERE id = $1`, userID, s.now().UTC())
}

func (s *Users) SetLockedUntil(ctx context.Context, userID string, until time.Time) error {
	return s.exec(ctx, `UPDATE users SET locked_until = $2, updated_at = $3 WHERE id = $1`, userID, nullTime(until), s.now().UTC())
}

// SetActive soft-deactivates or reactivates a user.
func (s *Users) SetActive(ctx context.Context, userID string, active bool) error {
	return s.exec(ctx, `UPDATE users SET active = $2, updated_at = $3 WHERE id = $1`, userID, active, s.now().UTC())
}

func (s *Users) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}
