package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/session"
)

// Sessions implements session.Store.
type Sessions struct {
	db *sql.DB
}

func NewSessions(db *sql.DB) *Sessions {
	return &Sessions{db: db}
}

const tokenColumns = `id, user_id, family_id, token_hash, created_at, expires_at, revoked_at, replaced_by`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*session.RefreshToken, error) {
	var (
		t       session.RefreshToken
		revoked sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.FamilyID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &revoked, &t.ReplacedBy); err != nil {
		return nil, err
	}
	if revoked.Valid {
		at := revoked.Time
		t.RevokedAt = &at
	}
	return &t, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", session.ErrUnavailable, err)
}

func (s *Sessions) Create(ctx context.Context, t *session.RefreshToken) error {
	if t == nil || t.TokenHash == "" || t.UserID == "" {
		return errors.New("refresh token record requires hash and user id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, family_id, token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.UserID, t.FamilyID, t.TokenHash, t.CreatedAt.UTC(), t.ExpiresAt.UTC())
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Sessions) Lookup(ctx context.Context, tokenHash string) (*session.RefreshToken, error) {
	t, err := scanToken(s.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE token_hash = $1`, tokenHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return t, nil
}

// Rotate revokes the presented record only if it is live, then inserts the
// successor in the same transaction.
func (s *Sessions) Rotate(ctx context.Context, presentedHash string, successor *session.RefreshToken, now time.Time) (*session.RefreshToken, error) {
	if successor == nil || successor.TokenHash == "" || successor.ID == "" {
		return nil, errors.New("successor record requires hash and id")
	}
	now = now.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	prev, err := scanToken(tx.QueryRowContext(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = $2, replaced_by = $3
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > $2
		RETURNING `+tokenColumns+`
	`, presentedHash, now, successor.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return s.classify(ctx, tx, presentedHash)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	// RETURNING reports the new values; the caller expects the record as it
	// was before rotation.
	prev.RevokedAt = nil
	prev.ReplacedBy = ""

	successor.UserID = prev.UserID
	successor.FamilyID = prev.FamilyID
	successor.CreatedAt = now
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, family_id, token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, successor.ID, successor.UserID, successor.FamilyID, successor.TokenHash, now, successor.ExpiresAt.UTC()); err != nil {
		return nil, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable(err)
	}
	return prev, nil
}

// classify explains why the conditional update matched nothing.
func (s *Sessions) classify(ctx context.Context, tx *sql.Tx, tokenHash string) (*session.RefreshToken, error) {
	t, err := scanToken(tx.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE token_hash = $1`, tokenHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	if t.Revoked() {
		return t, session.ErrRevoked
	}
	return t, session.ErrExpired
}

func (s *Sessions) Revoke(ctx context.Context, tokenHash string, now time.Time) (*session.RefreshToken, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	t, err := scanToken(tx.QueryRowContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2
		WHERE token_hash = $1 AND revoked_at IS NULL
		RETURNING `+tokenColumns+`
	`, tokenHash, now.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		t, err = scanToken(tx.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE token_hash = $1`, tokenHash))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		if err != nil {
			return nil, unavailable(err)
		}
		return t, session.ErrRevoked
	}
	if err != nil {
		return nil, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable(err)
	}
	return t, nil
}

func (s *Sessions) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID, now.UTC())
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// DeleteExpired removes records whose expiry is older than retain.
func (s *Sessions) DeleteExpired(ctx context.Context, now time.Time, retain time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, now.Add(-retain).UTC())
	if err != nil {
		return 0, unavailable(err)
	}
	return res.RowsAffected()
}
