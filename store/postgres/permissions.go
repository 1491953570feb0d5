package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/permission"
)

// Permissions implements permission.Store.
type Permissions struct {
	db *sql.DB
}

func NewPermissions(db *sql.DB) *Permissions {
	return &Permissions{db: db}
}

// CreateRole inserts r.
func (s *Permissions) CreateRole(ctx context.Context, r permission.Role) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO roles (id, name, description, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.Name, r.Description, r.Active, r.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("insert role: %w", err)
	}
	return nil
}

func (s *Permissions) Assignments(ctx context.Context, userID string) ([]permission.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ur.role_id, r.name, r.active, ur.assigned_by, ur.assigned_at, ur.expires_at, ur.active
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY ur.role_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []permission.Assignment
	for rows.Next() {
		a := permission.Assignment{UserID: userID}
		var expires sql.NullTime
		if err := rows.Scan(&a.RoleID, &a.RoleName, &a.RoleActive, &a.AssignedBy, &a.AssignedAt, &expires, &a.Active); err != nil {
			return nil, err
		}
		if expires.Valid {
			t := expires.Time
			a.ExpiresAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Permissions) RolePermissions(ctx context.Context, roleIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(roleIDs))
	if len(roleIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role_id, permission FROM role_permissions
		WHERE role_id = ANY($1)
		ORDER BY role_id, permission
	`, roleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var roleID, perm string
		if err := rows.Scan(&roleID, &perm); err != nil {
			return nil, err
		}
		out[roleID] = append(out[roleID], perm)
	}
	return out, rows.Err()
}

func (s *Permissions) Role(ctx context.Context, roleID string) (permission.Role, error) {
	var r permission.Role
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, active, created_at, updated_at FROM roles WHERE id = $1
	`, roleID).Scan(&r.ID, &r.Name, &r.Description, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return permission.Role{}, permission.ErrRoleNotFound
	}
	return r, err
}

func (s *Permissions) UpsertAssignment(ctx context.Context, a permission.Assignment) error {
	if a.AssignedAt.IsZero() {
		a.AssignedAt = time.Now().UTC()
	}
	var expires sql.NullTime
	if a.ExpiresAt != nil {
		expires = sql.NullTime{Time: *a.ExpiresAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role_id, assigned_by, assigned_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		ON CONFLICT (user_id, role_id) DO UPDATE
		SET assigned_by = excluded.assigned_by,
		    assigned_at = excluded.assigned_at,
		    expires_at  = excluded.expires_at,
		    active      = TRUE
	`, a.UserID, a.RoleID, a.AssignedBy, a.AssignedAt, expires)
	return err
}

func (s *Permissions) DeactivateAssignment(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_roles SET active = FALSE WHERE user_id = $1 AND role_id = $2
	`, userID, roleID)
	return err
}

// ReplaceRolePermissions swaps the set inside one transaction.
func (s *Permissions) ReplaceRolePermissions(ctx context.Context, roleID string, perms []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Locking the role row serializes concurrent replacements.
	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, roleID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return permission.ErrRoleNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return err
	}
	for _, p := range perms {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO role_permissions (role_id, permission) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, roleID, p); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE roles SET updated_at = $2 WHERE id = $1`, roleID, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}
