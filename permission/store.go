package permission

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRoleNotFound is returned by stores for unknown role ids.
	ErrRoleNotFound = errors.New("role not found")
	// ErrRoleInactive is returned when assigning a deactivated role.
	ErrRoleInactive = errors.New("role inactive")
	// ErrStoreUnavailable wraps any store failure seen by the Service.
	ErrStoreUnavailable = errors.New("permission store unavailable")
)

// Role groups permissions under a name such as "admin".
type Role struct {
	ID          string
	Name        string
	Description string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Assignment links a user to a role. Removing a role deactivates the
// assignment instead of deleting it.
type Assignment struct {
	UserID     string
	RoleID     string
	RoleName   string
	RoleActive bool
	AssignedBy string
	AssignedAt time.Time
	ExpiresAt  *time.Time
	Active     bool
}

// Effective reports whether the assignment grants its role at now.
func (a Assignment) Effective(now time.Time) bool {
	if !a.Active || !a.RoleActive {
		return false
	}
	return a.ExpiresAt == nil || now.Before(*a.ExpiresAt)
}

// AssignOptions carries optional assignment attributes.
type AssignOptions struct {
	AssignedBy string
	ExpiresAt  *time.Time
}

// Store is the persistence contract for roles and assignments.
type Store interface {
	// Assignments returns every assignment of userID joined with its role,
	// including inactive and expired ones. An unknown user yields none.
	Assignments(ctx context.Context, userID string) ([]Assignment, error)
	// RolePermissions returns the permission names of each role id.
	RolePermissions(ctx context.Context, roleIDs []string) (map[string][]string, error)
	Role(ctx context.Context, roleID string) (Role, error)
	// UpsertAssignment creates or reactivates the (user, role) assignment.
	UpsertAssignment(ctx context.Context, a Assignment) error
	// DeactivateAssignment is a no-op for a missing assignment.
	DeactivateAssignment(ctx context.Context, userID, roleID string) error
	// ReplaceRolePermissions swaps the whole permission set of a role
	// atomically. Readers see the old set or the new set, never a mix.
	ReplaceRolePermissions(ctx context.Context, roleID string, perms []string) error
}
