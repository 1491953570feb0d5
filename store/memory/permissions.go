package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/authcore/permission"
)

// Permissions is a concurrency-safe permission.Store.
type Permissions struct {
	mu          sync.RWMutex
	roles       map[string]permission.Role
	rolePerms   map[string][]string
	assignments map[string]map[string]permission.Assignment
	now         func() time.Time
}

// NewPermissions returns an empty store. now may be nil.
func NewPermissions(now func() time.Time) *Permissions {
	if now == nil {
		now = time.Now
	}
	return &Permissions{
		roles:       make(map[string]permission.Role),
		rolePerms:   make(map[string][]string),
		assignments: make(map[string]map[string]permission.Assignment),
		now:         now,
	}
}

// CreateRole stores r with an optional initial permission set. An empty ID
// is replaced with a random UUID.
func (s *Permissions) CreateRole(_ context.Context, r permission.Role, perms ...string) (permission.Role, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := s.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	for _, p := range perms {
		if err := permission.ValidateName(p); err != nil {
			return permission.Role{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[r.ID] = r
	s.rolePerms[r.ID] = append([]string(nil), perms...)
	return r, nil
}

// SetRoleActive toggles a role. Assignments of an inactive role grant
// nothing.
func (s *Permissions) SetRoleActive(_ context.Context, roleID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[roleID]
	if !ok {
		return permission.ErrRoleNotFound
	}
	r.Active = active
	r.UpdatedAt = s.now()
	s.roles[roleID] = r
	return nil
}

func (s *Permissions) Assignments(_ context.Context, userID string) ([]permission.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byRole := s.assignments[userID]
	out := make([]permission.Assignment, 0, len(byRole))
	for roleID, a := range byRole {
		r := s.roles[roleID]
		a.RoleName = r.Name
		a.RoleActive = r.Active
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleID < out[j].RoleID })
	return out, nil
}

func (s *Permissions) RolePermissions(_ context.Context, roleIDs []string) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string, len(roleIDs))
	for _, id := range roleIDs {
		if perms, ok := s.rolePerms[id]; ok {
			out[id] = append([]string(nil), perms...)
		}
	}
	return out, nil
}

func (s *Permissions) Role(_ context.Context, roleID string) (permission.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[roleID]
	if !ok {
		return permission.Role{}, permission.ErrRoleNotFound
	}
	return r, nil
}

func (s *Permissions) UpsertAssignment(_ context.Context, a permission.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[a.RoleID]; !ok {
		return permission.ErrRoleNotFound
	}
	if a.AssignedAt.IsZero() {
		a.AssignedAt = s.now()
	}
	a.Active = true
	byRole := s.assignments[a.UserID]
	if byRole == nil {
		byRole = make(map[string]permission.Assignment)
		s.assignments[a.UserID] = byRole
	}
	byRole[a.RoleID] = a
	return nil
}

func (s *Permissions) DeactivateAssignment(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[userID][roleID]
	if !ok {
		return nil
	}
	a.Active = false
	s.assignments[userID][roleID] = a
	return nil
}

func (s *Permissions) ReplaceRolePermissions(_ context.Context, roleID string, perms []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return permission.ErrRoleNotFound
	}
	s.rolePerms[roleID] = append([]string(nil), perms...)
	return nil
}
