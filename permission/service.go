package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/kv"
	"github.com/sirupsen/logrus"
)

// Resolved is the effective authorization state of one user.
type Resolved struct {
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// RoleSet returns the roles as a Set.
func (r Resolved) RoleSet() Set { return NewSet(r.Roles...) }

// PermissionSet returns the permissions as a Set.
func (r Resolved) PermissionSet() Set { return NewSet(r.Permissions...) }

func emptyResolved() Resolved {
	return Resolved{Roles: []string{}, Permissions: []string{}}
}

// Hooks observe cache and store behaviour. Nil hooks are skipped.
type Hooks struct {
	CacheHit      func()
	CacheMiss     func()
	StoreDegraded func()
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	CacheTTL  time.Duration
	KeyPrefix string
	Registry  *Registry
	Now       func() time.Time
	Logger    logrus.FieldLogger
	Hooks     Hooks
}

// Service resolves and mutates user permissions over a Store with a
// cache-aside layer.
type Service struct {
	store  Store
	cache  kv.Store
	ttl    time.Duration
	prefix string
	reg    *Registry
	now    func() time.Time
	log    logrus.FieldLogger
	hooks  Hooks
}

// NewService returns a Service. cache may be nil to disable caching.
func NewService(store Store, cache kv.Store, cfg ServiceConfig) *Service {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "perm"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.CacheTTL <= 0 {
		cache = nil
	}
	return &Service{
		store:  store,
		cache:  cache,
		ttl:    cfg.CacheTTL,
		prefix: cfg.KeyPrefix + ":",
		reg:    cfg.Registry,
		now:    cfg.Now,
		log:    cfg.Logger.WithField("component", "permission"),
		hooks:  cfg.Hooks,
	}
}

func (s *Service) cacheKey(userID string) string {
	return s.prefix + userID
}

// Resolve returns the user's roles and permissions, from cache when
// possible. On store failure it returns an empty Resolved together with an
// error wrapping ErrStoreUnavailable.
func (s *Service) Resolve(ctx context.Context, userID string) (Resolved, error) {
	if userID == "" {
		return emptyResolved(), nil
	}

	if s.cache != nil {
		raw, err := s.cache.Get(ctx, s.cacheKey(userID))
		switch {
		case err == nil:
			var cached Resolved
			if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
				call(s.hooks.CacheHit)
				return normalize(cached), nil
			}
			s.log.WithField("user_id", userID).Warn("discarding undecodable permission cache entry")
		case !errors.Is(err, kv.ErrNotFound):
			s.log.WithError(err).WithField("user_id", userID).Warn("permission cache read failed")
		}
		call(s.hooks.CacheMiss)
	}

	resolved, err := s.ResolveFresh(ctx, userID)
	if err != nil {
		return resolved, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(resolved); err == nil {
			if err := s.cache.Set(ctx, s.cacheKey(userID), raw, s.ttl); err != nil {
				s.log.WithError(err).WithField("user_id", userID).Warn("permission cache write failed")
			}
		}
	}

	return resolved, nil
}

// ResolveFresh reads straight from the store, bypassing the cache.
func (s *Service) ResolveFresh(ctx context.Context, userID string) (Resolved, error) {
	if userID == "" {
		return emptyResolved(), nil
	}

	assignments, err := s.store.Assignments(ctx, userID)
	if err != nil {
		return s.degraded(userID, err)
	}

	now := s.now()
	roleNames := NewSet()
	roleIDs := make([]string, 0, len(assignments))
	for _, a := range assignments {
		if !a.Effective(now) {
			continue
		}
		roleNames[a.RoleName] = struct{}{}
		roleIDs = append(roleIDs, a.RoleID)
	}
	if len(roleIDs) == 0 {
		return emptyResolved(), nil
	}

	byRole, err := s.store.RolePermissions(ctx, roleIDs)
	if err != nil {
		return s.degraded(userID, err)
	}

	perms := NewSet()
	for _, id := range roleIDs {
		for _, p := range byRole[id] {
			perms[p] = struct{}{}
		}
	}

	return Resolved{Roles: roleNames.Sorted(), Permissions: perms.Sorted()}, nil
}

func (s *Service) degraded(userID string, err error) (Resolved, error) {
	call(s.hooks.StoreDegraded)
	s.log.WithError(err).WithField("user_id", userID).Error("permission resolution degraded to empty set")
	return emptyResolved(), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// HasPermission reports whether the user currently holds perm. Any failure
// is a denial.
func (s *Service) HasPermission(ctx context.Context, userID, perm string) bool {
	r, err := s.Resolve(ctx, userID)
	if err != nil {
		return false
	}
	return r.PermissionSet().Has(perm)
}

// HasAnyPermission reports whether the user holds at least one of perms.
// An empty list is satisfied.
func (s *Service) HasAnyPermission(ctx context.Context, userID string, perms ...string) bool {
	if len(perms) == 0 {
		return true
	}
	r, err := s.Resolve(ctx, userID)
	if err != nil {
		return false
	}
	return r.PermissionSet().HasAny(perms...)
}

// HasAllPermissions reports whether the user holds every one of perms. An
// empty list is satisfied.
func (s *Service) HasAllPermissions(ctx context.Context, userID string, perms ...string) bool {
	if len(perms) == 0 {
		return true
	}
	r, err := s.Resolve(ctx, userID)
	if err != nil {
		return false
	}
	return r.PermissionSet().HasAll(perms...)
}

// AssignRole grants roleID to userID. Repeating an assignment updates its
// attributes and reactivates it.
func (s *Service) AssignRole(ctx context.Context, userID, roleID string, opts AssignOptions) error {
	if userID == "" || roleID == "" {
		return errors.New("user id and role id required")
	}

	role, err := s.store.Role(ctx, roleID)
	if err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !role.Active {
		return ErrRoleInactive
	}

	err = s.store.UpsertAssignment(ctx, Assignment{
		UserID:     userID,
		RoleID:     roleID,
		RoleName:   role.Name,
		RoleActive: role.Active,
		AssignedBy: opts.AssignedBy,
		AssignedAt: s.now(),
		ExpiresAt:  opts.ExpiresAt,
		Active:     true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.InvalidateUser(ctx, userID)
	return nil
}

// RemoveRole deactivates the assignment of roleID to userID.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID string) error {
	if err := s.store.DeactivateAssignment(ctx, userID, roleID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.InvalidateUser(ctx, userID)
	return nil
}

// ReplaceRolePermissions sets the complete permission list of roleID and
// drops every cached resolution.
func (s *Service) ReplaceRolePermissions(ctx context.Context, roleID string, perms []string) error {
	if err := s.reg.Check(perms...); err != nil {
		return err
	}
	if _, err := s.store.Role(ctx, roleID); err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := s.store.ReplaceRolePermissions(ctx, roleID, NewSet(perms...).Sorted()); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.InvalidateAll(ctx)
	return nil
}

// InvalidateUser drops the cached resolution of one user. Failures are
// logged; staleness is then bounded by the cache TTL.
func (s *Service) InvalidateUser(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, s.cacheKey(userID)); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("permission cache invalidation failed")
	}
}

// InvalidateAll drops every cached resolution.
func (s *Service) InvalidateAll(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeletePrefix(ctx, s.prefix); err != nil {
		s.log.WithError(err).Warn("global permission cache invalidation failed")
	}
}

func normalize(r Resolved) Resolved {
	if r.Roles == nil {
		r.Roles = []string{}
	}
	if r.Permissions == nil {
		r.Permissions = []string{}
	}
	return r
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}
