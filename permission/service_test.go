package permission

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/kv"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeStore struct {
	mu          sync.Mutex
	roles       map[string]Role
	perms       map[string][]string
	assignments map[string]map[string]Assignment
	fail        error
	reads       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		roles:       map[string]Role{},
		perms:       map[string][]string{},
		assignments: map[string]map[string]Assignment{},
	}
}

func (f *fakeStore) addRole(id, name string, active bool, perms ...string) {
	f.roles[id] = Role{ID: id, Name: name, Active: active}
	f.perms[id] = perms
}

func (f *fakeStore) Assignments(_ context.Context, userID string) ([]Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.fail != nil {
		return nil, f.fail
	}
	var out []Assignment
	for _, a := range f.assignments[userID] {
		a.RoleActive = f.roles[a.RoleID].Active
		a.RoleName = f.roles[a.RoleID].Name
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleID < out[j].RoleID })
	return out, nil
}

func (f *fakeStore) RolePermissions(_ context.Context, roleIDs []string) (map[string][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	out := map[string][]string{}
	for _, id := range roleIDs {
		out[id] = append([]string(nil), f.perms[id]...)
	}
	return out, nil
}

func (f *fakeStore) Role(_ context.Context, roleID string) (Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return Role{}, f.fail
	}
	r, ok := f.roles[roleID]
	if !ok {
		return Role{}, ErrRoleNotFound
	}
	return r, nil
}

func (f *fakeStore) UpsertAssignment(_ context.Context, a Assignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	if f.assignments[a.UserID] == nil {
		f.assignments[a.UserID] = map[string]Assignment{}
	}
	f.assignments[a.UserID][a.RoleID] = a
	return nil
}

func (f *fakeStore) DeactivateAssignment(_ context.Context, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	if a, ok := f.assignments[userID][roleID]; ok {
		a.Active = false
		f.assignments[userID][roleID] = a
	}
	return nil
}

func (f *fakeStore) ReplaceRolePermissions(_ context.Context, roleID string, perms []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.perms[roleID] = append([]string(nil), perms...)
	return nil
}

type testEnv struct {
	store *fakeStore
	cache *kv.Memory
	svc   *Service
	now   *time.Time
	logs  *test.Hook
	hits  int
	miss  int
	degr  int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	env := &testEnv{store: newFakeStore(), now: &now}
	clock := func() time.Time { return *env.now }
	env.cache = kv.NewMemory(kv.MemoryConfig{Size: 64, Now: clock})

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	env.logs = hook

	env.svc = NewService(env.store, env.cache, ServiceConfig{
		CacheTTL: time.Minute,
		Now:      clock,
		Logger:   logger,
		Hooks: Hooks{
			CacheHit:      func() { env.hits++ },
			CacheMiss:     func() { env.miss++ },
			StoreDegraded: func() { env.degr++ },
		},
	})

	env.store.addRole("r-investor", "investor", true, "investments:read", "projects:read")
	env.store.addRole("r-admin", "admin", true, "admin:manage", "projects:read", "projects:write")
	env.store.addRole("r-retired", "retired", false, "legacy:read")
	return env
}

func TestResolveUnionDedupedAndSorted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.svc.AssignRole(ctx, "u-1", "r-investor", AssignOptions{AssignedBy: "root"}); err != nil {
		t.Fatalf("assign investor: %v", err)
	}
	if err := env.svc.AssignRole(ctx, "u-1", "r-admin", AssignOptions{}); err != nil {
		t.Fatalf("assign admin: %v", err)
	}

	got, err := env.svc.Resolve(ctx, "u-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	wantPerms := []string{"admin:manage", "investments:read", "projects:read", "projects:write"}
	if len(got.Permissions) != len(wantPerms) {
		t.Fatalf("permissions = %v, want %v", got.Permissions, wantPerms)
	}
	for i := range wantPerms {
		if got.Permissions[i] != wantPerms[i] {
			t.Fatalf("permissions = %v, want %v", got.Permissions, wantPerms)
		}
	}
	if len(got.Roles) != 2 || got.Roles[0] != "admin" || got.Roles[1] != "investor" {
		t.Fatalf("roles = %v", got.Roles)
	}
}

func TestResolveUnknownUserIsEmptyNotError(t *testing.T) {
	env := newTestEnv(t)

	got, err := env.svc.Resolve(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("expected no error for unknown user, got %v", err)
	}
	if got.Roles == nil || got.Permissions == nil || len(got.Roles) != 0 || len(got.Permissions) != 0 {
		t.Fatalf("expected empty non-nil sets, got %+v", got)
	}
}

func TestExpiredAssignmentExcluded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	expires := env.now.Add(30 * time.Second)
	if err := env.svc.AssignRole(ctx, "u-1", "r-admin", AssignOptions{ExpiresAt: &expires}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !env.svc.HasPermission(ctx, "u-1", "admin:manage") {
		t.Fatal("expected permission before assignment expiry")
	}

	*env.now = expires
	got, err := env.svc.ResolveFresh(ctx, "u-1")
	if err != nil {
		t.Fatalf("resolve fresh: %v", err)
	}
	if len(got.Permissions) != 0 || len(got.Roles) != 0 {
		t.Fatalf("expected expired assignment excluded, got %+v", got)
	}
}

func TestInactiveRoleAndRemovedAssignmentExcluded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.svc.AssignRole(ctx, "u-1", "r-retired", AssignOptions{}); !errors.Is(err, ErrRoleInactive) {
		t.Fatalf("expected ErrRoleInactive, got %v", err)
	}
	if err := env.svc.AssignRole(ctx, "u-1", "missing", AssignOptions{}); !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}

	if err := env.svc.AssignRole(ctx, "u-1", "r-investor", AssignOptions{}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !env.svc.HasPermission(ctx, "u-1", "investments:read") {
		t.Fatal("expected permission after assignment")
	}
	if err := env.svc.RemoveRole(ctx, "u-1", "r-investor"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if env.svc.HasPermission(ctx, "u-1", "investments:read") {
		t.Fatal("expected permission gone after removal and invalidation")
	}
}

func TestCacheHitAndPerUserInvalidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.svc.AssignRole(ctx, "u-1", "r-investor", AssignOptions{}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.svc.Resolve(ctx, "u-1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	reads := env.store.reads
	if _, err := env.svc.Resolve(ctx, "u-1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if env.store.reads != reads {
		t.Fatalf("expected cached resolve to skip the store")
	}
	if env.hits != 1 {
		t.Fatalf("expected one cache hit, got %d", env.hits)
	}

	if err := env.svc.AssignRole(ctx, "u-1", "r-admin", AssignOptions{}); err != nil {
		t.Fatalf("assign admin: %v", err)
	}
	if !env.svc.HasPermission(ctx, "u-1", "admin:manage") {
		t.Fatal("expected assignment to invalidate the user's cache entry")
	}
}

func TestReplaceRolePermissionsInvalidatesGlobally(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, u := range []string{"u-1", "u-2"} {
		if err := env.svc.AssignRole(ctx, u, "r-investor", AssignOptions{}); err != nil {
			t.Fatalf("assign %s: %v", u, err)
		}
		if !env.svc.HasPermission(ctx, u, "projects:read") {
			t.Fatalf("expected %s to read projects", u)
		}
	}

	if err := env.svc.ReplaceRolePermissions(ctx, "r-investor", []string{"investments:read", "investments:read"}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if got := env.store.perms["r-investor"]; len(got) != 1 {
		t.Fatalf("expected deduplicated permission list, got %v", got)
	}
	for _, u := range []string{"u-1", "u-2"} {
		if env.svc.HasPermission(ctx, u, "projects:read") {
			t.Fatalf("expected %s cache invalidated after role change", u)
		}
	}

	if err := env.svc.ReplaceRolePermissions(ctx, "r-investor", []string{"projects:*"}); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected wildcard to be rejected, got %v", err)
	}
}

// stuckDeletes is a cache that serves reads and writes but cannot delete.
type stuckDeletes struct {
	kv.Store
}

func (stuckDeletes) Delete(context.Context, ...string) error {
	return errors.New("cache unreachable")
}

func (stuckDeletes) DeletePrefix(context.Context, string) error {
	return errors.New("cache unreachable")
}

func TestFailedInvalidationIsStaleUntilTTL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	logger, hook := test.NewNullLogger()
	svc := NewService(env.store, stuckDeletes{Store: env.cache}, ServiceConfig{
		CacheTTL: time.Minute,
		Now:      func() time.Time { return *env.now },
		Logger:   logger,
	})

	if err := svc.AssignRole(ctx, "u-1", "r-investor", AssignOptions{}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if svc.HasPermission(ctx, "u-1", "admin:manage") {
		t.Fatal("investor should not manage")
	}

	// The store change succeeds; only the cache delete is lost.
	if err := svc.AssignRole(ctx, "u-1", "r-admin", AssignOptions{}); err != nil {
		t.Fatalf("assign admin: %v", err)
	}
	if svc.HasPermission(ctx, "u-1", "admin:manage") {
		t.Fatal("expected the stale cached resolution while the entry is live")
	}
	if last := hook.LastEntry(); last == nil || last.Message != "permission cache invalidation failed" {
		t.Fatalf("expected invalidation warning, got %+v", last)
	}

	*env.now = env.now.Add(time.Minute + time.Second)
	if !svc.HasPermission(ctx, "u-1", "admin:manage") {
		t.Fatal("expected the new role once the cache entry expired")
	}
}

func TestStoreFailureDeniesByDefault(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.svc.AssignRole(ctx, "u-1", "r-admin", AssignOptions{}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	env.cache.DeletePrefix(ctx, "")
	env.store.fail = errors.New("connection refused")

	got, err := env.svc.Resolve(ctx, "u-1")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if len(got.Permissions) != 0 {
		t.Fatalf("expected empty permissions on failure, got %v", got.Permissions)
	}
	if env.svc.HasPermission(ctx, "u-1", "admin:manage") {
		t.Fatal("expected denial while store is unavailable")
	}
	if env.degr == 0 {
		t.Fatal("expected degraded hook to fire")
	}
	if len(env.logs.Entries) == 0 {
		t.Fatal("expected degradation to be logged")
	}

	env.store.fail = nil
	if !env.svc.HasPermission(ctx, "u-1", "admin:manage") {
		t.Fatal("expected empty fallback not to be cached")
	}
}

func TestVacuousAnyAndAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if !env.svc.HasAnyPermission(ctx, "nobody") {
		t.Fatal("expected empty ANY list to pass")
	}
	if !env.svc.HasAllPermissions(ctx, "nobody") {
		t.Fatal("expected empty ALL list to pass")
	}
	if env.svc.HasAnyPermission(ctx, "nobody", "projects:read") {
		t.Fatal("expected ANY with unmet names to fail")
	}
}

func TestRegistryEnforcedOnReplace(t *testing.T) {
	env := newTestEnv(t)
	reg := NewRegistry()
	for _, p := range []string{"projects:read", "investments:read"} {
		if err := reg.Register(p); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	reg.Freeze()
	env.svc.reg = reg

	if err := env.svc.ReplaceRolePermissions(context.Background(), "r-investor", []string{"projects:delete"}); !errors.Is(err, ErrUnknownPermission) {
		t.Fatalf("expected ErrUnknownPermission, got %v", err)
	}
	if err := env.svc.ReplaceRolePermissions(context.Background(), "r-investor", []string{"projects:read"}); err != nil {
		t.Fatalf("expected registered permission accepted: %v", err)
	}
}
