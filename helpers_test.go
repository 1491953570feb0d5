package authcore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store/memory"
)

const testPassword = "correct-horse-battery"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// flakyPermissions fails every read while fail is set.
type flakyPermissions struct {
	*memory.Permissions
	mu   sync.Mutex
	fail bool
}

func (f *flakyPermissions) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *flakyPermissions) Assignments(ctx context.Context, userID string) ([]permission.Assignment, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, errors.New("connection refused")
	}
	return f.Permissions.Assignments(ctx, userID)
}

type testEnv struct {
	engine *authcore.Engine
	users  *memory.Users
	perms  *flakyPermissions
	clock  *fakeClock
	redis  *miniredis.Miniredis
	audit  *authcore.ChannelSink
	logs   *test.Hook
	hasher *password.Argon2
}

func testConfig() authcore.Config {
	cfg := authcore.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.JWT.Issuer = "authcore-test"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.BcryptCost = 10
	cfg.Lockout.MaxFailedAttempts = 3
	cfg.PasswordReset.Enabled = true
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 256
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestEnv(t testing.TB, mutate ...func(*authcore.Config)) *testEnv {
	t.Helper()
	return newTestEnvWithSessions(t, nil, mutate...)
}

// newTestEnvWithSessions is newTestEnv with the Redis refresh token store
// passed through wrap before the engine sees it.
func newTestEnvWithSessions(t testing.TB, wrap func(session.Store) session.Store, mutate ...func(*authcore.Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := newFakeClock()
	logger, hook := test.NewNullLogger()
	users := memory.NewUsers(clock.Now)
	perms := &flakyPermissions{Permissions: memory.NewPermissions(clock.Now)}
	sink := authcore.NewChannelSink(256)

	builder := authcore.New()
	if wrap != nil {
		builder.WithSessionStore(wrap(session.NewRedisStore(rdb, cfg.Refresh.RedisPrefix, cfg.Refresh.Retain)))
	}
	engine, err := builder.
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithPermissionStore(perms).
		WithPermissions("portfolio:read", "portfolio:write", "admin:manage", "users:read",
			"projects:read", "projects:create", "investments:create").
		WithAuditSink(sink).
		WithLogger(logger).
		WithClock(authcore.ClockFunc(clock.Now)).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
		MinLength:   cfg.Password.MinLength,
		MaxLength:   cfg.Password.MaxLength,
	})
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}

	return &testEnv{
		engine: engine,
		users:  users,
		perms:  perms,
		clock:  clock,
		redis:  mr,
		audit:  sink,
		logs:   hook,
		hasher: hasher,
	}
}

func (env *testEnv) addUser(t testing.TB, email string) authcore.User {
	t.Helper()
	hash, err := env.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u, err := env.users.CreateUser(context.Background(), authcore.User{
		Email:        email,
		PasswordHash: hash,
		Active:       true,
		Verified:     true,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func (env *testEnv) addRole(t testing.TB, name string, perms ...string) permission.Role {
	t.Helper()
	r, err := env.perms.CreateRole(context.Background(), permission.Role{ID: "role-" + name, Name: name, Active: true}, perms...)
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	return r
}

func (env *testEnv) login(t testing.TB, email string) *authcore.LoginResult {
	t.Helper()
	res, err := env.engine.Login(context.Background(), email, testPassword)
	if err != nil {
		t.Fatalf("Login(%s): %v", email, err)
	}
	return res
}

func permissionOpts() permission.AssignOptions {
	return permission.AssignOptions{}
}

// drainAudit closes the engine and returns every emitted entry.
func (env *testEnv) drainAudit() []authcore.AuditEntry {
	env.engine.Close()
	var out []authcore.AuditEntry
	for {
		select {
		case e := <-env.audit.Entries():
			out = append(out, e)
		default:
			return out
		}
	}
}
