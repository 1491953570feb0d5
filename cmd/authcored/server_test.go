package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authcore"
	promexport "github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/store/memory"
)

const testSeed = `
permissions: [admin:manage, users:read, portfolio:read, portfolio:write]
roles:
  - name: admin
    permissions: [admin:manage, users:read]
  - name: investor
    permissions: [portfolio:read, portfolio:write]
  - name: viewer
    permissions: [portfolio:read]
users:
  - email: admin@example.com
    password: admin-password-1
    verified: true
    roles: [admin]
  - email: Investor@Example.com
    password: investor-password-1
    verified: true
    roles: [investor]
`

type fixture struct {
	t       *testing.T
	handler http.Handler

	mu     sync.Mutex
	resets map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := authcore.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.PasswordReset.Enabled = true
	cfg.Metrics.Enabled = true

	seed, err := parseSeed([]byte(testSeed))
	require.NoError(t, err)

	log, _ := test.NewNullLogger()
	users := memory.NewUsers(nil)
	perms := memory.NewPermissions(nil)
	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithPermissionStore(perms).
		WithPermissions(seed.Permissions...).
		WithLogger(log).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	hasher, err := password.NewArgon2(password.Config{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)
	target := seedTarget{
		createUser: users.CreateUser,
		createRole: func(ctx context.Context, r permission.Role) error {
			_, err := perms.CreateRole(ctx, r)
			return err
		},
	}
	require.NoError(t, seed.apply(context.Background(), engine, target, hasher))

	f := &fixture{t: t, resets: make(map[string]string)}
	srv := &server{
		engine:     engine,
		log:        log,
		refreshTTL: cfg.Refresh.TTL,
		deliverReset: func(_ context.Context, email, token string) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.resets[email] = token
		},
	}
	f.handler = srv.routes(promexport.Handler(promexport.NewCollector(engine)))
	return f
}

func (f *fixture) do(method, path, body string, mods ...func(*http.Request)) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, mod := range mods {
		mod(req)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withRefreshCookie(token string) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: refreshCookie, Value: token}) }
}

func (f *fixture) login(email, pw string) authcore.LoginResult {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/auth/login", `{"email":"`+email+`","password":"`+pw+`"}`)
	require.Equal(f.t, http.StatusOK, rec.Code, rec.Body.String())
	var result authcore.LoginResult
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &result))
	return result
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func refreshCookieFrom(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == refreshCookie {
			return c
		}
	}
	return nil
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/auth/login", `{"email":"investor@example.com","password":"investor-password-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := refreshCookieFrom(rec)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/auth", cookie.Path)

	var result authcore.LoginResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, cookie.Value, result.RefreshToken)
	assert.Equal(t, []string{"investor"}, result.User.Roles)

	rec = f.do(http.MethodGet, "/me", "", bearer(result.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	var me authcore.PublicUser
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "investor@example.com", me.Email)
	assert.ElementsMatch(t, []string{"portfolio:read", "portfolio:write"}, me.Permissions)

	rec = f.do(http.MethodPost, "/auth/refresh", "", withRefreshCookie(cookie.Value))
	require.Equal(t, http.StatusOK, rec.Code)
	rotated := refreshCookieFrom(rec)
	require.NotNil(t, rotated)
	assert.NotEqual(t, cookie.Value, rotated.Value)

	rec = f.do(http.MethodPost, "/auth/refresh", "", withRefreshCookie(cookie.Value))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_revoked", errorCode(t, rec))

	rec = f.do(http.MethodPost, "/auth/logout", `{"refreshToken":"`+rotated.Value+`"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodPost, "/auth/refresh", "", withRefreshCookie(rotated.Value))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/auth/logout", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_not_found", errorCode(t, rec))
}

func TestAdminRoutesRequireAdministrator(t *testing.T) {
	f := newFixture(t)
	investor := f.login("investor@example.com", "investor-password-1")
	admin := f.login("admin@example.com", "admin-password-1")

	rec := f.do(http.MethodGet, "/admin/security", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/admin/security", "", bearer(investor.AccessToken))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/admin/security", "", bearer(admin.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	var report authcore.SecurityReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 4, report.DeclaredPermissions)

	path := "/admin/users/" + investor.User.ID + "/roles/viewer"
	rec = f.do(http.MethodPut, path, "", bearer(admin.AccessToken))
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/admin/users/"+investor.User.ID+"/permissions", "", bearer(admin.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	var resolved permission.Resolved
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resolved))
	assert.ElementsMatch(t, []string{"investor", "viewer"}, resolved.Roles)

	rec = f.do(http.MethodPut, "/admin/roles/viewer/permissions", `{"permissions":["reports:export"]}`, bearer(admin.AccessToken))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminLockBlocksLogin(t *testing.T) {
	f := newFixture(t)
	investor := f.login("investor@example.com", "investor-password-1")
	admin := f.login("admin@example.com", "admin-password-1")

	rec := f.do(http.MethodPost, "/admin/users/"+investor.User.ID+"/lock", "", bearer(admin.AccessToken))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodPost, "/auth/login", `{"email":"investor@example.com","password":"investor-password-1"}`)
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "account_locked", errorCode(t, rec))

	rec = f.do(http.MethodPost, "/auth/refresh", `{"refreshToken":"`+investor.RefreshToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/admin/users/"+investor.User.ID+"/unlock", "", bearer(admin.AccessToken))
	require.Equal(t, http.StatusNoContent, rec.Code)
	f.login("investor@example.com", "investor-password-1")
}

func TestPasswordResetOverHTTP(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/auth/password/reset", `{"email":"nobody@example.com"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, f.resets)

	rec = f.do(http.MethodPost, "/auth/password/reset", `{"email":"investor@example.com"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	token := f.resets["investor@example.com"]
	require.NotEmpty(t, token)

	rec = f.do(http.MethodPost, "/auth/password/reset/confirm", `{"token":"`+token+`","newPassword":"short"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "password_policy", errorCode(t, rec))

	rec = f.do(http.MethodPost, "/auth/password/reset/confirm", `{"token":"`+token+`","newPassword":"a-brand-new-password"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodPost, "/auth/password/reset/confirm", `{"token":"`+token+`","newPassword":"another-new-password"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "reset_token_invalid", errorCode(t, rec))

	f.login("investor@example.com", "a-brand-new-password")
}

func TestChangePasswordOverHTTP(t *testing.T) {
	f := newFixture(t)
	session := f.login("investor@example.com", "investor-password-1")

	rec := f.do(http.MethodPost, "/me/password",
		`{"currentPassword":"wrong-password-1","newPassword":"changed-password-1"}`, bearer(session.AccessToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/me/password",
		`{"currentPassword":"investor-password-1","newPassword":"changed-password-1"}`, bearer(session.AccessToken))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodPost, "/auth/refresh", `{"refreshToken":"`+session.RefreshToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	f.login("investor@example.com", "changed-password-1")
}

func TestLoginRateLimitOverHTTP(t *testing.T) {
	f := newFixture(t)
	fromIP := func(r *http.Request) { r.RemoteAddr = "198.51.100.7:4000" }
	for i := 0; i < 5; i++ {
		// A different address each time, so only the per-email budget applies.
		body := `{"email":"admin@example.com","password":"not-the-password"}`
		rec := f.do(http.MethodPost, "/auth/login", body, func(r *http.Request) {
			r.RemoteAddr = "203.0.113." + strconv.Itoa(i+1) + ":4000"
		})
		require.NotEqual(t, http.StatusTooManyRequests, rec.Code, "attempt %d", i+1)
	}
	rec := f.do(http.MethodPost, "/auth/login", `{"email":"admin@example.com","password":"x"}`, fromIP)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", errorCode(t, rec))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Five attempts from one address spend the per-IP budget regardless of
	// which account they target.
	for i := 0; i < 4; i++ {
		email := "nobody" + strconv.Itoa(i) + "@example.com"
		rec = f.do(http.MethodPost, "/auth/login", `{"email":"`+email+`","password":"x"}`, fromIP)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}
	rec = f.do(http.MethodPost, "/auth/login", `{"email":"investor@example.com","password":"investor-password-1"}`, fromIP)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
}

func TestAPILimitHeaders(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "300", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "299", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.login("investor@example.com", "investor-password-1")

	rec := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "authcore_login_success_total 1")
	assert.Contains(t, rec.Body.String(), "authcore_role_assigned_total 2")
}

func TestMalformedBody(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/auth/login", `{"email":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", errorCode(t, rec))
}

func TestServerLogsOnlyInternalFailures(t *testing.T) {
	log, hook := test.NewNullLogger()
	srv := &server{log: log}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)

	srv.fail(rec, req, authcore.ErrInvalidCredentials)
	assert.Empty(t, hook.AllEntries())

	srv.fail(httptest.NewRecorder(), req, authcore.ErrStoreUnavailable)
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}
