package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/MrEthical07/authcore/permission"
)

const (
	refreshCookie = "refresh_token"
	maxBodyBytes  = 1 << 16
)

// ResetDelivery hands a password reset token to the user out of band.
type ResetDelivery func(ctx context.Context, email, token string)

type server struct {
	engine        *authcore.Engine
	log           logrus.FieldLogger
	refreshTTL    time.Duration
	secureCookies bool
	deliverReset  ResetDelivery
}

func (s *server) routes(metrics http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestMetadata)
	r.Use(middleware.RateLimit(s.engine, authcore.LimitAPI, middleware.ByClientIP))

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}

	// Credential endpoints also spend the tight per-IP budget, on top of
	// the per-email budget the engine applies to logins.
	perIP := middleware.RateLimit(s.engine, authcore.LimitAuth, middleware.ByClientIP)
	auth := r.PathPrefix("/auth").Subrouter()
	auth.Handle("/login", perIP(http.HandlerFunc(s.login))).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", s.refresh).Methods(http.MethodPost)
	auth.HandleFunc("/logout", s.logout).Methods(http.MethodPost)
	auth.Handle("/password/reset", perIP(http.HandlerFunc(s.requestReset))).Methods(http.MethodPost)
	auth.HandleFunc("/password/reset/confirm", s.confirmReset).Methods(http.MethodPost)

	me := r.PathPrefix("/me").Subrouter()
	me.Use(middleware.Authenticate(s.engine))
	me.HandleFunc("", s.me).Methods(http.MethodGet)
	me.HandleFunc("/password", s.changePassword).Methods(http.MethodPost)
	me.HandleFunc("/logout-all", s.logoutAll).Methods(http.MethodPost)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.Authenticate(s.engine), middleware.RequireAdmin(s.engine))
	admin.HandleFunc("/security", s.securityReport).Methods(http.MethodGet)
	admin.HandleFunc("/users/{id}/permissions", s.userPermissions).Methods(http.MethodGet)
	admin.HandleFunc("/users/{id}/roles/{role}", s.assignRole).Methods(http.MethodPut)
	admin.HandleFunc("/users/{id}/roles/{role}", s.removeRole).Methods(http.MethodDelete)
	admin.HandleFunc("/users/{id}/lock", s.lock).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}/unlock", s.unlock).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}/password", s.resetPassword).Methods(http.MethodPost)
	admin.HandleFunc("/roles/{id}/permissions", s.setRolePermissions).Methods(http.MethodPut)

	return r
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

/*
====================================
SESSION HANDLERS
====================================
*/

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	result, err := s.engine.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.setRefreshCookie(w, result.RefreshToken)
	writeJSON(w, http.StatusOK, result)
}

func (s *server) refresh(w http.ResponseWriter, r *http.Request) {
	token, ok := s.refreshToken(w, r)
	if !ok {
		return
	}
	pair, err := s.engine.Refresh(r.Context(), token)
	if err != nil {
		s.clearRefreshCookie(w)
		s.fail(w, r, err)
		return
	}
	s.setRefreshCookie(w, pair.RefreshToken)
	writeJSON(w, http.StatusOK, pair)
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	token, ok := s.refreshToken(w, r)
	if !ok {
		return
	}
	scope := authcore.LogoutSession
	if r.URL.Query().Get("scope") == "all" {
		scope = authcore.LogoutAll
	}
	if err := s.engine.Logout(r.Context(), token, scope); err != nil {
		s.fail(w, r, err)
		return
	}
	s.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) logoutAll(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())
	if err := s.engine.LogoutAll(r.Context(), id.UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	s.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, authcore.PublicUser{
		ID:          id.UserID,
		Email:       id.Email,
		Roles:       id.Roles,
		Permissions: id.Permissions,
	})
}

/*
====================================
PASSWORD HANDLERS
====================================
*/

func (s *server) changePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	id, _ := middleware.IdentityFromContext(r.Context())
	if err := s.engine.ChangePassword(r.Context(), id.UserID, body.CurrentPassword, body.NewPassword); err != nil {
		s.fail(w, r, err)
		return
	}
	s.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// requestReset answers 202 whether or not the address belongs to a user.
func (s *server) requestReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	token, err := s.engine.RequestPasswordReset(r.Context(), body.Email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if token != "" && s.deliverReset != nil {
		s.deliverReset(r.Context(), body.Email, token)
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) confirmReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.engine.ConfirmPasswordReset(r.Context(), body.Token, body.NewPassword); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/*
====================================
ADMIN HANDLERS
====================================
*/

// adminContext attributes audit entries to the calling administrator.
func adminContext(r *http.Request) context.Context {
	id, _ := middleware.IdentityFromContext(r.Context())
	return authcore.WithActorID(r.Context(), id.UserID)
}

func (s *server) securityReport(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.SecurityReport())
}

func (s *server) userPermissions(w http.ResponseWriter, r *http.Request) {
	resolved, err := s.engine.ResolvePermissions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

func (s *server) assignRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ExpiresAt *time.Time `json:"expiresAt"`
	}
	if r.ContentLength != 0 && !s.decode(w, r, &body) {
		return
	}
	vars := mux.Vars(r)
	admin, _ := middleware.IdentityFromContext(r.Context())
	opts := permission.AssignOptions{AssignedBy: admin.UserID, ExpiresAt: body.ExpiresAt}
	if err := s.engine.AssignRole(adminContext(r), vars["id"], vars["role"], opts); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) removeRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.engine.RemoveRole(adminContext(r), vars["id"], vars["role"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Permissions []string `json:"permissions"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.engine.SetRolePermissions(adminContext(r), mux.Vars(r)["id"], body.Permissions); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) lock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Until time.Time `json:"until"`
	}
	if r.ContentLength != 0 && !s.decode(w, r, &body) {
		return
	}
	if err := s.engine.LockAccount(adminContext(r), mux.Vars(r)["id"], body.Until); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) unlock(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.UnlockAccount(adminContext(r), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NewPassword string `json:"newPassword"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.engine.ResetPassword(adminContext(r), mux.Vars(r)["id"], body.NewPassword); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/*
====================================
HELPERS
====================================
*/

func (s *server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
		return false
	}
	return true
}

// refreshToken reads the token from the JSON body, falling back to the
// refresh cookie.
func (s *server) refreshToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if r.ContentLength != 0 && !s.decode(w, r, &body) {
		return "", false
	}
	if body.RefreshToken != "" {
		return body.RefreshToken, true
	}
	if c, err := r.Cookie(refreshCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	s.fail(w, r, authcore.ErrTokenNotFound)
	return "", false
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := authcore.StatusCode(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	var limited *authcore.RateLimitError
	if errors.As(err, &limited) {
		retry := limited.Decision.RetryAfter(s.engine.Now())
		w.Header().Set("Retry-After", strconv.Itoa(int(retry/time.Second)))
	}
	writeJSON(w, status, map[string]string{"error": authcore.ErrorCode(err)})
}

func (s *server) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    token,
		Path:     "/auth",
		MaxAge:   int(s.refreshTTL / time.Second),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
