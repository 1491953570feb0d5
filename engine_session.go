package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/session"
)

/*
====================================
LOGIN
====================================
*/

// Login verifies credentials and issues an access and refresh token pair.
//
// Unknown emails, wrong passwords and inactive accounts all return
// ErrInvalidCredentials. A locked account returns ErrAccountLocked before
// the password is checked. Repeated failures lock the account when
// lockout is enabled. A permission store failure does not fail the login;
// the access token then carries no permissions.
func (e *Engine) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if e == nil || e.hasher == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	email = normalizeEmail(email)

	if d := e.CheckRateLimit(ctx, LimitAuth, "login:"+email); !d.Allowed {
		e.metricInc(MetricLoginRateLimited)
		e.emitAudit(ctx, auditRecord{
			action:     AuditLoginRateLimited,
			targetType: "email",
			targetID:   email,
			err:        ErrRateLimited,
		})
		return nil, &RateLimitError{Decision: d}
	}

	fail := func(userID, reason string, err error) (*LoginResult, error) {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditRecord{
			action:     AuditLoginFailure,
			actorID:    userID,
			targetType: "email",
			targetID:   email,
			err:        err,
			metadata: func() map[string]string {
				return map[string]string{"reason": reason}
			},
		})
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if email == "" || password == "" {
		e.hasher.Verify(dummyPassword, e.dummyHash)
		return fail("", "empty_credentials", ErrInvalidCredentials)
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.hasher.Verify(password, e.dummyHash)
			return fail("", "user_not_found", ErrUserNotFound)
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := e.clock.Now()
	if user.Locked(now) {
		return fail(user.ID, "account_locked", ErrAccountLocked)
	}

	if !e.hasher.Verify(password, user.PasswordHash) {
		e.recordFailedLogin(ctx, user)
		return fail(user.ID, "password_mismatch", ErrInvalidCredentials)
	}
	if !user.Active {
		return fail(user.ID, "account_inactive", ErrInvalidCredentials)
	}
	if e.config.Login.RequireVerified && !user.Verified {
		return fail(user.ID, "account_unverified", ErrAccountUnverified)
	}

	if user.FailedLogins > 0 {
		if err := e.users.ResetFailedLogins(ctx, user.ID); err != nil {
			e.log.WithError(err).WithField("user_id", user.ID).Warn("failed login counter reset failed")
		}
	}
	e.upgradeHash(ctx, user, password)

	resolved, err := e.perms.Resolve(ctx, user.ID)
	if err != nil {
		e.log.WithError(err).WithField("user_id", user.ID).Warn("login issuing token with empty permission snapshot")
	}

	pair, err := e.issuePair(ctx, user, resolved)
	if err != nil {
		return fail(user.ID, "session_creation", err)
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditRecord{
		action:     AuditLoginSuccess,
		success:    true,
		actorID:    user.ID,
		targetType: "user",
		targetID:   user.ID,
	})

	return &LoginResult{
		TokenPair: pair,
		User: PublicUser{
			ID:          user.ID,
			Email:       user.Email,
			Verified:    user.Verified,
			Roles:       resolved.Roles,
			Permissions: resolved.Permissions,
		},
	}, nil
}

func (e *Engine) upgradeHash(ctx context.Context, user User, password string) {
	if !e.config.Password.UpgradeOnLogin || !e.hasher.NeedsUpgrade(user.PasswordHash) {
		return
	}
	upgraded, err := e.hasher.Hash(password)
	if err != nil {
		e.log.WithError(err).WithField("user_id", user.ID).Warn("password hash upgrade generation failed")
		return
	}
	// Best effort: a failed upgrade never blocks the login.
	if err := e.users.UpdatePasswordHash(ctx, user.ID, upgraded); err != nil {
		e.log.WithError(err).WithField("user_id", user.ID).Warn("password hash upgrade update failed")
	}
}

// issuePair mints an access token from the snapshot and starts a new
// refresh lineage.
func (e *Engine) issuePair(ctx context.Context, user User, resolved permission.Resolved) (TokenPair, error) {
	access, _, err := e.tokens.Issue(jwt.Subject{
		UserID:      user.ID,
		Email:       user.Email,
		Roles:       resolved.Roles,
		Permissions: resolved.Permissions,
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}

	plain, record, err := session.Issue(e.random, user.ID, "", e.clock.Now(), e.config.Refresh.TTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue refresh token: %w", err)
	}
	if err := e.sessions.Create(ctx, record); err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metricInc(MetricSessionCreated)

	return TokenPair{
		AccessToken:  access,
		RefreshToken: plain,
		ExpiresIn:    int64(e.tokens.TTL().Seconds()),
	}, nil
}

/*
====================================
REFRESH
====================================
*/

// Refresh exchanges a refresh token for a new pair. The presented token is
// revoked and its successor persisted in one atomic store operation, so of
// two concurrent calls with the same token exactly one succeeds. Roles and
// permissions are re-read from the store, bypassing the cache.
//
// Failures are ErrTokenNotFound, ErrTokenExpired, ErrTokenRevoked,
// ErrAccountLocked or ErrStoreUnavailable. A rejected token is never
// reinstated.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.tokens == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	reject := func(userID, reason string, err error) (*TokenPair, error) {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditRecord{
			action:     AuditTokenRefreshRejected,
			actorID:    userID,
			targetType: "refresh_token",
			err:        err,
			metadata: func() map[string]string {
				return map[string]string{"reason": reason}
			},
		})
		return nil, err
	}

	hash, err := session.HashToken(refreshToken)
	if err != nil {
		return reject("", "malformed", ErrTokenNotFound)
	}

	now := e.clock.Now()
	plain, successor, err := session.Issue(e.random, "", "", now, e.config.Refresh.TTL)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	prev, err := e.sessions.Rotate(ctx, hash, successor, now)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound):
		return reject("", "not_found", ErrTokenNotFound)
	case errors.Is(err, session.ErrExpired):
		return reject(prev.UserID, "expired", ErrTokenExpired)
	case errors.Is(err, session.ErrRevoked):
		e.metricInc(MetricRefreshReuseDetected)
		return reject(prev.UserID, "revoked", ErrTokenRevoked)
	default:
		// The outcome is unknown. Neither the presented token nor a
		// successor that may have been written can stay usable.
		e.revokeQuietly(ctx, hash)
		e.revokeQuietly(ctx, successor.TokenHash)
		return reject("", "store_unavailable", fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
	}

	user, err := e.users.GetUserByID(ctx, prev.UserID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		e.revokeQuietly(ctx, successor.TokenHash)
		return reject(prev.UserID, "user_store_unavailable", fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
	}
	if err != nil || !user.Active || user.Locked(now) {
		if _, revokeErr := e.sessions.RevokeAllForUser(ctx, prev.UserID, now); revokeErr != nil {
			e.log.WithError(revokeErr).WithField("user_id", prev.UserID).Error("revoking sessions of disabled account failed")
			e.revokeQuietly(ctx, successor.TokenHash)
		}
		if err == nil && user.Locked(now) {
			return reject(prev.UserID, "account_locked", ErrAccountLocked)
		}
		return reject(prev.UserID, "account_inactive", ErrTokenRevoked)
	}

	resolved, err := e.perms.ResolveFresh(ctx, user.ID)
	if err != nil {
		e.log.WithError(err).WithField("user_id", user.ID).Warn("refresh issuing token with empty permission snapshot")
	}

	access, _, err := e.tokens.Issue(jwt.Subject{
		UserID:      user.ID,
		Email:       user.Email,
		Roles:       resolved.Roles,
		Permissions: resolved.Permissions,
	})
	if err != nil {
		e.revokeQuietly(ctx, successor.TokenHash)
		return reject(user.ID, "access_token", fmt.Errorf("issue access token: %w", err))
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditRecord{
		action:     AuditTokenRefreshed,
		success:    true,
		actorID:    user.ID,
		targetType: "refresh_token",
		targetID:   prev.FamilyID,
	})

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: plain,
		ExpiresIn:    int64(e.tokens.TTL().Seconds()),
	}, nil
}

// revokeQuietly revokes a refresh token that must not be presented again,
// even when ctx is already cancelled. Missing or already revoked records
// are fine.
func (e *Engine) revokeQuietly(ctx context.Context, hash string) {
	_, err := e.sessions.Revoke(context.WithoutCancel(ctx), hash, e.clock.Now())
	if err == nil || errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrRevoked) {
		return
	}
	e.log.WithError(err).Error("revoking refresh token after failed refresh failed")
}

/*
====================================
LOGOUT
====================================
*/

// Logout revokes the presented refresh token, or with LogoutAll every
// refresh token of its owner. Logging out an already revoked token with
// LogoutSession succeeds. Access tokens stay valid until they expire.
func (e *Engine) Logout(ctx context.Context, refreshToken string, scope LogoutScope) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	hash, err := session.HashToken(refreshToken)
	if err != nil {
		return ErrTokenNotFound
	}

	record, err := e.sessions.Revoke(ctx, hash, e.clock.Now())
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound):
		return ErrTokenNotFound
	case errors.Is(err, session.ErrRevoked):
		if scope == LogoutAll {
			return ErrTokenRevoked
		}
		return nil
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if scope == LogoutAll {
		return e.LogoutAll(ctx, record.UserID)
	}

	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditRecord{
		action:     AuditLogout,
		success:    true,
		actorID:    record.UserID,
		targetType: "refresh_token",
		targetID:   record.FamilyID,
	})
	return nil
}

// LogoutAll revokes every refresh token of userID.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	n, err := e.sessions.RevokeAllForUser(ctx, userID, e.clock.Now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditRecord{
		action:     AuditLogoutAll,
		success:    true,
		actorID:    userID,
		targetType: "user",
		targetID:   userID,
		metadata: func() map[string]string {
			return map[string]string{"revoked": fmt.Sprint(n)}
		},
	})
	return nil
}
