package authcore

import "time"

// SecurityReport summarizes the security relevant configuration of a built
// Engine. Key material is never included.
type SecurityReport struct {
	SigningAlgorithm    string
	KeyID               string
	VerifyKeyCount      int
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	Argon2              PasswordConfigReport
	LegacyBcrypt        bool
	UpgradeOnLogin      bool
	LockoutActive       bool
	LockoutThreshold    int
	LockoutDuration     time.Duration
	RequireVerified     bool
	RateLimitingActive  bool
	PasswordResetActive bool
	PermissionCacheTTL  time.Duration
	DeclaredPermissions int
	AuditActive         bool
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
	MaxLength   int
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	cfg := e.config

	return SecurityReport{
		SigningAlgorithm: cfg.JWT.SigningMethod,
		KeyID:            cfg.JWT.KeyID,
		VerifyKeyCount:   len(cfg.JWT.VerifyKeys),
		AccessTTL:        cfg.JWT.AccessTTL,
		RefreshTTL:       cfg.Refresh.TTL,
		Argon2: PasswordConfigReport{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
			MinLength:   cfg.Password.MinLength,
			MaxLength:   cfg.Password.MaxLength,
		},
		LegacyBcrypt:        cfg.Password.AcceptBcrypt,
		UpgradeOnLogin:      cfg.Password.UpgradeOnLogin,
		LockoutActive:       cfg.Lockout.Enabled && cfg.Lockout.MaxFailedAttempts > 0,
		LockoutThreshold:    cfg.Lockout.MaxFailedAttempts,
		LockoutDuration:     cfg.Lockout.Duration,
		RequireVerified:     cfg.Login.RequireVerified,
		RateLimitingActive:  e.limiter != nil,
		PasswordResetActive: cfg.PasswordReset.Enabled,
		PermissionCacheTTL:  cfg.Permission.CacheTTL,
		DeclaredPermissions: e.registry.Count(),
		AuditActive:         e.audit != nil,
	}
}
