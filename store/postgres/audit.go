package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/MrEthical07/authcore"
)

// AuditSink writes audit entries to the audit_log table.
type AuditSink struct {
	db *sql.DB
}

func NewAuditSink(db *sql.DB) *AuditSink {
	return &AuditSink{db: db}
}

func (s *AuditSink) Emit(ctx context.Context, e authcore.AuditEntry) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(e.Metadata); err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (
			id, occurred_at, event_type, action, severity, actor_id, admin_actor_id,
			target_type, target_id, success, error_code, ip, user_agent, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, e.ID, e.Timestamp, e.EventType, e.Action, e.Severity, e.ActorID, e.AdminActorID,
		e.TargetType, e.TargetID, e.Success, e.Error, e.IP, e.UserAgent, metadata)
	return err
}
