package authcore

import (
	"io"

	"github.com/sirupsen/logrus"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
)

// AuditEntry is one append-only audit record.
type AuditEntry = internalaudit.Entry

// AuditSink receives audit entries from the Engine's dispatcher. Emit runs
// on the dispatcher goroutine; a returned error or panic is logged and never
// reaches the operation being audited.
type AuditSink = internalaudit.Sink

type (
	NoOpSink       = internalaudit.NoOpSink
	ChannelSink    = internalaudit.ChannelSink
	JSONWriterSink = internalaudit.JSONWriterSink
	LogrusSink     = internalaudit.LogrusSink
)

// Audit event types.
const (
	AuditTypeAuthentication = internalaudit.TypeAuthentication
	AuditTypeSession        = internalaudit.TypeSession
	AuditTypeAuthorization  = internalaudit.TypeAuthorization
	AuditTypeAccount        = internalaudit.TypeAccount
)

// Audit severities.
const (
	AuditSeverityInfo     = internalaudit.SeverityInfo
	AuditSeverityWarning  = internalaudit.SeverityWarning
	AuditSeverityCritical = internalaudit.SeverityCritical
)

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewLogrusSink(logger logrus.FieldLogger) *LogrusSink {
	return internalaudit.NewLogrusSink(logger)
}
