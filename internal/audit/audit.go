package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Event types group actions by concern.
const (
	TypeAuthentication = "authentication"
	TypeSession        = "session"
	TypeAuthorization  = "authorization"
	TypeAccount        = "account"
)

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Entry is one audit record.
type Entry struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	EventType    string            `json:"event_type"`
	Action       string            `json:"action"`
	Severity     string            `json:"severity"`
	ActorID      string            `json:"actor_id,omitempty"`
	AdminActorID string            `json:"admin_actor_id,omitempty"`
	TargetType   string            `json:"target_type,omitempty"`
	TargetID     string            `json:"target_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Error        string            `json:"error,omitempty"`
	IP           string            `json:"ip,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	Success      bool              `json:"success"`
}

// Sink receives audit entries. Returned errors are logged by the
// Dispatcher.
type Sink interface {
	Emit(ctx context.Context, entry Entry) error
}

// NoOpSink drops entries.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Entry) error { return nil }

// ChannelSink writes entries into a buffered channel.
type ChannelSink struct {
	entries chan Entry
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{entries: make(chan Entry, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, entry Entry) error {
	select {
	case s.entries <- entry:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChannelSink) Entries() <-chan Entry {
	return s.entries
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, entry Entry) error {
	if s == nil || s.writer == nil {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.writer.Write(data)
	return err
}

// LogrusSink logs each entry as a structured logrus line.
type LogrusSink struct {
	logger logrus.FieldLogger
}

func NewLogrusSink(logger logrus.FieldLogger) *LogrusSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusSink{logger: logger}
}

func (s *LogrusSink) Emit(_ context.Context, entry Entry) error {
	fields := logrus.Fields{
		"audit_id":   entry.ID,
		"event_type": entry.EventType,
		"severity":   entry.Severity,
		"success":    entry.Success,
	}
	for k, v := range map[string]string{
		"actor_id":       entry.ActorID,
		"admin_actor_id": entry.AdminActorID,
		"target_type":    entry.TargetType,
		"target_id":      entry.TargetID,
		"error":          entry.Error,
		"ip":             entry.IP,
		"user_agent":     entry.UserAgent,
	} {
		if v != "" {
			fields[k] = v
		}
	}
	for k, v := range entry.Metadata {
		fields["meta_"+k] = v
	}

	log := s.logger.WithFields(fields)
	switch entry.Severity {
	case SeverityCritical:
		log.Error(entry.Action)
	case SeverityWarning:
		log.Warn(entry.Action)
	default:
		log.Info(entry.Action)
	}
	return nil
}
