package logging

import (
	"time"

	"go.uber.org/zap"
)

// AuditEventType names a stage or session lifecycle event.
type AuditEventType string

const (
	AuditStageStart      AuditEventType = "stage_start"
	AuditStageExit       AuditEventType = "stage_exit"
	AuditStageKilled     AuditEventType = "stage_killed"
	AuditStageError      AuditEventType = "stage_error"
	AuditCaptureComplete AuditEventType = "capture_complete"
	AuditSessionRecorded AuditEventType = "session_recorded"
	AuditSessionReplayed AuditEventType = "session_replayed"
)

// AuditEvent is one structured audit entry.
type AuditEvent struct {
	Type      AuditEventType
	Timestamp time.Time
	SessionID string
	Stage     string // stage kind (pre, provider, post, wrapper)
	Index     int
	Command   string
	PID       int
	ExitCode  int
	Duration  time.Duration
	Bytes     int
	Error     string
}

// Fields renders the event as zap fields. Zero values are omitted.
func (e AuditEvent) Fields() []zap.Field {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	fields := []zap.Field{
		zap.String("event", string(e.Type)),
		zap.Int64("ts", ts.UnixMilli()),
	}
	if e.SessionID != "" {
		fields = append(fields, zap.String("session", e.SessionID))
	}
	if e.Stage != "" {
		fields = append(fields, zap.String("stage", e.Stage), zap.Int("index", e.Index))
	}
	if e.Command != "" {
		fields = append(fields, zap.String("command", e.Command))
	}
	if e.PID != 0 {
		fields = append(fields, zap.Int("pid", e.PID))
	}
	if e.Type == AuditStageExit {
		fields = append(fields, zap.Int("exit_code", e.ExitCode))
	}
	if e.Duration > 0 {
		fields = append(fields, zap.Duration("duration", e.Duration))
	}
	if e.Bytes > 0 {
		fields = append(fields, zap.Int("bytes", e.Bytes))
	}
	if e.Error != "" {
		fields = append(fields, zap.String("error", e.Error))
	}
	return fields
}

// Audit writes an event to the audit category.
func Audit(e AuditEvent) {
	l := Get(CategoryAudit).Zap()
	switch e.Type {
	case AuditStageError, AuditStageKilled:
		l.Warn("audit", e.Fields()...)
	default:
		l.Info("audit", e.Fields()...)
	}
}
