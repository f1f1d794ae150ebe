// Package audit provides the fire-and-forget audit trail and the alert
// pipeline for policy violations. Both are best effort: their own errors
// are logged and never reach the caller's success path.
package audit

import (
	"context"

	"go.uber.org/zap"
)

// Entry is one audit record.
type Entry struct {
	Actor    string         `json:"actor"`
	Action   string         `json:"action"`
	Target   string         `json:"target"`
	TenantID string         `json:"tenant_id"`
	Severity string         `json:"severity"`
	Details  map[string]any `json:"details,omitempty"`
}

// Sink persists audit entries.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// Logger records actions. A nil sink still produces the structured log
// line, so the trail survives even without a database.
type Logger struct {
	sink   Sink
	logger *zap.Logger
}

func NewLogger(sink Sink, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{sink: sink, logger: logger}
}

// Action records one audit entry. Nothing to inspect on return.
func (l *Logger) Action(ctx context.Context, e Entry) {
	if e.Severity == "" {
		e.Severity = "info"
	}
	l.logger.Info("audit",
		zap.String("actor", e.Actor),
		zap.String("action", e.Action),
		zap.String("target", e.Target),
		zap.String("tenant_id", e.TenantID),
		zap.String("severity", e.Severity))
	if l.sink == nil {
		return
	}
	if err := l.sink.Write(ctx, e); err != nil {
		l.logger.Warn("audit sink write failed", zap.String("action", e.Action), zap.Error(err))
	}
}
