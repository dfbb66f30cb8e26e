package notify

import (
	"context"
	"log/slog"

	"github.com/imrishuroy/go-route-retry/internal/retries"
)

// Log writes events to a structured logger.
type Log struct {
	Logger *slog.Logger
}

// NewLog returns a Log notifier. A nil logger uses slog.Default.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{Logger: logger}
}

func (l *Log) RequestCaptured(ctx context.Context, r retries.Record) {
	l.Logger.InfoContext(ctx, "request captured for retry",
		"retry_id", r.ID, "method", r.Method, "uri", r.URI, "tags", r.Tags)
}

func (l *Log) RetrySucceeded(ctx context.Context, r retries.Record) {
	l.Logger.InfoContext(ctx, "retry succeeded",
		"retry_id", r.ID, "retries_count", r.RetriesCount)
}

func (l *Log) RetryFailed(ctx context.Context, r retries.Record, reason string) {
	l.Logger.WarnContext(ctx, "retry failed",
		"retry_id", r.ID, "status", r.Status, "retries_count", r.RetriesCount, "reason", reason)
}
