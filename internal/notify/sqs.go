package notify

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// Sender publishes a message body with string attributes. *aws.Publisher satisfies it.
type Sender interface {
	Send(ctx context.Context, messageBody string, attributes map[string]string) error
}

// NewSQS returns a Notifier that publishes each event as a JSON SQS message.
// Event type and retry id travel as message attributes for subscription filters.
func NewSQS(sender Sender, logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return publisher{
		now: time.Now,
		publish: func(ctx context.Context, e Event) {
			body, err := json.Marshal(e)
			if err != nil {
				logger.ErrorContext(ctx, "marshal retry event", "retry_id", e.RetryID, "err", err)
				return
			}
			attrs := map[string]string{
				"event_type": string(e.Type),
				"retry_id":   strconv.FormatInt(e.RetryID, 10),
			}
			if err := sender.Send(ctx, string(body), attrs); err != nil {
				logger.ErrorContext(ctx, "publish retry event", "retry_id", e.RetryID, "type", e.Type, "err", err)
			}
		},
	}
}
