// Package notify delivers retry lifecycle events. Notifications are fire and
// forget: a failing sink is logged and never affects capture or replay.
package notify

import (
	"context"
	"time"

	"github.com/imrishuroy/go-route-retry/internal/retries"
)

// Notifier receives lifecycle events for retry records.
type Notifier interface {
	RequestCaptured(ctx context.Context, r retries.Record)
	RetrySucceeded(ctx context.Context, r retries.Record)
	RetryFailed(ctx context.Context, r retries.Record, reason string)
}

// EventType names a lifecycle event.
type EventType string

const (
	EventRequestCaptured EventType = "request_captured"
	EventRetrySucceeded  EventType = "retry_succeeded"
	EventRetryFailed     EventType = "retry_failed"
)

// Event is the wire form published by the queue and stream notifiers.
type Event struct {
	Type         EventType      `json:"type"`
	RetryID      int64          `json:"retry_id"`
	Fingerprint  string         `json:"fingerprint,omitempty"`
	Method       string         `json:"method"`
	URI          string         `json:"uri"`
	Status       retries.Status `json:"status"`
	RetriesCount int            `json:"retries_count"`
	MaxRetries   int            `json:"max_retries"`
	Tags         []string       `json:"tags,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// NewEvent builds an Event for r.
func NewEvent(typ EventType, r retries.Record, reason string, at time.Time) Event {
	return Event{
		Type:         typ,
		RetryID:      r.ID,
		Fingerprint:  r.Fingerprint,
		Method:       r.Method,
		URI:          r.URI,
		Status:       r.Status,
		RetriesCount: r.RetriesCount,
		MaxRetries:   r.MaxRetries,
		Tags:         r.Tags,
		Reason:       reason,
		OccurredAt:   at.UTC(),
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) RequestCaptured(context.Context, retries.Record)     {}
func (Nop) RetrySucceeded(context.Context, retries.Record)      {}
func (Nop) RetryFailed(context.Context, retries.Record, string) {}

// Func adapts plain functions. Nil fields are skipped.
type Func struct {
	OnCaptured  func(ctx context.Context, r retries.Record)
	OnSucceeded func(ctx context.Context, r retries.Record)
	OnFailed    func(ctx context.Context, r retries.Record, reason string)
}

func (f Func) RequestCaptured(ctx context.Context, r retries.Record) {
	if f.OnCaptured != nil {
		f.OnCaptured(ctx, r)
	}
}

func (f Func) RetrySucceeded(ctx context.Context, r retries.Record) {
	if f.OnSucceeded != nil {
		f.OnSucceeded(ctx, r)
	}
}

func (f Func) RetryFailed(ctx context.Context, r retries.Record, reason string) {
	if f.OnFailed != nil {
		f.OnFailed(ctx, r, reason)
	}
}

// Multi fans an event out to every notifier in order.
type Multi []Notifier

func (m Multi) RequestCaptured(ctx context.Context, r retries.Record) {
	for _, n := range m {
		n.RequestCaptured(ctx, r)
	}
}

func (m Multi) RetrySucceeded(ctx context.Context, r retries.Record) {
	for _, n := range m {
		n.RetrySucceeded(ctx, r)
	}
}

func (m Multi) RetryFailed(ctx context.Context, r retries.Record, reason string) {
	for _, n := range m {
		n.RetryFailed(ctx, r, reason)
	}
}

// publisher turns each callback into an Event and hands it to publish.
type publisher struct {
	publish func(ctx context.Context, e Event)
	now     func() time.Time
}

func (p publisher) RequestCaptured(ctx context.Context, r retries.Record) {
	p.publish(ctx, NewEvent(EventRequestCaptured, r, "", p.now()))
}

func (p publisher) RetrySucceeded(ctx context.Context, r retries.Record) {
	p.publish(ctx, NewEvent(EventRetrySucceeded, r, "", p.now()))
}

func (p publisher) RetryFailed(ctx context.Context, r retries.Record, reason string) {
	p.publish(ctx, NewEvent(EventRetryFailed, r, reason, p.now()))
}
