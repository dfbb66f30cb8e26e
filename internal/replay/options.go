package replay

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/imrishuroy/go-route-retry/internal/lease"
	"github.com/imrishuroy/go-route-retry/internal/notify"
)

// Option configures a Processor.
type Option func(*Processor)

// WithConcurrency replays up to n records at once. The default of 1 replays in id order.
func WithConcurrency(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithRateLimit spaces dispatches with l.
func WithRateLimit(l *rate.Limiter) Option {
	return func(p *Processor) { p.limiter = l }
}

// WithLocker claims each record before replaying it, holding the claim for at most ttl.
func WithLocker(l lease.Locker, ttl time.Duration) Option {
	return func(p *Processor) {
		p.locker = l
		if ttl > 0 {
			p.leaseTTL = ttl
		}
	}
}

func WithNotifier(n notify.Notifier) Option {
	return func(p *Processor) {
		if n != nil {
			p.notifier = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithReporter receives progress callbacks while a batch runs.
func WithReporter(r Reporter) Option {
	return func(p *Processor) {
		if r != nil {
			p.reporter = r
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}
