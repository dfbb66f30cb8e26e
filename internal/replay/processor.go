// Package replay re-dispatches captured requests and moves their records
// through the retry lifecycle.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/imrishuroy/go-route-retry/internal/blob"
	"github.com/imrishuroy/go-route-retry/internal/lease"
	"github.com/imrishuroy/go-route-retry/internal/notify"
	"github.com/imrishuroy/go-route-retry/internal/retries"
)

// Disposition is what a replay did to a record.
type Disposition string

const (
	Completed          Disposition = "completed"
	Rescheduled        Disposition = "rescheduled"
	Failed             Disposition = "failed"
	CompletedWithError Disposition = "completed_with_error"
	// Skipped records were claimed or finished by someone else, or were not
	// dispatched because the batch was cancelled or rate limited.
	Skipped Disposition = "skipped"
)

// Outcome is the per-record result of a batch.
type Outcome struct {
	ID          int64
	StatusCode  int
	Disposition Disposition
	Reason      string
	Err         error
}

// Result summarises a batch.
type Result struct {
	Found    int
	Outcomes []Outcome
}

// Count returns how many outcomes had disposition d.
func (r Result) Count(d Disposition) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Disposition == d {
			n++
		}
	}
	return n
}

// Reporter receives progress while a batch runs. With concurrency above one the
// callbacks may be invoked from several goroutines.
type Reporter interface {
	Found(n int)
	Processing(id int64)
	Responded(id int64, status int)
	Faulted(id int64, err error)
}

type nopReporter struct{}

func (nopReporter) Found(int)            {}
func (nopReporter) Processing(int64)     {}
func (nopReporter) Responded(int64, int) {}
func (nopReporter) Faulted(int64, error) {}

// Processor replays due records.
type Processor struct {
	store      retries.Store
	blobs      blob.Storage
	dispatcher Dispatcher

	notifier    notify.Notifier
	logger      *slog.Logger
	reporter    Reporter
	concurrency int
	limiter     *rate.Limiter
	locker      lease.Locker
	leaseTTL    time.Duration
	now         func() time.Time
	tracer      trace.Tracer
}

// NewProcessor returns a Processor. blobs may be nil when no record carries files.
func NewProcessor(store retries.Store, blobs blob.Storage, dispatcher Dispatcher, opts ...Option) *Processor {
	p := &Processor{
		store:       store,
		blobs:       blobs,
		dispatcher:  dispatcher,
		notifier:    notify.Nop{},
		logger:      slog.Default(),
		reporter:    nopReporter{},
		concurrency: 1,
		leaseTTL:    5 * time.Minute,
		now:         time.Now,
		tracer:      otel.Tracer("route-retry/replay"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process replays every due record matching f. Only a failure to load the
// batch is returned; per-record problems are reported in the outcomes.
func (p *Processor) Process(ctx context.Context, f retries.Filter) (Result, error) {
	recs, err := p.store.QueryDue(ctx, f)
	if err != nil {
		return Result{}, fmt.Errorf("query due retries: %w", err)
	}
	if len(recs) == 0 {
		return Result{}, nil
	}

	p.reporter.Found(len(recs))
	res := Result{Found: len(recs), Outcomes: make([]Outcome, len(recs))}

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, rec := range recs {
		i, rec := i, rec
		g.Go(func() error {
			res.Outcomes[i] = p.processOne(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()
	return res, nil
}

func (p *Processor) processOne(ctx context.Context, rec retries.Record) Outcome {
	out := Outcome{ID: rec.ID, Disposition: Skipped}
	if err := ctx.Err(); err != nil {
		out.Err = err
		return out
	}

	ctx, span := p.tracer.Start(ctx, "retry.replay", trace.WithAttributes(
		attribute.Int64("retry.id", rec.ID),
		attribute.String("http.method", rec.Method),
		attribute.String("http.target", rec.URI),
	))
	defer span.End()

	if p.locker != nil {
		token, err := p.locker.Acquire(ctx, rec.ID, p.leaseTTL)
		if err != nil {
			if !errors.Is(err, lease.ErrHeld) {
				out.Err = err
				p.logger.ErrorContext(ctx, "acquire retry lease", "retry_id", rec.ID, "err", err)
			}
			return out
		}
		defer func() {
			if err := p.locker.Release(context.WithoutCancel(ctx), rec.ID, token); err != nil {
				p.logger.WarnContext(ctx, "release retry lease", "retry_id", rec.ID, "err", err)
			}
		}()
	}

	p.reporter.Processing(rec.ID)

	status, reason, err := p.attempt(ctx, rec)
	if err != nil {
		out.Err = err
		p.logger.WarnContext(ctx, "retry not dispatched", "retry_id", rec.ID, "err", err)
		return out
	}
	out.StatusCode = status
	span.SetAttributes(attribute.Int("http.status_code", status))

	patch, disp, reason := classify(rec, status, reason, p.now())
	out.Disposition = disp
	out.Reason = reason

	if err := p.store.Update(ctx, rec.ID, patch); err != nil {
		out.Err = err
		if errors.Is(err, retries.ErrStatusMismatch) {
			out.Disposition = Skipped
			p.logger.WarnContext(ctx, "retry record changed during replay", "retry_id", rec.ID)
		} else {
			p.logger.ErrorContext(ctx, "update retry record", "retry_id", rec.ID, "err", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "update failed")
		}
		return out
	}

	rec.Apply(patch, p.now())
	switch disp {
	case Completed:
		p.cleanup(ctx, rec)
		p.notifier.RetrySucceeded(ctx, rec)
	case Failed, CompletedWithError:
		p.cleanup(ctx, rec)
		p.notifier.RetryFailed(ctx, rec, reason)
		span.SetStatus(codes.Error, reason)
	}
	return out
}

// attempt rebuilds and dispatches rec. A fault is reported as status 500 with
// the fault message as reason. A non-nil error means nothing was dispatched
// (rate limit wait or cancellation) and the record must be left alone.
func (p *Processor) attempt(ctx context.Context, rec retries.Record) (int, string, error) {
	fault := func(err error) (int, string, error) {
		f := &DispatchFault{Err: err}
		p.logger.ErrorContext(ctx, "retry dispatch failed", "retry_id", rec.ID, "err", f)
		p.reporter.Faulted(rec.ID, f)
		return 500, f.Error(), nil
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return 0, "", fmt.Errorf("wait for rate limit: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}
	req, err := NewRequest(ctx, rec, p.blobs)
	if err != nil {
		return fault(err)
	}
	resp, err := p.dispatcher.Dispatch(ctx, req)
	if err != nil {
		return fault(err)
	}
	p.reporter.Responded(rec.ID, resp.StatusCode)
	return resp.StatusCode, "", nil
}

// classify maps a response status to the patch for rec. Every patch is guarded
// on the record still being pending.
func classify(rec retries.Record, status int, reason string, now time.Time) (retries.Patch, Disposition, string) {
	guard := retries.StatusPtr(retries.StatusPending)

	switch {
	case status >= 200 && status < 300:
		return retries.Patch{Status: retries.StatusPtr(retries.StatusCompleted), ExpectStatus: guard}, Completed, ""

	case status >= 500 && status < 600:
		count := rec.RetriesCount + 1
		if count >= rec.MaxRetries {
			if reason == "" {
				reason = fmt.Sprintf("Max retries reached with status %d", status)
			}
			return retries.Patch{
				Status:       retries.StatusPtr(retries.StatusFailed),
				RetriesCount: retries.IntPtr(count),
				ExpectStatus: guard,
			}, Failed, reason
		}
		return retries.Patch{
			RetriesCount:  retries.IntPtr(count),
			NextAttemptAt: retries.TimePtr(now.Add(rec.RetryDelay())),
			ExpectStatus:  guard,
		}, Rescheduled, reason

	default:
		return retries.Patch{
			Status:       retries.StatusPtr(retries.StatusCompletedWithError),
			ExpectStatus: guard,
		}, CompletedWithError, fmt.Sprintf("Response status: %d", status)
	}
}

func (p *Processor) cleanup(ctx context.Context, rec retries.Record) {
	paths := rec.Files.Paths()
	if len(paths) == 0 || p.blobs == nil {
		return
	}
	for _, path := range paths {
		if err := p.blobs.Delete(ctx, path); err != nil {
			p.logger.WarnContext(ctx, "delete stored file", "retry_id", rec.ID, "path", path, "err", err)
		}
	}
}
