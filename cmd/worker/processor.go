package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	json "github.com/goccy/go-json"

	"github.com/imrishuroy/go-route-retry/internal/replay"
	"github.com/imrishuroy/go-route-retry/internal/retries"
)

// BatchProcessor replays due records. *replay.Processor satisfies it.
type BatchProcessor interface {
	Process(ctx context.Context, f retries.Filter) (replay.Result, error)
}

// Worker runs replay batches for scheduled events and queued requests.
type Worker struct {
	processor BatchProcessor
	logger    *slog.Logger
}

func NewWorker(p BatchProcessor, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{processor: p, logger: logger}
}

// HandleSchedule runs one batch per EventBridge invocation. The rule's detail
// may carry a ReplayRequest; scheduled events usually send an empty object.
func (w *Worker) HandleSchedule(ctx context.Context, ev events.CloudWatchEvent) (Summary, error) {
	var req ReplayRequest
	if len(ev.Detail) > 0 && string(ev.Detail) != "null" {
		if err := json.Unmarshal(ev.Detail, &req); err != nil {
			return Summary{}, fmt.Errorf("invalid event detail: %w", err)
		}
	}
	return w.run(ctx, req)
}

// HandleSQS runs one batch per message. A failed batch is returned so the
// runtime redelivers the message.
func (w *Worker) HandleSQS(ctx context.Context, ev events.SQSEvent) error {
	for _, msg := range ev.Records {
		var req ReplayRequest
		if err := json.Unmarshal([]byte(msg.Body), &req); err != nil {
			return fmt.Errorf("invalid message body: %w", err)
		}
		if _, err := w.run(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) run(ctx context.Context, req ReplayRequest) (Summary, error) {
	res, err := w.processor.Process(ctx, req.Filter())
	if err != nil {
		w.logger.Error("replay batch failed", "error", err)
		return Summary{}, err
	}
	s := Summary{
		Found:              res.Found,
		Completed:          res.Count(replay.Completed),
		Rescheduled:        res.Count(replay.Rescheduled),
		Failed:             res.Count(replay.Failed),
		CompletedWithError: res.Count(replay.CompletedWithError),
		Skipped:            res.Count(replay.Skipped),
	}
	w.logger.Info("replay batch done",
		"found", s.Found,
		"completed", s.Completed,
		"rescheduled", s.Rescheduled,
		"failed", s.Failed,
		"completed_with_error", s.CompletedWithError,
		"skipped", s.Skipped,
	)
	return s, nil
}
