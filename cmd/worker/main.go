package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-route-retry/internal/app"
	"github.com/imrishuroy/go-route-retry/internal/config"
	"github.com/imrishuroy/go-route-retry/internal/logging"
)

func main() {
	cfg, err := config.Load(os.Getenv("RETRY_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel)

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer a.Close()

	w := NewWorker(a.Processor, logger)

	// If RUN_LOCAL=true, run a single scheduled batch for local testing.
	if os.Getenv("RUN_LOCAL") == "true" {
		detail := os.Getenv("LOCAL_EVENT_DETAIL")
		if detail == "" {
			detail = "{}"
		}
		s, err := w.HandleSchedule(context.Background(), events.CloudWatchEvent{Detail: []byte(detail)})
		if err != nil {
			log.Fatalf("local handler error: %v", err)
		}
		logger.Info("local run finished", "found", s.Found)
		return
	}

	if os.Getenv("WORKER_TRIGGER") == "sqs" {
		lambda.Start(w.HandleSQS)
		return
	}
	lambda.Start(w.HandleSchedule)
}
