package notify

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Producer writes messages to Kafka. *kafka.Writer satisfies it.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter returns a writer for topic on brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

// NewKafka returns a Notifier that writes each event keyed by retry id, so all
// events of one record land on the same partition.
func NewKafka(producer Producer, logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return publisher{
		now: time.Now,
		publish: func(ctx context.Context, e Event) {
			payload, err := json.Marshal(e)
			if err != nil {
				logger.ErrorContext(ctx, "marshal retry event", "retry_id", e.RetryID, "err", err)
				return
			}
			msg := kafka.Message{
				Key:     []byte(strconv.FormatInt(e.RetryID, 10)),
				Value:   payload,
				Headers: traceHeaders(ctx, []kafka.Header{{Key: "event_type", Value: []byte(e.Type)}}),
			}
			if err := producer.WriteMessages(ctx, msg); err != nil {
				logger.ErrorContext(ctx, "retry event dispatch failed", "retry_id", e.RetryID, "type", e.Type, "err", err)
			}
		},
	}
}

func traceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}
