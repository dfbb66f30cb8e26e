package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/imrishuroy/go-route-retry/internal/aws"
)

// DefaultNamespace is the CloudWatch namespace used when none is configured.
const DefaultNamespace = "RouteRetry"

var metricNames = map[EventType]string{
	EventRequestCaptured: "RequestsCaptured",
	EventRetrySucceeded:  "RetriesSucceeded",
	EventRetryFailed:     "RetriesFailed",
}

// NewMetrics returns a Notifier that counts events as CloudWatch metrics,
// dimensioned by HTTP method.
func NewMetrics(client aws.CloudWatchAPI, namespace string, logger *slog.Logger) Notifier {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return publisher{
		now: time.Now,
		publish: func(ctx context.Context, e Event) {
			name := metricNames[e.Type]
			ts := e.OccurredAt
			_, err := client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
				Namespace: &namespace,
				MetricData: []cwtypes.MetricDatum{{
					MetricName: &name,
					Timestamp:  &ts,
					Unit:       cwtypes.StandardUnitCount,
					Value:      float64Ptr(1),
					Dimensions: []cwtypes.Dimension{{
						Name:  strPtr("Method"),
						Value: strPtr(e.Method),
					}},
				}},
			})
			if err != nil {
				logger.ErrorContext(ctx, "put retry metric", "metric", name, "err", err)
			}
		},
	}
}

func float64Ptr(f float64) *float64 { return &f }

func strPtr(s string) *string { return &s }
