package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-route-retry/internal/aws"
	"github.com/imrishuroy/go-route-retry/internal/config"
	"github.com/imrishuroy/go-route-retry/internal/notify"
	"github.com/imrishuroy/go-route-retry/internal/replay"
	"github.com/imrishuroy/go-route-retry/internal/retries"
)

type fakeSQS struct{ sent int32 }

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	atomic.AddInt32(&f.sent, 1)
	return &sqs.SendMessageOutput{}, nil
}

type fakeCloudWatch struct{ puts int32 }

func (f *fakeCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	atomic.AddInt32(&f.puts, 1)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func testConfig(t *testing.T, upstream string) *config.Config {
	t.Helper()
	return &config.Config{
		TableName:   "request_retries",
		StorageDisk: "local",
		MaxRetries:  3,
		Upstream:    upstream,
		Store:       config.StoreConfig{Driver: "memory"},
		Storage:     config.StorageConfig{LocalRoot: t.TempDir()},
		Replay:      config.ReplayConfig{Concurrency: 1, Timeout: 5 * time.Second},
		Routes: []config.RouteConfig{
			{Method: http.MethodPost, PathPrefix: "/payments", Name: "payments.store", MaxRetries: 5, Tags: []string{"billing"}},
		},
	}
}

func newApp(t *testing.T, cfg *config.Config, opts ...Option) *App {
	t.Helper()
	gin.SetMode(gin.TestMode)
	a, err := New(context.Background(), cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)), opts...)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestGatewayCapturesAndReplays(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(b), `"amount":10`) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer upstream.Close()

	a := newApp(t, testConfig(t, upstream.URL))

	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(`{"amount":10}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.Engine.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected upstream status to pass through, got %d", w.Code)
	}

	rec, err := a.Store.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("expected captured record: %v", err)
	}
	if rec.MaxRetries != 5 || len(rec.Tags) != 1 || rec.Tags[0] != "billing" {
		t.Fatalf("route rule not applied: %+v", rec)
	}

	res, err := a.Processor.Process(context.Background(), retries.Filter{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Count(replay.Completed) != 1 {
		t.Fatalf("expected one completed replay, got %+v", res.Outcomes)
	}
	rec, _ = a.Store.Get(context.Background(), 1)
	if rec.Status != retries.StatusCompleted {
		t.Fatalf("expected completed, got %s", rec.Status)
	}
}

func TestGatewayCapturesUnreachableUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	a := newApp(t, testConfig(t, url))

	w := httptest.NewRecorder()
	a.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/orders/9", nil))
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	recs, _ := a.Store.List(context.Background(), retries.ListOptions{})
	if len(recs) != 1 || recs[0].Method != http.MethodDelete || recs[0].MaxRetries != 3 {
		t.Fatalf("unexpected records %+v", recs)
	}
}

func TestAdminRoutesMounted(t *testing.T) {
	a := newApp(t, testConfig(t, ""))

	for _, path := range []string{"/health", "/_retries"} {
		w := httptest.NewRecorder()
		a.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
	}
	w := httptest.NewRecorder()
	a.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/unknown", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without upstream, got %d", w.Code)
	}
}

func TestNotifierFanOut(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Notify = config.NotifyConfig{
		Log:                 true,
		SQSQueueURL:         "https://sqs.local/retries",
		CloudWatchNamespace: notify.DefaultNamespace,
		KafkaBrokers:        []string{"127.0.0.1:9092"},
		KafkaTopic:          "retry-events",
	}
	sqsClient, cw := &fakeSQS{}, &fakeCloudWatch{}
	a := newApp(t, cfg, WithAWSClients(&aws.AWSClients{SQS: sqsClient, CloudWatch: cw}))

	multi, ok := a.Notifier.(notify.Multi)
	if !ok || len(multi) != 4 {
		t.Fatalf("expected four notifiers, got %#v", a.Notifier)
	}
}

func TestMigrate(t *testing.T) {
	a := newApp(t, testConfig(t, ""))
	if err := a.Migrate(); err != ErrNoMigration {
		t.Fatalf("memory store should have no migration, got %v", err)
	}

	cfg := testConfig(t, "")
	cfg.Store = config.StoreConfig{Driver: "sqlite", DSN: "file:" + t.Name() + "?mode=memory&cache=shared"}
	a = newApp(t, cfg)
	if err := a.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func TestNewRejectsBadUpstream(t *testing.T) {
	cfg := testConfig(t, "://bad")
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for unparsable upstream")
	}
}
