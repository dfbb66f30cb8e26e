// Package app wires configuration into the stores, notifiers, middleware and
// replay processor shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
	gormlogger "gorm.io/gorm/logger"

	"github.com/imrishuroy/go-route-retry/internal/aws"
	"github.com/imrishuroy/go-route-retry/internal/blob"
	"github.com/imrishuroy/go-route-retry/internal/capture"
	"github.com/imrishuroy/go-route-retry/internal/config"
	"github.com/imrishuroy/go-route-retry/internal/handlers"
	"github.com/imrishuroy/go-route-retry/internal/lease"
	"github.com/imrishuroy/go-route-retry/internal/notify"
	"github.com/imrishuroy/go-route-retry/internal/replay"
	"github.com/imrishuroy/go-route-retry/internal/retries"
	"github.com/imrishuroy/go-route-retry/internal/retries/dynamostore"
	"github.com/imrishuroy/go-route-retry/internal/retries/gormstore"
	"github.com/imrishuroy/go-route-retry/internal/retries/memstore"
)

// ErrNoMigration is returned by Migrate for stores whose schema is provisioned elsewhere.
var ErrNoMigration = errors.New("store has no migration")

// App holds the wired components.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     retries.Store
	Blobs     blob.Storage
	Notifier  notify.Notifier
	Locker    lease.Locker // nil without redis
	Capturer  *capture.Capturer
	Engine    *gin.Engine
	Processor *replay.Processor

	aws     *aws.AWSClients
	closers []func() error
}

// Option customises New.
type Option func(*App)

// WithAWSClients uses c instead of loading clients from the environment.
func WithAWSClients(c *aws.AWSClients) Option {
	return func(a *App) { a.aws = c }
}

// New builds every component named by cfg. Close releases them.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	for _, opt := range opts {
		opt(a)
	}

	var err error
	if a.Store, err = a.openStore(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	if a.Blobs, err = blob.Open(ctx, blob.Config{
		Disk:      cfg.StorageDisk,
		LocalRoot: cfg.Storage.LocalRoot,
		MinIO: blob.MinIOConfig{
			Endpoint:  cfg.Storage.MinIO.Endpoint,
			AccessKey: cfg.Storage.MinIO.AccessKey,
			SecretKey: cfg.Storage.MinIO.SecretKey,
			Bucket:    cfg.Storage.MinIO.Bucket,
			UseSSL:    cfg.Storage.MinIO.UseSSL,
		},
	}); err != nil {
		a.Close()
		return nil, fmt.Errorf("open storage disk: %w", err)
	}
	if a.Notifier, err = a.buildNotifier(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("build notifier: %w", err)
	}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		a.Locker = lease.NewRedis(client, "")
	}

	a.Capturer = capture.New(a.Store, a.Blobs, a.Notifier, capture.Options{
		MaxRetries:   cfg.MaxRetries,
		DelaySeconds: cfg.Delay,
		Logger:       logger,
	})
	if err = a.buildEngine(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) awsClients(ctx context.Context) (*aws.AWSClients, error) {
	if a.aws != nil {
		return a.aws, nil
	}
	c, err := aws.NewAWSClients(ctx)
	if err != nil {
		return nil, err
	}
	a.aws = c
	return c, nil
}

func (a *App) openStore(ctx context.Context) (retries.Store, error) {
	cfg := a.Config
	switch cfg.Store.Driver {
	case "memory":
		return memstore.New(), nil
	case "dynamodb":
		c, err := a.awsClients(ctx)
		if err != nil {
			return nil, err
		}
		return dynamostore.NewStore(c.DynamoDB, cfg.TableName), nil
	default:
		db, err := gormstore.Open(cfg.Store.Driver, cfg.Store.DSN, gormlogger.Silent)
		if err != nil {
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
		store := gormstore.New(db, cfg.TableName)
		// sqlite is the zero-setup default, so its table is created on first use.
		if cfg.Store.Driver == "sqlite" {
			if err := store.Migrate(); err != nil {
				return nil, err
			}
		}
		return store, nil
	}
}

func (a *App) buildNotifier(ctx context.Context) (notify.Notifier, error) {
	cfg := a.Config.Notify
	var multi notify.Multi
	if cfg.Log {
		multi = append(multi, notify.NewLog(a.Logger))
	}
	if cfg.SQSQueueURL != "" || cfg.CloudWatchNamespace != "" {
		c, err := a.awsClients(ctx)
		if err != nil {
			return nil, err
		}
		if cfg.SQSQueueURL != "" {
			multi = append(multi, notify.NewSQS(aws.NewPublisher(c.SQS, cfg.SQSQueueURL), a.Logger))
		}
		if cfg.CloudWatchNamespace != "" {
			multi = append(multi, notify.NewMetrics(c.CloudWatch, cfg.CloudWatchNamespace, a.Logger))
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		w := notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		a.closers = append(a.closers, w.Close)
		multi = append(multi, notify.NewKafka(w, a.Logger))
	}
	if len(multi) == 0 {
		return notify.Nop{}, nil
	}
	return multi, nil
}

func (a *App) buildEngine() error {
	r := gin.New()
	r.Use(gin.Recovery())
	a.Engine = r

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	proxy, err := upstreamProxy(a.Config.Upstream, a.Logger)
	if err != nil {
		return fmt.Errorf("parse upstream: %w", err)
	}
	r.NoRoute(capture.Rules(a.rules()), a.Capturer.Handler(), proxy)

	// Replays dispatch into this engine unless replay.target is set.
	a.Processor = a.NewProcessor("", nil)
	handlers.RegisterRetriesRoutes(r, handlers.HandlerConfig{
		Store:     a.Store,
		Processor: a.Processor,
		Logger:    a.Logger,
	})
	return nil
}

func (a *App) rules() []capture.Rule {
	out := make([]capture.Rule, 0, len(a.Config.Routes))
	for _, r := range a.Config.Routes {
		out = append(out, capture.Rule{
			Method:     r.Method,
			PathPrefix: r.PathPrefix,
			Name:       r.Name,
			MaxRetries: r.MaxRetries,
			Tags:       r.Tags,
		})
	}
	return out
}

// Dispatcher returns the dispatcher for target: an HTTP client when target is
// set, otherwise the in-process engine.
func (a *App) Dispatcher(target string) replay.Dispatcher {
	if target != "" {
		return replay.NewClientDispatcher(target, a.Config.Replay.Timeout)
	}
	return replay.HandlerDispatcher{Handler: a.Engine}
}

// NewProcessor builds a processor with the configured concurrency, rate limit
// and lease. An empty target falls back to replay.target; a nil reporter keeps
// the processor silent.
func (a *App) NewProcessor(target string, reporter replay.Reporter) *replay.Processor {
	if target == "" {
		target = a.Config.Replay.Target
	}
	opts := []replay.Option{
		replay.WithConcurrency(a.Config.Replay.Concurrency),
		replay.WithNotifier(a.Notifier),
		replay.WithLogger(a.Logger),
	}
	if r := a.Config.Replay.RatePerSecond; r > 0 {
		opts = append(opts, replay.WithRateLimit(rate.NewLimiter(rate.Limit(r), 1)))
	}
	if a.Locker != nil {
		opts = append(opts, replay.WithLocker(a.Locker, a.Config.Redis.LeaseTTL))
	}
	if reporter != nil {
		opts = append(opts, replay.WithReporter(reporter))
	}
	return replay.NewProcessor(a.Store, a.Blobs, a.Dispatcher(target), opts...)
}

// Migrate creates the retry table for SQL stores.
func (a *App) Migrate() error {
	m, ok := a.Store.(interface{ Migrate() error })
	if !ok {
		return ErrNoMigration
	}
	return m.Migrate()
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
