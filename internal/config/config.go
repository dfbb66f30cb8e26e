// Package config loads settings from an optional YAML file and RETRY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	TableName   string `mapstructure:"table_name"`
	StorageDisk string `mapstructure:"storage_disk"`
	MaxRetries  int    `mapstructure:"max_retries"`
	Delay       int    `mapstructure:"delay"` // seconds between replay attempts

	LogLevel string `mapstructure:"log_level"`
	HTTPAddr string `mapstructure:"http_addr"`
	// Upstream is the origin the gateway proxies to.
	Upstream string `mapstructure:"upstream"`

	Store   StoreConfig   `mapstructure:"store"`
	Storage StorageConfig `mapstructure:"storage"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Replay  ReplayConfig  `mapstructure:"replay"`
	Routes  []RouteConfig `mapstructure:"routes"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, postgres, dynamodb or memory
	DSN    string `mapstructure:"dsn"`
}

type StorageConfig struct {
	LocalRoot string      `mapstructure:"local_root"`
	MinIO     MinIOConfig `mapstructure:"minio"`
}

type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type NotifyConfig struct {
	Log                 bool     `mapstructure:"log"`
	SQSQueueURL         string   `mapstructure:"sqs_queue_url"`
	CloudWatchNamespace string   `mapstructure:"cloudwatch_namespace"`
	KafkaBrokers        []string `mapstructure:"kafka_brokers"`
	KafkaTopic          string   `mapstructure:"kafka_topic"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`
}

type ReplayConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	RatePerSecond float64       `mapstructure:"rate_per_second"` // zero disables limiting
	Target        string        `mapstructure:"target"`          // base URL; empty replays in-process
	Timeout       time.Duration `mapstructure:"timeout"`
}

// RouteConfig attaches a retry policy to requests by method and path prefix.
type RouteConfig struct {
	Method     string   `mapstructure:"method"`
	PathPrefix string   `mapstructure:"path_prefix"`
	Name       string   `mapstructure:"name"`
	MaxRetries int      `mapstructure:"max_retries"`
	Tags       []string `mapstructure:"tags"`
}

var defaults = map[string]any{
	"table_name":                  "request_retries",
	"storage_disk":                "local",
	"max_retries":                 3,
	"delay":                       0,
	"log_level":                   "info",
	"http_addr":                   ":8080",
	"upstream":                    "",
	"store.driver":                "sqlite",
	"store.dsn":                   "retries.db",
	"storage.local_root":          "storage",
	"storage.minio.endpoint":      "",
	"storage.minio.access_key":    "",
	"storage.minio.secret_key":    "",
	"storage.minio.bucket":        "retries",
	"storage.minio.use_ssl":       false,
	"notify.log":                  true,
	"notify.sqs_queue_url":        "",
	"notify.cloudwatch_namespace": "",
	"notify.kafka_brokers":        []string{},
	"notify.kafka_topic":          "retry-events",
	"redis.addr":                  "",
	"redis.password":              "",
	"redis.db":                    0,
	"redis.lease_ttl":             "5m",
	"replay.concurrency":          1,
	"replay.rate_per_second":      0.0,
	"replay.target":               "",
	"replay.timeout":              "30s",
}

// Load reads path (or ./retry.yaml when path is empty and the file exists),
// then applies RETRY_* environment overrides such as RETRY_MAX_RETRIES or
// RETRY_STORE_DRIVER.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("RETRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("retry")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	if strings.TrimSpace(c.TableName) == "" {
		errs = append(errs, "table_name is required")
	}
	if c.MaxRetries < 0 {
		errs = append(errs, "max_retries must be >= 0")
	}
	if c.Delay < 0 {
		errs = append(errs, "delay must be >= 0")
	}
	switch c.StorageDisk {
	case "local":
	case "minio", "s3":
		if c.Storage.MinIO.Endpoint == "" || c.Storage.MinIO.Bucket == "" {
			errs = append(errs, "storage.minio.endpoint and storage.minio.bucket are required for the minio disk")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage_disk %q is not supported", c.StorageDisk))
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, "store.dsn is required for "+c.Store.Driver)
		}
	case "dynamodb", "memory":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}
	if c.Replay.Concurrency < 1 {
		errs = append(errs, "replay.concurrency must be >= 1")
	}
	if c.Replay.RatePerSecond < 0 {
		errs = append(errs, "replay.rate_per_second must be >= 0")
	}
	if len(c.Notify.KafkaBrokers) > 0 && c.Notify.KafkaTopic == "" {
		errs = append(errs, "notify.kafka_topic is required with kafka_brokers")
	}
	for i, r := range c.Routes {
		if r.MaxRetries < 0 {
			errs = append(errs, fmt.Sprintf("routes[%d].max_retries must be >= 0", i))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
