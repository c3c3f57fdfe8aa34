// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Redis holds connection settings for both the event stream and the work
// queue; both live on the same Redis deployment in the local backend.
type Redis struct {
	Addr               string        `mapstructure:"addr"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	DB                 int           `mapstructure:"db"`
	PoolSizeMultiplier int           `mapstructure:"pool_size_multiplier"`
	MinIdleConns       int           `mapstructure:"min_idle_conns"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
}

type Backoff struct {
	Base time.Duration `mapstructure:"base"`
	Max  time.Duration `mapstructure:"max"`
}

// Worker controls dispatch concurrency, retry budget, and the key
// patterns used for heartbeats and crash recovery.
type Worker struct {
	Concurrency           int           `mapstructure:"concurrency"`
	MaxAttempts           int           `mapstructure:"max_attempts"`
	Backoff               Backoff       `mapstructure:"backoff"`
	HeartbeatTTL          time.Duration `mapstructure:"heartbeat_ttl"`
	ProcessingListPattern string        `mapstructure:"processing_list_pattern"`
	HeartbeatKeyPattern   string        `mapstructure:"heartbeat_key_pattern"`
	BLPopTimeout          time.Duration `mapstructure:"blpop_timeout"`
	MetricsPort           int           `mapstructure:"metrics_port"`
}

type CircuitBreaker struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
}

type Observability struct {
	MetricsPort int    `mapstructure:"metrics_port"`
	LogLevel    string `mapstructure:"log_level"`
}

// Store selects and configures the State Store backend.
type Store struct {
	Backend            string `mapstructure:"backend"` // local | managed
	SQLitePath         string `mapstructure:"sqlite_path"`
	DynamoJobsTable    string `mapstructure:"dynamo_jobs_table"`
	DynamoResultsTable string `mapstructure:"dynamo_results_table"`
	DynamoIdempoTable  string `mapstructure:"dynamo_idempotency_table"`
}

// Queue selects and configures the Work Queue / DLQ backend.
type Queue struct {
	Backend    string `mapstructure:"backend"` // local | managed
	JobsQueue  string `mapstructure:"jobs_queue_key"`
	DLQ        string `mapstructure:"dlq_key"`
	SQSJobsURL string `mapstructure:"sqs_jobs_queue_url"`
	SQSDLQURL  string `mapstructure:"sqs_dlq_url"`
}

// EventStream configures the Redis Streams consumer group used by the
// Orchestrator and Ingress.
type EventStream struct {
	StreamKey          string `mapstructure:"stream_key"`
	ConsumerGroup      string `mapstructure:"consumer_group"`
	MaxLen             int64  `mapstructure:"max_len"`
	EventBridgeBusName string `mapstructure:"eventbridge_bus_name"`
}

// ObjectStore configures the S3/MinIO-compatible client shared by the
// API (presign) and Worker (download).
type ObjectStore struct {
	EndpointURL       string        `mapstructure:"endpoint_url"`
	PublicEndpointURL string        `mapstructure:"public_endpoint_url"`
	Region            string        `mapstructure:"region"`
	Bucket            string        `mapstructure:"bucket"`
	AccessKeyID       string        `mapstructure:"access_key_id"`
	SecretAccessKey   string        `mapstructure:"secret_access_key"`
	PresignExpiry     time.Duration `mapstructure:"presign_expiry"`
}

// Auth configures the API's demo credential and JWT issuance.
type Auth struct {
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTIssuer string        `mapstructure:"jwt_issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// API configures the HTTP API server.
type API struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Summarizer selects the mock or managed (Bedrock-shaped) summary engine.
type Summarizer struct {
	Mode    string `mapstructure:"mode"` // mock | managed
	ModelID string `mapstructure:"model_id"`
}

type Config struct {
	AppEnv         string         `mapstructure:"app_env"`
	Redis          Redis          `mapstructure:"redis"`
	Worker         Worker         `mapstructure:"worker"`
	CircuitBreaker CircuitBreaker `mapstructure:"circuit_breaker"`
	Observability  Observability  `mapstructure:"observability"`
	Store          Store          `mapstructure:"store"`
	Queue          Queue          `mapstructure:"queue"`
	EventStream    EventStream    `mapstructure:"event_stream"`
	ObjectStore    ObjectStore    `mapstructure:"object_store"`
	Auth           Auth           `mapstructure:"auth"`
	API            API            `mapstructure:"api"`
	Summarizer     Summarizer     `mapstructure:"summarizer"`
}

func defaultConfig() *Config {
	return &Config{
		AppEnv: "local",
		Redis: Redis{
			Addr:               "localhost:6379",
			PoolSizeMultiplier: 10,
			MinIdleConns:       5,
			DialTimeout:        5 * time.Second,
			ReadTimeout:        3 * time.Second,
			WriteTimeout:       3 * time.Second,
			MaxRetries:         3,
		},
		Worker: Worker{
			Concurrency:           1,
			MaxAttempts:           3,
			Backoff:               Backoff{Base: 1 * time.Second, Max: 30 * time.Second},
			HeartbeatTTL:          30 * time.Second,
			ProcessingListPattern: "pipeline:worker:%s:processing",
			HeartbeatKeyPattern:   "pipeline:worker:%s:heartbeat",
			BLPopTimeout:          5 * time.Second,
			MetricsPort:           9090,
		},
		CircuitBreaker: CircuitBreaker{
			FailureThreshold: 0.5,
			Window:           1 * time.Minute,
			CooldownPeriod:   30 * time.Second,
			MinSamples:       10,
		},
		Observability: Observability{MetricsPort: 9090, LogLevel: "info"},
		Store: Store{
			Backend:            "local",
			SQLitePath:         "./data/pipeline.db",
			DynamoJobsTable:    "jobs",
			DynamoResultsTable: "results",
			DynamoIdempoTable:  "idempotency",
		},
		Queue: Queue{
			Backend:   "local",
			JobsQueue: "pipeline:jobs",
			DLQ:       "pipeline:dlq",
		},
		EventStream: EventStream{
			StreamKey:     "pipeline:events",
			ConsumerGroup: "orchestrator",
			MaxLen:        10000,
		},
		ObjectStore: ObjectStore{
			Region:        "us-east-1",
			Bucket:        "media-uploads",
			PresignExpiry: 15 * time.Minute,
		},
		Auth: Auth{
			Username: "admin",
			Password: "admin",
			TokenTTL: 1 * time.Hour,
		},
		API:        API{Host: "0.0.0.0", Port: 8080},
		Summarizer: Summarizer{Mode: "mock", ModelID: "anthropic.claude-mock"},
	}
}

// Load reads configuration from a YAML file (if present) and applies
// environment variable overrides, mirroring the env surface of the
// original Python services.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	setDefaults(v, def)
	bindEnv(v)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// WORKER_BACKOFF_SECONDS carries plain seconds ("1.0"), not a Go
	// duration string, so convert it before decoding.
	if raw := os.Getenv("WORKER_BACKOFF_SECONDS"); raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil {
			v.Set("worker.backoff.base", time.Duration(secs*float64(time.Second)))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("app_env", def.AppEnv)
	v.SetDefault("redis.addr", def.Redis.Addr)
	v.SetDefault("redis.pool_size_multiplier", def.Redis.PoolSizeMultiplier)
	v.SetDefault("redis.min_idle_conns", def.Redis.MinIdleConns)
	v.SetDefault("redis.dial_timeout", def.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", def.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", def.Redis.WriteTimeout)
	v.SetDefault("redis.max_retries", def.Redis.MaxRetries)

	v.SetDefault("worker.concurrency", def.Worker.Concurrency)
	v.SetDefault("worker.max_attempts", def.Worker.MaxAttempts)
	v.SetDefault("worker.backoff.base", def.Worker.Backoff.Base)
	v.SetDefault("worker.backoff.max", def.Worker.Backoff.Max)
	v.SetDefault("worker.heartbeat_ttl", def.Worker.HeartbeatTTL)
	v.SetDefault("worker.processing_list_pattern", def.Worker.ProcessingListPattern)
	v.SetDefault("worker.heartbeat_key_pattern", def.Worker.HeartbeatKeyPattern)
	v.SetDefault("worker.blpop_timeout", def.Worker.BLPopTimeout)
	v.SetDefault("worker.metrics_port", def.Worker.MetricsPort)

	v.SetDefault("circuit_breaker.failure_threshold", def.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.window", def.CircuitBreaker.Window)
	v.SetDefault("circuit_breaker.cooldown_period", def.CircuitBreaker.CooldownPeriod)
	v.SetDefault("circuit_breaker.min_samples", def.CircuitBreaker.MinSamples)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)

	v.SetDefault("store.backend", def.Store.Backend)
	v.SetDefault("store.sqlite_path", def.Store.SQLitePath)
	v.SetDefault("store.dynamo_jobs_table", def.Store.DynamoJobsTable)
	v.SetDefault("store.dynamo_results_table", def.Store.DynamoResultsTable)
	v.SetDefault("store.dynamo_idempotency_table", def.Store.DynamoIdempoTable)

	v.SetDefault("queue.backend", def.Queue.Backend)
	v.SetDefault("queue.jobs_queue_key", def.Queue.JobsQueue)
	v.SetDefault("queue.dlq_key", def.Queue.DLQ)

	v.SetDefault("event_stream.stream_key", def.EventStream.StreamKey)
	v.SetDefault("event_stream.consumer_group", def.EventStream.ConsumerGroup)
	v.SetDefault("event_stream.max_len", def.EventStream.MaxLen)

	v.SetDefault("object_store.region", def.ObjectStore.Region)
	v.SetDefault("object_store.bucket", def.ObjectStore.Bucket)
	v.SetDefault("object_store.presign_expiry", def.ObjectStore.PresignExpiry)

	v.SetDefault("auth.username", def.Auth.Username)
	v.SetDefault("auth.password", def.Auth.Password)
	v.SetDefault("auth.token_ttl", def.Auth.TokenTTL)

	v.SetDefault("api.host", def.API.Host)
	v.SetDefault("api.port", def.API.Port)

	v.SetDefault("summarizer.mode", def.Summarizer.Mode)
	v.SetDefault("summarizer.model_id", def.Summarizer.ModelID)
}

// bindEnv wires the original services' UPPER_SNAKE_CASE env vars onto the
// nested viper keys so operators can keep using the same deployment
// manifests.
func bindEnv(v *viper.Viper) {
	pairs := map[string]string{
		"app_env":                           "APP_ENV",
		"observability.log_level":           "LOG_LEVEL",
		"auth.username":                     "AUTH_USERNAME",
		"auth.password":                     "AUTH_PASSWORD",
		"auth.jwt_secret":                   "JWT_SECRET",
		"auth.jwt_issuer":                   "JWT_ISSUER",
		"api.host":                          "API_HOST",
		"api.port":                          "API_PORT",
		"object_store.endpoint_url":         "S3_ENDPOINT_URL",
		"object_store.public_endpoint_url":  "S3_PUBLIC_ENDPOINT_URL",
		"object_store.region":               "S3_REGION",
		"object_store.bucket":               "S3_BUCKET",
		"object_store.access_key_id":        "AWS_ACCESS_KEY_ID",
		"object_store.secret_access_key":    "AWS_SECRET_ACCESS_KEY",
		"redis.addr":                        "REDIS_URL",
		"event_stream.stream_key":           "REDIS_EVENTS_STREAM",
		"queue.jobs_queue_key":              "REDIS_JOBS_QUEUE",
		"queue.dlq_key":                     "REDIS_DLQ",
		"store.sqlite_path":                 "DB_PATH",
		"store.backend":                     "STORE_BACKEND",
		"queue.backend":                     "QUEUE_BACKEND",
		"store.dynamo_jobs_table":           "DDB_JOBS_TABLE",
		"store.dynamo_results_table":        "DDB_RESULTS_TABLE",
		"store.dynamo_idempotency_table":    "DDB_IDEMPOTENCY_TABLE",
		"queue.sqs_jobs_queue_url":          "SQS_JOBS_QUEUE_URL",
		"queue.sqs_dlq_url":                 "SQS_DLQ_URL",
		"event_stream.eventbridge_bus_name": "EVENTBRIDGE_BUS_NAME",
		"worker.concurrency":                "WORKER_CONCURRENCY",
		"worker.max_attempts":               "WORKER_MAX_ATTEMPTS",
		"worker.backoff.base":               "WORKER_BACKOFF_SECONDS",
		"worker.metrics_port":               "WORKER_METRICS_PORT",
		"summarizer.mode":                   "BEDROCK_MODE",
		"summarizer.model_id":               "BEDROCK_MODEL_ID",
	}
	for key, env := range pairs {
		_ = v.BindEnv(key, env)
	}
}

// Validate checks cross-field constraints the mapping above can't express.
func Validate(cfg *Config) error {
	if cfg.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be >= 1")
	}
	if cfg.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker.max_attempts must be >= 1")
	}
	if cfg.Worker.HeartbeatTTL < 5*time.Second {
		return fmt.Errorf("worker.heartbeat_ttl must be >= 5s")
	}
	if cfg.Store.Backend != "local" && cfg.Store.Backend != "managed" {
		return fmt.Errorf("store.backend must be local or managed, got %q", cfg.Store.Backend)
	}
	if cfg.Queue.Backend != "local" && cfg.Queue.Backend != "managed" {
		return fmt.Errorf("queue.backend must be local or managed, got %q", cfg.Queue.Backend)
	}
	if cfg.Summarizer.Mode != "mock" && cfg.Summarizer.Mode != "managed" {
		return fmt.Errorf("summarizer.mode must be mock or managed, got %q", cfg.Summarizer.Mode)
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	return nil
}
