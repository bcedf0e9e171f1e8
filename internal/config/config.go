// Package config loads settings for the CLI and the Lambda handlers from
// flags, a YAML file and the environment through viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Veraticus/expense-flow/internal/common"
	"github.com/Veraticus/expense-flow/internal/llm"
	"github.com/spf13/viper"
)

// Store and queue backends.
const (
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
	BackendSQS      = "sqs"
)

// Config is the resolved application configuration.
type Config struct {
	LLM     llm.Config
	Logging LoggingConfig
	Store   StoreConfig
	Queue   QueueConfig
	Worker  WorkerConfig
	AWS     AWSConfig
	Server  ServerConfig
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string
	Format string
}

// StoreConfig selects the expense store.
type StoreConfig struct {
	Backend      string
	DatabasePath string
	Table        string
	UserIndex    string
}

// QueueConfig selects and tunes the work queue.
type QueueConfig struct {
	Backend           string
	URL               string
	VisibilityTimeout time.Duration
	WaitTime          time.Duration
	MaxReceiveCount   int
	BatchSize         int
}

// WorkerConfig tunes the categorization worker.
type WorkerConfig struct {
	Timeout               time.Duration
	PollInterval          time.Duration
	Concurrency           int
	UserConcurrency       int
	ConditionalTransition bool
}

// AWSConfig locates AWS services.
type AWSConfig struct {
	Region   string
	Endpoint string
}

// ServerConfig configures the validation API.
type ServerConfig struct {
	Addr      string
	DevBypass bool
}

var envBindings = map[string][]string{
	"llm.api_key":                   {"OPENAI_API_KEY"},
	"llm.base_url":                  {"OPENAI_BASE_URL"},
	"llm.model":                     {"MODEL", "OPENAI_MODEL"},
	"llm.temperature":               {"TEMPERATURE", "OPENAI_TEMPERATURE"},
	"llm.max_tokens":                {"MAX_TOKENS", "OPENAI_MAX_TOKENS"},
	"llm.retry_attempts":            {"RETRY_ATTEMPTS", "OPENAI_RETRY_ATTEMPTS"},
	"llm.rate_limit":                {"OPENAI_RATE_LIMIT"},
	"llm.timeout":                   {"OPENAI_TIMEOUT"},
	"store.backend":                 {"STORE_BACKEND"},
	"database.path":                 {"DATABASE_PATH"},
	"dynamodb.table":                {"EXPENSES_TABLE"},
	"dynamodb.user_index":           {"EXPENSES_USER_INDEX"},
	"queue.backend":                 {"QUEUE_BACKEND"},
	"queue.url":                     {"CATEGORIZATION_QUEUE_URL"},
	"queue.max_receive_count":       {"MAX_RECEIVE_COUNT"},
	"queue.visibility_timeout":      {"VISIBILITY_TIMEOUT"},
	"queue.batch_size":              {"QUEUE_BATCH_SIZE"},
	"queue.wait_time":               {"QUEUE_WAIT_TIME"},
	"worker.concurrency":            {"WORKER_CONCURRENCY"},
	"worker.user_concurrency":       {"WORKER_USER_CONCURRENCY"},
	"worker.timeout":                {"WORKER_TIMEOUT"},
	"worker.poll_interval":          {"WORKER_POLL_INTERVAL"},
	"worker.conditional_transition": {"WORKER_CONDITIONAL_TRANSITION"},
	"aws.region":                    {"AWS_REGION"},
	"aws.endpoint":                  {"AWS_ENDPOINT_URL"},
	"server.addr":                   {"SERVER_ADDR"},
	"auth.dev_bypass":               {"DEV_BYPASS_AUTH"},
	"logging.level":                 {"LOG_LEVEL"},
	"logging.format":                {"LOG_FORMAT"},
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 200)
	v.SetDefault("llm.retry_attempts", 3)
	v.SetDefault("llm.rate_limit", 500)
	v.SetDefault("llm.timeout", 30*time.Second)

	v.SetDefault("store.backend", BackendSQLite)
	v.SetDefault("database.path", "$HOME/.local/share/expenseflow/expenses.db")
	v.SetDefault("dynamodb.table", "expenses")
	v.SetDefault("dynamodb.user_index", "userId-index")

	v.SetDefault("queue.backend", BackendSQLite)
	v.SetDefault("queue.max_receive_count", 3)
	v.SetDefault("queue.visibility_timeout", 6*time.Minute)
	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("queue.wait_time", 10*time.Second)

	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.user_concurrency", 4)
	v.SetDefault("worker.timeout", 5*time.Minute)
	v.SetDefault("worker.poll_interval", 2*time.Second)
	v.SetDefault("worker.conditional_transition", false)

	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("auth.dev_bypass", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// BindEnv binds every setting to its environment variables. The first
// variable listed for a key takes precedence.
func BindEnv(v *viper.Viper) error {
	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// New returns a viper instance with defaults and environment bindings.
func New() (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Load resolves a Config from v and checks backend choices.
func Load(v *viper.Viper) (Config, error) {
	cfg := resolve(v)

	switch cfg.Store.Backend {
	case BackendSQLite, BackendDynamoDB:
	default:
		return Config{}, fmt.Errorf("%w: unknown store backend %q", common.ErrConfiguration, cfg.Store.Backend)
	}
	switch cfg.Queue.Backend {
	case BackendSQLite:
	case BackendSQS:
		if cfg.Queue.URL == "" {
			return Config{}, fmt.Errorf("%w: queue.url is required for the sqs backend", common.ErrConfiguration)
		}
	default:
		return Config{}, fmt.Errorf("%w: unknown queue backend %q", common.ErrConfiguration, cfg.Queue.Backend)
	}
	if cfg.Queue.Backend == BackendSQLite && cfg.Store.Backend != BackendSQLite {
		return Config{}, fmt.Errorf("%w: the sqlite queue needs the sqlite store", common.ErrConfiguration)
	}

	return cfg, nil
}

// LoadLambda resolves a Config for the Lambda handlers, which always use
// DynamoDB and receive queue messages from the event source rather than a
// queue client.
func LoadLambda(v *viper.Viper) (Config, error) {
	v.SetDefault("store.backend", BackendDynamoDB)
	cfg := resolve(v)
	if cfg.Store.Backend != BackendDynamoDB {
		return Config{}, fmt.Errorf("%w: lambda handlers need the dynamodb store, got %q", common.ErrConfiguration, cfg.Store.Backend)
	}
	if cfg.Store.Table == "" {
		return Config{}, fmt.Errorf("%w: EXPENSES_TABLE is required", common.ErrConfiguration)
	}
	return cfg, nil
}

func resolve(v *viper.Viper) Config {
	return Config{
		LLM: llm.Config{
			APIKey:        v.GetString("llm.api_key"),
			BaseURL:       v.GetString("llm.base_url"),
			Model:         v.GetString("llm.model"),
			Temperature:   v.GetFloat64("llm.temperature"),
			MaxTokens:     v.GetInt("llm.max_tokens"),
			RetryAttempts: v.GetInt("llm.retry_attempts"),
			RateLimit:     v.GetInt("llm.rate_limit"),
			Timeout:       v.GetDuration("llm.timeout"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Store: StoreConfig{
			Backend:      strings.ToLower(v.GetString("store.backend")),
			DatabasePath: ExpandPath(v.GetString("database.path")),
			Table:        v.GetString("dynamodb.table"),
			UserIndex:    v.GetString("dynamodb.user_index"),
		},
		Queue: QueueConfig{
			Backend:           strings.ToLower(v.GetString("queue.backend")),
			URL:               v.GetString("queue.url"),
			MaxReceiveCount:   v.GetInt("queue.max_receive_count"),
			VisibilityTimeout: v.GetDuration("queue.visibility_timeout"),
			BatchSize:         v.GetInt("queue.batch_size"),
			WaitTime:          v.GetDuration("queue.wait_time"),
		},
		Worker: WorkerConfig{
			Concurrency:           v.GetInt("worker.concurrency"),
			UserConcurrency:       v.GetInt("worker.user_concurrency"),
			Timeout:               v.GetDuration("worker.timeout"),
			PollInterval:          v.GetDuration("worker.poll_interval"),
			ConditionalTransition: v.GetBool("worker.conditional_transition"),
		},
		AWS: AWSConfig{
			Region:   v.GetString("aws.region"),
			Endpoint: v.GetString("aws.endpoint"),
		},
		Server: ServerConfig{
			Addr:      v.GetString("server.addr"),
			DevBypass: v.GetBool("auth.dev_bypass"),
		},
	}
}

// RequireLLM reports a configuration error when no API key is set.
func (c Config) RequireLLM() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY is required", common.ErrConfiguration)
	}
	return nil
}

// ExpandPath expands a leading ~ and environment variables in path.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return os.ExpandEnv(path)
}
