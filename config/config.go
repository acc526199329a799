package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the complete chatcore configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server" env:"SERVER"`
	Engine      EngineConfig      `yaml:"engine" env:"ENGINE"`
	LLM         LLMConfig         `yaml:"llm" env:"LLM"`
	Experiments ExperimentsConfig `yaml:"experiments" env:"EXPERIMENTS"`
	Session     SessionConfig     `yaml:"session" env:"SESSION"`
	Handoff     HandoffConfig     `yaml:"handoff" env:"HANDOFF"`
	Schedule    ScheduleConfig    `yaml:"schedule" env:"SCHEDULE"`
	Redis       RedisConfig       `yaml:"redis" env:"REDIS"`
	Database    DatabaseConfig    `yaml:"database" env:"DATABASE"`
	Persistence PersistenceConfig `yaml:"persistence" env:"PERSISTENCE"`
	Log         LogConfig         `yaml:"log" env:"LOG"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	RateLimitRPS    int           `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	WebhookSecret   string        `yaml:"webhook_secret" env:"WEBHOOK_SECRET"`
}

// EngineConfig holds turn-handling settings.
type EngineConfig struct {
	SystemPrompt string `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
	// MaxToolChain bounds tool executions per visitor turn.
	MaxToolChain int           `yaml:"max_tool_chain" env:"MAX_TOOL_CHAIN"`
	TurnTimeout  time.Duration `yaml:"turn_timeout" env:"TURN_TIMEOUT"`
	ToolTimeout  time.Duration `yaml:"tool_timeout" env:"TOOL_TIMEOUT"`
}

// LLMConfig holds model-provider settings.
type LLMConfig struct {
	Provider    string        `yaml:"provider" env:"PROVIDER"`
	APIKey      string        `yaml:"api_key" env:"API_KEY"`
	BaseURL     string        `yaml:"base_url" env:"BASE_URL"`
	Model       string        `yaml:"model" env:"MODEL"`
	MaxTokens   int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Temperature float64       `yaml:"temperature" env:"TEMPERATURE"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// VariantConfig is one arm of a prompt experiment. Weight is a percentage of
// traffic; weights across an experiment must not exceed 100, and any
// remainder falls to the control arm.
type VariantConfig struct {
	Name         string  `yaml:"name"`
	Weight       float64 `yaml:"weight"`
	Model        string  `yaml:"model"`
	SystemPrompt string  `yaml:"system_prompt"`
	Temperature  float64 `yaml:"temperature"`
}

// ExperimentConfig is one named experiment with its variant arms.
type ExperimentConfig struct {
	Name     string          `yaml:"name"`
	Variants []VariantConfig `yaml:"variants"`
}

// ExperimentsConfig holds all active experiments.
type ExperimentsConfig struct {
	Store       string             `yaml:"store" env:"STORE"` // memory or redis
	Experiments []ExperimentConfig `yaml:"experiments"`
}

// SessionConfig holds in-memory session store settings.
type SessionConfig struct {
	IdleTTL      time.Duration `yaml:"idle_ttl" env:"IDLE_TTL"`
	ReapInterval time.Duration `yaml:"reap_interval" env:"REAP_INTERVAL"`
}

// HandoffConfig holds operator-handoff settings.
type HandoffConfig struct {
	// InactivityThreshold is how long after the last human message control
	// reverts to the assistant.
	InactivityThreshold time.Duration `yaml:"inactivity_threshold" env:"INACTIVITY_THRESHOLD"`
	OperatorWebhookURL  string        `yaml:"operator_webhook_url" env:"OPERATOR_WEBHOOK_URL"`
	OperatorTimeout     time.Duration `yaml:"operator_timeout" env:"OPERATOR_TIMEOUT"`
}

// ScheduleConfig holds the scheduling-service client settings.
type ScheduleConfig struct {
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RedisConfig holds Redis settings.
type RedisConfig struct {
	Enabled      bool   `yaml:"enabled" env:"ENABLED"`
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig holds relational database settings.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"DRIVER"` // postgres or sqlite
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// PersistenceConfig holds durable-write retry settings.
type PersistenceConfig struct {
	MaxRetries   int           `yaml:"max_retries" env:"MAX_RETRIES"`
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"RETRY_BACKOFF"`
	QueueSize    int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig holds tracing settings.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Engine.MaxToolChain <= 0 {
		errs = append(errs, "max_tool_chain must be positive")
	}
	if c.Handoff.InactivityThreshold <= 0 {
		errs = append(errs, "inactivity_threshold must be positive")
	}
	for _, exp := range c.Experiments.Experiments {
		var total float64
		for _, v := range exp.Variants {
			if v.Weight < 0 {
				errs = append(errs, fmt.Sprintf("experiment %s: negative weight for variant %s", exp.Name, v.Name))
			}
			total += v.Weight
		}
		if total > 100 {
			errs = append(errs, fmt.Sprintf("experiment %s: variant weights exceed 100", exp.Name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// URL returns the postgres:// connection URL, used by the migration tooling.
// It is empty for non-Postgres drivers.
func (d *DatabaseConfig) URL() string {
	if d.Driver != "postgres" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.Name,
	}
	if d.SSLMode != "" {
		u.RawQuery = "sslmode=" + d.SSLMode
	}
	return u.String()
}

// DSN returns the database connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
