package config

import "time"

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9091,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimitRPS:    100,
			RateLimitBurst:  200,
		},
		Engine: EngineConfig{
			SystemPrompt: "You are a helpful assistant for website visitors.",
			MaxToolChain: 3,
			TurnTimeout:  2 * time.Minute,
			ToolTimeout:  10 * time.Second,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			MaxTokens:   1024,
			Temperature: 0.7,
			Timeout:     60 * time.Second,
		},
		Experiments: ExperimentsConfig{
			Store: "memory",
		},
		Session: SessionConfig{
			IdleTTL:      30 * time.Minute,
			ReapInterval: 1 * time.Minute,
		},
		Handoff: HandoffConfig{
			InactivityThreshold: 2 * time.Minute,
			OperatorTimeout:     10 * time.Second,
		},
		Schedule: ScheduleConfig{
			Timeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			User:            "chatcore",
			Name:            "chatcore",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Persistence: PersistenceConfig{
			MaxRetries:   5,
			RetryBackoff: 500 * time.Millisecond,
			QueueSize:    1024,
			WriteTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "chatcore",
			SampleRate:  1.0,
		},
	}
}
