package config

import (
	"time"
)

// Config is the static bootstrap configuration read once at startup.
// Everything tunable at runtime (batch windows, rate limits, registries)
// lives in the settings document instead and is served over /settings.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	DataDir   string          `mapstructure:"data_dir"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
}

// RuntimeConfig describes how the agent runtime binary is invoked.
type RuntimeConfig struct {
	Binary          string        `mapstructure:"binary"`
	MessageTimeout  time.Duration `mapstructure:"message_timeout"`
	SubagentTimeout time.Duration `mapstructure:"subagent_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "127.0.0.1"},
		DataDir: ".",
		Runtime: RuntimeConfig{
			Binary:          "openclaw",
			MessageTimeout:  30 * time.Second,
			SubagentTimeout: 2 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info"},
		RateLimit: RateLimitConfig{
			Enabled: false,
			RPS:     20,
			Burst:   40,
		},
	}
}
