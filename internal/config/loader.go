package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads the bootstrap config. The file is optional; defaults cover a
// local single-user deployment, and every key can be overridden via
// INTERRUPTD_* environment variables.
func Load(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("interruptd")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	cfg := Default()

	viper.SetDefault("server.host", cfg.Server.Host)
	viper.SetDefault("data_dir", cfg.DataDir)
	viper.SetDefault("runtime.binary", cfg.Runtime.Binary)
	viper.SetDefault("runtime.message_timeout", cfg.Runtime.MessageTimeout)
	viper.SetDefault("runtime.subagent_timeout", cfg.Runtime.SubagentTimeout)
	viper.SetDefault("logging.level", cfg.Logging.Level)
	viper.SetDefault("rate_limit.enabled", cfg.RateLimit.Enabled)
	viper.SetDefault("rate_limit.rps", cfg.RateLimit.RPS)
	viper.SetDefault("rate_limit.burst", cfg.RateLimit.Burst)

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func Validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if cfg.Runtime.Binary == "" {
		return fmt.Errorf("runtime.binary must not be empty")
	}
	if cfg.Runtime.MessageTimeout <= 0 {
		return fmt.Errorf("runtime.message_timeout must be positive, got %s", cfg.Runtime.MessageTimeout)
	}
	if cfg.Runtime.SubagentTimeout <= 0 {
		return fmt.Errorf("runtime.subagent_timeout must be positive, got %s", cfg.Runtime.SubagentTimeout)
	}
	return nil
}
