package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from defaults, an optional dispatch.yaml in
// the working directory, and DISPATCH_-prefixed environment variables,
// then validates the result. Returns a populated Config or an error if
// loading or validation fails.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("logging.level", "info")
	v.SetDefault("scheduler.worker_count", 4)
	v.SetDefault("scheduler.blocking_workers", 4)
	v.SetDefault("scheduler.queue_capacity", 0)
	v.SetDefault("scheduler.history_capacity", 1000)
	v.SetDefault("scheduler.poll_interval", "1s")
	v.SetDefault("scheduler.wait_poll_interval", "100ms")
	v.SetDefault("scheduler.demo", false)

	v.SetConfigName("dispatch")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env cover it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}
