package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and optionally a
// config.yaml file. Environment variables take precedence over values from
// config files. Returns a populated Config struct or an error if
// loading/validation fails.
func Load() (*Config, error) {
	return LoadWithFile("")
}

// LoadWithFile is Load with an explicit config file path instead of the
// working-directory search. An empty path searches for config.yaml in the
// current directory.
func LoadWithFile(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("queue.default_timeout_seconds", 0)
	v.SetDefault("consumer.log_level", "info")

	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// A missing config file is fine; the environment can carry
			// everything.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Configure environment variables with the MAILSIFT_ prefix
	v.SetEnvPrefix("MAILSIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind critical environment variables
	bindEnvs := []struct {
		key    string
		envVar string
	}{
		{"queue.root", "MAILSIFT_QUEUE_ROOT"},
		{"queue.default_timeout_seconds", "MAILSIFT_QUEUE_DEFAULT_TIMEOUT_SECONDS"},
		{"analyzer.command", "MAILSIFT_ANALYZER_COMMAND"},
		{"codec.secret", "MAILSIFT_CODEC_SECRET"},
		{"consumer.log_level", "MAILSIFT_CONSUMER_LOG_LEVEL"},
	}
	for _, env := range bindEnvs {
		if err := v.BindEnv(env.key, env.envVar); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable %s: %w", env.envVar, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// AnalyzerArgv splits the configured analyzer command into argv form.
func (c *Config) AnalyzerArgv() []string {
	return strings.Fields(c.Analyzer.Command)
}
