// Package config loads and validates application configuration.
package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Queue    QueueConfig    `mapstructure:"queue"    validate:"required"`
	Analyzer AnalyzerConfig `mapstructure:"analyzer" validate:"required"`
	Codec    CodecConfig    `mapstructure:"codec"`
	Consumer ConsumerConfig `mapstructure:"consumer" validate:"required"`
}

// QueueConfig contains the queue storage settings.
type QueueConfig struct {
	// Root is the directory holding the four state directories and the
	// scratch area.
	Root string `mapstructure:"root" validate:"required"`

	// DefaultTimeoutSeconds bounds the analyzer subprocess for jobs that
	// do not set their own timeout. Zero disables the bound.
	DefaultTimeoutSeconds int `mapstructure:"default_timeout_seconds" validate:"gte=0"`
}

// AnalyzerConfig contains the external analysis program settings.
type AnalyzerConfig struct {
	// Command is the analyzer invocation prefix, whitespace separated
	// (e.g. "claude -p"). The consumer appends the input path and the
	// output-contract instruction.
	Command string `mapstructure:"command" validate:"required"`
}

// CodecConfig contains the payload encryption settings.
type CodecConfig struct {
	// Secret is the passphrase for encrypted payload fields. Optional;
	// jobs without encrypted fields process fine without it. Supplied
	// via MAILSIFT_CODEC_SECRET rather than a config file in any real
	// deployment.
	Secret string `mapstructure:"secret"`
}

// ConsumerConfig contains the worker loop settings.
type ConsumerConfig struct {
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}
