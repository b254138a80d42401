// Package logging builds the zap loggers used across mechOS.
package logging

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction
type Config struct {
	// Level is a zap level name: debug, info, warn, error
	Level string `yaml:"level"`

	// Encoding is "console" or "json"
	Encoding string `yaml:"encoding"`

	// Development enables caller annotation and stack traces on warnings
	Development bool `yaml:"development"`
}

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Encoding == "" {
		c.Encoding = "console"
	}
}

// Validate checks level and encoding names
func (c *Config) Validate() error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	if c.Encoding != "console" && c.Encoding != "json" {
		return fmt.Errorf("invalid log encoding %q", c.Encoding)
	}
	return nil
}

// New builds a logger from the configuration
func New(config Config) (*zap.Logger, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var level zapcore.Level
	_ = level.UnmarshalText([]byte(config.Level))

	logCfg := zap.NewProductionConfig()
	logCfg.Level = zap.NewAtomicLevelAt(level)
	logCfg.Encoding = config.Encoding
	logCfg.DisableStacktrace = !config.Development
	logCfg.Development = config.Development
	logCfg.EncoderConfig.EncodeTime = func(t time.Time, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString(t.Format(time.RFC3339))
	}
	if config.Encoding == "console" {
		logCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	if !config.Development {
		logCfg.EncoderConfig.CallerKey = ""
	}

	return logCfg.Build()
}

// OrNop returns l, or a no-op logger when l is nil
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
