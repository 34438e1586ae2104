// Package logging builds the zap loggers used across the storefront services.
//
// Every logger returned by New is wrapped in a core that masks connection-string
// credentials in messages, string fields and error fields.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/storefront/storefront/pkg/sanitize"
)

// Config selects the level and encoding of a logger.
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// New creates a production zap logger with the configured level and format.
func New(cfg Config) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch strings.ToLower(cfg.Format) {
	case "", "json":
		config.Encoding = "json"
	case "console", "text":
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return config.Build(zap.WrapCore(NewSanitizingCore))
}

// ParseLevel maps a level name to a zapcore.Level. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// NewSanitizingCore wraps core so that nothing it writes carries credentials.
func NewSanitizingCore(core zapcore.Core) zapcore.Core {
	if _, ok := core.(*sanitizingCore); ok {
		return core
	}
	return &sanitizingCore{Core: core}
}

type sanitizingCore struct {
	zapcore.Core
}

func (c *sanitizingCore) With(fields []zapcore.Field) zapcore.Core {
	return &sanitizingCore{Core: c.Core.With(sanitizeFields(fields))}
}

func (c *sanitizingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *sanitizingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = sanitize.String(ent.Message)
	return c.Core.Write(ent, sanitizeFields(fields))
}

func sanitizeFields(fields []zapcore.Field) []zapcore.Field {
	if len(fields) == 0 {
		return fields
	}
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		switch f.Type {
		case zapcore.StringType:
			f.String = sanitize.String(f.String)
		case zapcore.StringerType:
			f = zap.String(f.Key, sanitize.String(fmt.Sprint(f.Interface)))
		case zapcore.ErrorType:
			if err, ok := f.Interface.(error); ok {
				f.Interface = sanitize.Error(err)
			}
		}
		out[i] = f
	}
	return out
}
