// Package logger builds the structured logger shared by every Switchyard component.
// It wraps "log/slog": JSON for log shippers, text for local runs.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/switchyard-pay/switchyard/internal/config"
)

// New creates a *slog.Logger writing to os.Stdout.
func New(cfg *config.AppConfig) *slog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter creates a *slog.Logger writing to w.
// Every line carries the service identity (service, version, env).
func NewWithWriter(cfg *config.AppConfig, w io.Writer) *slog.Logger {
	if cfg == nil {
		panic("logger: config cannot be nil")
	}

	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
		// file:line is useful locally and noisy in production
		AddSource:   cfg.Environment != config.EnvironmentProduction,
		ReplaceAttr: redact,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With(
		slog.String("service", cfg.Name),
		slog.String("version", cfg.Version),
		slog.String("env", cfg.Environment),
	)
}

// RedactedKeys are attribute keys whose values never reach the log output.
// Matching is exact and case-sensitive, at any group depth.
var RedactedKeys = map[string]struct{}{
	"api_key":       {},
	"authorization": {},
	"password":      {},
	"email":         {},
	"card_number":   {},
	"ip_address":    {},
}

const redactedValue = "[REDACTED]"

func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := RedactedKeys[a.Key]; ok && a.Value.Kind() != slog.KindGroup {
		return slog.String(a.Key, redactedValue)
	}
	return a
}

// parseLevel converts a string to slog.Level. Defaults to INFO.
func parseLevel(s string) slog.Level {
	var level slog.Level
	// UnmarshalText is case-insensitive
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
