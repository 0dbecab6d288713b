package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps a level name to a slog.Level. An empty name is info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log-level must be one of debug, info, warn, error, got: %s", name)
	}
}

// NewLogger builds a text or JSON logger writing to w.
func NewLogger(s LogSettings, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(s.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch s.Format {
	case LogFormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	case LogFormatText, "":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %s", s.Format)
	}
	return slog.New(handler), nil
}

// LogWithLogger logs the resolved settings using the provided logger
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: transport", "value", s.Transport)
	if s.Transport == "sse" {
		logger.InfoContext(ctx, "Config: host", "value", s.Host)
		logger.InfoContext(ctx, "Config: port", "value", s.Port)
	}

	logger.InfoContext(ctx, "Config: auth.type", "value", s.Auth.Type)
	switch s.Auth.Type {
	case AuthTypeBasic:
		logger.InfoContext(ctx, "Config: auth.basic.username", "value", s.Auth.Basic.Username)
		logger.InfoContext(ctx, "Config: auth.basic.password", "value", "****")
	case AuthTypeAPIKey:
		logger.InfoContext(ctx, "Config: auth.api_keys", "count", len(s.Auth.APIKeys))
	}

	logger.InfoContext(ctx, "Config: store.path", "value", s.Store.Path)
	if s.Index.InMemory {
		logger.InfoContext(ctx, "Config: index.in_memory", "value", true)
	} else {
		logger.InfoContext(ctx, "Config: index.path", "value", s.Index.Path)
	}
	logger.InfoContext(ctx, "Config: index.name", "value", s.Index.Name)
	logger.InfoContext(ctx, "Config: index.timeout", "value", s.Index.Timeout)

	logger.InfoContext(ctx, "Config: reconcile.enabled", "value", s.Reconcile.Enabled)
	if s.Reconcile.Enabled {
		logger.InfoContext(ctx, "Config: reconcile.interval", "value", s.Reconcile.Interval)
		logger.InfoContext(ctx, "Config: reconcile.lock_path", "value", s.Reconcile.LockPath)
	}
}
