package logger

import (
	"io"
	"log/slog"
	"os"

	"document-chat-platform/internal/config"
)

var Logger *slog.Logger

// InitLogger initializes structured logging based on configuration
func InitLogger(cfg *config.Config) {
	Logger = New(os.Stdout, cfg.IsDebug())
	slog.SetDefault(Logger)

	if cfg.IsDebug() {
		Logger.Debug("Structured logging initialized", "level", slog.LevelDebug.String())
	} else {
		Logger.Info("Structured logging initialized", "level", slog.LevelInfo.String())
	}
}

// New builds the JSON logger used by every binary. Source locations are only
// attached in debug mode.
func New(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
	}))
}

// With returns a component logger. Before InitLogger it falls back to
// slog.Default so packages can be used from tests.
func With(component string) *slog.Logger {
	if Logger != nil {
		return Logger.With("component", component)
	}
	return slog.Default().With("component", component)
}
