package logger

import (
	"io"
	"log/slog"
)

var logger *slog.Logger

// Init installs a logger writing to w. Format "json" selects JSON lines,
// anything else logfmt-style text. Unknown levels fall back to info.
func Init(w io.Writer, level, format string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// With attaches attributes to every subsequent log line, e.g. the run id
func With(args ...any) {
	logger = Get().With(args...)
	slog.SetDefault(logger)
}

// Get returns the installed logger, or slog's default before Init runs
func Get() *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func Debug(msg string, args ...any) { Get().Debug(msg, args...) }

func Info(msg string, args ...any) { Get().Info(msg, args...) }

func Warn(msg string, args ...any) { Get().Warn(msg, args...) }

func Error(msg string, args ...any) { Get().Error(msg, args...) }
