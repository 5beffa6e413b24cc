package app

import (
	"io"
	"log/slog"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

// NewLogger returns a configured slog.Logger based on configuration.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg *Config) *slog.Logger {
	level := slog.LevelInfo
	format := "text"
	if cfg != nil {
		level = parseLevel(cfg.LogLevel)
		format = strings.ToLower(cfg.LogFormat)
	}
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{AddSource: true, Level: level}))
	case "pretty":
		handler := charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			ReportCaller:    true,
			Level:           charmlog.Level(level),
			Prefix:          "okash",
		})
		return slog.New(handler)
	default:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{AddSource: true, Level: level}))
	}
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo
	}
	return level
}
