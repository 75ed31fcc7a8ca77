package config

import (
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ParseLevel converts a config level name into a slog level; unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Watch re-reads the log level whenever the config file changes on disk.
func Watch(v *viper.Viper, level *slog.LevelVar, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		next := ParseLevel(v.GetString("logger.level"))
		if next == level.Level() {
			return
		}

		log.Info("log level changed", slog.String("file", e.Name), slog.String("level", next.String()))
		level.Set(next)
	})
	v.WatchConfig()
}
