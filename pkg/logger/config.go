package logger

import (
	"log/slog"
	"strings"
)

// Config is the environment-driven logger configuration.
type Config struct {
	Env     string `env:"APP_ENV" envDefault:"development"`
	Service string `env:"SERVICE_NAME" envDefault:"paygate"`
	Level   string `env:"LOG_LEVEL"`
	// Format overrides the environment's encoding: "json" or "text".
	Format string `env:"LOG_FORMAT"`
}

// WithLevelName sets the minimum level from its textual name ("debug", "warn", ...).
// Unknown names are ignored and the environment default is kept.
func WithLevelName(name string) Option {
	return func(c *config) {
		if strings.TrimSpace(name) == "" {
			return
		}
		var l slog.Level
		if err := l.UnmarshalText([]byte(name)); err == nil {
			c.level = l
		}
	}
}

// NewFromConfig builds a logger for the configured environment.
// Extra options are applied after the environment defaults.
func NewFromConfig(cfg Config, opts ...Option) *slog.Logger {
	all := make([]Option, 0, len(opts)+3)
	all = append(all, WithEnvironment(cfg.Env, cfg.Service), WithLevelName(cfg.Level))
	if cfg.Format != "" {
		all = append(all, WithFormat(Format(strings.ToLower(cfg.Format))))
	}
	all = append(all, opts...)
	return New(all...)
}
