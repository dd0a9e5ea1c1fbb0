package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type LoggerConfig struct {
	Level        string `env:"LEVEL"         envDefault:"info"`   // debug|info|warn|error
	Output       string `env:"OUTPUT"        envDefault:"stdout"` // stdout|stderr
	OTELExporter string `env:"OTEL_EXPORTER" envDefault:"none"`   // none|otlp-http|otlp-grpc
	OTELEndpoint string `env:"OTEL_ENDPOINT"`
}

// Writer returns the configured log destination.
func (c *Config) Writer() io.Writer {
	switch strings.ToLower(strings.TrimSpace(c.Logger.Output)) {
	case "stderr":
		return os.Stderr
	default:
		return os.Stdout
	}
}

func (lc *LoggerConfig) ParseLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(lc.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Interface compliance helpers for logger.Options.
func (c *Config) LogLevel() slog.Level { return c.Logger.ParseLevel() }
func (c *Config) LogExporter() string  { return c.Logger.OTELExporter }
func (c *Config) LogEndpoint() string  { return c.Logger.OTELEndpoint }
func (c *Config) ModeField() Mode      { return c.Mode }
