// Package logger builds the zerolog loggers used across onvifd.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Output targets understood by Config.Output.
const (
	OutputStdout = "stdout"
	OutputStderr = "stderr"
	OutputFile   = "file"
)

// Config describes where and how verbosely the daemon logs.
type Config struct {
	Level      string `mapstructure:"Level"`
	Debug      bool   `mapstructure:"Debug"`
	Output     string `mapstructure:"Output"`
	TimeFormat string `mapstructure:"TimeFormat"`

	// Rotation settings, used when Output is "file".
	File       string `mapstructure:"File"`
	MaxSizeMB  int    `mapstructure:"MaxSizeMB"`
	MaxBackups int    `mapstructure:"MaxBackups"`
	MaxAgeDays int    `mapstructure:"MaxAgeDays"`
	Compress   bool   `mapstructure:"Compress"`
}

// DefaultConfig returns an info-level stdout configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Output:     OutputStdout,
		TimeFormat: time.RFC3339,
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 7,
	}
}

// New creates a root logger from cfg.
func New(cfg Config) (zerolog.Logger, error) {
	output, err := writer(cfg)
	if err != nil {
		return zerolog.Nop(), err
	}

	level := zerolog.InfoLevel

	if cfg.Debug {
		level = zerolog.DebugLevel
	} else if cfg.Level != "" {
		level, err = zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), errors.NotValidf("log level %q", cfg.Level)
		}
	}

	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger(), nil
}

func writer(cfg Config) (io.Writer, error) {
	switch cfg.Output {
	case "", OutputStdout:
		return os.Stdout, nil
	case OutputStderr:
		return os.Stderr, nil
	case OutputFile:
		if cfg.File == "" {
			return nil, errors.NotValidf("file output without a file name")
		}

		return &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}, nil
	default:
		return nil, errors.NotValidf("log output %q", cfg.Output)
	}
}

// WithComponent tags log lines with the emitting component.
func WithComponent(log zerolog.Logger, component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// MaskSecret hides all but the outer characters of a secret for audit output.
func MaskSecret(value string) string {
	if value == "" {
		return ""
	}

	if len(value) <= 4 {
		return "****"
	}

	return value[:2] + "***" + value[len(value)-2:]
}
