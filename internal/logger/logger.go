// Package logger wraps zerolog behind a small structured-logging API.
//
// There is no process-wide logger: callers construct one and pass it down
// explicitly, the same way connections are passed by reference instead of
// living in module-level state.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	Level  string    // debug, info, warn, error
	Format string    // json, console
	Output io.Writer // defaults to os.Stdout
}

// DefaultConfig returns production defaults: info-level JSON to stdout.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "json",
		Output: os.Stdout,
	}
}

// Logger is a structured logger. The zero value is not usable; build one
// with New or Nop.
type Logger struct {
	zl zerolog.Logger
}

// New creates a Logger from cfg. A nil cfg gets DefaultConfig.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(out).
		Level(parseLevel(cfg.Level)).
		With().Timestamp().Logger()

	return &Logger{zl: zl}
}

// Nop returns a logger that discards everything. Useful as a nil-guard in
// libraries and in tests.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", component).Logger()}
}

// Str returns a child logger carrying an extra string field.
func (l *Logger) Str(key, val string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, val).Logger()}
}

// Err returns a child logger carrying an error field.
func (l *Logger) Err(err error) *Logger {
	return &Logger{zl: l.zl.With().Err(err).Logger()}
}

func (l *Logger) Debug(msg string) { l.zl.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.zl.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zl.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.zl.Error().Msg(msg) }

func (l *Logger) Debugf(format string, args ...any) { l.zl.Debug().Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.zl.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.zl.Warn().Msgf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.zl.Error().Msgf(format, args...) }

// Fatal logs and exits with status 1.
func (l *Logger) Fatal(msg string) { l.zl.Fatal().Msg(msg) }

// Fatalf logs a formatted message and exits with status 1.
func (l *Logger) Fatalf(format string, args ...any) { l.zl.Fatal().Msgf(format, args...) }

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
