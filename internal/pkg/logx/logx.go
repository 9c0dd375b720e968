/*
Package logx wraps zerolog for the DoSpill server.

It initialises the process-wide logger once at startup (human-readable console output in
development, JSON in production) and offers small helpers for leveled logging with
key-value fields and for deriving per-component loggers.
*/
package logx

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitGlobalLogger configures the global zerolog instance.
// Development: debug level, colored console output on stderr.
// Production: info level, JSON on stdout.
func InitGlobalLogger(isDevelopment bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var out io.Writer = os.Stdout
	level := zerolog.InfoLevel

	if isDevelopment {
		out = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
		level = zerolog.DebugLevel
	}

	log.Logger = zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", "dospill").
		Caller().
		Logger()
}

// Logger returns the global logger.
func Logger() *zerolog.Logger {
	return &log.Logger
}

// Component returns a child logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

// checkFields guards against an odd number of key-value arguments,
// which zerolog would otherwise reject.
func checkFields(level string, fields []any) []any {
	if len(fields)%2 != 0 {
		Logger().Warn().
			Int("fields_count", len(fields)).
			Str("log_level", level).
			Msg("logx call received odd number of fields; fields ignored")
		return nil
	}
	return fields
}

// Debug logs msg at debug level with optional key-value fields.
func Debug(msg string, fields ...any) {
	Logger().Debug().
		Fields(checkFields("Debug", fields)).
		CallerSkipFrame(1).
		Msg(msg)
}

// Info logs msg at info level with optional key-value fields.
func Info(msg string, fields ...any) {
	Logger().Info().
		Fields(checkFields("Info", fields)).
		CallerSkipFrame(1).
		Msg(msg)
}

// Warn logs msg at warn level with optional key-value fields.
func Warn(msg string, fields ...any) {
	Logger().Warn().
		Fields(checkFields("Warn", fields)).
		CallerSkipFrame(1).
		Msg(msg)
}

// Error logs err and msg at error level with optional key-value fields.
func Error(err error, msg string, fields ...any) {
	Logger().Error().
		Err(err).
		Fields(checkFields("Error", fields)).
		CallerSkipFrame(1).
		Msg(msg)
}

// Fatal logs at fatal level and exits the process.
func Fatal(err error, msg string, fields ...any) {
	Logger().Fatal().
		Err(err).
		Fields(checkFields("Fatal", fields)).
		CallerSkipFrame(1).
		Msg(msg)
}
