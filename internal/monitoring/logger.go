package monitoring

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/ai-gateway/internal/types"
)

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level  types.LogLevel  // Minimum log level
	Format types.LogFormat // Output format
}

// NewLogger creates a structured logger.
//
// JSON output is the default for log aggregation; the pretty console
// writer is for local development only.
func NewLogger(config LoggerConfig) zerolog.Logger {
	var output io.Writer = os.Stdout

	var level zerolog.Level
	switch config.Level {
	case types.LogLevelDebug:
		level = zerolog.DebugLevel
	case types.LogLevelInfo:
		level = zerolog.InfoLevel
	case types.LogLevelWarn:
		level = zerolog.WarnLevel
	case types.LogLevelError:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if config.Format == types.LogFormatPretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "ai-gateway").
		Logger()
}

// RecoverPanic recovers a panic, logging the value and full stack trace.
// Use as the FIRST defer in long-lived goroutines so it runs last and
// catches panics from cleanup code too.
func RecoverPanic(logger zerolog.Logger, where string, fields map[string]any) {
	if r := recover(); r != nil {
		event := logger.Error().
			Interface("panic_value", r).
			Str("stack_trace", string(debug.Stack())).
			Str("goroutine", where)
		for k, v := range fields {
			event = event.Interface(k, v)
		}
		event.Msg("Panic recovered")
	}
}
