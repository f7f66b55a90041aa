// pkg/logger/logger.go
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

var (
	// Log is the global logger instance
	Log zerolog.Logger
)

func init() {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = time.RFC3339Nano

	Log = newLogger(consoleWriter(os.Stdout), zerolog.InfoLevel)
}

func consoleWriter(out io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02 15:04:05",
	}
}

func newLogger(out io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()
}

// SetLevel sets the log level
func SetLevel(levelStr string) {
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil || levelStr == "" {
		Log.Warn().Str("level", levelStr).Msg("invalid log level, defaulting to info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	Log = Log.Level(level)
}

// SetFormat switches between the colored console writer and plain JSON lines.
// Scheduled runs ship JSON so run reports can be parsed by log collectors.
func SetFormat(format string) {
	level := Log.GetLevel()
	switch format {
	case "json":
		Log = newLogger(os.Stdout, level)
	default:
		Log = newLogger(consoleWriter(os.Stdout), level)
	}
}

// ForRun returns a child logger tagged with the tenant and run identifiers.
func ForRun(tenantID, runID string) zerolog.Logger {
	return Log.With().
		Str("tenant_id", tenantID).
		Str("run_id", runID).
		Logger()
}
