// Package obslog adapts github.com/rs/zerolog to the amadeus.Logger
// interface, the same thin-wrapper pattern the teacher framework uses to
// let structured logging libraries sit behind its own Logger contract.
package obslog

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger to satisfy amadeus.Logger.
type Logger struct {
	z zerolog.Logger
}

// New builds a Logger writing to w (os.Stdout if nil) at the given level.
// Recognized levels: "debug", "info", "warn", "error"; anything else
// falls back to "info".
func New(w io.Writer, level string) *Logger {
	if w == nil {
		w = os.Stdout
	}
	z := zerolog.New(w).With().Timestamp().Logger().Level(parseLevel(level))
	return &Logger{z: z}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Info logs msg at info level with key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	e := l.z.Info()
	l.logMsg(e, msg, args)
}

// Warn logs msg at warn level with key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	e := l.z.Warn()
	l.logMsg(e, msg, args)
}

// Error logs msg at error level with key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	e := l.z.Error()
	l.logMsg(e, msg, args)
}

// Debug logs msg at debug level with key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	e := l.z.Debug()
	l.logMsg(e, msg, args)
}

func (l *Logger) logMsg(e *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, args[i+1])
	}
	e.Msg(msg)
}
