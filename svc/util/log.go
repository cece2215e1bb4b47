package util

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"io"
	"os"
	"strings"
	"time"
)

var globalLog = zerolog.New(io.Discard)

// InitLog builds the process logger. Services get sub-loggers from the
// returned value instead of reaching for the global.
func InitLog(level string, dev bool) zerolog.Logger {
	return InitLogTo(os.Stdout, level, dev)
}
func InitLogTo(w io.Writer, level string, dev bool) zerolog.Logger {
	out := w
	if dev {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}
	zerolog.SetGlobalLevel(ParseLevel(level))
	globalLog = zerolog.New(out).
		With().
		Timestamp().
		Caller().
		Logger()
	log.Logger = globalLog
	return globalLog
}
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	}
	return zerolog.InfoLevel
}
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
func Debug() *zerolog.Event { return globalLog.Debug() }
func Info() *zerolog.Event  { return globalLog.Info() }
func Warn() *zerolog.Event  { return globalLog.Warn() }
func Error() *zerolog.Event { return globalLog.Error() }
func Fatal() *zerolog.Event { return globalLog.Fatal() }
func GetLogger() zerolog.Logger {
	return globalLog
}
