package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is the four-step diagnostics gate: none < error < info < debug.
type LogLevel int

const (
	LogNone LogLevel = iota
	LogError
	LogInfo
	LogDebug
)

var logLevelNames = map[string]LogLevel{
	"none":  LogNone,
	"off":   LogNone,
	"error": LogError,
	"err":   LogError,
	"info":  LogInfo,
	"debug": LogDebug,
}

func ParseLogLevel(s string) (LogLevel, error) {
	level, ok := logLevelNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return LogNone, fmt.Errorf("unknown log level %q (use none, error, info or debug)", s)
	}
	return level, nil
}

func (l LogLevel) String() string {
	switch l {
	case LogError:
		return "error"
	case LogInfo:
		return "info"
	case LogDebug:
		return "debug"
	default:
		return "none"
	}
}

// Zerolog maps the gate onto a zerolog level.
func (l LogLevel) Zerolog() zerolog.Level {
	switch {
	case l >= LogDebug:
		return zerolog.DebugLevel
	case l == LogInfo:
		return zerolog.InfoLevel
	case l == LogError:
		return zerolog.ErrorLevel
	default:
		return zerolog.Disabled
	}
}

func InitLogger(level LogLevel) {
	zerolog.SetGlobalLevel(level.Zerolog())
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.DateTime,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// GetLogger returns a child of the global logger gated at level.
func GetLogger(component string, level LogLevel) zerolog.Logger {
	return log.With().Str("component", component).Logger().Level(level.Zerolog())
}

func SetLogOutput(w io.Writer) {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}
