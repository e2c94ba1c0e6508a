// Package logging provides the structured logger shared by
// flocker-control and flocker-agent, with a trace_context field added
// for action-boundary correlation across a broadcast or a convergence
// tick.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, set by Init.
var Logger zerolog.Logger

// Level is a logging verbosity level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logger construction options.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with a component name
// ("control", "agent", "restapi", ...).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithNodeUUID returns a child logger tagged with a node_uuid field.
func WithNodeUUID(nodeUUID string) zerolog.Logger {
	return Logger.With().Str("node_uuid", nodeUUID).Logger()
}

// WithTraceContext returns a child logger tagged with the opaque
// trace_context string that travels alongside ClusterStatus and
// NodeState RPCs, so every log line touched by one operator action can
// be correlated across the control service and every agent.
func WithTraceContext(traceContext string) zerolog.Logger {
	return Logger.With().Str("trace_context", traceContext).Logger()
}

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }
func Fatal(msg string) { Logger.Fatal().Msg(msg) }

// Errorf logs err at error level with msg as the event description.
func Errorf(msg string, err error) {
	Logger.Error().Err(err).Msg(msg)
}
