// Package logging provides the gateway's structured logging sink: a
// zerolog.Logger configured from the teacher's level/output vocabulary and
// enriched with the component/request fields the core's error and audit
// paths expect (§7 "Observability").
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	cperrors "github.com/cloudpaste/cloudpaste/pkg/errors"
)

// Level mirrors the teacher's string-keyed level vocabulary.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config configures the global logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Logger is the process-wide base logger. Component/request loggers are
// derived from it with With*.
var Logger zerolog.Logger

// Init configures the global Logger. Call once at process start.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
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

// WithComponent scopes a logger to one internal component name
// ("resolver", "driver.s3", "upload", "job", ...).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithRequest scopes a logger to one inbound request, matching the fields
// §7 requires on every structural failure log line.
func WithRequest(reqID, principalType string) zerolog.Logger {
	return Logger.With().
		Str("reqId", reqID).
		Str("principalType", principalType).
		Logger()
}

// WithJob scopes a logger to one job/task execution.
func WithJob(taskID, taskType string) zerolog.Logger {
	return Logger.With().Str("taskId", taskID).Str("taskType", taskType).Logger()
}

// LogCoreError emits the §7-mandated structural-failure log line:
// {reqId, principalType, mountId?, subPath?, kind, code, retryable}.
func LogCoreError(logger zerolog.Logger, reqID, principalType, mountID, subPath string, err *cperrors.CloudPasteError) {
	evt := logger.Error().
		Str("reqId", reqID).
		Str("principalType", principalType).
		Str("kind", string(err.Category)).
		Str("code", string(err.Code)).
		Bool("retryable", err.Retryable)
	if mountID != "" {
		evt = evt.Str("mountId", mountID)
	}
	if subPath != "" {
		evt = evt.Str("subPath", subPath)
	}
	evt.Msg(err.Message)
}

// Helper functions mirroring the teacher's package-level convenience calls.

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(msg string, err error) {
	Logger.Error().Err(err).Msg(msg)
}

func init() {
	Init(Config{Level: InfoLevel, JSONOutput: true})
}
