package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger

	// fieldPool reduces allocations when logging structured fields on the
	// hot 1Hz control-loop paths.
	fieldPool = sync.Pool{
		New: func() interface{} {
			return make(map[string]interface{})
		},
	}
)

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	Output     string // stdout, stderr, file
	FilePath   string // path to log file if output=file
	Component  string // component name for structured logging (heatppm, unidled)
	EnableFile bool   // enable file output
}

// InitLogger initializes the global logger with the provided configuration
func InitLogger(cfg Config) error {
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	var output zerolog.ConsoleWriter
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			NoColor:    false,
		}
		Logger = zerolog.New(output).With().Timestamp().Str("component", cfg.Component).Logger()
	} else {
		var writer io.Writer
		switch cfg.Output {
		case "stderr":
			writer = os.Stderr
		case "file":
			if cfg.EnableFile && cfg.FilePath != "" {
				file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
				if err != nil {
					return err
				}
				writer = file
			} else {
				writer = os.Stdout
			}
		default:
			writer = os.Stdout
		}

		Logger = zerolog.New(writer).With().Timestamp().Str("component", cfg.Component).Logger()
	}

	log.Logger = Logger

	return nil
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

func getFieldMap() map[string]interface{} {
	return fieldPool.Get().(map[string]interface{})
}

func putFieldMap(m map[string]interface{}) {
	for k := range m {
		delete(m, k)
	}
	fieldPool.Put(m)
}

// Debug logs a debug message
func Debug(pkg, message string) {
	Logger.Debug().Str("package", pkg).Msg(message)
}

// Info logs an info message
func Info(pkg, message string) {
	Logger.Info().Str("package", pkg).Msg(message)
}

// Warn logs a warning message
func Warn(pkg, message string) {
	Logger.Warn().Str("package", pkg).Msg(message)
}

// Error logs an error message
func Error(pkg, message string, err error) {
	Logger.Error().Str("package", pkg).Err(err).Msg(message)
}

// Fatal logs a fatal message and exits the process
func Fatal(pkg, message string, err error) {
	Logger.Fatal().Str("package", pkg).Err(err).Msg(message)
}

// SafeInfo logs an info message with a field map, reusing a pooled map to
// keep the hot 1Hz paths allocation-light.
func SafeInfo(pkg, message string, fields map[string]interface{}) {
	logWithFields(Logger.Info(), pkg, fields).Msg(message)
}

// SafeWarn logs a warning message with a field map
func SafeWarn(pkg, message string, fields map[string]interface{}) {
	logWithFields(Logger.Warn(), pkg, fields).Msg(message)
}

// SafeDebug logs a debug message with a field map
func SafeDebug(pkg, message string, fields map[string]interface{}) {
	logWithFields(Logger.Debug(), pkg, fields).Msg(message)
}

// SafeError logs an error message with a field map
func SafeError(pkg, message string, err error, fields map[string]interface{}) {
	logWithFields(Logger.Error().Err(err), pkg, fields).Msg(message)
}

func logWithFields(event *zerolog.Event, pkg string, fields map[string]interface{}) *zerolog.Event {
	safe := getFieldMap()
	defer putFieldMap(safe)
	for k, v := range fields {
		safe[k] = v
	}

	event = event.Str("package", pkg)
	for k, v := range safe {
		event = event.Interface(k, v)
	}
	return event
}

// WithFields creates a logger with predefined fields attached
func WithFields(pkg string, fields map[string]interface{}) zerolog.Logger {
	ctx := Logger.With().Str("package", pkg)
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return ctx.Logger()
}

// Edge logs a PPS edge or phase transition event
func Edge(operation string, fields map[string]interface{}) {
	logWithFields(Logger.Debug(), "pps", fields).Msg(operation)
}

// Plateau logs a heatppm plateau acceptance
func Plateau(fields map[string]interface{}) {
	logWithFields(Logger.Info(), "controller", fields).Msg("plateau accepted")
}

// Startup logs application startup information
func Startup(version string, config interface{}) {
	Logger.Info().
		Str("package", "main").
		Str("version", version).
		Interface("config", config).
		Msg("starting")
}

// Shutdown logs application shutdown
func Shutdown(reason string) {
	Logger.Info().
		Str("package", "main").
		Str("reason", reason).
		Msg("shutting down")
}
