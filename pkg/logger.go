package pkg

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel int

const (
	// LogLevelError represents error level logging
	LogLevelError LogLevel = iota
	// LogLevelWarn represents warning level logging
	LogLevelWarn
	// LogLevelInfo represents info level logging
	LogLevelInfo
	// LogLevelDebug represents debug level logging
	LogLevelDebug
)

// Logger wraps the logrus logger shared by the resolvers and the CLI.
type Logger struct {
	logger *log.Logger
}

var defaultLogger *Logger

func init() {
	defaultLogger = NewLogger(LogLevelWarn)
}

// NewLogger creates a new logger writing to stderr with the specified level
func NewLogger(level LogLevel) *Logger {
	logger := log.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrusLevelFromLogLevel(level))
	logger.SetFormatter(newTextFormatter())

	return &Logger{
		logger: logger,
	}
}

func newTextFormatter() log.Formatter {
	return &log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	}
}

func logrusLevelFromLogLevel(level LogLevel) log.Level {
	switch level {
	case LogLevelDebug:
		return log.DebugLevel
	case LogLevelInfo:
		return log.InfoLevel
	case LogLevelWarn:
		return log.WarnLevel
	case LogLevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ParseLogLevel converts a level name into a LogLevel
func ParseLogLevel(levelStr string) (LogLevel, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return LogLevelDebug, nil
	case "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	}
	return LogLevelInfo, fmt.Errorf("invalid log level: %s", levelStr)
}

// SetLogLevel sets the log level for the default logger
func SetLogLevel(level LogLevel) {
	defaultLogger.logger.SetLevel(logrusLevelFromLogLevel(level))
}

// SetLogLevelFromString sets the log level from a string
func SetLogLevelFromString(levelStr string) error {
	level, err := ParseLogLevel(levelStr)
	if err != nil {
		return err
	}
	SetLogLevel(level)
	return nil
}

// SetFormatFromString switches between the "text" and "json" formatters
func SetFormatFromString(format string) error {
	switch strings.ToLower(format) {
	case "", "text":
		SetFormatter(newTextFormatter())
	case "json":
		SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format: %s", format)
	}
	return nil
}

// Debug logs a debug message
func Debug(format string, args ...interface{}) {
	defaultLogger.logger.Debugf(format, args...)
}

// Info logs an info message
func Info(format string, args ...interface{}) {
	defaultLogger.logger.Infof(format, args...)
}

// Warn logs a warning message
func Warn(format string, args ...interface{}) {
	defaultLogger.logger.Warnf(format, args...)
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	defaultLogger.logger.Errorf(format, args...)
}

// StandardLogger returns the underlying logrus logger.
// Components that need Fatal or a private ExitFunc take it from here.
func StandardLogger() *log.Logger {
	return defaultLogger.logger
}

// IsDebugEnabled returns true if debug logging is enabled
func IsDebugEnabled() bool {
	return defaultLogger.logger.GetLevel() >= log.DebugLevel
}

// IsInfoEnabled returns true if info logging is enabled
func IsInfoEnabled() bool {
	return defaultLogger.logger.GetLevel() >= log.InfoLevel
}

// SetFormatter sets the formatter for the default logger
func SetFormatter(formatter log.Formatter) {
	defaultLogger.logger.SetFormatter(formatter)
}

// SetOutput sets the output for the default logger
func SetOutput(output io.Writer) {
	defaultLogger.logger.SetOutput(output)
}

// WithField adds a field to the logger
func WithField(key string, value interface{}) *log.Entry {
	return defaultLogger.logger.WithField(key, value)
}

// WithFields adds multiple fields to the logger
func WithFields(fields log.Fields) *log.Entry {
	return defaultLogger.logger.WithFields(fields)
}

// WithError adds an error field to the logger
func WithError(err error) *log.Entry {
	return defaultLogger.logger.WithError(err)
}
