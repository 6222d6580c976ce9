// Package logger provides enhanced logging with crate-specific support
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Logger interface for abstracted logging
type Logger interface {
	Info(message string, fields ...Field)
	Error(message string, fields ...Field)
	Warn(message string, fields ...Field)
	Debug(message string, fields ...Field)
	Success(message string, fields ...Field)
	WithCrate(crate string) Logger
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// WithField creates a new field
func WithField(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// WithError creates an error field
func WithError(err error) Field {
	return Field{Key: "error", Value: err}
}

// CrateLogger implements Logger on top of logrus. Lines logged through a
// crate-scoped logger are prefixed with the crate name.
type CrateLogger struct {
	logger    *logrus.Logger
	crateName string
}

// CustomFormatter formats logs with colors
type CustomFormatter struct {
	TimestampFormat string
	DisableColors   bool
}

// Format implements logrus.Formatter
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	crab := "🦀"
	timestamp := entry.Time.Format(f.TimestampFormat)

	var levelColor *color.Color
	var levelText string

	switch entry.Level {
	case logrus.ErrorLevel:
		levelColor = color.New(color.FgRed, color.Bold)
		levelText = "ERROR"
	case logrus.WarnLevel:
		levelColor = color.New(color.FgYellow, color.Bold)
		levelText = "WARN"
	case logrus.InfoLevel:
		levelColor = color.New(color.FgCyan)
		levelText = "INFO"
	case logrus.DebugLevel:
		levelColor = color.New(color.FgWhite, color.Faint)
		levelText = "DEBUG"
	default:
		levelColor = color.New(color.FgGreen)
		levelText = "SUCCESS"
	}

	cratePrefix := ""
	data := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		data[k] = v
	}
	if crate, ok := data["crate"]; ok {
		if f.DisableColors {
			cratePrefix = fmt.Sprintf("[%s] ", crate)
		} else {
			cratePrefix = fmt.Sprintf("[%s] ", color.New(color.FgBlue).Sprint(crate))
		}
		delete(data, "crate")
	}

	level := levelText
	if !f.DisableColors {
		level = levelColor.Sprint(levelText)
	}
	output := fmt.Sprintf("%s [%s] %s: %s%s", crab, timestamp, level, cratePrefix, entry.Message)

	// Fields are sorted so log lines are stable across runs
	if len(data) > 0 {
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
		}
		fields := " {" + strings.Join(parts, ", ") + "}"
		if f.DisableColors {
			output += fields
		} else {
			output += color.New(color.FgWhite, color.Faint).Sprint(fields)
		}
	}

	return []byte(output + "\n"), nil
}

// CreateLogger creates a logger writing to stderr and, if logFile is set,
// appending to that file as well. Stdout is left to command output.
func CreateLogger(logFile string, logLevel string) Logger {
	log := logrus.New()
	log.SetLevel(parseLevel(logLevel))
	log.SetFormatter(&CustomFormatter{
		TimestampFormat: "15:04:05",
		DisableColors:   false,
	})

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			log.SetOutput(io.MultiWriter(os.Stderr, file))
		} else {
			log.WithError(err).Warn("Failed to open log file, logging to stderr only")
		}
	}

	return &CrateLogger{
		logger: log,
	}
}

// CreateLoggerWithOutput creates a logger with custom output (for testing)
func CreateLoggerWithOutput(logLevel string, output io.Writer) Logger {
	log := logrus.New()
	log.SetLevel(parseLevel(logLevel))
	log.SetFormatter(&CustomFormatter{
		TimestampFormat: "15:04:05",
		DisableColors:   true,
	})
	log.SetOutput(output)

	return &CrateLogger{
		logger: log,
	}
}

// Nop returns a logger that discards everything
func Nop() Logger {
	return CreateLoggerWithOutput("error", io.Discard)
}

func parseLevel(logLevel string) logrus.Level {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// WithCrate returns a logger that prefixes lines with crate
func (l *CrateLogger) WithCrate(crate string) Logger {
	return &CrateLogger{logger: l.logger, crateName: crate}
}

func (l *CrateLogger) entry(fields []Field) *logrus.Entry {
	data := make(logrus.Fields, len(fields)+1)
	if l.crateName != "" {
		data["crate"] = l.crateName
	}
	for _, f := range fields {
		data[f.Key] = f.Value
	}
	return l.logger.WithFields(data)
}

// Info logs an info message
func (l *CrateLogger) Info(message string, fields ...Field) {
	l.entry(fields).Info(message)
}

// Error logs an error message
func (l *CrateLogger) Error(message string, fields ...Field) {
	l.entry(fields).Error(message)
}

// Warn logs a warning message
func (l *CrateLogger) Warn(message string, fields ...Field) {
	l.entry(fields).Warn(message)
}

// Debug logs a debug message
func (l *CrateLogger) Debug(message string, fields ...Field) {
	l.entry(fields).Debug(message)
}

// Success logs at info level with a check mark
func (l *CrateLogger) Success(message string, fields ...Field) {
	l.entry(fields).Info("✅ " + message)
}
