// Package logging provides structured logging for the portfolio ledger.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"
)

// Level represents the severity of a log message.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Format represents the output format for logs.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
	LevelFatal: 4,
}

// Logger provides leveled structured logging with attached fields.
type Logger struct {
	level  Level
	format Format
	output io.Writer
	fields map[string]interface{}
}

type entry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
}

// New creates a logger writing to stdout.
func New(level Level, format Format) *Logger {
	return &Logger{
		level:  level,
		format: format,
		output: os.Stdout,
		fields: make(map[string]interface{}),
	}
}

// SetOutput redirects log output, mainly for tests.
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

func (l *Logger) with(extra map[string]interface{}) *Logger {
	out := &Logger{
		level:  l.level,
		format: l.format,
		output: l.output,
		fields: make(map[string]interface{}, len(l.fields)+len(extra)),
	}
	for k, v := range l.fields {
		out.fields[k] = v
	}
	for k, v := range extra {
		out.fields[k] = v
	}
	return out
}

// WithField returns a logger with one extra field attached.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(map[string]interface{}{key: value})
}

// WithFields returns a logger with extra fields attached.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.with(fields)
}

// WithError attaches an error to the logger context.
func (l *Logger) WithError(err error) *Logger {
	return l.WithField("error", err.Error())
}

func (l *Logger) Debug(msg string)                          { l.log(LevelDebug, msg) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.log(LevelDebug, fmt.Sprintf(format, args...)) }
func (l *Logger) Info(msg string)                           { l.log(LevelInfo, msg) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(LevelInfo, fmt.Sprintf(format, args...)) }
func (l *Logger) Warn(msg string)                           { l.log(LevelWarn, msg) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(LevelWarn, fmt.Sprintf(format, args...)) }
func (l *Logger) Error(msg string)                          { l.log(LevelError, msg) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(LevelError, fmt.Sprintf(format, args...)) }

// Fatal logs the message and exits.
func (l *Logger) Fatal(msg string) {
	l.log(LevelFatal, msg)
	os.Exit(1)
}

func (l *Logger) log(level Level, msg string) {
	if levelRank[level] < levelRank[l.level] {
		return
	}

	e := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     string(level),
		Message:   msg,
		Fields:    l.fields,
	}

	if level == LevelError || level == LevelFatal {
		if _, file, line, ok := runtime.Caller(2); ok {
			e.Caller = fmt.Sprintf("%s:%d", file, line)
		}
	}

	var out string
	if l.format == FormatJSON {
		b, _ := json.Marshal(e)
		out = string(b)
	} else {
		out = fmt.Sprintf("[%s] %s: %s", e.Timestamp, e.Level, e.Message)
		if len(e.Fields) > 0 {
			b, _ := json.Marshal(e.Fields)
			out += " fields=" + string(b)
		}
		if e.Caller != "" {
			out += " caller=" + e.Caller
		}
	}

	fmt.Fprintln(l.output, out)
}

var globalLogger *Logger

// Init configures the global logger.
func Init(level Level, format Format) {
	globalLogger = New(level, format)
}

// Global returns the global logger, creating a default one when unset.
func Global() *Logger {
	if globalLogger == nil {
		globalLogger = New(LevelInfo, FormatJSON)
	}
	return globalLogger
}

// Convenience wrappers over the global logger.

func Debug(msg string)                          { Global().Debug(msg) }
func Debugf(format string, args ...interface{}) { Global().Debugf(format, args...) }
func Info(msg string)                           { Global().Info(msg) }
func Infof(format string, args ...interface{})  { Global().Infof(format, args...) }
func Warn(msg string)                           { Global().Warn(msg) }
func Warnf(format string, args ...interface{})  { Global().Warnf(format, args...) }
func Error(msg string)                          { Global().Error(msg) }
func Errorf(format string, args ...interface{}) { Global().Errorf(format, args...) }

// WithField attaches a field to the global logger.
func WithField(key string, value interface{}) *Logger { return Global().WithField(key, value) }

// WithFields attaches fields to the global logger.
func WithFields(fields map[string]interface{}) *Logger { return Global().WithFields(fields) }

// WithError attaches an error to the global logger.
func WithError(err error) *Logger { return Global().WithError(err) }

type loggerKey struct{}

// IntoContext stores a logger in the context.
func IntoContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext retrieves the context logger, falling back to the global one.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return logger
	}
	return Global()
}

// ParseLevel parses a string into a Level, defaulting to info.
func ParseLevel(level string) Level {
	switch level {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// ParseFormat parses a string into a Format, defaulting to JSON.
func ParseFormat(format string) Format {
	if format == "text" {
		return FormatText
	}
	return FormatJSON
}
