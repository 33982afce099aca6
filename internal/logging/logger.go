package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level represents log severity levels
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l Level) String() string {
	if l < DEBUG || l > FATAL {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel converts a string to a Level. Unknown strings map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// Config holds logger configuration
type Config struct {
	Level       string `json:"level"`
	Output      string `json:"output"`       // "stdout", "stderr", or file path
	Component   string `json:"component"`
	IncludeFile bool   `json:"include_file"` // Include file and line number
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Component string                 `json:"component,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
	File      string                 `json:"file,omitempty"`
	Line      int                    `json:"line,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger is a structured logger. With* methods return copies, so a
// logger handed to another component can be specialized without
// affecting the parent.
type Logger struct {
	mu          sync.Mutex
	out         io.Writer
	level       Level
	component   string
	traceID     string
	fields      map[string]interface{}
	includeFile bool
	jsonFormat  bool
}

// New creates a new logger with the given configuration
func New(cfg *Config) *Logger {
	return &Logger{
		out:         openOutput(cfg.Output),
		level:       ParseLevel(cfg.Level),
		component:   cfg.Component,
		includeFile: cfg.IncludeFile,
		jsonFormat:  cfg.JSONFormat,
		fields:      make(map[string]interface{}),
	}
}

// openOutput falls back to stdout when the named file cannot be opened.
func openOutput(name string) io.Writer {
	switch name {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return os.Stdout
	}
	return f
}

var (
	defaultLogger *Logger
	defaultOnce   sync.Once
)

// Default returns the default logger instance
func Default() *Logger {
	defaultOnce.Do(func() {
		if defaultLogger == nil {
			defaultLogger = New(&Config{Level: "INFO", Component: "insight", JSONFormat: true})
		}
	})
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(l *Logger) {
	defaultLogger = l
}

// child copies the logger with its own fields map.
func (l *Logger) child() *Logger {
	fields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &Logger{
		out:         l.out,
		level:       l.level,
		component:   l.component,
		traceID:     l.traceID,
		fields:      fields,
		includeFile: l.includeFile,
		jsonFormat:  l.jsonFormat,
	}
}

// WithComponent returns a new logger tagged with the component name
func (l *Logger) WithComponent(component string) *Logger {
	c := l.child()
	c.component = component
	return c
}

// WithTraceID returns a new logger carrying the trace ID
func (l *Logger) WithTraceID(traceID string) *Logger {
	c := l.child()
	c.traceID = traceID
	return c
}

// WithField returns a new logger with an additional field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	c := l.child()
	c.fields[key] = value
	return c
}

// WithFields returns a new logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	c := l.child()
	for k, v := range fields {
		c.fields[k] = v
	}
	return c
}

// WithError returns a new logger with an error field
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// asKeyValues interprets args as alternating key-value pairs. It
// declines when the message carries printf verbs or the args do not
// form string-keyed pairs, in which case the caller formats instead.
func asKeyValues(msg string, args []interface{}) (map[string]interface{}, bool) {
	if len(args) < 2 || len(args)%2 != 0 || strings.Contains(msg, "%") {
		return nil, false
	}
	if _, ok := args[0].(string); !ok {
		return nil, false
	}

	fields := make(map[string]interface{}, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		// Errors serialize as their message
		if err, isErr := args[i+1].(error); isErr {
			if err != nil {
				fields[key] = err.Error()
			} else {
				fields[key] = nil
			}
			continue
		}
		fields[key] = args[i+1]
	}
	return fields, true
}

// emit builds and writes one entry. Args are either printf verbs or
// alternating key-value pairs; see asKeyValues.
func (l *Logger) emit(level Level, msg string, args ...interface{}) {
	if level < l.level {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   msg,
		Component: l.component,
		TraceID:   l.traceID,
	}

	if len(l.fields) > 0 {
		entry.Fields = make(map[string]interface{}, len(l.fields)+len(args)/2)
		for k, v := range l.fields {
			entry.Fields[k] = v
		}
	}

	if len(args) > 0 {
		if kv, ok := asKeyValues(msg, args); ok {
			if entry.Fields == nil {
				entry.Fields = kv
			} else {
				for k, v := range kv {
					entry.Fields[k] = v
				}
			}
		} else {
			entry.Message = fmt.Sprintf(msg, args...)
		}
	}

	if l.includeFile {
		if _, file, line, ok := runtime.Caller(2); ok {
			if idx := strings.LastIndexByte(file, '/'); idx >= 0 {
				file = file[idx+1:]
			}
			entry.File = file
			entry.Line = line
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jsonFormat {
		data, _ := json.Marshal(entry)
		fmt.Fprintln(l.out, string(data))
	} else {
		fmt.Fprintln(l.out, formatText(entry))
	}
}

// formatText renders an entry as a single human-readable line.
func formatText(entry LogEntry) string {
	var b strings.Builder

	// Trim nanoseconds for text format
	b.WriteString(entry.Timestamp[:19])
	fmt.Fprintf(&b, " [%-5s] ", entry.Level)

	if entry.Component != "" {
		fmt.Fprintf(&b, "[%s] ", entry.Component)
	}
	if entry.TraceID != "" {
		fmt.Fprintf(&b, "{%s} ", entry.TraceID[:8])
	}

	b.WriteString(entry.Message)

	if len(entry.Fields) > 0 {
		b.WriteString(" | ")
		first := true
		for k, v := range entry.Fields {
			if !first {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, v)
			first = false
		}
	}

	if entry.File != "" {
		fmt.Fprintf(&b, " (%s:%d)", entry.File, entry.Line)
	}

	return b.String()
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.emit(DEBUG, msg, args...)
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) {
	l.emit(INFO, msg, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.emit(WARN, msg, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) {
	l.emit(ERROR, msg, args...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.emit(FATAL, msg, args...)
	os.Exit(1)
}

// Package-level functions for the default logger

// Debug logs a debug message using the default logger
func Debug(msg string, args ...interface{}) {
	Default().Debug(msg, args...)
}

// Info logs an info message using the default logger
func Info(msg string, args ...interface{}) {
	Default().Info(msg, args...)
}

// Warn logs a warning message using the default logger
func Warn(msg string, args ...interface{}) {
	Default().Warn(msg, args...)
}

// Error logs an error message using the default logger
func Error(msg string, args ...interface{}) {
	Default().Error(msg, args...)
}

// WithComponent returns a default-derived logger tagged with the component
func WithComponent(component string) *Logger {
	return Default().WithComponent(component)
}

// WithFields returns a default-derived logger with additional fields
func WithFields(fields map[string]interface{}) *Logger {
	return Default().WithFields(fields)
}
