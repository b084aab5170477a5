// Package logging wraps log/slog with the handlers, event logger and metric
// helpers used across the daemon.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// LogLevel is a level name as written in the config file.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogFormat is text, json or pretty.
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
	// FormatPretty writes human friendly lines, coloured when the output is a terminal.
	FormatPretty LogFormat = "pretty"
)

// Config selects the level, format and destination of daemon logs.
type Config struct {
	Level     LogLevel  `yaml:"level" toml:"level" json:"level"`
	Format    LogFormat `yaml:"format" toml:"format" json:"format"`
	Output    string    `yaml:"output" toml:"output" json:"output"` // "stdout", "stderr", or file path
	AddSource bool      `yaml:"add_source" toml:"add_source" json:"add_source"`
}

// DefaultConfig returns Info level text logs on stdout without source locations.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Format: FormatText,
		Output: "stdout",
	}
}

// Logger is a slog.Logger that also owns its output file.
type Logger struct {
	*slog.Logger
	writer io.Writer
	config Config
}

// ParseLevel converts a configured level to a slog level, defaulting to Info.
func ParseLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a logger from config. Timestamps in json and text records
// are rendered using RFC3339.
func NewLogger(config Config) (*Logger, error) {
	var writer io.Writer

	switch config.Output {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		if err := os.MkdirAll(filepath.Dir(config.Output), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		f, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}

		writer = f
	}

	return &Logger{
		Logger: slog.New(newHandler(writer, config)),
		config: config,
		writer: writer,
	}, nil
}

func newHandler(w io.Writer, config Config) slog.Handler {
	level := ParseLevel(config.Level)

	if config.Format == FormatPretty {
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			AddSource:  config.AddSource,
			TimeFormat: "15:04:05.000",
			NoColor:    !isTerminal(w),
		})
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339))
			}

			return a
		},
	}

	if config.Format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}

	return slog.NewTextHandler(w, opts)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// FromSlog wraps an existing slog logger, for example one writing to a test.
func FromSlog(l *slog.Logger) *Logger {
	return &Logger{Logger: l, config: DefaultConfig()}
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return FromSlog(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// WithComponent tags every record with the component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
		config: l.config,
		writer: l.writer,
	}
}

func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}

	return &Logger{
		Logger: l.Logger.With(args...),
		config: l.config,
		writer: l.writer,
	}
}

// Close closes the log file, if any. Standard streams are left open.
func (l *Logger) Close() error {
	if l.writer == os.Stdout || l.writer == os.Stderr {
		return nil
	}

	if closer, ok := l.writer.(io.Closer); ok {
		return closer.Close()
	}

	return nil
}

// LogEvent is one queued event written by the EventLogger.
type LogEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Component string                 `json:"component,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// EventLogger writes structured lifecycle events asynchronously so the render
// loop never waits on log output.
type EventLogger struct {
	logger *Logger
	events chan LogEvent
	done   chan struct{}
	closed chan struct{}
	once   sync.Once
}

// NewEventLogger starts an event logger with a 1000 event buffer. Call Close
// to drain pending events before shutdown.
func NewEventLogger(logger *Logger) *EventLogger {
	el := &EventLogger{
		logger: logger,
		events: make(chan LogEvent, 1000),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}

	go el.processEvents()

	return el
}

// LogPlayback logs a playback state transition.
func (el *EventLogger) LogPlayback(level LogLevel, message, transition string, fields map[string]interface{}) {
	fields = withField(fields, "transition", transition)
	el.logEvent(level, "playback", message, fields, nil)
}

// LogProvider logs a connectivity provider event.
func (el *EventLogger) LogProvider(level LogLevel, message, provider string, fields map[string]interface{}) {
	fields = withField(fields, "provider", provider)
	el.logEvent(level, "provider", message, fields, nil)
}

// LogSink logs a pixel sink event.
func (el *EventLogger) LogSink(level LogLevel, message, sink string, fields map[string]interface{}) {
	fields = withField(fields, "sink", sink)
	el.logEvent(level, "sink", message, fields, nil)
}

// LogConfig records a config load, reload or validation result.
func (el *EventLogger) LogConfig(level LogLevel, message, configPath string, fields map[string]interface{}) {
	fields = withField(fields, "config_path", configPath)
	el.logEvent(level, "config", message, fields, nil)
}

// LogDaemon records a lifecycle step such as start, reload or shutdown.
func (el *EventLogger) LogDaemon(level LogLevel, message, action string, fields map[string]interface{}) {
	fields = withField(fields, "action", action)
	el.logEvent(level, "daemon", message, fields, nil)
}

// LogError logs an error with the caller's location.
func (el *EventLogger) LogError(err error, message string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}

	if pc, file, line, ok := runtime.Caller(1); ok {
		fields["caller_file"] = filepath.Base(file)
		fields["caller_line"] = line

		if fn := runtime.FuncForPC(pc); fn != nil {
			fields["caller_func"] = fn.Name()
		}
	}

	el.logEvent(LevelError, "error", message, fields, err)
}

func withField(fields map[string]interface{}, key string, value interface{}) map[string]interface{} {
	if fields == nil {
		fields = make(map[string]interface{}, 1)
	}

	fields[key] = value

	return fields
}

func (el *EventLogger) logEvent(level LogLevel, component, message string, fields map[string]interface{}, err error) {
	event := LogEvent{
		Level:     string(level),
		Message:   message,
		Component: component,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	if err != nil {
		event.Error = err.Error()
	}

	select {
	case <-el.done:
		return
	default:
	}

	select {
	case el.events <- event:
	default:
		// Buffer full: write inline rather than drop.
		el.logEventDirect(event)
	}
}

func (el *EventLogger) logEventDirect(event LogEvent) {
	logger := el.logger.WithComponent(event.Component)

	args := make([]interface{}, 0, len(event.Fields)*2+4)
	args = append(args, "event_time", event.Timestamp)

	for k, v := range event.Fields {
		args = append(args, k, v)
	}

	if event.Error != "" {
		args = append(args, "error", event.Error)
	}

	switch LogLevel(event.Level) {
	case LevelDebug:
		logger.Debug(event.Message, args...)
	case LevelWarn:
		logger.Warn(event.Message, args...)
	case LevelError:
		logger.Error(event.Message, args...)
	default:
		logger.Info(event.Message, args...)
	}
}

func (el *EventLogger) processEvents() {
	defer close(el.closed)

	for {
		select {
		case event := <-el.events:
			el.logEventDirect(event)
		case <-el.done:
			for {
				select {
				case event := <-el.events:
					el.logEventDirect(event)
				default:
					return
				}
			}
		}
	}
}

// Close stops the event logger and waits for queued events to be written.
func (el *EventLogger) Close() {
	el.once.Do(func() { close(el.done) })
	<-el.closed
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// SetGlobalLogger sets the logger behind the package-level helpers. Passing
// nil makes the next GetGlobalLogger call build a default logger.
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()

	globalLogger = logger
}

// GetGlobalLogger returns the package-level logger, creating a default one on
// first use.
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()

	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()

	if globalLogger == nil {
		logger, err := NewLogger(DefaultConfig())
		if err != nil {
			logger = FromSlog(slog.Default())
		}

		globalLogger = logger
	}

	return globalLogger
}

// Debug logs at debug level through the global logger.
func Debug(msg string, args ...interface{}) {
	GetGlobalLogger().Debug(msg, args...)
}

// Info logs at info level through the global logger.
func Info(msg string, args ...interface{}) {
	GetGlobalLogger().Info(msg, args...)
}

// Warn logs at warn level through the global logger.
func Warn(msg string, args ...interface{}) {
	GetGlobalLogger().Warn(msg, args...)
}

// Error logs at error level through the global logger.
func Error(msg string, args ...interface{}) {
	GetGlobalLogger().Error(msg, args...)
}

// WithComponent returns the global logger tagged with component.
func WithComponent(component string) *Logger {
	return GetGlobalLogger().WithComponent(component)
}
