package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for application and audit logging
type Logger interface {
	// App returns the structured application logger shared by all components
	App() *zap.Logger

	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// Query lifecycle
	LogQueryReceived(ctx context.Context, queryID, sessionID string, runes int) error
	LogQueryCompleted(ctx context.Context, queryID, engineUsed string, confidence float64, duration time.Duration) error
	LogQueryDegraded(ctx context.Context, queryID, reason string) error

	// Index lifecycle
	LogIndexRebuilt(ctx context.Context, documents, failed int, duration time.Duration) error
	LogIndexFallback(ctx context.Context, documents int, cause error) error

	// Engine lifecycle
	LogEngineReady(ctx context.Context, engine string, duration time.Duration) error
	LogEngineFailed(ctx context.Context, engine string, err error) error
	LogEngineRestarted(ctx context.Context, engine string) error

	// External actions
	LogActionExecuted(ctx context.Context, queryID, action string, duration time.Duration) error
	LogActionFailed(ctx context.Context, queryID, action string, err error) error

	// Configuration
	LogConfigLoaded(ctx context.Context, path string) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the logger
	Close() error
}

// Config represents logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// AppLogPath is the path to the application log file
	AppLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// LogLevel is the minimum log level (debug, info, warn, error)
	LogLevel string

	// Console mirrors application logs to stderr
	Console bool
}

// DefaultConfig returns default logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/audit.log",
		AppLogPath:   "logs/insight.log",
		MaxSize:      100, // megabytes
		MaxBackups:   10,
		MaxAge:       30, // days
		Compress:     true,
		LogLevel:     "info",
	}
}

const flushThreshold = 100

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// NewLogger creates a new logger writing rotated JSON files
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := zapcore.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.LogLevel, err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	appCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(newRotator(config.AppLogPath, config)),
		level,
	)
	if config.Console {
		consoleCore := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.Lock(os.Stderr),
			level,
		)
		appCore = zapcore.NewTee(appCore, consoleCore)
	}
	appLogger := zap.New(appCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	// Audit trail is append-only at INFO level
	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(newRotator(config.AuditLogPath, config)),
		zapcore.InfoLevel,
	)

	logger := &auditLogger{
		appLogger:   appLogger,
		auditLogger: zap.New(auditCore),
		buffer:      make([]*Event, 0, flushThreshold),
		flushTicker: time.NewTicker(1 * time.Second),
		stopCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

func newRotator(path string, config *Config) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}
}

func (l *auditLogger) App() *zap.Logger {
	return l.appLogger
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)
	if len(l.buffer) >= flushThreshold {
		return l.flushLocked()
	}
	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]
	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

func (l *auditLogger) LogQueryReceived(ctx context.Context, queryID, sessionID string, runes int) error {
	return l.Log(ctx, queryReceivedEvent(queryID, sessionID, runes))
}

func (l *auditLogger) LogQueryCompleted(ctx context.Context, queryID, engineUsed string, confidence float64, duration time.Duration) error {
	return l.Log(ctx, queryCompletedEvent(queryID, engineUsed, confidence, duration))
}

func (l *auditLogger) LogQueryDegraded(ctx context.Context, queryID, reason string) error {
	return l.Log(ctx, NewEvent(EventQueryDegraded).
		WithCorrelationID(queryID).
		WithResult(ResultDegraded).
		WithDescription(reason))
}

func (l *auditLogger) LogIndexRebuilt(ctx context.Context, documents, failed int, duration time.Duration) error {
	return l.Log(ctx, NewEvent(EventIndexRebuilt).
		WithSubject("index").
		WithDuration(duration).
		WithMetadata("documents", documents).
		WithMetadata("failed", failed).
		WithDescription(fmt.Sprintf("Index rebuilt with %d documents", documents)))
}

func (l *auditLogger) LogIndexFallback(ctx context.Context, documents int, cause error) error {
	event := NewEvent(EventIndexFallback).
		WithSubject("index").
		WithResult(ResultDegraded).
		WithMetadata("documents", documents).
		WithDescription("Document source unavailable or empty, loaded fallback knowledge")
	if cause != nil {
		event.Error = cause.Error()
		event.ErrorCode = "source_unavailable"
	}
	return l.Log(ctx, event)
}

func (l *auditLogger) LogEngineReady(ctx context.Context, engine string, duration time.Duration) error {
	return l.Log(ctx, NewEvent(EventEngineReady).
		WithSubject(engine).
		WithDuration(duration).
		WithDescription(fmt.Sprintf("Engine %s ready", engine)))
}

func (l *auditLogger) LogEngineFailed(ctx context.Context, engine string, err error) error {
	return l.Log(ctx, NewEvent(EventEngineFailed).
		WithSubject(engine).
		WithError(err, "engine_init").
		WithDescription(fmt.Sprintf("Engine %s failed to initialize", engine)))
}

func (l *auditLogger) LogEngineRestarted(ctx context.Context, engine string) error {
	return l.Log(ctx, NewEvent(EventEngineRestarted).
		WithSubject(engine).
		WithDescription(fmt.Sprintf("Engine %s restarted", engine)))
}

func (l *auditLogger) LogActionExecuted(ctx context.Context, queryID, action string, duration time.Duration) error {
	return l.Log(ctx, NewEvent(EventActionExecuted).
		WithCorrelationID(queryID).
		WithSubject(action).
		WithDuration(duration).
		WithDescription(fmt.Sprintf("Action %s executed", action)))
}

func (l *auditLogger) LogActionFailed(ctx context.Context, queryID, action string, err error) error {
	return l.Log(ctx, NewEvent(EventActionFailed).
		WithCorrelationID(queryID).
		WithSubject(action).
		WithError(err, "action_error").
		WithDescription(fmt.Sprintf("Action %s failed", action)))
}

func (l *auditLogger) LogConfigLoaded(ctx context.Context, path string) error {
	return l.Log(ctx, NewEvent(EventConfigLoaded).
		WithSubject(path).
		WithDescription("Configuration loaded and validated"))
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}
	if err := l.auditLogger.Sync(); err != nil {
		return err
	}
	// stderr may reject fsync
	_ = l.appLogger.Sync()
	return nil
}

// Close closes the logger
func (l *auditLogger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.flushTicker.Stop()
		err = l.Sync()
	})
	return err
}

func queryReceivedEvent(queryID, sessionID string, runes int) *Event {
	return NewEvent(EventQueryReceived).
		WithCorrelationID(queryID).
		WithSession(sessionID).
		WithMetadata("query_runes", runes)
}

func queryCompletedEvent(queryID, engineUsed string, confidence float64, duration time.Duration) *Event {
	return NewEvent(EventQueryCompleted).
		WithCorrelationID(queryID).
		WithSubject(engineUsed).
		WithDuration(duration).
		WithMetadata("confidence", confidence)
}

// ─── Correlation IDs ──────────────────────────────────────────────────────────

type correlationKey struct{}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// GenerateCorrelationID generates a new correlation ID
func GenerateCorrelationID() string {
	return uuid.NewString()
}
