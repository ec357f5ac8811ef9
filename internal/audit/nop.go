package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Recorder is an in-memory Logger. It keeps audit events instead of writing
// them and logs application messages through the supplied zap logger.
type Recorder struct {
	app    *zap.Logger
	keep   bool
	mu     sync.Mutex
	events []*Event
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() *Recorder {
	return &Recorder{app: zap.NewNop()}
}

// NewRecorder returns a Logger that keeps audit events in memory.
// A nil app logger discards application logs.
func NewRecorder(app *zap.Logger) *Recorder {
	if app == nil {
		app = zap.NewNop()
	}
	return &Recorder{app: app, keep: true}
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of the given type were recorded.
func (r *Recorder) Count(eventType EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

func (r *Recorder) App() *zap.Logger { return r.app }

func (r *Recorder) Log(ctx context.Context, event *Event) error {
	if !r.keep || event == nil {
		return nil
	}
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) LogQueryReceived(ctx context.Context, queryID, sessionID string, runes int) error {
	return r.Log(ctx, queryReceivedEvent(queryID, sessionID, runes))
}

func (r *Recorder) LogQueryCompleted(ctx context.Context, queryID, engineUsed string, confidence float64, duration time.Duration) error {
	return r.Log(ctx, queryCompletedEvent(queryID, engineUsed, confidence, duration))
}

func (r *Recorder) LogQueryDegraded(ctx context.Context, queryID, reason string) error {
	return r.Log(ctx, NewEvent(EventQueryDegraded).WithCorrelationID(queryID).WithResult(ResultDegraded).WithDescription(reason))
}

func (r *Recorder) LogIndexRebuilt(ctx context.Context, documents, failed int, duration time.Duration) error {
	return r.Log(ctx, NewEvent(EventIndexRebuilt).WithDuration(duration).WithMetadata("documents", documents).WithMetadata("failed", failed))
}

func (r *Recorder) LogIndexFallback(ctx context.Context, documents int, cause error) error {
	return r.Log(ctx, NewEvent(EventIndexFallback).WithResult(ResultDegraded).WithMetadata("documents", documents))
}

func (r *Recorder) LogEngineReady(ctx context.Context, engine string, duration time.Duration) error {
	return r.Log(ctx, NewEvent(EventEngineReady).WithSubject(engine).WithDuration(duration))
}

func (r *Recorder) LogEngineFailed(ctx context.Context, engine string, err error) error {
	return r.Log(ctx, NewEvent(EventEngineFailed).WithSubject(engine).WithError(err, "engine_init"))
}

func (r *Recorder) LogEngineRestarted(ctx context.Context, engine string) error {
	return r.Log(ctx, NewEvent(EventEngineRestarted).WithSubject(engine))
}

func (r *Recorder) LogActionExecuted(ctx context.Context, queryID, action string, duration time.Duration) error {
	return r.Log(ctx, NewEvent(EventActionExecuted).WithCorrelationID(queryID).WithSubject(action).WithDuration(duration))
}

func (r *Recorder) LogActionFailed(ctx context.Context, queryID, action string, err error) error {
	return r.Log(ctx, NewEvent(EventActionFailed).WithCorrelationID(queryID).WithSubject(action).WithError(err, "action_error"))
}

func (r *Recorder) LogConfigLoaded(ctx context.Context, path string) error {
	return r.Log(ctx, NewEvent(EventConfigLoaded).WithSubject(path))
}

func (r *Recorder) Sync() error  { return nil }
func (r *Recorder) Close() error { return nil }

var _ Logger = (*Recorder)(nil)
