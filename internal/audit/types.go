package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Query events
	EventQueryReceived  EventType = "query.received"
	EventQueryCompleted EventType = "query.completed"
	EventQueryDegraded  EventType = "query.degraded"

	// Index events
	EventIndexRebuilt  EventType = "index.rebuilt"
	EventIndexFallback EventType = "index.fallback"

	// Engine events
	EventEngineReady     EventType = "engine.ready"
	EventEngineFailed    EventType = "engine.failed"
	EventEngineRestarted EventType = "engine.restarted"

	// Action events
	EventActionExecuted EventType = "action.executed"
	EventActionFailed   EventType = "action.failed"

	// Configuration events
	EventConfigLoaded EventType = "config.loaded"
)

// Result represents the outcome of an audited operation
type Result string

const (
	ResultSuccess  Result = "success"
	ResultFailure  Result = "failure"
	ResultDegraded Result = "degraded"
)

// Event represents a single audit event
type Event struct {
	// Core fields
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	// Caller information
	SessionID string `json:"session_id,omitempty"`

	// Subject: an engine, action, document source or query
	Subject     string                 `json:"subject,omitempty"`
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	// Error information
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	// Duration tracking
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultSuccess,
		Metadata:  make(map[string]interface{}),
	}
}

// WithCorrelationID sets the correlation ID for event tracking
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithSession sets the opaque session identifier
func (e *Event) WithSession(sessionID string) *Event {
	e.SessionID = sessionID
	return e
}

// WithSubject sets what the event is about
func (e *Event) WithSubject(subject string) *Event {
	e.Subject = subject
	return e
}

// WithDescription sets a human-readable description
func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithResult sets the result of the event
func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithError sets error information
func (e *Event) WithError(err error, code string) *Event {
	if err != nil {
		e.Error = err.Error()
		e.ErrorCode = code
		e.Result = ResultFailure
	}
	return e
}

// WithDuration sets the duration in milliseconds
func (e *Event) WithDuration(duration time.Duration) *Event {
	e.DurationMs = duration.Milliseconds()
	return e
}

// WithMetadata adds metadata to the event
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	e.Metadata[key] = value
	return e
}
