package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Decision events
	EventDecisionAllowed    EventType = "decision.allowed"
	EventDecisionBlocked    EventType = "decision.blocked"
	EventDecisionOverridden EventType = "decision.overridden"

	// Model lifecycle events
	EventModelFitted      EventType = "model.fitted"
	EventModelLoaded      EventType = "model.loaded"
	EventModelInvalidated EventType = "model.invalidated"

	// Configuration events
	EventConfigLoaded  EventType = "config.loaded"
	EventConfigChanged EventType = "config.changed"

	// System events
	EventServerStarted  EventType = "system.server_started"
	EventServerShutdown EventType = "system.server_shutdown"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultDenied  Result = "denied"
)

// Event represents a single audit event
type Event struct {
	// Core fields
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	// Actor information
	SourceIP  string `json:"source_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// Decision details. PromptHash keeps prompt content out of the audit
	// trail; the full text lives only in the decision store.
	PromptHash   string `json:"prompt_hash,omitempty"`
	Reason       string `json:"reason,omitempty"`
	ModelVersion string `json:"model_version,omitempty"`

	// Action details
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	// Error information
	Error string `json:"error,omitempty"`

	// Duration tracking
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultSuccess,
	}
}

// WithCorrelationID sets the correlation ID
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithResult sets the result
func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithReason sets the decision reason code
func (e *Event) WithReason(reason string) *Event {
	e.Reason = reason
	return e
}

// WithPromptHash sets the prompt content hash
func (e *Event) WithPromptHash(hash string) *Event {
	e.PromptHash = hash
	return e
}

// WithModelVersion sets the scoring model version
func (e *Event) WithModelVersion(version string) *Event {
	e.ModelVersion = version
	return e
}

// WithDescription sets the human-readable description
func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithError records an error on the event and marks it failed
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.Error = err.Error()
		e.Result = ResultFailure
	}
	return e
}

// WithDuration records the elapsed time
func (e *Event) WithDuration(d time.Duration) *Event {
	e.DurationMs = d.Milliseconds()
	return e
}

// WithMetadata attaches a metadata key/value pair
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}
