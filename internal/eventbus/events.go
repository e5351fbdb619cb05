package eventbus

import (
	"context"
	"time"
)

// EventType represents the type of an event
type EventType string

// Standard event types
const (
	// Plan lifecycle events
	EventPlanGenerationStarted EventType = "plan_generation_started"
	EventPlanGenerationSuccess EventType = "plan_generation_success"
	EventPlanGenerationFailure EventType = "plan_generation_failure"
	EventPlanValidationFailure EventType = "plan_validation_failure"
	EventPlanCosted            EventType = "plan_costed"

	// Payment gate events
	EventPaymentRequested EventType = "payment_requested"
	EventPaymentAccepted  EventType = "payment_accepted"
	EventPaymentRejected  EventType = "payment_rejected"
	EventPaymentConsumed  EventType = "payment_consumed"
	EventPaymentExpired   EventType = "payment_expired"

	// Step execution events
	EventStepExecutionStarted EventType = "step_execution_started"
	EventStepExecutionSuccess EventType = "step_execution_success"
	EventStepExecutionFailure EventType = "step_execution_failure"
	EventStepExecutionBlocked EventType = "step_execution_blocked"

	// Batch execution events
	EventBatchExecutionStarted  EventType = "batch_execution_started"
	EventBatchExecutionFinished EventType = "batch_execution_finished"

	// Whole-execution events
	EventExecutionStarted   EventType = "execution_started"
	EventExecutionProgress  EventType = "execution_progress"
	EventExecutionSuccess   EventType = "execution_success"
	EventExecutionFailure   EventType = "execution_failure"
	EventExecutionCancelled EventType = "execution_cancelled"

	// Async execution events
	EventAsyncExecutionStarted   EventType = "async_execution_started"
	EventAsyncExecutionSuccess   EventType = "async_execution_success"
	EventAsyncExecutionFailure   EventType = "async_execution_failure"
	EventAsyncExecutionCancelled EventType = "async_execution_cancelled"

	// Report summary events
	EventSummaryStarted EventType = "summary_started"
	EventSummarySuccess EventType = "summary_success"
	EventSummaryFailure EventType = "summary_failure"

	// System events
	EventSystemError   EventType = "system_error"
	EventSystemWarning EventType = "system_warning"
	EventSystemInfo    EventType = "system_info"
)

// EventHandler is a function that handles events
type EventHandler func(context.Context, Event) error

// Event represents something that has happened within the system
type Event interface {
	// Type returns the event type
	Type() EventType

	// Payload returns the event data
	Payload() interface{}

	// Metadata returns additional information about the event
	Metadata() map[string]interface{}

	// Timestamp returns when the event occurred
	Timestamp() int64

	// Source returns information about what generated the event
	Source() string
}

// EventBus is the central event dispatch system
type EventBus interface {
	// Publish sends an event to all subscribed handlers
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for specific event types
	// Returns a subscription ID that can be used to unsubscribe
	Subscribe(eventTypes []EventType, handler EventHandler) (string, error)

	// SubscribeAll registers a handler for all event types
	// Returns a subscription ID that can be used to unsubscribe
	SubscribeAll(handler EventHandler) (string, error)

	// Unsubscribe removes a subscription by ID
	Unsubscribe(subscriptionID string) error

	// Close shuts down the event bus, cleaning up resources
	Close() error
}

// BaseEvent is a simple implementation of the Event interface
type BaseEvent struct {
	eventType  EventType
	payload    interface{}
	metadata   map[string]interface{}
	timestamp  int64
	sourceInfo string
}

// NewEvent creates a new BaseEvent
func NewEvent(
	eventType EventType,
	payload interface{},
	source string,
	metadata map[string]interface{},
) *BaseEvent {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	return &BaseEvent{
		eventType:  eventType,
		payload:    payload,
		metadata:   metadata,
		timestamp:  time.Now().UnixNano(),
		sourceInfo: source,
	}
}

// Type returns the event type
func (e *BaseEvent) Type() EventType {
	return e.eventType
}

// Payload returns the event data
func (e *BaseEvent) Payload() interface{} {
	return e.payload
}

// Metadata returns additional information about the event
func (e *BaseEvent) Metadata() map[string]interface{} {
	return e.metadata
}

// Timestamp returns when the event occurred
func (e *BaseEvent) Timestamp() int64 {
	return e.timestamp
}

// Source returns information about what generated the event
func (e *BaseEvent) Source() string {
	return e.sourceInfo
}

// WithMetadata adds or updates metadata and returns the same event
// This allows for fluent method chaining
func (e *BaseEvent) WithMetadata(key string, value interface{}) *BaseEvent {
	e.metadata[key] = value
	return e
}

// AddMetadata adds multiple metadata entries at once and returns the same event
func (e *BaseEvent) AddMetadata(data map[string]interface{}) *BaseEvent {
	for k, v := range data {
		e.metadata[k] = v
	}
	return e
}
