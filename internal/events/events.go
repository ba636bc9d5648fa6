package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Task lifecycle event types.
const (
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskCancelled = "task.cancelled"
)

// TypeForStatus maps a terminal task status to its lifecycle event type.
func TypeForStatus(status string) string {
	return "task." + status
}

// TaskOutcome is the payload attached to task lifecycle events.
type TaskOutcome struct {
	TaskID     string `json:"task_id"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// TaskEvent is one scheduler lifecycle event. The payload is carried
// as JSON so handlers need no dependency on scheduler types.
type TaskEvent struct {
	// ID is a unique identifier for this event.
	ID uuid.UUID `json:"id"`

	// Type is the lifecycle event type.
	Type string `json:"type"`

	// Payload contains the event data serialized as JSON.
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is the timestamp when the event was created.
	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *TaskEvent) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// NewTaskEvent creates a TaskEvent of the given type with the payload
// serialized as JSON.
func NewTaskEvent(eventType string, payload any) (*TaskEvent, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &TaskEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Payload:   payloadBytes,
		CreatedAt: time.Now(),
	}, nil
}

// Handler is a component that processes lifecycle events.
type Handler interface {
	// HandleEvent processes the given event within the provided
	// context. Returns an error if the event cannot be handled.
	HandleEvent(ctx context.Context, event *TaskEvent) error
}

// Emitter publishes lifecycle events to registered handlers.
type Emitter interface {
	// Emit publishes the given event to all registered handlers.
	Emit(ctx context.Context, event *TaskEvent) error
}
