package engine

import "time"

// OperationType classifies audit events for the log collaborator.
type OperationType string

const (
	OpTypeComputation  OperationType = "computation"
	OpTypeMLPrediction OperationType = "ml_prediction"
	OpTypeSystem       OperationType = "system"
)

// Event is the structured audit record the core emits. Persistence,
// querying and export belong to the audit collaborator, not the engine.
type Event struct {
	Operation     string                 `json:"operation"`
	Type          OperationType          `json:"operation_type"`
	Status        string                 `json:"status"`
	ExecutionTime time.Duration          `json:"execution_time"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Observe executes one unit of work and returns its result together
// with a timed audit event for the caller to record. Timing and logging
// stay outside the cryptographic core this way; nothing here is
// asynchronous or hidden in a wrapper the caller cannot see.
func Observe[T any](operation string, typ OperationType, fn func() (T, error)) (T, Event, error) {
	start := time.Now()
	result, err := fn()

	ev := Event{
		Operation:     operation,
		Type:          typ,
		Status:        StatusSuccess,
		ExecutionTime: time.Since(start),
	}
	if err != nil {
		ev.Status = "error"
		ev.Metadata = map[string]interface{}{"error": err.Error()}
	}
	return result, ev, err
}
