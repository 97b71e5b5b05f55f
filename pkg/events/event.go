package events

import "time"

// Event is the contract for everything published to the external bus.
type Event interface {
	// EventType returns the unique code for this event (e.g. "WORKFLOW_COMPLETED").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// WorkflowCompleted announces a finished analysis for downstream systems
// (EHR export, reporting). Only identifiers and summary numbers go on the
// bus; the full result stays session-scoped.
func WorkflowCompleted(contextID, patientID, jobID string, totalSteps float64) Event {
	return BaseEvent{
		Type: "WORKFLOW_COMPLETED",
		Data: map[string]interface{}{
			"context_id":  contextID,
			"patient_id":  patientID,
			"job_id":      jobID,
			"total_steps": totalSteps,
		},
		OccurredAt: time.Now(),
	}
}

// WorkflowFailed announces a terminal failure with its classified reason.
func WorkflowFailed(contextID, reason string) Event {
	return BaseEvent{
		Type: "WORKFLOW_FAILED",
		Data: map[string]interface{}{
			"context_id": contextID,
			"reason":     reason,
		},
		OccurredAt: time.Now(),
	}
}
