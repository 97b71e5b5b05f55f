package workflow

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"stepcount-be/internal/model"
)

// TopicWorkflowEvents carries every state transition and extraction
// progress tick on the in-process bus; the websocket hub relays them to the
// operator UI.
const TopicWorkflowEvents = "workflow.events"

type Event struct {
	ContextID   string              `json:"context_id"`
	State       model.WorkflowState `json:"state"`
	Detail      string              `json:"detail,omitempty"`
	SampleCount int                 `json:"sample_count,omitempty"`
	PatientID   string              `json:"patient_id,omitempty"`
	JobID       string              `json:"job_id,omitempty"`
	TotalSteps  float64             `json:"total_steps,omitempty"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

func newEventMessage(ev Event) *message.Message {
	ev.OccurredAt = time.Now()
	payload, _ := json.Marshal(ev)
	return message.NewMessage(uuid.NewString(), payload)
}
