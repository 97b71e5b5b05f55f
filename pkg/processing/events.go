package processing

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"stepcount-be/internal/model"
)

// TopicJobEvents carries every ProcessingJob transition on the in-process
// bus. Subscribers (websocket hub, orchestrator) observe job state without
// touching the network.
const TopicJobEvents = "processing.job.events"

type JobEvent struct {
	JobID      string          `json:"job_id"`
	DatasetID  string          `json:"dataset_id"`
	Status     model.JobStatus `json:"status"`
	Error      string          `json:"error,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func newJobMessage(job *model.ProcessingJob) *message.Message {
	payload, _ := json.Marshal(JobEvent{
		JobID:      job.ID,
		DatasetID:  job.DatasetID,
		Status:     job.Status,
		Error:      job.Error,
		OccurredAt: time.Now(),
	})
	return message.NewMessage(job.ID+":"+string(job.Status), payload)
}
