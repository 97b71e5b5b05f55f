package workflow

import (
	"context"
	"sync"
	"time"

	"stepcount-be/internal/model"
	"stepcount-be/pkg/device"
	"stepcount-be/pkg/patientdir"
)

// Context is the single live workflow state for one operator session. The
// orchestrator is the only component that holds one; everything else gets
// explicit arguments and return values.
type Context struct {
	ID         string
	OperatorID string
	State      model.WorkflowState

	Patient         *patientdir.Patient
	AccelerometerID string
	Dataset         *model.Dataset
	JobID           string
	FailureReason   string

	CreatedAt time.Time
	UpdatedAt time.Time

	session *device.Session
	view    *model.ResultView

	// runCtx is the cancellation token threaded through every suspension
	// point. It has its own lock so Cancel can trip it while a step holds
	// the entry lock.
	tokenMu sync.Mutex
	runCtx  context.Context
	cancel  context.CancelFunc
}

func (c *Context) token() context.Context {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.runCtx
}

func (c *Context) cancelRun() {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	c.cancel()
}

func (c *Context) renewToken() {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	c.cancel()
	c.runCtx, c.cancel = context.WithCancel(context.Background())
}

// Snapshot is the externally visible view of a context.
type Snapshot struct {
	ID              string              `json:"id"`
	OperatorID      string              `json:"operator_id"`
	State           model.WorkflowState `json:"state"`
	PatientID       string              `json:"patient_id,omitempty"`
	PatientName     string              `json:"patient_name,omitempty"`
	DeviceID        string              `json:"device_id,omitempty"`
	AccelerometerID string              `json:"accelerometer_id,omitempty"`
	DatasetID       string              `json:"dataset_id,omitempty"`
	SampleCount     int                 `json:"sample_count,omitempty"`
	SampleRate      float64             `json:"sample_rate,omitempty"`
	DurationS       float64             `json:"duration_s,omitempty"`
	JobID           string              `json:"job_id,omitempty"`
	FailureReason   string              `json:"failure_reason,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func (c *Context) snapshot() *Snapshot {
	s := &Snapshot{
		ID:              c.ID,
		OperatorID:      c.OperatorID,
		State:           c.State,
		AccelerometerID: c.AccelerometerID,
		JobID:           c.JobID,
		FailureReason:   c.FailureReason,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
	if c.Patient != nil {
		s.PatientID = c.Patient.ID
		s.PatientName = c.Patient.DisplayName()
	}
	if c.session != nil {
		s.DeviceID = c.session.DeviceID()
	}
	if c.Dataset != nil {
		s.DatasetID = c.Dataset.ID
		s.SampleCount = len(c.Dataset.Samples)
		s.SampleRate = c.Dataset.SampleRate
		s.DurationS = c.Dataset.Duration().Seconds()
	}
	return s
}

// releaseDevice closes the session if one is held. Idempotent.
func (c *Context) releaseDevice() {
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
}
