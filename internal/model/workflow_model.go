package model

// WorkflowState of the operator session.
type WorkflowState string

const (
	WorkflowIdle             WorkflowState = "idle"
	WorkflowPatientBound     WorkflowState = "patient_bound"
	WorkflowDeviceConfigured WorkflowState = "device_configured"
	WorkflowExtracted        WorkflowState = "extracted"
	WorkflowSubmitted        WorkflowState = "submitted"
	WorkflowCompleted        WorkflowState = "completed"
	WorkflowFailed           WorkflowState = "failed"
)

// Terminal reports whether no further forward transition is possible
// (reset back to idle excepted).
func (s WorkflowState) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed
}
