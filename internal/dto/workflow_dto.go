package dto

import "stepcount-be/pkg/processing"

type StartWorkflowRequest struct {
	OperatorID string `json:"operator_id" validate:"required"`
}

type BindPatientRequest struct {
	PatientID string `json:"patient_id" validate:"required"`
}

type ConfigureDeviceRequest struct {
	DeviceID string `json:"device_id"`
}

type SubmitRequest struct {
	ModelType string                   `json:"model_type" validate:"required,oneof=rf ssl"`
	Options   processing.SubmitOptions `json:"options"`
}
