package dto

type AuthorizeDeviceRequest struct {
	VendorID  string `json:"vendor_id"`
	ProductID string `json:"product_id"`
}

type HealthResponse struct {
	Status          string `json:"status"`
	AnalysisService string `json:"analysis_service"`
	DeviceTransport string `json:"device_transport"`
}
