package model

// ConnectionState of a device as tracked by the session manager.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateDiscovered   ConnectionState = "discovered"
	StateOpen         ConnectionState = "open"
	StateClosed       ConnectionState = "closed"
	StateError        ConnectionState = "error"
)

// DeviceDescriptor identifies a physical sensor unit.
type DeviceDescriptor struct {
	ID        string `json:"id"`
	VendorID  string `json:"vendor_id"`
	ProductID string `json:"product_id"`
	Serial    string `json:"serial"`
	Name      string `json:"name,omitempty"`
}

// Device pairs a descriptor with its tracked connection state.
type Device struct {
	Descriptor DeviceDescriptor `json:"descriptor"`
	State      ConnectionState  `json:"state"`
}
