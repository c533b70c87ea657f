package models

// ConnectionStatus is what the UI observes about a transport session. At most
// one of IsConnected and IsConnecting is true; Error is only set while
// disconnected.
type ConnectionStatus struct {
	IsConnected  bool   `json:"isConnected"`
	IsConnecting bool   `json:"isConnecting"`
	Error        string `json:"error,omitempty"`
}
