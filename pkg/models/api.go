package models

// ErrorResponse is the JSON body returned by every failed API request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SendResponse is the JSON body returned by the osc/midi send routes.
type SendResponse struct {
	Success bool `json:"success"`
}

// SaveResponse is returned by the file-save route with the resolved path.
type SaveResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
}

// WSSDetails is the websocket-credentials triple served verbatim from the
// last successfully loaded config file. The field tags mirror the wire
// contract consumed by existing overlays.
type WSSDetails struct {
	IP       string `json:"IP"`
	Port     int    `json:"PORT"`
	Password string `json:"PW"`
}

// TargetDescriptor is a read-only snapshot entry of one capability target.
type TargetDescriptor struct {
	EventName string `json:"event_name"`
	Surface   string `json:"surface"`
	// Address is the ip:port of an OSC client or the hardware port name of
	// a MIDI device.
	Address string `json:"address,omitempty"`
	// Bound reports whether the target currently owns a live outbound handle.
	Bound bool `json:"bound"`
}
