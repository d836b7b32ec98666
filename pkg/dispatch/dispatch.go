// Package dispatch delivers bridged events to named rendering surfaces.
//
// The bridge core only knows the Dispatcher interface: a fire-and-forget
// handoff of (surface, event name, JSON payload). The in-process Hub
// implementation fans events out to browser overlays attached over
// WebSocket; a host embedding the bridge can substitute its own target.
package dispatch

import "encoding/json"

// Dispatcher receives bridged events. Implementations must not block the
// caller and must swallow their own failures: a missing surface is a no-op,
// never an error surfaced to the dispatching service.
type Dispatcher interface {
	Dispatch(surface, eventName string, payload json.RawMessage)
}

// Event is the frame written to an attached overlay.
type Event struct {
	EventName string          `json:"eventName"`
	Data      json.RawMessage `json:"data"`
}
