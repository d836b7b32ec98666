// Package models defines the shared configuration and wire types for the bridge.
package models

import "github.com/overlaybridge/overlaybridge/pkg/logger"

// BridgeConfig is the top-level daemon configuration loaded from the
// -config JSON file.
type BridgeConfig struct {
	Logging logger.Config `json:"logging"`
	HTTP    HTTPConfig    `json:"http"`
	OSC     OSCConfig     `json:"osc"`
	MIDI    MIDIConfig    `json:"midi"`
}

// HTTPConfig configures the control API listener and the file-API root.
type HTTPConfig struct {
	// ListenPort is bound on the loopback interface only.
	ListenPort int `json:"listen_port"`
	// RootDir scopes every file-API operation and the static fallback.
	RootDir string `json:"root_dir"`
	// WSSConfigPath points at the websocket-credentials JSON file.
	WSSConfigPath string `json:"wss_config_path"`
}

// OSCConfig configures the UDP listener and the outbound client table.
type OSCConfig struct {
	ListenIP   string            `json:"listen_ip"`
	ListenPort int               `json:"listen_port"`
	Clients    []OSCClientConfig `json:"clients"`
}

// OSCClientConfig describes one outbound OSC target and its inbound filter.
type OSCClientConfig struct {
	IP string `json:"ip"`
	// Port is the remote UDP port for outbound sends.
	Port uint16 `json:"port"`
	// AddressFilter is a prefix matched against inbound OSC addresses.
	// Empty matches every address.
	AddressFilter string `json:"address_filter"`
	// EventName is the unique identity used for outbound lookups. Empty
	// names are synthesized from the client's position at load time.
	EventName string `json:"event_name"`
	// Surface names the rendering surface that receives dispatched events.
	Surface string `json:"surface"`
}

// MIDIConfig configures the hardware device table.
type MIDIConfig struct {
	Devices []MIDIDeviceConfig `json:"devices"`
}

// MIDIDeviceConfig describes one configured MIDI device.
type MIDIDeviceConfig struct {
	// PortName must match a currently enumerated hardware port; if it does
	// not, the device is loaded as a configuration-only stub.
	PortName  string `json:"port_name"`
	EventName string `json:"event_name"`
	Surface   string `json:"surface"`
}

const (
	DefaultHTTPPort      = 8080
	DefaultOSCListenIP   = "127.0.0.1"
	DefaultOSCListenPort = 12345
)

// ApplyDefaults fills in the zero-value fields a minimal config file omits.
func (c *BridgeConfig) ApplyDefaults() {
	if c.HTTP.ListenPort == 0 {
		c.HTTP.ListenPort = DefaultHTTPPort
	}

	if c.HTTP.RootDir == "" {
		c.HTTP.RootDir = "."
	}

	if c.OSC.ListenIP == "" {
		c.OSC.ListenIP = DefaultOSCListenIP
	}

	if c.OSC.ListenPort == 0 {
		c.OSC.ListenPort = DefaultOSCListenPort
	}
}
