/*
 * Copyright 2025 The OverlayBridge Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package midi

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/overlaybridge/overlaybridge/pkg/dispatch"
	"github.com/overlaybridge/overlaybridge/pkg/logger"
	"github.com/overlaybridge/overlaybridge/pkg/models"
	"github.com/overlaybridge/overlaybridge/pkg/registry"
)

// CapabilityName is the registry entry published while devices are loaded.
const CapabilityName = "midi"

// device is one configured MIDI device. A device whose hardware port is not
// currently enumerated stays as a configuration-only stub with nil handles.
type device struct {
	cfg models.MIDIDeviceConfig
	in  InPort
	out OutPort
}

// Service owns the configured device table and their port bindings.
type Service struct {
	mu      sync.Mutex
	devices []*device

	drv        Driver
	registry   *registry.Registry
	dispatcher dispatch.Dispatcher
	log        zerolog.Logger
}

func NewService(drv Driver, reg *registry.Registry, d dispatch.Dispatcher, log logger.Logger) *Service {
	return &Service{
		drv:        drv,
		registry:   reg,
		dispatcher: d,
		log:        log.WithComponent("midi"),
	}
}

// Load tears down any previously bound devices and rebuilds the table from
// configuration. Devices whose saved port name is no longer enumerated are
// kept as stubs with the port name cleared, so the configuration reflects
// the disconnection.
func (s *Service) Load(cfgs []models.MIDIDeviceConfig) {
	s.Stop()

	ports, err := s.drv.InPorts()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to enumerate MIDI ports")
	} else {
		s.log.Info().Int("count", len(ports)).Strs("ports", ports).Msg("available MIDI input ports")
	}

	devices := make([]*device, 0, len(cfgs))

	for i, cfg := range cfgs {
		if cfg.EventName == "" {
			cfg.EventName = fmt.Sprintf("midiDevice_%d", i)
		}

		dev := &device{cfg: cfg}

		if cfg.PortName != "" && containsPort(ports, cfg.PortName) {
			s.bind(dev)
		} else if cfg.PortName != "" {
			s.log.Warn().Str("port", cfg.PortName).Msg("saved MIDI port not present; device left unbound")
			dev.cfg.PortName = ""
		}

		devices = append(devices, dev)
	}

	s.mu.Lock()
	s.devices = devices
	s.mu.Unlock()

	s.registry.Register(CapabilityName, s)
}

// bind opens the input and output handles for a device whose port exists.
// Open failures leave the device unbound; they never abort the load.
func (s *Service) bind(dev *device) {
	// The handler captures only the immutable identity of this descriptor,
	// never the mutable device record itself.
	h := &inputHandler{
		svc:       s,
		eventName: dev.cfg.EventName,
		surface:   dev.cfg.Surface,
	}

	in, err := s.drv.OpenIn(dev.cfg.PortName, h.handle)
	if err != nil {
		s.log.Error().Err(err).Str("port", dev.cfg.PortName).Msg("failed to open MIDI input")
		return
	}

	out, err := s.drv.OpenOut(dev.cfg.PortName)
	if err != nil {
		s.log.Error().Err(err).Str("port", dev.cfg.PortName).Msg("failed to open MIDI output")
		_ = in.Close()

		return
	}

	dev.in = in
	dev.out = out

	s.log.Info().Str("port", dev.cfg.PortName).Str("event", dev.cfg.EventName).Msg("MIDI device bound")
}

// Stop closes every open handle, clears the handle fields and unregisters
// the capability. A subsequent Load cannot mistake a stale handle for a
// live one.
func (s *Service) Stop() {
	s.mu.Lock()
	devices := s.devices
	s.devices = nil
	s.mu.Unlock()

	for _, dev := range devices {
		if dev.in != nil {
			if err := dev.in.Close(); err != nil {
				s.log.Error().Err(err).Str("port", dev.cfg.PortName).Msg("error closing MIDI input")
			}

			dev.in = nil
		}

		if dev.out != nil {
			if err := dev.out.Close(); err != nil {
				s.log.Error().Err(err).Str("port", dev.cfg.PortName).Msg("error closing MIDI output")
			}

			dev.out = nil
		}
	}

	s.registry.Unregister(CapabilityName)
}

// Close stops the service and releases the hardware driver.
func (s *Service) Close() {
	s.Stop()

	if err := s.drv.Close(); err != nil {
		s.log.Error().Err(err).Msg("error closing MIDI driver")
	}
}

// Send implements registry.Capability. The payload is either a hex string
// ("90 3C 40", separators optional) or a list of byte values; the decoded
// bytes are written verbatim to the device's output port.
func (s *Service) Send(identity string, payload interface{}) error {
	data, err := DecodeData(payload)
	if err != nil {
		return err
	}

	var out OutPort

	found := false

	s.mu.Lock()
	for _, dev := range s.devices {
		if dev.cfg.EventName == identity {
			out = dev.out
			found = true

			break
		}
	}
	s.mu.Unlock()

	if !found {
		return registry.ErrUnknownTarget
	}

	if out == nil {
		return fmt.Errorf("midi send: device %q has no open output port", identity)
	}

	if err := out.Send(data); err != nil {
		s.log.Error().Err(err).Str("event", identity).Msg("MIDI send failed")
		return fmt.Errorf("midi send: %w", err)
	}

	return nil
}

// Targets implements registry.Capability with a snapshot of the device table.
func (s *Service) Targets() []models.TargetDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()

	targets := make([]models.TargetDescriptor, 0, len(s.devices))

	for _, dev := range s.devices {
		targets = append(targets, models.TargetDescriptor{
			EventName: dev.cfg.EventName,
			Surface:   dev.cfg.Surface,
			Address:   dev.cfg.PortName,
			Bound:     dev.out != nil,
		})
	}

	return targets
}

// inboundEvent is the JSON payload handed to the dispatch target for one
// inbound MIDI message.
type inboundEvent struct {
	Status   int   `json:"status"`
	Note     int   `json:"note"`
	Velocity int   `json:"velocity"`
	Data     []int `json:"data"`
}

// inputHandler forwards inbound messages for one device identity. It runs
// on the driver's thread: it must never panic past this boundary, and a
// failed dispatch is dropped rather than retried.
type inputHandler struct {
	svc       *Service
	eventName string
	surface   string
}

func (h *inputHandler) handle(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.svc.log.Error().Interface("panic", r).Str("event", h.eventName).Msg("panic in MIDI input handler")
		}
	}()

	var status, note, velocity byte

	if len(data) > 0 {
		status = data[0]
	}

	if len(data) > 1 {
		note = data[1]
	}

	if len(data) > 2 {
		velocity = data[2]
	}

	raw := make([]int, len(data))
	for i, b := range data {
		raw[i] = int(b)
	}

	payload, err := json.Marshal(inboundEvent{
		Status:   int(status),
		Note:     int(note),
		Velocity: int(velocity),
		Data:     raw,
	})
	if err != nil {
		h.svc.log.Error().Err(err).Str("event", h.eventName).Msg("failed to encode MIDI event")
		return
	}

	h.svc.log.Debug().Int("status", int(status)).Int("note", int(note)).Int("velocity", int(velocity)).Msg("MIDI message received")

	h.svc.dispatcher.Dispatch(h.surface, h.eventName, payload)
}

func containsPort(ports []string, name string) bool {
	for _, p := range ports {
		if p == name {
			return true
		}
	}

	return false
}
