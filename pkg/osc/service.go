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

// Package osc bridges an OSC UDP network into the event stream.
//
// The service owns one UDP listener and an ordered table of outbound client
// targets. Inbound messages are matched against the table's address filters
// in declared order and dispatched to the first match only; outbound sends
// address a client by its unique event name.
package osc

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	goosc "github.com/hypebeast/go-osc/osc"
	"github.com/rs/zerolog"

	"github.com/overlaybridge/overlaybridge/pkg/dispatch"
	"github.com/overlaybridge/overlaybridge/pkg/logger"
	"github.com/overlaybridge/overlaybridge/pkg/models"
	"github.com/overlaybridge/overlaybridge/pkg/registry"
)

// CapabilityName is the registry entry published while the listener runs.
const CapabilityName = "osc"

// joinTimeout bounds the wait for the listener goroutine on Stop. A
// goroutine that fails to exit in time is abandoned so shutdown never
// stalls on a wedged socket.
const joinTimeout = 1 * time.Second

// State is the listener lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// Message is the outbound send payload accepted by the capability.
type Message struct {
	Address string
	Args    []interface{}
}

// client pairs one configured descriptor with its persistent outbound
// UDP client.
type client struct {
	cfg models.OSCClientConfig
	out *goosc.Client
}

func (c *client) matches(address string) bool {
	if c.cfg.AddressFilter == "" {
		return true
	}

	return strings.HasPrefix(address, c.cfg.AddressFilter)
}

// Service is the OSC bridge service.
type Service struct {
	mu      sync.Mutex
	clients []*client
	conn    net.PacketConn
	done    chan struct{}
	state   State

	registry   *registry.Registry
	dispatcher dispatch.Dispatcher
	log        zerolog.Logger
}

func NewService(reg *registry.Registry, d dispatch.Dispatcher, log logger.Logger) *Service {
	return &Service{
		registry:   reg,
		dispatcher: d,
		log:        log.WithComponent("osc"),
	}
}

// UpdateClients rebuilds the client table wholesale from configuration. The
// listener socket is untouched; only the table is swapped.
func (s *Service) UpdateClients(cfgs []models.OSCClientConfig) {
	clients := s.buildClients(cfgs)

	s.mu.Lock()
	s.clients = clients
	s.mu.Unlock()

	s.log.Info().Int("clients", len(clients)).Msg("client table updated")
}

func (s *Service) buildClients(cfgs []models.OSCClientConfig) []*client {
	clients := make([]*client, 0, len(cfgs))
	seen := make(map[string]bool, len(cfgs))

	for i, cfg := range cfgs {
		if cfg.EventName == "" {
			cfg.EventName = fmt.Sprintf("osc_event_%d", i)
		}

		if seen[cfg.EventName] {
			s.log.Warn().Str("event", cfg.EventName).Msg("duplicate event name; outbound sends resolve the first entry")
		}

		seen[cfg.EventName] = true

		c := &client{cfg: cfg}
		if cfg.IP != "" && cfg.Port != 0 {
			c.out = goosc.NewClient(cfg.IP, int(cfg.Port))
		}

		clients = append(clients, c)
	}

	return clients
}

// Start binds the UDP listener and registers the capability. A running
// listener is stopped first, so Start doubles as restart.
func (s *Service) Start(ip string, port int) error {
	s.Stop()

	s.mu.Lock()
	s.state = StateStarting
	s.mu.Unlock()

	addr := net.JoinHostPort(ip, strconv.Itoa(port))

	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()

		s.log.Error().Err(err).Str("addr", addr).Msg("failed to bind OSC listener")

		return fmt.Errorf("osc listener bind on %s: %w", addr, err)
	}

	done := make(chan struct{})
	srv := &goosc.Server{Addr: addr, Dispatcher: s}

	s.mu.Lock()
	s.conn = conn
	s.done = done
	s.state = StateRunning
	s.mu.Unlock()

	go func() {
		defer close(done)

		if serveErr := srv.Serve(conn); serveErr != nil {
			// Serve returns with an error when the socket is closed by
			// Stop; that is the normal exit path.
			s.log.Debug().Err(serveErr).Msg("OSC listener exited")
		}
	}()

	s.registry.Register(CapabilityName, s)
	s.log.Info().Str("addr", addr).Msg("OSC server started")

	return nil
}

// Stop closes the socket, joins the listener with a bounded wait and
// unregisters the capability. Safe to call in any state.
func (s *Service) Stop() {
	s.mu.Lock()

	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}

	conn := s.conn
	done := s.done
	s.conn = nil
	s.done = nil
	s.state = StateStopped
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	if done != nil {
		select {
		case <-done:
		case <-time.After(joinTimeout):
			s.log.Warn().Msg("OSC listener did not exit in time; abandoning")
		}
	}

	s.registry.Unregister(CapabilityName)
	s.log.Info().Msg("OSC server stopped")
}

// Addr returns the bound listener address, or nil when stopped.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	return s.conn.LocalAddr()
}

// State reports the current listener state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Dispatch implements goosc.Dispatcher for inbound packets. It runs on the
// listener goroutine.
func (s *Service) Dispatch(packet goosc.Packet) {
	msg, ok := packet.(*goosc.Message)
	if !ok {
		// Bundles are not supported; ignore anything but plain messages.
		return
	}

	s.route(msg)
}

// inboundEvent is the JSON payload handed to the dispatch target.
type inboundEvent struct {
	Address   string        `json:"address"`
	Arguments []interface{} `json:"arguments"`
}

// route matches the message address against the table in declared order and
// dispatches to the first matching client only. The deliberate at-most-one
// tie-break keeps overlapping filters deterministic.
func (s *Service) route(msg *goosc.Message) {
	s.log.Debug().Str("address", msg.Address).Int("args", len(msg.Arguments)).Msg("received OSC message")

	var surface, eventName string

	matched := false

	s.mu.Lock()
	for _, c := range s.clients {
		if c.matches(msg.Address) {
			surface = c.cfg.Surface
			eventName = c.cfg.EventName
			matched = true

			break
		}
	}
	s.mu.Unlock()

	if !matched {
		return
	}

	payload, err := json.Marshal(inboundEvent{Address: msg.Address, Arguments: msg.Arguments})
	if err != nil {
		s.log.Error().Err(err).Str("address", msg.Address).Msg("failed to encode OSC event")
		return
	}

	s.dispatcher.Dispatch(surface, eventName, payload)
}

// Send implements registry.Capability. The descriptor is read under the
// table lock; the UDP write happens outside it.
func (s *Service) Send(identity string, payload interface{}) error {
	req, ok := payload.(Message)
	if !ok {
		return fmt.Errorf("osc send: unsupported payload %T", payload)
	}

	if req.Address == "" {
		return fmt.Errorf("osc send: empty address")
	}

	var out *goosc.Client

	found := false

	s.mu.Lock()
	for _, c := range s.clients {
		if c.cfg.EventName == identity {
			out = c.out
			found = true

			break
		}
	}
	s.mu.Unlock()

	if !found {
		return registry.ErrUnknownTarget
	}

	if out == nil {
		return fmt.Errorf("osc send: client %q has no outbound target", identity)
	}

	msg := goosc.NewMessage(req.Address)
	for _, arg := range req.Args {
		msg.Append(convertArg(arg))
	}

	if err := out.Send(msg); err != nil {
		s.log.Error().Err(err).Str("event", identity).Str("address", req.Address).Msg("OSC send failed")
		return fmt.Errorf("osc send: %w", err)
	}

	return nil
}

// Targets implements registry.Capability with a snapshot of the client table.
func (s *Service) Targets() []models.TargetDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()

	targets := make([]models.TargetDescriptor, 0, len(s.clients))

	for _, c := range s.clients {
		targets = append(targets, models.TargetDescriptor{
			EventName: c.cfg.EventName,
			Surface:   c.cfg.Surface,
			Address:   net.JoinHostPort(c.cfg.IP, strconv.Itoa(int(c.cfg.Port))),
			Bound:     c.out != nil,
		})
	}

	return targets
}

// convertArg maps JSON-decoded argument values onto OSC wire types. JSON
// numbers with an integral value become int32, everything else float32,
// mirroring what a JSON decode of "1" versus "0.5" produces upstream.
func convertArg(arg interface{}) interface{} {
	switch v := arg.(type) {
	case float64:
		if v == float64(int64(v)) {
			return int32(v)
		}

		return float32(v)
	case float32, int32, int64, string, bool, nil, []byte:
		return v
	case int:
		return int32(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
