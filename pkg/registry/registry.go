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

// Package registry holds the process-wide table of named bridge capabilities.
//
// Subsystems register a capability when they start and remove it when they
// stop; consumers invoke capabilities by name without holding a reference to
// the owning subsystem. Initialization and teardown order between subsystems
// is unspecified, so readers must treat a missing entry as "unavailable",
// never as a fault.
package registry

import (
	"errors"
	"sync"

	"github.com/overlaybridge/overlaybridge/pkg/models"
)

// ErrUnknownTarget is returned by a Capability's Send when the identity is
// not present in its current target table. It is the only error the registry
// distinguishes from a plain delivery failure.
var ErrUnknownTarget = errors.New("unknown target identity")

// Capability is the operation surface a subsystem publishes.
type Capability interface {
	// Send delivers payload to the target addressed by identity. The payload
	// shape is capability-specific; implementations reject shapes they do
	// not understand with an ordinary error.
	Send(identity string, payload interface{}) error
	// Targets returns a snapshot of the currently configured identities.
	Targets() []models.TargetDescriptor
}

// Status classifies the outcome of an Invoke.
type Status int

const (
	// StatusNotRegistered means no capability is registered under the name.
	StatusNotRegistered Status = iota
	// StatusTargetNotFound means the capability exists but the identity is
	// unknown to it.
	StatusTargetNotFound
	// StatusDelivered means the capability accepted the send; OK reports
	// whether the underlying transport call succeeded.
	StatusDelivered
)

// Result is the tri-state outcome of an Invoke.
type Result struct {
	Status Status
	OK     bool
	Err    error
}

// Registry maps bridge names to capabilities. The zero value is not usable;
// call New.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

func New() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

// Register publishes a capability under name, replacing any existing entry.
func (r *Registry) Register(name string, c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.caps[name] = c
}

// Unregister removes the entry for name if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.caps, name)
}

// Lookup returns the capability registered under name.
func (r *Registry) Lookup(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.caps[name]

	return c, ok
}

// Invoke resolves name and forwards the send. The capability's Send runs
// outside the registry lock so a slow transport never blocks registration
// or other invokes.
func (r *Registry) Invoke(name, identity string, payload interface{}) Result {
	c, ok := r.Lookup(name)
	if !ok {
		return Result{Status: StatusNotRegistered}
	}

	err := c.Send(identity, payload)

	switch {
	case errors.Is(err, ErrUnknownTarget):
		return Result{Status: StatusTargetNotFound, Err: err}
	case err != nil:
		return Result{Status: StatusDelivered, OK: false, Err: err}
	default:
		return Result{Status: StatusDelivered, OK: true}
	}
}

// Targets returns the target snapshot of the named capability, or nil if it
// is not registered.
func (r *Registry) Targets(name string) []models.TargetDescriptor {
	c, ok := r.Lookup(name)
	if !ok {
		return nil
	}

	return c.Targets()
}
