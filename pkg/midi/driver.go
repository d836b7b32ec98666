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

// Package midi bridges physical MIDI controllers into the event stream.
package midi

import (
	"errors"
	"fmt"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

var errPortNotFound = errors.New("midi port not found")

// Driver abstracts the hardware MIDI layer so the service can be exercised
// without real devices.
type Driver interface {
	// InPorts enumerates the names of the currently available input ports.
	InPorts() ([]string, error)
	// OpenIn opens the named input port and delivers every raw inbound
	// message to recv. recv runs on the driver's own thread.
	OpenIn(name string, recv func(data []byte)) (InPort, error)
	// OpenOut opens the named output port for raw writes.
	OpenOut(name string) (OutPort, error)
	Close() error
}

type InPort interface {
	Close() error
}

type OutPort interface {
	Send(data []byte) error
	Close() error
}

// rtmidiDriver backs Driver with the rtmidi hardware driver.
type rtmidiDriver struct {
	drv *rtmididrv.Driver
}

// NewRTMIDIDriver initialises the rtmidi backend.
func NewRTMIDIDriver() (Driver, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}

	return &rtmidiDriver{drv: drv}, nil
}

func (d *rtmidiDriver) InPorts() ([]string, error) {
	ins, err := d.drv.Ins()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(ins))
	for _, in := range ins {
		names = append(names, in.String())
	}

	return names, nil
}

func (d *rtmidiDriver) OpenIn(name string, recv func(data []byte)) (InPort, error) {
	ins, err := d.drv.Ins()
	if err != nil {
		return nil, err
	}

	var found drivers.In

	for _, in := range ins {
		if in.String() == name {
			found = in
			break
		}
	}

	if found == nil {
		return nil, fmt.Errorf("%w: input %q", errPortNotFound, name)
	}

	if err := found.Open(); err != nil {
		return nil, fmt.Errorf("open input %q: %w", name, err)
	}

	stop, err := gomidi.ListenTo(found, func(msg gomidi.Message, _ int32) {
		recv(msg.Bytes())
	}, gomidi.UseSysEx())
	if err != nil {
		_ = found.Close()
		return nil, fmt.Errorf("listen on %q: %w", name, err)
	}

	return &rtmidiIn{port: found, stop: stop}, nil
}

func (d *rtmidiDriver) OpenOut(name string) (OutPort, error) {
	outs, err := d.drv.Outs()
	if err != nil {
		return nil, err
	}

	var found drivers.Out

	for _, out := range outs {
		if out.String() == name {
			found = out
			break
		}
	}

	if found == nil {
		return nil, fmt.Errorf("%w: output %q", errPortNotFound, name)
	}

	if err := found.Open(); err != nil {
		return nil, fmt.Errorf("open output %q: %w", name, err)
	}

	return &rtmidiOut{port: found}, nil
}

func (d *rtmidiDriver) Close() error {
	return d.drv.Close()
}

type rtmidiIn struct {
	port drivers.In
	stop func()
}

func (p *rtmidiIn) Close() error {
	p.stop()
	return p.port.Close()
}

type rtmidiOut struct {
	port drivers.Out
}

func (p *rtmidiOut) Send(data []byte) error {
	return p.port.Send(data)
}

func (p *rtmidiOut) Close() error {
	return p.port.Close()
}
