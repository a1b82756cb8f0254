// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds9097test

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"periph.io/x/conn/v3/onewire"

	"github.com/mihaivint/DS9097-DS18B20/common"
	"github.com/mihaivint/DS9097-DS18B20/ds9097"
)

// Sim implements ds9097.Port with a set of emulated 1-wire devices attached
// to the line.
//
// It reproduces the adapter at the byte-frame level: every frame written at
// the data rate is one bit slot whose echo carries the wired-AND of the
// master's level and every device's output, a 0xF0 frame written at the
// reset rate acts as a reset pulse and echoes the presence response, and a
// read on an exhausted echo queue behaves like a serial timeout by returning
// zero bytes. Frames are processed one at a time, so behavior is independent
// of how writes are grouped into bursts.
type Sim struct {
	sync.Mutex
	Devices []*Device
	// Resets counts reset pulses seen on the line.
	Resets int
	baud   int
	echo   []byte
	closed bool
}

func (s *Sim) String() string {
	return "sim"
}

func (s *Sim) Close() error {
	s.Lock()
	defer s.Unlock()
	s.closed = true
	return nil
}

func (s *Sim) Write(b []byte) (int, error) {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return 0, errors.New("ds9097test: write on closed port")
	}
	for _, frame := range b {
		switch s.baud {
		case 9600:
			s.resetPulse(frame)
		case 115200:
			s.slot(frame)
		default:
			return 0, fmt.Errorf("ds9097test: write at unsupported baud rate %d", s.baud)
		}
	}
	return len(b), nil
}

func (s *Sim) Read(b []byte) (int, error) {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return 0, errors.New("ds9097test: read on closed port")
	}
	n := copy(b, s.echo)
	s.echo = s.echo[n:]
	return n, nil
}

func (s *Sim) SetMode(mode *serial.Mode) error {
	s.Lock()
	defer s.Unlock()
	if mode.DataBits != 8 || mode.Parity != serial.NoParity || mode.StopBits != serial.OneStopBit {
		return fmt.Errorf("ds9097test: unsupported frame format %d%v%v", mode.DataBits, mode.Parity, mode.StopBits)
	}
	s.baud = mode.BaudRate
	return nil
}

func (s *Sim) SetReadTimeout(t time.Duration) error {
	return nil
}

func (s *Sim) ResetInputBuffer() error {
	s.Lock()
	defer s.Unlock()
	s.echo = nil
	return nil
}

func (s *Sim) ResetOutputBuffer() error {
	return nil
}

// resetPulse handles a frame written at the reset baud rate. A 0xF0 frame is
// the reset pulse: attached devices return to their command state and the
// echoed frame is corrupted when at least one signals presence.
func (s *Sim) resetPulse(frame byte) {
	if frame != 0xf0 {
		s.echo = append(s.echo, frame)
		return
	}
	s.Resets++
	present := false
	for _, dev := range s.Devices {
		if dev.Missing {
			continue
		}
		present = true
		dev.state = stateROMCommand
		dev.bits = 0
		dev.shift = 0
		dev.phase = 0
	}
	if present {
		s.echo = append(s.echo, 0xe0)
	} else {
		s.echo = append(s.echo, 0xf0)
	}
}

// slot handles one bit slot at the data rate: the frame's level is combined
// with every device's output, the result is echoed to the master and observed
// by the devices.
func (s *Sim) slot(frame byte) {
	tx := byte(0)
	if frame == 0xff {
		tx = 1
	}
	bus := tx
	for _, dev := range s.Devices {
		if dev.Missing {
			continue
		}
		bus &= dev.outputBit()
	}
	switch {
	case bus == 1:
		s.echo = append(s.echo, 0xff)
	case tx == 1:
		// The master released the line but a device held it down, so only
		// the tail of the frame survives in the echo.
		s.echo = append(s.echo, 0xfc)
	default:
		s.echo = append(s.echo, 0x00)
	}
	for _, dev := range s.Devices {
		if !dev.Missing {
			dev.advance(bus)
		}
	}
}

// Device is one emulated 1-wire slave.
//
// The zero value is inert until a reset pulse puts it into its command
// state. Mutating the exported fields between bus transactions changes the
// behavior of subsequent ones.
type Device struct {
	ROM        [8]byte
	Scratchpad [9]byte
	// Missing detaches the device from the line. It stops answering
	// presence pulses and drops out of any exchange in progress.
	Missing bool
	// VanishOnConvert detaches the device the moment it receives a
	// Convert T command, emulating a connection lost between the two
	// transactions of a temperature read.
	VanishOnConvert bool
	// Alarming makes the device answer alarm-search traversals.
	Alarming bool

	state deviceState
	bits  int    // bit positions consumed in the current state
	shift uint64 // bits collected from the master, LSB first
	phase int    // sub-slot position within a search triplet
}

type deviceState int

const (
	stateIdle       deviceState = iota // deselected until the next reset
	stateROMCommand                    // collecting the 8-bit ROM command
	stateSearch                        // answering a search traversal
	stateMatch                         // comparing a driven ROM to its own
	stateFunction                      // collecting the 8-bit function command
	stateRead                          // serving scratchpad bits
)

// NewDevice returns an emulated DS18B20 with the given serial number, its
// scratchpad preloaded with raw as the temperature register.
func NewDevice(serial [6]byte, raw int16) *Device {
	d := &Device{ROM: ROM(0x28, serial)}
	d.SetTemperature(raw)
	return d
}

// ROM assembles a ROM code from a family code and a serial number, sealed
// with its checksum.
func ROM(family byte, serial [6]byte) [8]byte {
	var rom [8]byte
	rom[0] = family
	copy(rom[1:7], serial[:])
	rom[7] = common.CRC8(rom[:7])
	return rom
}

// Address returns the device's ROM code in bus address form.
func (d *Device) Address() onewire.Address {
	return onewire.Address(binary.LittleEndian.Uint64(d.ROM[:]))
}

// SetTemperature loads the scratchpad with the raw temperature register
// value and reseals its checksum.
func (d *Device) SetTemperature(raw int16) {
	d.Scratchpad = [9]byte{byte(raw), byte(raw >> 8), 0x4b, 0x46, 0x7f, 0xff, 0x0c, 0x10}
	d.Scratchpad[8] = common.CRC8(d.Scratchpad[:8])
}

func (d *Device) romBit(i int) byte {
	return d.ROM[i/8] >> (i % 8) & 1
}

// outputBit is the level the device drives during the upcoming slot: 0 pulls
// the line low, 1 releases it. It must not mutate state, the final bus level
// is fed back through advance.
func (d *Device) outputBit() byte {
	switch d.state {
	case stateSearch:
		switch d.phase {
		case 0:
			return d.romBit(d.bits)
		case 1:
			return d.romBit(d.bits) ^ 1
		default:
			return 1
		}
	case stateRead:
		if d.bits < len(d.Scratchpad)*8 {
			return d.Scratchpad[d.bits/8] >> (d.bits % 8) & 1
		}
		return 1
	default:
		return 1
	}
}

// advance observes the settled bus level for the slot and moves the
// automaton forward.
func (d *Device) advance(bus byte) {
	switch d.state {
	case stateROMCommand:
		d.shift |= uint64(bus) << d.bits
		d.bits++
		if d.bits < 8 {
			return
		}
		cmd := byte(d.shift)
		d.bits = 0
		d.shift = 0
		switch cmd {
		case 0xf0:
			d.state = stateSearch
			d.phase = 0
		case 0xec:
			if d.Alarming {
				d.state = stateSearch
				d.phase = 0
			} else {
				d.state = stateIdle
			}
		case 0x55:
			d.state = stateMatch
		case 0xcc:
			d.state = stateFunction
		default:
			d.state = stateIdle
		}
	case stateSearch:
		if d.phase < 2 {
			d.phase++
			return
		}
		// Third slot of the triplet: the master drove its chosen direction.
		if bus != d.romBit(d.bits) {
			d.state = stateIdle
			return
		}
		d.phase = 0
		d.bits++
		if d.bits == 64 {
			// Sole survivor of the traversal, addressed like a match.
			d.state = stateFunction
			d.bits = 0
		}
	case stateMatch:
		if bus != d.romBit(d.bits) {
			d.state = stateIdle
			return
		}
		d.bits++
		if d.bits == 64 {
			d.state = stateFunction
			d.bits = 0
		}
	case stateFunction:
		d.shift |= uint64(bus) << d.bits
		d.bits++
		if d.bits < 8 {
			return
		}
		fn := byte(d.shift)
		d.bits = 0
		d.shift = 0
		switch fn {
		case 0x44:
			if d.VanishOnConvert {
				d.Missing = true
			}
			d.state = stateIdle
		case 0xbe:
			d.state = stateRead
		default:
			d.state = stateIdle
		}
	case stateRead:
		d.bits++
	}
}

var _ ds9097.Port = &Sim{}
