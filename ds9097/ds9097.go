// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds9097

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/onewire"
)

// Port is the subset of a serial connection the bus master drives. It is
// satisfied by go.bug.st/serial.Port, which New uses; NewPort accepts any
// implementation.
type Port interface {
	io.ReadWriteCloser
	SetMode(mode *serial.Mode) error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
}

// Opts contains options to pass to the constructor.
type Opts struct {
	// ResetSettle is how long to wait after transmitting the reset frame
	// before sampling the echoed presence byte. The frame itself lasts about
	// 1ms at the reset baud rate.
	ResetSettle time.Duration
	// FIFODepth bounds how many bit frames are written before their echoes
	// are collected, so a burst never overruns the UART receive FIFO.
	FIFODepth int
	// ReadTimeout is the serial read timeout. A silent adapter surfaces as a
	// transport error after this long.
	ReadTimeout time.Duration
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	ResetSettle: 5 * time.Millisecond,
	FIFODepth:   16,
	ReadTimeout: 5 * time.Second,
}

// New opens the serial device at path and returns a bus master for the
// DS9097-class adapter attached to it.
//
// The returned device implements onewire.Bus and can be used to access
// devices on the bus.
func New(path string, opts *Opts) (*Dev, error) {
	p, err := serial.Open(path, &serial.Mode{
		BaudRate: dataBaud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("ds9097: opening %s: %w", path, err)
	}
	d, err := NewPort(p, opts)
	if err != nil {
		p.Close()
		return nil, err
	}
	d.name = path
	return d, nil
}

// NewPort returns a bus master speaking the byte-per-bit scheme over an
// already opened serial connection.
func NewPort(p Port, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	settle := opts.ResetSettle
	if settle == 0 {
		settle = DefaultOpts.ResetSettle
	}
	depth := opts.FIFODepth
	if depth == 0 {
		depth = DefaultOpts.FIFODepth
	}
	if depth < 0 {
		return nil, errors.New("ds9097: FIFO depth must be positive")
	}
	timeout := opts.ReadTimeout
	if timeout == 0 {
		timeout = DefaultOpts.ReadTimeout
	}
	d := &Dev{
		p:         p,
		name:      portName(p),
		settle:    settle,
		fifoDepth: depth,
		mode: serial.Mode{
			BaudRate: dataBaud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
	}
	if err := p.SetMode(&d.mode); err != nil {
		return nil, fmt.Errorf("ds9097: configuring port: %w", err)
	}
	if err := p.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("ds9097: setting read timeout: %w", err)
	}
	return d, nil
}

// Dev is a handle to a DS9097 adapter and it implements the onewire.Bus
// interface.
//
// The adapter is passive, so every error is scoped to the transaction that
// hit it; the next transaction re-establishes the line state from scratch.
type Dev struct {
	sync.Mutex             // lock for the bus while a transaction is in progress
	p          Port        // serial connection to the adapter
	name       string      // device path, or the port description for NewPort
	mode       serial.Mode // frame format, baud rate flips for reset pulses
	settle     time.Duration
	fifoDepth  int
}

func (d *Dev) String() string {
	return "DS9097{" + d.name + "}"
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// Close closes the serial connection. The bus must not be used afterwards.
func (d *Dev) Close() error {
	d.Lock()
	defer d.Unlock()
	return d.p.Close()
}

// Reset issues a reset pulse and reports whether any device answered with a
// presence pulse. An empty bus is a valid outcome, not an error.
func (d *Dev) Reset() (bool, error) {
	d.Lock()
	defer d.Unlock()
	return d.reset()
}

// Tx performs a bus transaction: a reset with mandatory presence, then the
// bytes of w written to the bus, then len(r) bytes read from it.
//
// The DS9097 has no switchable strong pull-up, so power must be
// onewire.WeakPullup; parasitically powered devices need an external supply
// arrangement.
func (d *Dev) Tx(w, r []byte, power onewire.Pullup) error {
	if power == onewire.StrongPullup {
		return errors.New("ds9097: strong pull-up is not supported by this adapter")
	}
	d.Lock()
	defer d.Unlock()

	if present, err := d.reset(); err != nil {
		return err
	} else if !present {
		return NoDeviceError("ds9097: no device present")
	}
	for _, b := range w {
		if err := d.writeByte(b); err != nil {
			return err
		}
	}
	for i := range r {
		b, err := d.readByte()
		if err != nil {
			return err
		}
		r[i] = b
	}
	return nil
}

//

// reset generates the reset pulse by stretching a 0xF0 frame at the low baud
// rate and decodes the echo: devices yanking the line low during the high
// half of the frame corrupt the echoed byte, so anything other than the frame
// itself (or a dead line reading zero) is a presence pulse.
//
// The data rate is restored before reporting any outcome, error paths
// included.
func (d *Dev) reset() (bool, error) {
	if err := d.clear(); err != nil {
		return false, err
	}
	if err := d.setBaud(resetBaud); err != nil {
		return false, err
	}
	echo, xerr := d.resetPulse()
	if err := d.setBaud(dataBaud); err != nil && xerr == nil {
		xerr = err
	}
	if xerr != nil {
		return false, xerr
	}
	return echo != resetFrame && echo != 0x00, nil
}

func (d *Dev) resetPulse() (byte, error) {
	if _, err := d.p.Write([]byte{resetFrame}); err != nil {
		return 0, fmt.Errorf("ds9097: writing reset frame: %w", err)
	}
	sleep(d.settle)
	var echo [1]byte
	if err := d.readFull(echo[:]); err != nil {
		return 0, err
	}
	return echo[0], nil
}

// touchBits drives one time slot per entry of bits and returns the level
// actually sampled during each slot. A 1 releases the line for the slot, so
// the sample is the wired-AND of every transmitter; a 0 holds it low. Slots
// are transmitted in bursts bounded by the FIFO depth, each burst fully
// echoed back before the next is sent, which keeps the result independent of
// how the burst boundaries fall.
func (d *Dev) touchBits(bits []byte) ([]byte, error) {
	frames := make([]byte, len(bits))
	for i, b := range bits {
		if b != 0 {
			frames[i] = slotOne
		}
	}
	sampled := make([]byte, len(bits))
	for off := 0; off < len(frames); off += d.fifoDepth {
		end := off + d.fifoDepth
		if end > len(frames) {
			end = len(frames)
		}
		if _, err := d.p.Write(frames[off:end]); err != nil {
			return nil, fmt.Errorf("ds9097: writing bit slots: %w", err)
		}
		if err := d.readFull(sampled[off:end]); err != nil {
			return nil, err
		}
	}
	// The echoed frame's first data bit is the line level during the slot.
	for i, e := range sampled {
		sampled[i] = e & 0x01
	}
	return sampled, nil
}

// writeByte transmits one byte, least significant bit first.
func (d *Dev) writeByte(b byte) error {
	var bits [8]byte
	for i := range bits {
		bits[i] = b >> i & 1
	}
	_, err := d.touchBits(bits[:])
	return err
}

// readByte issues eight read slots and assembles the sampled bits, least
// significant bit first.
func (d *Dev) readByte() (byte, error) {
	sampled, err := d.touchBits([]byte{1, 1, 1, 1, 1, 1, 1, 1})
	if err != nil {
		return 0, err
	}
	var b byte
	for i, bit := range sampled {
		if bit != 0 {
			b |= 1 << i
		}
	}
	return b, nil
}

// readFull reads until buf is full. The serial layer returns zero bytes with
// a nil error once its timeout expires, so a zero-progress read is reported
// as a timeout instead of being retried forever.
func (d *Dev) readFull(buf []byte) error {
	got := 0
	for got < len(buf) {
		n, err := d.p.Read(buf[got:])
		if err != nil {
			return fmt.Errorf("ds9097: reading echo: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("ds9097: read timeout after %d of %d echo bytes", got, len(buf))
		}
		got += n
	}
	return nil
}

// clear drops unsent output and unread input so the next exchange observes
// only its own echo.
func (d *Dev) clear() error {
	if err := d.p.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("ds9097: flushing output: %w", err)
	}
	if err := d.p.ResetInputBuffer(); err != nil {
		return fmt.Errorf("ds9097: flushing input: %w", err)
	}
	return nil
}

func (d *Dev) setBaud(rate int) error {
	d.mode.BaudRate = rate
	if err := d.p.SetMode(&d.mode); err != nil {
		return fmt.Errorf("ds9097: switching to %d baud: %w", rate, err)
	}
	return nil
}

func portName(p Port) string {
	if s, ok := p.(fmt.Stringer); ok {
		return s.String()
	}
	return "serial"
}

// NoDeviceError is returned when the reset preceding a transaction sees no
// presence pulse. It implements onewire.NoDevicesError to signal an empty or
// disconnected bus rather than a serial transport fault.
type NoDeviceError string

func (e NoDeviceError) Error() string   { return string(e) }
func (e NoDeviceError) NoDevices() bool { return true }
func (e NoDeviceError) BusError() bool  { return true }

var sleep = time.Sleep

var _ conn.Resource = &Dev{}
var _ onewire.Bus = &Dev{}
var _ onewire.BusCloser = &Dev{}
var _ Port = serial.Port(nil)

const (
	dataBaud  = 115200 // one UART frame per bit slot
	resetBaud = 9600   // one UART frame stretched into a reset pulse

	resetFrame = 0xf0 // reset waveform when framed at resetBaud
	slotOne    = 0xff // write-1/read slot: release the line after the start bit
	slotZero   = 0x00 // write-0 slot: hold the line low for the whole frame

	cmdSearchROM   = 0xf0 // begin ROM search traversal
	cmdAlarmSearch = 0xec // ROM search restricted to devices in alarm state
	cmdMatchROM    = 0x55 // address one device (issued through onewire.Dev)
	cmdSkipROM     = 0xcc // address all devices at once
)
