// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds9097test is meant to be used to mock the serial connection of a
// DS9097 adapter.
package ds9097test

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/mihaivint/DS9097-DS18B20/ds9097"
)

// IO registers one write and the echo it produced on either a real or fake
// serial connection.
type IO struct {
	Baud int    // baud rate the port was set to when the frames were written
	W    []byte // frames written to the adapter
	R    []byte // echo frames read back
}

// Playback implements ds9097.Port and plays back a recorded exchange.
//
// Every Write must match the next registered operation's frames and baud
// rate; its echo is then served to subsequent Reads. Reading past the
// registered echo returns zero bytes, like a serial read timing out.
//
// Set DontPanic to true to return errors instead of panicking, which is
// useful in tests exercising failure paths.
type Playback struct {
	sync.Mutex
	Ops       []IO
	Count     int
	DontPanic bool
	baud      int
	pending   []byte
	closed    bool
}

func (p *Playback) String() string {
	return "playback"
}

// Close verifies that all the registered operations were consumed.
func (p *Playback) Close() error {
	p.Lock()
	defer p.Unlock()
	p.closed = true
	if p.Count != len(p.Ops) {
		return p.fail("ds9097test: expected playback to be empty, %d operations left", len(p.Ops)-p.Count)
	}
	return nil
}

func (p *Playback) Write(b []byte) (int, error) {
	p.Lock()
	defer p.Unlock()
	if p.closed {
		return 0, errors.New("ds9097test: write on closed port")
	}
	if len(p.pending) != 0 {
		return 0, p.fail("ds9097test: write with %d unread echo frames", len(p.pending))
	}
	if p.Count >= len(p.Ops) {
		return 0, p.fail("ds9097test: unexpected write %#v", b)
	}
	op := p.Ops[p.Count]
	if op.Baud != 0 && op.Baud != p.baud {
		return 0, p.fail("ds9097test: write at %d baud, expected %d", p.baud, op.Baud)
	}
	if !bytes.Equal(b, op.W) {
		return 0, p.fail("ds9097test: unexpected write %#v != %#v", b, op.W)
	}
	p.pending = append([]byte(nil), op.R...)
	p.Count++
	return len(b), nil
}

func (p *Playback) Read(b []byte) (int, error) {
	p.Lock()
	defer p.Unlock()
	if p.closed {
		return 0, errors.New("ds9097test: read on closed port")
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *Playback) SetMode(mode *serial.Mode) error {
	p.Lock()
	defer p.Unlock()
	p.baud = mode.BaudRate
	return nil
}

func (p *Playback) SetReadTimeout(t time.Duration) error {
	return nil
}

// ResetInputBuffer drops echo frames the driver chose not to read.
func (p *Playback) ResetInputBuffer() error {
	p.Lock()
	defer p.Unlock()
	p.pending = nil
	return nil
}

func (p *Playback) ResetOutputBuffer() error {
	return nil
}

func (p *Playback) fail(format string, a ...interface{}) error {
	if p.DontPanic {
		return fmt.Errorf(format, a...)
	}
	panic(fmt.Sprintf(format, a...))
}

// Record implements ds9097.Port and records every exchange that passes
// through it, so a live session can be replayed later with Playback.
//
// The exchanges are registered in Ops: each Write starts a new operation at
// the current baud rate and the Reads that follow accumulate into its echo.
type Record struct {
	sync.Mutex
	Port ds9097.Port // underlying connection, nil means every I/O fails
	Ops  []IO
	baud int
}

func (r *Record) String() string {
	return "record"
}

func (r *Record) Close() error {
	r.Lock()
	defer r.Unlock()
	if r.Port == nil {
		return nil
	}
	return r.Port.Close()
}

func (r *Record) Write(b []byte) (int, error) {
	r.Lock()
	defer r.Unlock()
	if r.Port == nil {
		return 0, errors.New("ds9097test: no port to write to")
	}
	n, err := r.Port.Write(b)
	if err != nil {
		return n, err
	}
	r.Ops = append(r.Ops, IO{Baud: r.baud, W: append([]byte(nil), b[:n]...)})
	return n, nil
}

func (r *Record) Read(b []byte) (int, error) {
	r.Lock()
	defer r.Unlock()
	if r.Port == nil {
		return 0, errors.New("ds9097test: no port to read from")
	}
	n, err := r.Port.Read(b)
	if n != 0 && len(r.Ops) != 0 {
		last := &r.Ops[len(r.Ops)-1]
		last.R = append(last.R, b[:n]...)
	}
	return n, err
}

func (r *Record) SetMode(mode *serial.Mode) error {
	r.Lock()
	defer r.Unlock()
	if r.Port == nil {
		return errors.New("ds9097test: no port to configure")
	}
	if err := r.Port.SetMode(mode); err != nil {
		return err
	}
	r.baud = mode.BaudRate
	return nil
}

func (r *Record) SetReadTimeout(t time.Duration) error {
	if r.Port == nil {
		return errors.New("ds9097test: no port to configure")
	}
	return r.Port.SetReadTimeout(t)
}

func (r *Record) ResetInputBuffer() error {
	if r.Port == nil {
		return errors.New("ds9097test: no port to flush")
	}
	return r.Port.ResetInputBuffer()
}

func (r *Record) ResetOutputBuffer() error {
	if r.Port == nil {
		return errors.New("ds9097test: no port to flush")
	}
	return r.Port.ResetOutputBuffer()
}

var _ ds9097.Port = &Playback{}
var _ ds9097.Port = &Record{}
