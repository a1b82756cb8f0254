// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds9097test

import (
	"bytes"
	"testing"

	"go.bug.st/serial"

	"github.com/mihaivint/DS9097-DS18B20/common"
)

func dataMode() *serial.Mode {
	return &serial.Mode{BaudRate: 115200, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
}

func resetMode() *serial.Mode {
	return &serial.Mode{BaudRate: 9600, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
}

func TestPlayback_mismatch(t *testing.T) {
	p := &Playback{
		Ops:       []IO{{Baud: 115200, W: []byte{0xff}, R: []byte{0xff}}},
		DontPanic: true,
	}
	if err := p.SetMode(dataMode()); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Write([]byte{0x00}); err == nil {
		t.Fatal("expected a mismatch error")
	}
}

func TestPlayback_panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic")
		}
	}()
	p := &Playback{}
	p.SetMode(dataMode())
	p.Write([]byte{0x00})
}

func TestPlayback_close(t *testing.T) {
	p := &Playback{
		Ops:       []IO{{Baud: 115200, W: []byte{0xff}, R: []byte{0xff}}},
		DontPanic: true,
	}
	if err := p.Close(); err == nil {
		t.Fatal("expected an error for the unconsumed operation")
	}
}

func TestSim_presence(t *testing.T) {
	s := &Sim{}
	if err := s.SetMode(resetMode()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write([]byte{0xf0}); err != nil {
		t.Fatal(err)
	}
	var echo [1]byte
	if n, err := s.Read(echo[:]); n != 1 || err != nil {
		t.Fatalf("n=%d err=%v", n, err)
	}
	// An empty line echoes the reset frame intact.
	if echo[0] != 0xf0 {
		t.Fatalf("expected 0xf0, got %#x", echo[0])
	}

	s.Devices = []*Device{NewDevice([6]byte{1, 2, 3, 4, 5, 6}, 0x0191)}
	if _, err := s.Write([]byte{0xf0}); err != nil {
		t.Fatal(err)
	}
	if n, err := s.Read(echo[:]); n != 1 || err != nil {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if echo[0] == 0xf0 || echo[0] == 0x00 {
		t.Fatalf("expected a corrupted echo for presence, got %#x", echo[0])
	}
	if s.Resets != 2 {
		t.Fatalf("expected 2 resets, got %d", s.Resets)
	}
	// Reading past the queued echo behaves like a timeout.
	if n, err := s.Read(echo[:]); n != 0 || err != nil {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestDeviceHelpers(t *testing.T) {
	dev := NewDevice([6]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x00}, 0x0191)
	if !common.CheckCRC8(dev.ROM[:]) {
		t.Fatalf("ROM not sealed: %#v", dev.ROM)
	}
	if dev.ROM[0] != 0x28 {
		t.Fatalf("expected the DS18B20 family code, got %#x", dev.ROM[0])
	}
	if !common.CheckCRC8(dev.Scratchpad[:]) {
		t.Fatalf("scratchpad not sealed: %#v", dev.Scratchpad)
	}
	if !bytes.Equal(dev.Scratchpad[:2], []byte{0x91, 0x01}) {
		t.Fatalf("temperature register not loaded: %#v", dev.Scratchpad)
	}
	if uint64(dev.Address()) != 0xee00554433221128 {
		t.Fatalf("unexpected address %#016x", uint64(dev.Address()))
	}
}
