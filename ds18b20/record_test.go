// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"os"
	"testing"
	"time"

	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/onewire/onewiretest"

	"github.com/mihaivint/DS9097-DS18B20/ds9097"
)

// TestRecord_live performs a temperature conversion against real hardware and
// logs the recorded exchange in a form that can be pasted into a Playback
// script. It is skipped unless DS9097_TTY points at the adapter's serial
// device with at least one DS18B20 on its bus.
func TestRecord_live(t *testing.T) {
	tty := os.Getenv("DS9097_TTY")
	if tty == "" {
		t.Skip("DS9097_TTY not set")
	}
	// The conversion wait is stubbed out for playback tests. Real hardware
	// needs it back.
	sleep = time.Sleep
	defer func() { sleep = func(time.Duration) {} }()
	bus, err := ds9097.New(tty, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer bus.Close()
	devices, err := bus.Search(false)
	if err != nil {
		t.Fatal(err)
	}
	var addr onewire.Address
	for _, a := range devices {
		if Family(a&0xff) == DS18B20 {
			addr = a
			break
		}
	}
	if addr == 0 {
		t.Fatal("no DS18B20 found")
	}
	t.Logf("var addr onewire.Address = %#016x", addr)
	// Start recording and perform a temperature conversion.
	rec := &onewiretest.Record{Bus: bus}
	dev, err := New(rec, addr)
	if err != nil {
		t.Fatal(err)
	}
	temp, err := dev.Temperature()
	if err != nil {
		t.Fatal(err)
	}
	// Output what got recorded.
	t.Log("var ops = []onewiretest.IO{")
	for _, op := range rec.Ops {
		t.Logf("  %#v,", op)
	}
	t.Log("}")
	t.Logf("var temp physic.Temperature = %d  // %s", temp, temp.String())
}
