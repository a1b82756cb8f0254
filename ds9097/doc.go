// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds9097 controls a DS9097-class passive serial adapter as a 1-wire
// bus master.
//
// The adapter contains no protocol logic. It couples the UART's TX and RX
// pins to the bus through a level shifter, so the host emulates 1-wire
// signaling purely through baud rate selection and byte framing: at 115200
// baud one UART frame spans a single bit slot, making the start bit and data
// bits line up with the 1-wire waveform, and at 9600 baud a 0xF0 frame
// stretches into a valid reset pulse. Every transmitted frame is echoed back
// by the receiver sampling the shared line, which is how presence pulses and
// read slots are observed.
//
// The scheme is described in Maxim application note 214, "Using a UART to
// Implement a 1-Wire Bus Master".
//
// Datasheet
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/DS9097.pdf
package ds9097
