// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package common

import "testing"

func TestCRC8(t *testing.T) {
	var tests = []struct {
		bytes  []byte
		result byte
	}{
		{bytes: []byte{}, result: 0x00},
		{bytes: []byte{0xbe, 0xef}, result: 0x76},
		{bytes: []byte{0x01, 0xa4}, result: 0x0a},
		{bytes: []byte{0xab, 0xcd}, result: 0xfa},
		// Example ROM from the Maxim 1-Wire CRC application note.
		{bytes: []byte{0x02, 0x1c, 0xb8, 0x01, 0x00, 0x00, 0x00}, result: 0xa2},
		// A full ROM code including its checksum byte folds to zero.
		{bytes: []byte{0x28, 0xac, 0x41, 0x0e, 0x07, 0x00, 0x00, 0x74}, result: 0x00},
	}
	for _, test := range tests {
		res := CRC8(test.bytes)
		if res != test.result {
			t.Errorf("CRC8(%#v)!=%#x received %#x", test.bytes, test.result, res)
		}
	}
}

func TestCheckCRC8(t *testing.T) {
	payloads := [][]byte{
		// 7-byte ROM bodies.
		{0x28, 0x11, 0x22, 0x33, 0x44, 0x55, 0x00},
		{0x10, 0x04, 0x08, 0x0c, 0x10, 0x14, 0x18},
		// 8-byte scratchpad payloads.
		{0x91, 0x01, 0x4b, 0x46, 0x7f, 0xff, 0x0c, 0x10},
		{0xff, 0xff, 0x4b, 0x46, 0x7f, 0xff, 0x0c, 0x10},
	}
	for _, payload := range payloads {
		sealed := append(append([]byte{}, payload...), CRC8(payload))
		if !CheckCRC8(sealed) {
			t.Errorf("CheckCRC8(%#v) = false, want true", sealed)
		}
		// A corrupted byte is a burst of at most 8 bits, which CRC8 detects
		// unconditionally.
		for i := range sealed {
			for mask := 1; mask < 256; mask++ {
				corrupt := append([]byte{}, sealed...)
				corrupt[i] ^= byte(mask)
				if CheckCRC8(corrupt) {
					t.Fatalf("CheckCRC8 missed corruption of byte %d with mask %#x in %#v", i, mask, sealed)
				}
			}
		}
	}
}
