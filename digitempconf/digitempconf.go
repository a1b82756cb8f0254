// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package digitempconf reads and writes the digitemp.conf sensor inventory
// file.
//
// The format is line oriented and shared with the classic digitemp tool so
// existing files keep working:
//
//	TTY /dev/ttyUSB0
//	READ_TIME 1000
//	SENSORS 2
//	ROM 0 0x28 0xAC 0x41 0x0E 0x07 0x00 0x00 0x74
//	ROM 1 0x10 0xB8 0xC5 0x57 0x00 0x08 0x00 0x85
//
// ROM lines carry the 8 device bytes in bus order, family code first, which
// is the little endian form of onewire.Address. Unknown lines are ignored;
// the SENSORS count is derived from the ROM lines rather than trusted.
package digitempconf

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/onewire"
)

// Config is the content of a digitemp.conf file.
type Config struct {
	// TTY is the serial device of the bus adapter.
	TTY string
	// ReadTime is the conversion wait in milliseconds. It is kept for file
	// compatibility.
	ReadTime int
	// Sensors are the known device addresses, in file order.
	Sensors []onewire.Address
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	return &Config{TTY: "/dev/ttyUSB0", ReadTime: 1000}
}

// Load reads the configuration file at path.
//
// A missing file is not an error: the defaults are returned so a fresh
// installation can run discovery and save its first inventory.
func Load(path string) (*Config, error) {
	c := Default()
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c, nil
		}
		return nil, fmt.Errorf("digitempconf: %w", err)
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "TTY":
			if len(fields) < 2 {
				return nil, fmt.Errorf("digitempconf: malformed line %q", s.Text())
			}
			c.TTY = fields[1]
		case "READ_TIME":
			if len(fields) < 2 {
				return nil, fmt.Errorf("digitempconf: malformed line %q", s.Text())
			}
			v, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("digitempconf: malformed line %q: %w", s.Text(), err)
			}
			c.ReadTime = v
		case "ROM":
			// ROM <index> then the 8 device bytes.
			if len(fields) != 10 {
				return nil, fmt.Errorf("digitempconf: malformed line %q", s.Text())
			}
			var rom [8]byte
			for i := range rom {
				v, err := strconv.ParseUint(strings.TrimPrefix(fields[i+2], "0x"), 16, 8)
				if err != nil {
					return nil, fmt.Errorf("digitempconf: malformed line %q: %w", s.Text(), err)
				}
				rom[i] = byte(v)
			}
			c.Sensors = append(c.Sensors, onewire.Address(binary.LittleEndian.Uint64(rom[:])))
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("digitempconf: %w", err)
	}
	return c, nil
}

// Save writes the configuration to path in the canonical form.
func (c *Config) Save(path string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "TTY %s\n", c.TTY)
	fmt.Fprintf(&sb, "READ_TIME %d\n", c.ReadTime)
	fmt.Fprintf(&sb, "SENSORS %d\n", len(c.Sensors))
	for i, addr := range c.Sensors {
		var rom [8]byte
		binary.LittleEndian.PutUint64(rom[:], uint64(addr))
		fmt.Fprintf(&sb, "ROM %d", i)
		for _, b := range rom {
			fmt.Fprintf(&sb, " 0x%02X", b)
		}
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("digitempconf: %w", err)
	}
	return nil
}
