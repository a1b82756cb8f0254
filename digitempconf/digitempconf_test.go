// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package digitempconf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/onewire"
)

func TestLoad_missing(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "digitemp.conf"))
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", c.TTY)
	assert.Equal(t, 1000, c.ReadTime)
	assert.Empty(t, c.Sensors)
}

func TestLoad(t *testing.T) {
	content := `TTY /dev/ttyS0
READ_TIME 750
SENSORS 2
ROM 0 0x28 0xAC 0x41 0x0E 0x07 0x00 0x00 0x74
ROM 1 0x10 0xB8 0xC5 0x57 0x00 0x08 0x00 0x85

LOG_TYPE 1
`
	path := filepath.Join(t.TempDir(), "digitemp.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyS0", c.TTY)
	assert.Equal(t, 750, c.ReadTime)
	assert.Equal(t, []onewire.Address{0x740000070e41ac28, 0x8500080057c5b810}, c.Sensors)
}

func TestLoad_bareHex(t *testing.T) {
	// The classic tool wrote bytes without the 0x prefix in some versions.
	content := "ROM 0 28 AC 41 0E 07 00 00 74\n"
	path := filepath.Join(t.TempDir(), "digitemp.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []onewire.Address{0x740000070e41ac28}, c.Sensors)
}

func TestLoad_malformed(t *testing.T) {
	lines := []string{
		"TTY",
		"READ_TIME",
		"READ_TIME soon",
		"ROM 0 0x28",
		"ROM 0 0x28 0xAC 0x41 0x0E 0x07 0x00 0x00 0xZZ",
		"ROM 0 0x28 0xAC 0x41 0x0E 0x07 0x00 0x00 0x74 0x00",
	}
	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "digitemp.conf")
			require.NoError(t, os.WriteFile(path, []byte(line+"\n"), 0644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSave(t *testing.T) {
	c := &Config{
		TTY:      "/dev/ttyS0",
		ReadTime: 1000,
		Sensors:  []onewire.Address{0x740000070e41ac28, 0x8500080057c5b810},
	}
	path := filepath.Join(t.TempDir(), "digitemp.conf")
	require.NoError(t, c.Save(path))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	expected := `TTY /dev/ttyS0
READ_TIME 1000
SENSORS 2
ROM 0 0x28 0xAC 0x41 0x0E 0x07 0x00 0x00 0x74
ROM 1 0x10 0xB8 0xC5 0x57 0x00 0x08 0x00 0x85
`
	assert.Equal(t, expected, string(got))
}

func TestRoundTrip(t *testing.T) {
	c := &Config{
		TTY:      "/dev/ttyAMA0",
		ReadTime: 1000,
		Sensors: []onewire.Address{
			0x740000070e41ac28,
			0xee00554433221128,
			0x8500080057c5b810,
		},
	}
	path := filepath.Join(t.TempDir(), "digitemp.conf")
	require.NoError(t, c.Save(path))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}
