// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"encoding/binary"
	"errors"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/physic"

	"github.com/mihaivint/DS9097-DS18B20/common"
)

// Family code of the specific device type
type Family byte

func (f Family) String() string {
	switch f {
	case DS18S20:
		return "DS18S20"
	case DS18B20:
		return "DS18B20"
	default:
		return "unknown"
	}
}

const DS18B20 Family = 0x28
const DS18S20 Family = 0x10

// ConvertAll starts a temperature conversion on every device on the bus at
// once using a Skip ROM broadcast, then waits out the worst-case conversion
// time.
//
// It is useful on a bus with several sensors: one shared conversion delay
// instead of one per device, with LastTemp collecting each result.
//
// ConvertAll uses time.Sleep to wait for the conversion to finish, which
// takes 750ms.
func ConvertAll(o onewire.Bus) error {
	if err := o.Tx([]byte{0xcc, 0x44}, nil, onewire.WeakPullup); err != nil {
		return err
	}
	sleep(conversionTime)
	return nil
}

// StartAll starts a conversion on all devices on the bus.
// Similar to ConvertAll but returns without waiting for conversion to finish.
// To be used in conjunction with LastTemp() function. Conversion timing must
// be handled by other means.
func StartAll(o onewire.Bus) error {
	return o.Tx([]byte{0xcc, 0x44}, nil, onewire.WeakPullup)
}

// New returns an object that communicates over 1-wire to the DS18B20 sensor
// with the specified 64-bit address.
//
// The address is validated against the checksum embedded in its last byte,
// but the device is not probed: every read addresses it from scratch.
func New(o onewire.Bus, addr onewire.Address) (*Dev, error) {
	var rom [8]byte
	binary.LittleEndian.PutUint64(rom[:], uint64(addr))
	if !common.CheckCRC8(rom[:]) {
		return nil, errors.New("ds18b20: ROM code fails its checksum")
	}
	return &Dev{onewire: onewire.Dev{Bus: o, Addr: addr}}, nil
}

// Dev is a handle to a Dallas Semi / Maxim DS18B20 temperature sensor on a
// 1-wire bus.
type Dev struct {
	onewire onewire.Dev // device on 1-wire bus
}

func (d *Dev) Family() Family {
	return Family(d.onewire.Addr & 0xFF)
}

func (d *Dev) String() string {
	return d.Family().String() + "{" + d.onewire.String() + "}"
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// Temperature performs a conversion and returns the measured temperature.
//
// It issues two bus transactions, each with its own reset and device
// selection: one carries the Convert T command and, after the worst-case
// conversion time of 750ms, the other reads the scratchpad back. A
// scratchpad that fails its checksum yields a CRCError since a corrupt
// transfer holds no usable value.
func (d *Dev) Temperature() (physic.Temperature, error) {
	if err := d.onewire.Tx([]byte{0x44}, nil); err != nil {
		return 0, err
	}
	sleep(conversionTime)
	spad, err := d.readScratchpad()
	if err != nil {
		return 0, err
	}
	return d.parseTemperature(spad), nil
}

// Sense implements physic.SenseEnv.
func (d *Dev) Sense(e *physic.Env) error {
	t, err := d.Temperature()
	if err != nil {
		return err
	}
	e.Temperature = t
	return nil
}

// SenseContinuous implements physic.SenseEnv.
func (d *Dev) SenseContinuous(time.Duration) (<-chan physic.Env, error) {
	return nil, errors.New("ds18b20: not implemented")
}

// Precision implements physic.SenseEnv.
func (d *Dev) Precision(e *physic.Env) {
	e.Temperature = physic.Kelvin / 16
}

// LastTemp reads the temperature resulting from the last conversion from the
// device.
//
// It is useful in combination with ConvertAll.
func (d *Dev) LastTemp() (physic.Temperature, error) {
	spad, err := d.readScratchpad()
	if err != nil {
		return 0, err
	}
	// 0x0550 is the power-up value of the temperature register. Reading it
	// back almost always means no conversion was performed, so reject it
	// rather than report a phantom 85°C.
	if spad[0] == 0x50 && spad[1] == 0x05 {
		return 0, busError("ds18b20: has not performed a temperature conversion")
	}
	return d.parseTemperature(spad), nil
}

// parseTemperature from scratchpad and handle special calculation for DS18S20
func (d *Dev) parseTemperature(spad []byte) physic.Temperature {
	// spad[1] is MSB and spad[0] is LSB of the raw temperature value
	rawTemp := int16(spad[1])<<8 | int16(spad[0])

	if d.Family() == DS18S20 && spad[7] != 0 {
		// for higher resolution some additional calculation is required
		// TEMPERATURE = TEMP_READ - 0,25 + (COUNT_PER_C-COUNT_REMAIN)/COUNT_PER_C
		//  TEMP_READ = value from spad[1] (MSB) and spad[0] (LSB) with truncated last bit (0,5°C)
		//  COUNT_PER_C = spad[7]
		//  COUNT_REMAIN = spad[6]

		// calculation from http://myarduinotoy.blogspot.com/2013/02/12bit-result-from-ds18s20.html
		mask := 0xFFFE
		rawTemp = ((rawTemp & int16(mask)) << 3) + 12 - int16(spad[6])
	}
	// rawTemp has 4 fractional bits. Need to do sign extension multiply by
	// 1000 to get Millis, divide by 16 due to 4 fractional bits. Datasheet p.4.
	v := physic.Temperature(rawTemp)
	return v*physic.Kelvin/16 + physic.ZeroCelsius
}

// CRCError is returned when a scratchpad transfer fails its checksum. The
// transfer is corrupt and no temperature can be derived from it. It
// implements onewire.BusError.
type CRCError string

func (e CRCError) Error() string  { return string(e) }
func (e CRCError) BusError() bool { return true }

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

// readScratchpad reads the 9 bytes of scratchpad and checks the CRC.
// It returns the 8 bytes of scratchpad data (excluding the CRC byte).
func (d *Dev) readScratchpad() ([]byte, error) {
	// Read the scratchpad memory.
	var spad [9]byte
	if err := d.onewire.Tx([]byte{0xbe}, spad[:]); err != nil {
		return nil, err
	}

	// Check the scratchpad CRC. A read slot on a silent line samples 1, so
	// an all-ones scratchpad means nothing answered the selection.
	if !common.CheckCRC8(spad[:]) {
		for _, s := range spad {
			if s != 0xff {
				return nil, CRCError("ds18b20: incorrect scratchpad CRC")
			}
		}
		return nil, busError("ds18b20: device did not respond")
	}

	return spad[:8], nil
}

// conversionTime is the worst-case conversion duration, the time needed at
// the device's maximum resolution. The configured resolution is not tracked,
// so every wait assumes the maximum.
const conversionTime = 750 * time.Millisecond

var sleep = time.Sleep

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
