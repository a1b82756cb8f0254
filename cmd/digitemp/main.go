// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// digitemp reads DS18B20 thermometers on a DS9097 serial adapter.
//
// It keeps its sensor inventory in a digitemp.conf file compatible with the
// classic digitemp tool: discover the bus once with -i, then plain
// invocations read every known sensor.
package main

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.bug.st/serial"
	"periph.io/x/conn/v3/onewire"

	"github.com/mihaivint/DS9097-DS18B20/digitempconf"
	"github.com/mihaivint/DS9097-DS18B20/ds18b20"
	"github.com/mihaivint/DS9097-DS18B20/ds9097"
)

var (
	argConfig string
	argSerial string
	argInit   bool
	argWalk   bool
	argTemp   int
)

var rootCmd = &cobra.Command{
	Use:   "digitemp",
	Short: "Read DS18B20 thermometers on a DS9097 serial adapter",
	Long: `digitemp reads 1-wire thermometers behind a DS9097 passive serial adapter.

Run it with -i once to discover the bus and write digitemp.conf, then run it
without flags to read every configured sensor.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&argConfig, "config", "c", "digitemp.conf", "configuration file")
	flags.StringVarP(&argSerial, "serial", "s", "", "serial device, overrides the configuration file")
	flags.BoolVarP(&argInit, "init", "i", false, "discover sensors and write the configuration file")
	flags.BoolVarP(&argWalk, "walk", "w", false, "list every device on the bus")
	flags.IntVarP(&argTemp, "temp", "t", -1, "read a single sensor by index and print Celsius")
}

func run(*cobra.Command, []string) error {
	cfg, err := digitempconf.Load(argConfig)
	if err != nil {
		return err
	}
	tty := cfg.TTY
	if argSerial != "" {
		tty = argSerial
	}
	switch {
	case argInit:
		return runInit(tty, cfg)
	case argWalk:
		return runWalk(tty)
	case argTemp >= 0:
		return runTemp(tty, cfg, argTemp)
	default:
		return runAll(tty, cfg)
	}
}

// openBus opens the adapter, listing the serial ports present on the machine
// when the device cannot be opened.
func openBus(tty string) (*ds9097.Dev, error) {
	bus, err := ds9097.New(tty, nil)
	if err != nil {
		if ports, e := serial.GetPortsList(); e == nil && len(ports) > 0 {
			return nil, fmt.Errorf("%w (serial ports found: %s)", err, strings.Join(ports, ", "))
		}
		return nil, err
	}
	return bus, nil
}

func runInit(tty string, cfg *digitempconf.Config) error {
	bus, err := openBus(tty)
	if err != nil {
		return err
	}
	defer bus.Close()
	addrs, err := bus.Search(false)
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		return errors.New("no sensors found")
	}
	fmt.Printf("Found %d sensor(s):\n", len(addrs))
	for i, addr := range addrs {
		fmt.Printf("  Sensor %d: %s\n", i, romHex(addr))
	}
	cfg.TTY = tty
	cfg.Sensors = addrs
	if err := cfg.Save(argConfig); err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s\n", argConfig)
	return nil
}

func runWalk(tty string) error {
	bus, err := openBus(tty)
	if err != nil {
		return err
	}
	defer bus.Close()
	addrs, err := bus.Search(false)
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		fmt.Println("No sensors found.")
		return nil
	}
	fmt.Printf("Found %d sensor(s):\n", len(addrs))
	for i, addr := range addrs {
		fmt.Printf("  Sensor %d: %s\n", i, romHex(addr))
	}
	return nil
}

func runTemp(tty string, cfg *digitempconf.Config, idx int) error {
	if len(cfg.Sensors) == 0 {
		return errors.New("no sensors in configuration, run with -i first")
	}
	if idx >= len(cfg.Sensors) {
		return fmt.Errorf("sensor %d not found, have %d", idx, len(cfg.Sensors))
	}
	bus, err := openBus(tty)
	if err != nil {
		return err
	}
	defer bus.Close()
	dev, err := ds18b20.New(bus, cfg.Sensors[idx])
	if err != nil {
		return err
	}
	temp, err := dev.Temperature()
	if err != nil {
		return err
	}
	fmt.Printf("%.2f\n", temp.Celsius())
	return nil
}

func runAll(tty string, cfg *digitempconf.Config) error {
	if len(cfg.Sensors) == 0 {
		return errors.New("no sensors in configuration, run with -i first")
	}
	bus, err := openBus(tty)
	if err != nil {
		return err
	}
	defer bus.Close()
	for i, addr := range cfg.Sensors {
		if i > 0 {
			time.Sleep(500 * time.Millisecond)
		}
		dev, err := ds18b20.New(bus, addr)
		if err != nil {
			log.Printf("Sensor %d: %v", i, err)
			continue
		}
		temp, err := dev.Temperature()
		if err != nil {
			log.Printf("Sensor %d: %v", i, err)
			continue
		}
		c := temp.Celsius()
		f := c*9/5 + 32
		fmt.Printf("%s Sensor %d C: %.2f F: %.2f\n", time.Now().Format("Jan 02 15:04:05"), i, c, f)
	}
	return nil
}

func romHex(addr onewire.Address) string {
	var rom [8]byte
	binary.LittleEndian.PutUint64(rom[:], uint64(addr))
	return hex.EncodeToString(rom[:])
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
