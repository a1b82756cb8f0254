// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds9097_test

import (
	"fmt"
	"log"

	"github.com/mihaivint/DS9097-DS18B20/ds9097"
)

func Example() {
	// Open the serial adapter and enumerate every device on the bus.
	bus, err := ds9097.New("/dev/ttyUSB0", nil)
	if err != nil {
		log.Fatal(err)
	}
	defer bus.Close()
	addrs, err := bus.Search(false)
	if err != nil {
		log.Fatal(err)
	}
	for _, addr := range addrs {
		fmt.Printf("%#016x\n", uint64(addr))
	}
}
