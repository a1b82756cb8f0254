// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds9097

import (
	"encoding/binary"

	"github.com/mihaivint/DS9097-DS18B20/common"
	"periph.io/x/conn/v3/onewire"
)

// Search performs a "search" cycle on the 1-wire bus and returns the
// addresses of all devices on the bus if alarmOnly is false and of all
// devices in alarm state if alarmOnly is true.
//
// Each device costs one reset/traversal round. Candidates that arrive with a
// bad ROM checksum are dropped and the traversal carries on, so a glitched
// round loses at most that round's device.
//
// If an error occurs during the search the already-discovered devices are
// returned with the error.
func (d *Dev) Search(alarmOnly bool) ([]onewire.Address, error) {
	d.Lock()
	defer d.Unlock()

	cmd := byte(cmdSearchROM)
	if alarmOnly {
		cmd = cmdAlarmSearch
	}
	var found []onewire.Address
	st := searchState{lastDiscrepancy: -1}
	for {
		present, err := d.reset()
		if err != nil {
			return found, err
		}
		if !present {
			return found, nil
		}
		if err := d.writeByte(cmd); err != nil {
			return found, err
		}
		rom, aborted, err := d.searchRound(&st)
		if err != nil {
			return found, err
		}
		if aborted {
			// Nothing is participating in the traversal anymore. An alarm
			// search with no alarming device lands here on its first round.
			return found, nil
		}
		st.lastROM = rom
		if common.CheckCRC8(rom[:]) {
			found = append(found, onewire.Address(binary.LittleEndian.Uint64(rom[:])))
		}
		if st.lastDiscrepancy == -1 {
			return found, nil
		}
	}
}

// searchState carries the traversal position between rounds of a search.
//
// lastDiscrepancy is the deepest bit position where the previous round chose
// the 0 branch of an unresolved fork, or -1 once every fork has been walked
// both ways. Bit positions are 0-based, so the sentinel must live outside
// 0..63: folding it onto 0 would make a fork at the very first ROM bit
// indistinguishable from a finished traversal.
type searchState struct {
	lastDiscrepancy int
	lastROM         [8]byte
}

// searchRound walks the 64 bit positions of one traversal and returns the
// candidate ROM it assembled. aborted reports that both sampled slots of some
// position read 1, meaning no device answered it, which ends the traversal
// without a candidate.
func (d *Dev) searchRound(st *searchState) (rom [8]byte, aborted bool, err error) {
	marker := -1
	for pos := 0; pos < 64; pos++ {
		sampled, err := d.touchBits([]byte{1, 1})
		if err != nil {
			return rom, false, err
		}
		idBit, cmpBit := sampled[0], sampled[1]
		if idBit == 1 && cmpBit == 1 {
			return rom, true, nil
		}
		dir, unresolved := st.direction(pos, idBit, cmpBit)
		if unresolved {
			marker = pos
		}
		if _, err := d.touchBits([]byte{dir}); err != nil {
			return rom, false, err
		}
		if dir != 0 {
			rom[pos/8] |= 1 << (pos % 8)
		}
	}
	st.lastDiscrepancy = marker
	return rom, false, nil
}

// direction picks the branch to follow at bit position pos from the two
// sampled slots: the true bit and its complement. unresolved reports that the
// position is a fork whose 1 branch is still unexplored and must be revisited
// by a later round.
func (st *searchState) direction(pos int, idBit, cmpBit byte) (dir byte, unresolved bool) {
	if idBit != cmpBit {
		// Every participating device agrees on this bit.
		return idBit, false
	}
	// Both slots sampled 0: devices disagree, the tree forks here.
	switch {
	case pos > st.lastDiscrepancy:
		// A fork below the pivot is new: explore the 0 subtree first.
		return 0, true
	case pos == st.lastDiscrepancy:
		// The pivot itself: its 0 subtree is exhausted, take 1 now.
		return 1, false
	default:
		// Above the pivot, replay the previous path. Taking the 0 branch
		// keeps the fork pending for another pass.
		dir = st.lastROM[pos/8] >> (pos % 8) & 1
		return dir, dir == 0
	}
}
