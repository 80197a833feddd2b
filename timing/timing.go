// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package timing holds the Xspress3 frame-advance configuration: the
// timing register codec and the internal time-frame generator (ITFG)
// settings.
package timing // import "github.com/go-lpc/xsp3/timing"

import (
	"fmt"
	"strings"
)

// Source is the time-frame advance source of a card.
type Source uint8

const (
	Software     Source = 0 // software-driven frame advance
	Internal     Source = 1 // internal time-frame generator
	IDC          Source = 3 // IDC connector
	TTLVetoOnly  Source = 4 // TTL veto input only
	TTLBoth      Source = 5 // TTL veto and frame-zero reset
	LVDSVetoOnly Source = 6 // LVDS veto input only
	LVDSBoth     Source = 7 // LVDS veto and frame-zero reset
)

var srcNames = [...]string{
	Software:     "software",
	Internal:     "itfg",
	IDC:          "idc",
	TTLVetoOnly:  "ttl-veto-only",
	TTLBoth:      "ttl-both",
	LVDSVetoOnly: "lvds-veto-only",
	LVDSBoth:     "lvds-both",
}

func (src Source) String() string {
	if int(src) < len(srcNames) && srcNames[src] != "" {
		return srcNames[src]
	}
	return fmt.Sprintf("Source(%d)", uint8(src))
}

// ParseSource returns the trigger source named name.
func ParseSource(name string) (Source, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, v := range srcNames {
		if v != "" && v == name {
			return Source(i), nil
		}
	}
	return 0, fmt.Errorf("timing: unknown trigger source %q", name)
}

const (
	srcMask     = 0x7
	invF0Bit    = 1 << 3
	invVetoBit  = 1 << 4
	debShift    = 16
	debMask     = 0xff
	definedMask = srcMask | invF0Bit | invVetoBit | debMask<<debShift
	MaxDebounce = debMask
)

// Register is the decoded content of the card timing register.
//
// Only the frame-advance source, the two inversion flags and the
// debounce count are described; every other bit is dropped by Decode
// and encoded as zero.
type Register struct {
	Source     Source
	InvertF0   bool  // invert frame-zero input
	InvertVeto bool  // invert veto input
	Debounce   uint8 // debounce, in clock cycles
}

// Decode unpacks the timing register from its raw 32-bit value.
func Decode(raw uint32) Register {
	return Register{
		Source:     Source(raw & srcMask),
		InvertF0:   raw&invF0Bit != 0,
		InvertVeto: raw&invVetoBit != 0,
		Debounce:   uint8((raw >> debShift) & debMask),
	}
}

// Encode packs the timing register into its raw 32-bit value.
func (reg Register) Encode() uint32 {
	raw := uint32(reg.Source) & srcMask
	if reg.InvertF0 {
		raw |= invF0Bit
	}
	if reg.InvertVeto {
		raw |= invVetoBit
	}
	raw |= uint32(reg.Debounce) << debShift
	return raw
}

// Defined returns raw with all the bits the register does not describe
// cleared.
func Defined(raw uint32) uint32 {
	return raw & definedMask
}

func (reg Register) String() string {
	return fmt.Sprintf(
		"Register{src=%v, inv-f0=%v, inv-veto=%v, debounce=%d}",
		reg.Source, reg.InvertF0, reg.InvertVeto, reg.Debounce,
	)
}
