// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package timing

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	// ClockFreq is the ITFG clock frequency, in Hz.
	ClockFreq = 80e6

	// MaxFrames is the largest number of frames the ITFG can generate.
	MaxFrames = 0xffffff
)

// TrigMode selects how the ITFG advances frames.
type TrigMode uint8

const (
	Burst             TrigMode = 0
	SoftwarePaused    TrigMode = 1
	HardwarePaused    TrigMode = 2
	PB0GlobalReset    TrigMode = 3
	SoftwareOnlyFirst TrigMode = 5
	HardwareOnlyFirst TrigMode = 6
)

func (m TrigMode) String() string {
	switch m {
	case Burst:
		return "burst"
	case SoftwarePaused:
		return "software"
	case HardwarePaused:
		return "hardware"
	case PB0GlobalReset:
		return "pb0-global-reset"
	case SoftwareOnlyFirst:
		return "software-only-first"
	case HardwareOnlyFirst:
		return "hardware-only-first"
	}
	return fmt.Sprintf("TrigMode(%d)", uint8(m))
}

// ParseTrigMode returns the ITFG trigger mode named name.
func ParseTrigMode(name string) (TrigMode, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, m := range []TrigMode{
		Burst, SoftwarePaused, HardwarePaused, PB0GlobalReset,
		SoftwareOnlyFirst, HardwareOnlyFirst,
	} {
		if m.String() == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("timing: unknown ITFG trigger mode %q", name)
}

// GapMode is the dead time inserted between two ITFG frames.
type GapMode uint8

const (
	Gap25ns  GapMode = 0
	Gap200ns GapMode = 1
	Gap500ns GapMode = 2
	Gap1us   GapMode = 3
)

func (g GapMode) String() string {
	switch g {
	case Gap25ns:
		return "25ns"
	case Gap200ns:
		return "200ns"
	case Gap500ns:
		return "500ns"
	case Gap1us:
		return "1us"
	}
	return fmt.Sprintf("GapMode(%d)", uint8(g))
}

// ParseGapMode returns the ITFG gap mode named name.
func ParseGapMode(name string) (GapMode, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, g := range []GapMode{Gap25ns, Gap200ns, Gap500ns, Gap1us} {
		if g.String() == name {
			return g, nil
		}
	}
	return 0, fmt.Errorf("timing: unknown ITFG gap mode %q", name)
}

// Gap returns the duration of the gap.
func (g GapMode) Gap() time.Duration {
	switch g {
	case Gap25ns:
		return 25 * time.Nanosecond
	case Gap200ns:
		return 200 * time.Nanosecond
	case Gap500ns:
		return 500 * time.Nanosecond
	case Gap1us:
		return time.Microsecond
	}
	return 0
}

// ITFG describes a run of the internal time-frame generator.
type ITFG struct {
	Time    time.Duration // collection time of a frame
	Trigger TrigMode
	Gap     GapMode
}

// Ticks converts a collection time into ITFG clock ticks.
func Ticks(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	// 1 tick = 12.5ns
	v := (int64(d)*2 + 12) / 25
	if v >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}

// Duration converts ITFG clock ticks into a collection time.
func Duration(ticks uint32) time.Duration {
	return time.Duration(int64(ticks) * 25 / 2)
}
