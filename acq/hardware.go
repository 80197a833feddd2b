// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"fmt"

	"github.com/go-lpc/xsp3/timing"
)

// Hardware is the capability an Xspress3 back-end (real detector or
// simulator) provides to the acquisition core.
//
// Implementations own the library handle. Calls may block for one
// round-trip to the detector.
type Hardware interface {
	// Configure opens a session with the detector.
	Configure(cfg Config) error
	Close() error

	SetupClocks(card int, src ClockSource, flags ClockFlags) error
	RestoreSettings(dir string) error
	SaveSettings(dir string) error
	SetRunFlags(flags RunFlags) error
	SetTimingRegister(card int, raw uint32) error

	HasITFG() bool
	SetupITFG(card, frames int, ticks uint32, trig timing.TrigMode, gap timing.GapMode) error

	StartHistogramming(card int) error
	StopHistogramming(card int) error
	Clear(chans, frames int) error

	// Progress returns the number of frames completed so far.
	Progress() (int, error)
	Busy() bool

	// ReadSpectra reads n frames, starting at frame off, of nbins bins
	// for chans channels into dst, laid out as [frame][channel][bin].
	ReadSpectra(dst []uint32, off, n, chans, nbins int) error
	ReadSpectraDTC(dst []float64, off, n, chans, nbins int) error

	// ReadScalars reads n frames, starting at frame off, of nscal
	// scalers for chans channels into dst, laid out as
	// [frame][channel][scaler].
	ReadScalars(dst []uint32, off, n, chans, nscal int) error
	ReadScalarsDTC(dst []float64, off, n, chans, nscal int) error

	GoodThreshold(ch int) (uint32, error)
	SetGoodThreshold(ch int, v uint32) error
	Window(ch, win int) (lo, hi uint32, err error)
	SetWindow(ch, win int, lo, hi uint32) error
	DeadTimeParams(ch int) (DeadTime, error)

	// LastError returns the last error message of the library.
	LastError() string
}

// DeadTime holds the dead-time correction parameters of a channel.
type DeadTime struct {
	Flags            int
	AllEventGradient float64
	AllEventOffset   float64
	InWindowOffset   float64
	InWindowGradient float64
}

// RunFlags select which data streams are enabled for a run.
type RunFlags uint32

const (
	RunPlayback RunFlags = 1 << 0
	RunScope    RunFlags = 1 << 1
	RunScalers  RunFlags = 1 << 2
	RunHist     RunFlags = 1 << 3
	RunCircular RunFlags = 1 << 8
)

// ClockSource selects the clock of a card.
type ClockSource int

const (
	ClockInternal ClockSource = 0
	ClockXtal     ClockSource = 1
	ClockExternal ClockSource = 2
)

// ClockFlags modify the clock setup of a card.
type ClockFlags int

const (
	ClockMaster ClockFlags = 1 << 0
)

// Mode is the kind of data a run produces.
type Mode uint8

const (
	ModeMCA      Mode = iota // spectra and scalers
	ModePlayback             // spectra and scalers from playback data
)

func (m Mode) String() string {
	switch m {
	case ModeMCA:
		return "mca"
	case ModePlayback:
		return "playback"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// ParseMode returns the mode named name.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "", "mca":
		return ModeMCA, nil
	case "playback":
		return ModePlayback, nil
	}
	return 0, fmt.Errorf("acq: unknown mode %q", name)
}

// Flags returns the run flags of the mode.
func (m Mode) Flags() RunFlags {
	flags := RunScalers | RunHist
	if m == ModePlayback {
		flags |= RunPlayback
	}
	return flags
}
