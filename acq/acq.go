// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package acq holds the acquisition core of the Xspress3 driver: the run
// state machine, the frame progress tracker, the readout engine and the
// output publisher.
package acq // import "github.com/go-lpc/xsp3/acq"

import "fmt"

// NumScalars is the number of scalers read out per frame and channel.
const NumScalars = 8

// Scaler indices within a Scalars value.
const (
	ScalTime = iota
	ScalResetTicks
	ScalResetCount
	ScalAllEvent
	ScalAllGood
	ScalInWindow0
	ScalInWindow1
	ScalPileup
)

var scalNames = [NumScalars]string{
	"time",
	"reset-ticks",
	"reset-count",
	"all-event",
	"all-good",
	"in-window-0",
	"in-window-1",
	"pileup",
}

// ScalarName returns the name of the i-th scaler.
func ScalarName(i int) string {
	if i < 0 || i >= NumScalars {
		return fmt.Sprintf("scaler-%d", i)
	}
	return scalNames[i]
}

// State is the state of an acquisition session.
type State uint8

const (
	Idle State = iota
	Connecting
	Configuring
	Acquiring
	Draining
	Completed
	Aborted
	Error
)

func (st State) String() string {
	switch st {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Configuring:
		return "configuring"
	case Acquiring:
		return "acquiring"
	case Draining:
		return "draining"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	case Error:
		return "error"
	}
	return fmt.Sprintf("State(%d)", uint8(st))
}

// Terminal reports whether st ends a run.
func (st State) Terminal() bool {
	switch st {
	case Completed, Aborted, Error:
		return true
	}
	return false
}

// Status messages published while running.
const (
	msgConnected    = "System Connected"
	msgConnectFail  = "ERROR: failed to connect"
	msgDisconnected = "System disconnected."
	msgAcquiring    = "Acquiring Data"
	msgStopped      = "Stopped Acquiring"
	msgMaxFrames    = "Stopped. Max Frames Reached."
	msgCompleted    = "Completed Acquisition."
	msgStall        = "ERROR: xspress3 did not stop. Giving up."
	msgErased       = "Erased"
)
