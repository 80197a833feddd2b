// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import "fmt"

// StopReason tells why a run must stop after a poll.
type StopReason uint8

const (
	None StopReason = iota
	CapacityReached
	RequestCompleted
	StopRequested
	HardwareFailure
)

func (r StopReason) String() string {
	switch r {
	case None:
		return "none"
	case CapacityReached:
		return "capacity-reached"
	case RequestCompleted:
		return "request-completed"
	case StopRequested:
		return "stop-requested"
	case HardwareFailure:
		return "hardware-failure"
	}
	return fmt.Sprintf("StopReason(%d)", uint8(r))
}

// Progress is the frame bookkeeping of a run.
type Progress struct {
	Last      int // frames already read out
	Current   int // frames reported complete by the hardware
	Requested int // frames requested for the run
	Capacity  int // frames the driver can hold
}

// Batch is the range of frames to read out after a poll.
type Batch struct {
	Offset int // first frame to read
	N      int // number of frames to read
	Reason StopReason
}

// Track reconciles the hardware progress with what was already read out.
//
// Reaching the capacity before the requested frame count stops the run
// with CapacityReached; it takes priority over RequestCompleted.
func Track(p Progress) Batch {
	n := p.Current - p.Last
	if n < 0 {
		n = 0
	}

	b := Batch{Offset: p.Last, N: n}
	switch end := p.Last + n; {
	case end > p.Capacity, end == p.Capacity && p.Capacity < p.Requested:
		b.N = p.Capacity - p.Last
		b.Reason = CapacityReached
	case end >= p.Requested:
		b.N = p.Requested - p.Last
		b.Reason = RequestCompleted
	}
	if b.N < 0 {
		b.N = 0
	}
	return b
}
