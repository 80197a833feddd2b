// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import "time"

// Scalars holds the scaler values of one channel for one frame.
type Scalars [NumScalars]float64

// ChannelData holds the data of one channel for one frame.
type ChannelData struct {
	Scalars  Scalars
	Spectrum []float64
}

// Record is the data of one completed frame.
type Record struct {
	Frame    int       // frame index within the run
	Time     time.Time // readout time
	Channels []ChannelData
}

// Consumer receives completed frames, in frame order.
// Ownership of the record is transferred to the consumer.
type Consumer interface {
	FrameReady(rec Record) error
}

// ConsumerFunc adapts a function into a Consumer.
type ConsumerFunc func(rec Record) error

func (f ConsumerFunc) FrameReady(rec Record) error { return f(rec) }

type discard struct{}

func (discard) FrameReady(Record) error { return nil }
