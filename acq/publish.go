// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"fmt"
	"time"

	"github.com/go-daq/tdaq/log"
)

// Publisher hands completed records to a consumer and refreshes the
// externally observable counters.
type Publisher struct {
	msg    log.MsgStream
	params ParamStore
	cons   Consumer

	period time.Duration // minimum delay between two scaler updates
	last   time.Time
	now    func() time.Time

	frames int   // frames published so far
	errs   int   // consumer failures
	err    error // last consumer failure
}

// NewPublisher creates a publisher sending records to cons and live
// values to params.
func NewPublisher(msg log.MsgStream, params ParamStore, cons Consumer, period time.Duration) *Publisher {
	if cons == nil {
		cons = discard{}
	}
	return &Publisher{
		msg:    msg,
		params: params,
		cons:   cons,
		period: period,
		now:    time.Now,
	}
}

func (pub *Publisher) reset() {
	pub.frames = 0
	pub.errs = 0
	pub.err = nil
	pub.last = time.Time{}
}

// failures returns the number of records the consumer rejected during
// the run, and the last rejection.
func (pub *Publisher) failures() (int, error) {
	return pub.errs, pub.err
}

// snapshot publishes the provided per-channel scaler values.
func (pub *Publisher) snapshot(scal []Scalars) {
	for ch := range scal {
		for i, v := range scal[ch] {
			pub.params.SetFloat(ScalarParam(ch, i), v)
		}
	}
}

// Publish emits rec. Scaler snapshots are only refreshed once per update
// period, unless force is set.
// Publish returns the consumer error, if any.
func (pub *Publisher) Publish(rec Record, force bool) error {
	pub.frames = rec.Frame + 1
	pub.params.SetInt(ParamFrames, int64(pub.frames))

	now := pub.now()
	if force || pub.period <= 0 || now.Sub(pub.last) >= pub.period {
		pub.last = now
		for ch := range rec.Channels {
			for i, v := range rec.Channels[ch].Scalars {
				pub.params.SetFloat(ScalarParam(ch, i), v)
			}
		}
	}
	pub.params.Notify()

	err := pub.cons.FrameReady(rec)
	if err != nil {
		pub.errs++
		pub.err = fmt.Errorf("acq: could not publish frame %d: %w", rec.Frame, err)
		pub.msg.Errorf("could not publish frame %d: %+v", rec.Frame, err)
		return pub.err
	}
	return nil
}
