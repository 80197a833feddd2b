// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"io"
	"os"
	"time"

	"github.com/go-daq/tdaq/log"
)

type config struct {
	msg log.MsgStream
	now func() time.Time
}

func newConfig() config {
	return config{
		msg: log.NewMsgStream("sim", log.LvlInfo, os.Stdout),
		now: time.Now,
	}
}

// Option configures a simulated device.
type Option func(cfg *config)

// WithLogger sets the message stream of the device.
func WithLogger(msg log.MsgStream) Option {
	return func(cfg *config) {
		if msg == nil {
			msg = log.NewMsgStream("sim", log.LvlError, io.Discard)
		}
		cfg.msg = msg
	}
}

// WithClock sets the clock driving the internal time-frame generator.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) {
		cfg.now = now
	}
}
