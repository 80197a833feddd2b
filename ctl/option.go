// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ctl

import (
	"io"
	"os"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/xsp3/sink"
)

type config struct {
	msg  log.MsgStream
	sink sink.Sink
	runs RunLog
	now  func() time.Time
}

func newConfig() config {
	return config{
		msg: log.NewMsgStream("xsp3-ctl", log.LvlInfo, os.Stdout),
		now: time.Now,
	}
}

// Option configures a control server.
type Option func(cfg *config)

// WithLogger sets the message stream of the server.
func WithLogger(msg log.MsgStream) Option {
	return func(cfg *config) {
		if msg == nil {
			msg = log.NewMsgStream("xsp3-ctl", log.LvlError, io.Discard)
		}
		cfg.msg = msg
	}
}

// WithSink sets the sink opened and closed around each run.
func WithSink(s sink.Sink) Option {
	return func(cfg *config) {
		cfg.sink = s
	}
}

// WithRunLog sets the run-history log of the server.
func WithRunLog(runs RunLog) Option {
	return func(cfg *config) {
		cfg.runs = runs
	}
}

// WithClock sets the clock stamping the run headers.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) {
		cfg.now = now
	}
}
