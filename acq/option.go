// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"io"
	"os"
	"time"

	"github.com/go-daq/tdaq/log"
)

const (
	defaultPollTimeout = 1 * time.Millisecond
	defaultBusyChecks  = 20
)

type config struct {
	msg     log.MsgStream
	params  ParamStore
	cons    Consumer
	timeout time.Duration // stop-or-start wait timeout
	checks  int           // maximum number of busy checks when draining
	period  time.Duration // scaler update period
}

func newConfig() config {
	return config{
		msg:     log.NewMsgStream("acq", log.LvlInfo, os.Stdout),
		timeout: defaultPollTimeout,
		checks:  defaultBusyChecks,
	}
}

// Option configures a Controller.
type Option func(cfg *config)

// WithLogger sets the message stream used by the controller.
func WithLogger(msg log.MsgStream) Option {
	return func(cfg *config) {
		if msg == nil {
			msg = log.NewMsgStream("acq", log.LvlError, io.Discard)
		}
		cfg.msg = msg
	}
}

// WithParams sets the store receiving live values.
func WithParams(ps ParamStore) Option {
	return func(cfg *config) {
		cfg.params = ps
	}
}

// WithConsumer sets the consumer of completed frames.
func WithConsumer(cons Consumer) Option {
	return func(cfg *config) {
		cfg.cons = cons
	}
}

// WithPollTimeout sets how long the acquisition loop waits for a stop
// request between two polls.
func WithPollTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timeout = d
	}
}

// WithBusyChecks sets the maximum number of busy checks performed
// after stopping the detector.
func WithBusyChecks(n int) Option {
	return func(cfg *config) {
		cfg.checks = n
	}
}

// WithUpdatePeriod sets the minimum delay between two refreshes of the
// scaler snapshots. Zero refreshes them on every frame.
func WithUpdatePeriod(d time.Duration) Option {
	return func(cfg *config) {
		cfg.period = d
	}
}
