// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hw provides the acq.Hardware adapter backed by the Xspress3
// vendor library.
//
// The adapter is only compiled with the xspress3 build tag, and needs
// libxspress3 and its headers at build time:
//
//	$> go build -tags=xspress3 ./cmd/xsp3-svc
//
// Without that tag, Open reports ErrNoLibrary.
package hw // import "github.com/go-lpc/xsp3/hw"

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/xsp3/acq"
)

// ErrNoLibrary is returned by Open when the package was built without
// the Xspress3 library.
var ErrNoLibrary = errors.New("hw: built without xspress3 library support")

type config struct {
	msg   log.MsgStream
	debug int
}

func newConfig() config {
	return config{
		msg: log.NewMsgStream("xsp3-hw", log.LvlInfo, os.Stdout),
	}
}

// Option configures the hardware adapter.
type Option func(cfg *config)

// WithLogger sets the message stream of the adapter.
func WithLogger(msg log.MsgStream) Option {
	return func(cfg *config) {
		if msg == nil {
			msg = log.NewMsgStream("xsp3-hw", log.LvlError, io.Discard)
		}
		cfg.msg = msg
	}
}

// WithDebug sets the debug level passed to the library at
// configuration time.
func WithDebug(lvl int) Option {
	return func(cfg *config) {
		cfg.debug = lvl
	}
}

// check converts a library status into an error.
// Non-negative statuses are successes.
func check(op string, rc int) error {
	if rc >= 0 {
		return nil
	}
	return fmt.Errorf("hw: %s: %w", op, acq.Code(rc))
}

func checkBuffer(op string, have, n, chans, size int) error {
	want := n * chans * size
	if have < want {
		return fmt.Errorf("hw: %s: buffer too small (got=%d, want=%d): %w", op, have, want, acq.CodeRangeCheck)
	}
	if want == 0 {
		return fmt.Errorf("hw: %s: empty read request: %w", op, acq.CodeRangeCheck)
	}
	return nil
}
