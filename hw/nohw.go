// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !xspress3

package hw

import (
	"github.com/go-lpc/xsp3/acq"
)

// Open returns the Xspress3 hardware adapter.
func Open(opts ...Option) (acq.Hardware, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.msg.Errorf("no hardware support: rebuild with -tags=xspress3")
	return nil, ErrNoLibrary
}
