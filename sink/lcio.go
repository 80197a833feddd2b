// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sink

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/xsp3/acq"
	"github.com/go-lpc/xsp3/internal/eformat"
	"github.com/go-lpc/xsp3/internal/xcnv"
	"go-hep.org/x/hep/lcio"
)

// LCIO writes each run into its own LCIO file.
type LCIO struct {
	dir string
	lvl int
	msg log.MsgStream

	fname string
	run   int32
	w     *lcio.Writer
}

// NewLCIO creates an LCIO sink writing under dir with the provided
// compression level.
func NewLCIO(dir string, lvl int, msg log.MsgStream) *LCIO {
	return &LCIO{dir: dir, lvl: lvl, msg: msg}
}

// Name returns the name of the file of the current (or last) run.
func (s *LCIO) Name() string { return s.fname }

func (s *LCIO) Begin(hdr eformat.Header) error {
	if s.w != nil {
		return fmt.Errorf("sink: run already in progress in %q", s.fname)
	}

	err := os.MkdirAll(s.dir, 0755)
	if err != nil {
		return fmt.Errorf("sink: could not create LCIO directory: %w", err)
	}

	fname := filepath.Join(s.dir, runName(hdr.Run, ".slcio"))
	w, err := lcio.Create(fname)
	if err != nil {
		return fmt.Errorf("sink: could not create LCIO file: %w", err)
	}
	w.SetCompressionLevel(s.lvl)

	err = w.WriteRunHeader(xcnv.RunHeader(hdr))
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("sink: could not write LCIO run header: %w", err)
	}

	s.fname = fname
	s.run = int32(hdr.Run)
	s.w = w
	s.msg.Infof("writing run %d to %q", hdr.Run, fname)
	return nil
}

func (s *LCIO) FrameReady(rec acq.Record) error {
	if s.w == nil {
		return errNoRun
	}
	err := s.w.WriteEvent(xcnv.Event(s.run, &rec))
	if err != nil {
		return fmt.Errorf("sink: could not write LCIO event %d: %w", rec.Frame, err)
	}
	return nil
}

func (s *LCIO) End() error {
	if s.w == nil {
		return nil
	}
	w := s.w
	s.w = nil

	err := w.Close()
	if err != nil {
		return fmt.Errorf("sink: could not close LCIO file %q: %w", s.fname, err)
	}
	return nil
}
