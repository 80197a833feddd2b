// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sink

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/xsp3/acq"
	"github.com/go-lpc/xsp3/internal/eformat"
)

// Raw writes each run into its own raw records file.
type Raw struct {
	dir string
	msg log.MsgStream

	fname string
	f     *os.File
	w     *bufio.Writer
	enc   *eformat.Encoder
}

// NewRaw creates a raw records sink writing under dir.
func NewRaw(dir string, msg log.MsgStream) *Raw {
	return &Raw{dir: dir, msg: msg}
}

// Name returns the name of the file of the current (or last) run.
func (s *Raw) Name() string { return s.fname }

func (s *Raw) Begin(hdr eformat.Header) error {
	if s.f != nil {
		return fmt.Errorf("sink: run already in progress in %q", s.fname)
	}

	err := os.MkdirAll(s.dir, 0755)
	if err != nil {
		return fmt.Errorf("sink: could not create raw directory: %w", err)
	}

	fname := filepath.Join(s.dir, runName(hdr.Run, ".raw"))
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("sink: could not create raw file: %w", err)
	}

	w := bufio.NewWriter(f)
	enc := eformat.NewEncoder(w)
	err = enc.WriteHeader(hdr)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("sink: could not write raw header: %w", err)
	}

	s.fname = fname
	s.f = f
	s.w = w
	s.enc = enc
	s.msg.Infof("writing run %d to %q", hdr.Run, fname)
	return nil
}

func (s *Raw) FrameReady(rec acq.Record) error {
	if s.enc == nil {
		return errNoRun
	}
	err := s.enc.Encode(&rec)
	if err != nil {
		return fmt.Errorf("sink: could not write frame %d: %w", rec.Frame, err)
	}
	return nil
}

func (s *Raw) End() error {
	if s.f == nil {
		return nil
	}
	defer func() {
		s.f = nil
		s.w = nil
		s.enc = nil
	}()

	err := s.w.Flush()
	if err != nil {
		_ = s.f.Close()
		return fmt.Errorf("sink: could not flush raw file %q: %w", s.fname, err)
	}

	err = s.f.Close()
	if err != nil {
		return fmt.Errorf("sink: could not close raw file %q: %w", s.fname, err)
	}
	return nil
}
