// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sink holds consumers of Xspress3 frame records: raw and LCIO
// files, a shared-memory live view and their combination.
package sink // import "github.com/go-lpc/xsp3/sink"

import (
	"errors"
	"fmt"

	"github.com/go-lpc/xsp3/acq"
	"github.com/go-lpc/xsp3/internal/eformat"
	"golang.org/x/sync/errgroup"
)

var errNoRun = errors.New("sink: no run in progress")

// Sink consumes the frames of a sequence of runs.
//
// Begin is called before the first frame of a run, End after its last
// frame.
type Sink interface {
	acq.Consumer
	Begin(hdr eformat.Header) error
	End() error
}

func runName(run uint32, ext string) string {
	return fmt.Sprintf("xsp3-run-%06d%s", run, ext)
}

type multi struct {
	sinks []Sink
}

// Multi creates a sink that duplicates its frames to all the provided
// sinks, concurrently.
func Multi(sinks ...Sink) Sink {
	all := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		if m, ok := s.(*multi); ok {
			all = append(all, m.sinks...)
			continue
		}
		all = append(all, s)
	}
	return &multi{sinks: all}
}

func (m *multi) each(f func(s Sink) error) error {
	var grp errgroup.Group
	for i := range m.sinks {
		s := m.sinks[i]
		grp.Go(func() error { return f(s) })
	}
	return grp.Wait()
}

func (m *multi) Begin(hdr eformat.Header) error {
	return m.each(func(s Sink) error { return s.Begin(hdr) })
}

func (m *multi) FrameReady(rec acq.Record) error {
	return m.each(func(s Sink) error { return s.FrameReady(rec) })
}

func (m *multi) End() error {
	return m.each(func(s Sink) error { return s.End() })
}

var (
	_ Sink = (*multi)(nil)
	_ Sink = (*Raw)(nil)
	_ Sink = (*LCIO)(nil)
	_ Sink = (*SHM)(nil)
)
