// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sink

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/xsp3/acq"
	"github.com/go-lpc/xsp3/internal/eformat"
	"github.com/go-lpc/xsp3/internal/mmap"
)

// Layout of the shared-memory live view (little-endian):
//
//	[0:4]   magic
//	[4:8]   run number
//	[8:10]  number of channels
//	[10:12] spectrum length
//	[12:16] frame index
//	[16:24] frame time, in ns since the epoch
//	[24:32] number of frames written during the run
//
// followed, for each channel, by the scalers and the spectrum, as
// float64 values.
const shmHeader = 32

var shmMagic = [4]byte{'X', 'S', 'H', 'M'}

// SHM exposes the last frame of the current run in a memory-mapped file.
type SHM struct {
	fname string
	msg   log.MsgStream

	h     *mmap.Handle
	chans int
	bins  int
	n     uint64
	buf   []byte
}

// NewSHM creates a shared-memory live view backed by fname.
func NewSHM(fname string, msg log.MsgStream) *SHM {
	return &SHM{fname: fname, msg: msg}
}

func shmSize(chans, bins int) int {
	return shmHeader + chans*(acq.NumScalars+bins)*8
}

func (s *SHM) Begin(hdr eformat.Header) error {
	if s.h != nil {
		return fmt.Errorf("sink: run already in progress in %q", s.fname)
	}

	s.chans = int(hdr.Channels)
	s.bins = int(hdr.Bins)
	s.n = 0

	h, err := mmap.Create(s.fname, shmSize(s.chans, s.bins))
	if err != nil {
		return fmt.Errorf("sink: could not create live view: %w", err)
	}

	hbuf := make([]byte, 12)
	copy(hbuf[:4], shmMagic[:])
	binary.LittleEndian.PutUint32(hbuf[4:8], hdr.Run)
	binary.LittleEndian.PutUint16(hbuf[8:10], hdr.Channels)
	binary.LittleEndian.PutUint16(hbuf[10:12], hdr.Bins)
	_, err = h.WriteAt(hbuf, 0)
	if err != nil {
		_ = h.Close()
		return fmt.Errorf("sink: could not write live view header: %w", err)
	}

	s.h = h
	s.buf = make([]byte, shmSize(s.chans, s.bins)-shmHeader)
	s.msg.Debugf("live view of run %d in %q", hdr.Run, s.fname)
	return nil
}

func (s *SHM) FrameReady(rec acq.Record) error {
	if s.h == nil {
		return errNoRun
	}

	for i := range s.buf {
		s.buf[i] = 0
	}
	nchans := min(len(rec.Channels), s.chans)
	for i := 0; i < nchans; i++ {
		ch := &rec.Channels[i]
		off := i * (acq.NumScalars + s.bins) * 8
		for j, v := range ch.Scalars {
			binary.LittleEndian.PutUint64(s.buf[off+8*j:], math.Float64bits(v))
		}
		off += acq.NumScalars * 8
		nbins := min(len(ch.Spectrum), s.bins)
		for j, v := range ch.Spectrum[:nbins] {
			binary.LittleEndian.PutUint64(s.buf[off+8*j:], math.Float64bits(v))
		}
	}

	_, err := s.h.WriteAt(s.buf, shmHeader)
	if err != nil {
		return fmt.Errorf("sink: could not write frame %d to live view: %w", rec.Frame, err)
	}

	s.n++
	var hbuf [20]byte
	binary.LittleEndian.PutUint32(hbuf[0:4], uint32(rec.Frame))
	binary.LittleEndian.PutUint64(hbuf[4:12], uint64(rec.Time.UnixNano()))
	binary.LittleEndian.PutUint64(hbuf[12:20], s.n)
	_, err = s.h.WriteAt(hbuf[:], 12)
	if err != nil {
		return fmt.Errorf("sink: could not write frame %d header to live view: %w", rec.Frame, err)
	}
	return nil
}

func (s *SHM) End() error {
	if s.h == nil {
		return nil
	}
	h := s.h
	s.h = nil
	s.buf = nil

	err := h.Close()
	if err != nil {
		return fmt.Errorf("sink: could not close live view %q: %w", s.fname, err)
	}
	return nil
}

// Live is a snapshot of a shared-memory live view.
type Live struct {
	Run    uint32
	Count  uint64 // number of frames written during the run
	Record acq.Record
}

// ReadLive reads the content of the live view stored in fname.
func ReadLive(fname string) (Live, error) {
	var live Live

	h, err := mmap.Open(fname)
	if err != nil {
		return live, fmt.Errorf("sink: could not open live view: %w", err)
	}
	defer h.Close()

	raw := make([]byte, h.Len())
	_, err = h.ReadAt(raw, 0)
	if err != nil {
		return live, fmt.Errorf("sink: could not read live view: %w", err)
	}

	if len(raw) < shmHeader || [4]byte(raw[:4]) != shmMagic {
		return live, fmt.Errorf("sink: %q is not a live view", fname)
	}

	var (
		chans = int(binary.LittleEndian.Uint16(raw[8:10]))
		bins  = int(binary.LittleEndian.Uint16(raw[10:12]))
	)
	if len(raw) != shmSize(chans, bins) {
		return live, fmt.Errorf(
			"sink: invalid live view size (got=%d, want=%d)",
			len(raw), shmSize(chans, bins),
		)
	}

	live.Run = binary.LittleEndian.Uint32(raw[4:8])
	live.Record.Frame = int(binary.LittleEndian.Uint32(raw[12:16]))
	live.Record.Time = time.Unix(0, int64(binary.LittleEndian.Uint64(raw[16:24]))).UTC()
	live.Count = binary.LittleEndian.Uint64(raw[24:32])
	live.Record.Channels = make([]acq.ChannelData, chans)

	f64 := func(off int) float64 {
		return math.Float64frombits(binary.LittleEndian.Uint64(raw[off:]))
	}
	off := shmHeader
	for i := range live.Record.Channels {
		ch := &live.Record.Channels[i]
		for j := range ch.Scalars {
			ch.Scalars[j] = f64(off)
			off += 8
		}
		ch.Spectrum = make([]float64, bins)
		for j := range ch.Spectrum {
			ch.Spectrum[j] = f64(off)
			off += 8
		}
	}

	return live, nil
}
