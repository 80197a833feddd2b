// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import "time"

// Reader reads batches of completed frames from the hardware and
// reshapes them into records.
type Reader struct {
	hw  Hardware
	now func() time.Time

	// scratch buffers for the raw (integer) path.
	spec View3D[uint32]
	scal View3D[uint32]
}

// NewReader returns a readout engine for the provided hardware.
func NewReader(hw Hardware) *Reader {
	return &Reader{hw: hw, now: time.Now}
}

// Read reads n frames starting at frame off.
//
// Records are returned in ascending frame order, each with its channels
// in ascending order. No record is returned if any hardware call fails.
func (rdo *Reader) Read(cfg Config, off, n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}

	var (
		chans = cfg.Channels
		nbins = cfg.MaxSpectra
		spec  = NewView3D[float64](n, chans, nbins)
		scal  = NewView3D[float64](n, chans, NumScalars)
	)

	switch {
	case cfg.DTC:
		err := rdo.hw.ReadSpectraDTC(spec.Data, off, n, chans, nbins)
		if err != nil {
			return nil, hwError(rdo.hw, "read-spectra-dtc", err)
		}
		err = rdo.hw.ReadScalarsDTC(scal.Data, off, n, chans, NumScalars)
		if err != nil {
			return nil, hwError(rdo.hw, "read-scalars-dtc", err)
		}
	default:
		rdo.spec.Reshape(n, chans, nbins)
		err := rdo.hw.ReadSpectra(rdo.spec.Data, off, n, chans, nbins)
		if err != nil {
			return nil, hwError(rdo.hw, "read-spectra", err)
		}
		rdo.scal.Reshape(n, chans, NumScalars)
		err = rdo.hw.ReadScalars(rdo.scal.Data, off, n, chans, NumScalars)
		if err != nil {
			return nil, hwError(rdo.hw, "read-scalars", err)
		}
		Widen(&spec, rdo.spec)
		Widen(&scal, rdo.scal)
	}

	return makeRecords(off, spec, scal, rdo.now()), nil
}

func makeRecords(off int, spec, scal View3D[float64], now time.Time) []Record {
	recs := make([]Record, spec.Frames)
	for i := range recs {
		rec := &recs[i]
		rec.Frame = off + i
		rec.Time = now
		rec.Channels = make([]ChannelData, spec.Channels)
		for ch := range rec.Channels {
			data := &rec.Channels[ch]
			data.Spectrum = spec.Slice(i, ch)
			copy(data.Scalars[:], scal.Slice(i, ch))
		}
	}
	return recs
}
