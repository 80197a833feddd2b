// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xcnv provides tools to convert Xspress3 frame records to/from
// LCIO to/from their raw format.
package xcnv // import "github.com/go-lpc/xsp3/internal/xcnv"

import (
	"fmt"
	"time"

	"github.com/go-lpc/xsp3/acq"
	"github.com/go-lpc/xsp3/internal/eformat"
	"github.com/google/uuid"
	"go-hep.org/x/hep/lcio"
)

const (
	Detector = "Xspress3"

	ScalarsCollection = "XSP3_SCALARS"
	SpectraCollection = "XSP3_SPECTRA"
)

// RunHeader converts a raw run header into its LCIO representation.
func RunHeader(hdr eformat.Header) *lcio.RunHeader {
	dtc := int32(0)
	if hdr.DTC {
		dtc = 1
	}
	return &lcio.RunHeader{
		RunNumber: int32(hdr.Run),
		Detector:  Detector,
		Descr:     fmt.Sprintf("run %d (%s)", hdr.Run, hdr.RunID),
		Params: lcio.Params{
			Ints: map[string][]int32{
				"Channels": {int32(hdr.Channels)},
				"Bins":     {int32(hdr.Bins)},
				"DTC":      {dtc},
			},
			Strings: map[string][]string{
				"RunID": {hdr.RunID.String()},
				"Time":  {hdr.Time.UTC().Format(time.RFC3339Nano)},
			},
		},
	}
}

// Header converts an LCIO run header into a raw run header.
func Header(rh *lcio.RunHeader) (eformat.Header, error) {
	hdr := eformat.Header{
		Version: eformat.Version,
		Run:     uint32(rh.RunNumber),
	}

	ints := func(name string) (int32, error) {
		vs := rh.Params.Ints[name]
		if len(vs) != 1 {
			return 0, fmt.Errorf("xcnv: missing run header parameter %q", name)
		}
		return vs[0], nil
	}
	strs := func(name string) (string, error) {
		vs := rh.Params.Strings[name]
		if len(vs) != 1 {
			return "", fmt.Errorf("xcnv: missing run header parameter %q", name)
		}
		return vs[0], nil
	}

	nchans, err := ints("Channels")
	if err != nil {
		return hdr, err
	}
	nbins, err := ints("Bins")
	if err != nil {
		return hdr, err
	}
	dtc, err := ints("DTC")
	if err != nil {
		return hdr, err
	}
	hdr.Channels = uint16(nchans)
	hdr.Bins = uint16(nbins)
	hdr.DTC = dtc != 0

	id, err := strs("RunID")
	if err != nil {
		return hdr, err
	}
	hdr.RunID, err = uuid.Parse(id)
	if err != nil {
		return hdr, fmt.Errorf("xcnv: could not parse run ID: %w", err)
	}

	beg, err := strs("Time")
	if err != nil {
		return hdr, err
	}
	hdr.Time, err = time.Parse(time.RFC3339Nano, beg)
	if err != nil {
		return hdr, fmt.Errorf("xcnv: could not parse run start time: %w", err)
	}

	return hdr, nil
}

// Event converts a frame record into an LCIO event.
func Event(run int32, rec *acq.Record) *lcio.Event {
	var (
		scal = &lcio.GenericObject{Data: make([]lcio.GenericObjectData, len(rec.Channels))}
		spec = &lcio.GenericObject{Data: make([]lcio.GenericObjectData, len(rec.Channels))}
	)
	for i := range rec.Channels {
		ch := &rec.Channels[i]
		scal.Data[i].F64s = append([]float64(nil), ch.Scalars[:]...)
		spec.Data[i].F64s = ch.Spectrum
	}

	evt := &lcio.Event{
		RunNumber:   run,
		EventNumber: int32(rec.Frame),
		TimeStamp:   rec.Time.UnixNano(),
		Detector:    Detector,
	}
	evt.Add(ScalarsCollection, scal)
	evt.Add(SpectraCollection, spec)
	return evt
}

// Record converts an LCIO event into a frame record.
func Record(evt *lcio.Event) (acq.Record, error) {
	rec := acq.Record{
		Frame: int(evt.EventNumber),
		Time:  time.Unix(0, evt.TimeStamp).UTC(),
	}

	get := func(name string) (*lcio.GenericObject, error) {
		if !evt.Has(name) {
			return nil, fmt.Errorf("xcnv: event %d has no %q collection", evt.EventNumber, name)
		}
		obj, ok := evt.Get(name).(*lcio.GenericObject)
		if !ok {
			return nil, fmt.Errorf("xcnv: event %d: invalid %q collection type %T", evt.EventNumber, name, evt.Get(name))
		}
		return obj, nil
	}

	scal, err := get(ScalarsCollection)
	if err != nil {
		return rec, err
	}
	spec, err := get(SpectraCollection)
	if err != nil {
		return rec, err
	}
	if len(scal.Data) != len(spec.Data) {
		return rec, fmt.Errorf(
			"xcnv: event %d: inconsistent number of channels (scalers=%d, spectra=%d)",
			evt.EventNumber, len(scal.Data), len(spec.Data),
		)
	}

	rec.Channels = make([]acq.ChannelData, len(spec.Data))
	for i := range rec.Channels {
		ch := &rec.Channels[i]
		if n := len(scal.Data[i].F64s); n != acq.NumScalars {
			return rec, fmt.Errorf(
				"xcnv: event %d: channel %d: invalid number of scalers (got=%d, want=%d)",
				evt.EventNumber, i, n, acq.NumScalars,
			)
		}
		copy(ch.Scalars[:], scal.Data[i].F64s)
		ch.Spectrum = make([]float64, len(spec.Data[i].F64s))
		copy(ch.Spectrum, spec.Data[i].F64s)
	}

	return rec, nil
}
