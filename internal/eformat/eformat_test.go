// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eformat

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/go-lpc/xsp3/acq"
	"github.com/google/uuid"
)

func testRecords() []acq.Record {
	t0 := time.Date(2020, 6, 1, 12, 0, 0, 42, time.UTC)
	return []acq.Record{
		{
			Frame: 0,
			Time:  t0,
			Channels: []acq.ChannelData{
				{
					Scalars:  acq.Scalars{1, 2, 3, 4, 5, 6, 7, 8},
					Spectrum: []float64{0, 1, 2, 3, 100, 0xffffffff},
				},
				{
					Scalars:  acq.Scalars{acq.ScalInWindow0: 42},
					Spectrum: []float64{},
				},
			},
		},
		{
			Frame: 1,
			Time:  t0.Add(time.Second),
			Channels: []acq.ChannelData{
				{
					Scalars:  acq.Scalars{1.5, 2, 3, 4, 5, 6, 7, 8},
					Spectrum: []float64{0.5, 1, -2, 3e9},
				},
				{
					Spectrum: []float64{1e12, 2},
				},
			},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	hdr := Header{
		Version:  Version,
		RunID:    uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		Run:      42,
		Channels: 2,
		Bins:     6,
		DTC:      true,
		Time:     time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	recs := testRecords()

	buf := new(bytes.Buffer)
	enc := NewEncoder(buf)
	err := enc.WriteHeader(hdr)
	if err != nil {
		t.Fatalf("could not write header: %+v", err)
	}
	for i := range recs {
		err := enc.Encode(&recs[i])
		if err != nil {
			t.Fatalf("could not encode record %d: %+v", i, err)
		}
	}

	dec := NewDecoder(bytes.NewReader(buf.Bytes()))
	var got Header
	err = dec.ReadHeader(&got)
	if err != nil {
		t.Fatalf("could not read header: %+v", err)
	}
	if !got.Time.Equal(hdr.Time) {
		t.Fatalf("invalid header time: got=%v, want=%v", got.Time, hdr.Time)
	}
	got.Time = hdr.Time
	if got != hdr {
		t.Fatalf("invalid header:\ngot= %+v\nwant=%+v", got, hdr)
	}

	for i, want := range recs {
		var rec acq.Record
		err := dec.Decode(&rec)
		if err != nil {
			t.Fatalf("could not decode record %d: %+v", i, err)
		}
		if !rec.Time.Equal(want.Time) {
			t.Fatalf("record %d: invalid time: got=%v, want=%v", i, rec.Time, want.Time)
		}
		rec.Time = want.Time
		if !reflect.DeepEqual(rec, want) {
			t.Fatalf("record %d: round-trip failed:\ngot= %+v\nwant=%+v", i, rec, want)
		}
	}

	var rec acq.Record
	err = dec.Decode(&rec)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %+v", err)
	}
}

func TestIntegralStorage(t *testing.T) {
	recs := testRecords()

	size := func(rec *acq.Record) int {
		buf := new(bytes.Buffer)
		err := NewEncoder(buf).Encode(rec)
		if err != nil {
			t.Fatalf("could not encode: %+v", err)
		}
		return buf.Len()
	}

	// frame header + trailer + crc.
	const overhead = 1 + 4 + 8 + 2 + 1 + 2
	const chanHdr = 8*8 + 1 + 2

	if got, want := size(&recs[0]), overhead+2*chanHdr+6*4; got != want {
		t.Fatalf("invalid integral record size: got=%d, want=%d", got, want)
	}
	if got, want := size(&recs[1]), overhead+2*chanHdr+4*8+2*8; got != want {
		t.Fatalf("invalid float record size: got=%d, want=%d", got, want)
	}
}

func TestDecodeErrors(t *testing.T) {
	recs := testRecords()
	buf := new(bytes.Buffer)
	err := NewEncoder(buf).Encode(&recs[0])
	if err != nil {
		t.Fatalf("could not encode: %+v", err)
	}
	raw := buf.Bytes()

	for _, tc := range []struct {
		name string
		raw  func() []byte
		want error
	}{
		{
			name: "crc",
			raw: func() []byte {
				o := append([]byte(nil), raw...)
				o[10] ^= 0xff
				return o
			},
			want: ErrCRC,
		},
		{
			name: "truncated",
			raw: func() []byte {
				return append([]byte(nil), raw[:len(raw)-5]...)
			},
			want: io.ErrUnexpectedEOF,
		},
		{
			name: "truncated-crc",
			raw: func() []byte {
				return append([]byte(nil), raw[:len(raw)-1]...)
			},
			want: io.ErrUnexpectedEOF,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var rec acq.Record
			err := NewDecoder(bytes.NewReader(tc.raw())).Decode(&rec)
			if !errors.Is(err, tc.want) {
				t.Fatalf("invalid error: got=%+v, want=%+v", err, tc.want)
			}
		})
	}

	var rec acq.Record
	err = NewDecoder(bytes.NewReader([]byte{gbHeader})).Decode(&rec)
	if err == nil {
		t.Fatalf("expected an error on invalid frame marker")
	}

	var hdr Header
	err = NewDecoder(bytes.NewReader([]byte{gbHeader, 'X', 'S', 'P', '4'})).ReadHeader(&hdr)
	if err == nil {
		t.Fatalf("expected an error on invalid magic")
	}
}
