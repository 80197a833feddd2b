// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eformat

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/go-lpc/xsp3/acq"
	"github.com/go-lpc/xsp3/internal/crc16"
)

// Encoder writes raw frame records to an output stream.
// Encoder computes the CRC-16 checksum on the fly and appends it
// at the end of the global header and of every record.
type Encoder struct {
	w   io.Writer
	buf []byte
	err error
	crc crc16.Hash16
}

// NewEncoder returns a new Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:   w,
		buf: make([]byte, 8),
		crc: crc16.New(nil),
	}
}

func (enc *Encoder) crcw(p []byte) {
	_, _ = enc.crc.Write(p) // can not fail.
}

// WriteHeader writes the global header of the stream.
func (enc *Encoder) WriteHeader(hdr Header) error {
	enc.crc.Reset()

	enc.writeU8(gbHeader)
	if enc.err != nil {
		return fmt.Errorf("eformat: could not write global header marker: %w", enc.err)
	}

	enc.write(magic[:])
	enc.writeU8(Version)
	enc.write(hdr.RunID[:])
	enc.writeU32(hdr.Run)
	enc.writeU16(hdr.Channels)
	enc.writeU16(hdr.Bins)
	enc.writeBool(hdr.DTC)
	enc.writeI64(hdr.Time.UnixNano())
	enc.writeU8(gbTrailer)
	enc.writeU16(enc.crc.Sum16())

	if enc.err != nil {
		return fmt.Errorf("eformat: could not write global header: %w", enc.err)
	}
	return nil
}

// Encode writes the record to the stream, computes the corresponding
// CRC-16 checksum on the fly and appends it to the stream.
func (enc *Encoder) Encode(rec *acq.Record) error {
	if rec == nil {
		return nil
	}
	if rec.Frame < 0 || uint64(rec.Frame) > math.MaxUint32 {
		return fmt.Errorf("eformat: invalid frame index %d", rec.Frame)
	}
	if len(rec.Channels) > math.MaxUint16 {
		return fmt.Errorf("eformat: too many channels (%d)", len(rec.Channels))
	}

	enc.crc.Reset()

	enc.writeU8(frHeader)
	if enc.err != nil {
		return fmt.Errorf("eformat: could not write frame header marker: %w", enc.err)
	}

	enc.writeU32(uint32(rec.Frame))
	enc.writeI64(rec.Time.UnixNano())
	enc.writeU16(uint16(len(rec.Channels)))
	for i := range rec.Channels {
		ch := &rec.Channels[i]
		if len(ch.Spectrum) > math.MaxUint16 {
			return fmt.Errorf("eformat: spectrum of channel %d too long (%d)", i, len(ch.Spectrum))
		}
		for _, v := range ch.Scalars {
			enc.writeF64(v)
		}
		switch integral(ch.Spectrum) {
		case true:
			enc.writeU8(chU32)
			enc.writeU16(uint16(len(ch.Spectrum)))
			for _, v := range ch.Spectrum {
				enc.writeU32(uint32(v))
			}
		default:
			enc.writeU8(chF64)
			enc.writeU16(uint16(len(ch.Spectrum)))
			for _, v := range ch.Spectrum {
				enc.writeF64(v)
			}
		}
	}
	enc.writeU8(frTrailer)
	enc.writeU16(enc.crc.Sum16())

	if enc.err != nil {
		return fmt.Errorf("eformat: could not write frame %d: %w", rec.Frame, enc.err)
	}
	return nil
}

// integral reports whether all values can be stored as uint32 without
// loss.
func integral(vs []float64) bool {
	for _, v := range vs {
		if v < 0 || v > math.MaxUint32 || v != math.Trunc(v) {
			return false
		}
	}
	return true
}

func (enc *Encoder) write(p []byte) {
	if enc.err != nil {
		return
	}
	_, enc.err = enc.w.Write(p)
	enc.crcw(p)
}

func (enc *Encoder) writeU8(v uint8) {
	enc.buf[0] = v
	enc.write(enc.buf[:1])
}

func (enc *Encoder) writeBool(v bool) {
	switch v {
	case true:
		enc.writeU8(1)
	default:
		enc.writeU8(0)
	}
}

func (enc *Encoder) writeU16(v uint16) {
	binary.BigEndian.PutUint16(enc.buf[:2], v)
	enc.write(enc.buf[:2])
}

func (enc *Encoder) writeU32(v uint32) {
	binary.BigEndian.PutUint32(enc.buf[:4], v)
	enc.write(enc.buf[:4])
}

func (enc *Encoder) writeU64(v uint64) {
	binary.BigEndian.PutUint64(enc.buf[:8], v)
	enc.write(enc.buf[:8])
}

func (enc *Encoder) writeI64(v int64) {
	enc.writeU64(uint64(v))
}

func (enc *Encoder) writeF64(v float64) {
	enc.writeU64(math.Float64bits(v))
}
