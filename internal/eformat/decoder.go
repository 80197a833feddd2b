// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eformat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/go-lpc/xsp3/acq"
	"github.com/go-lpc/xsp3/internal/crc16"
)

// ErrCRC is returned when a checksum does not match its data.
var ErrCRC = errors.New("eformat: inconsistent CRC")

// Decoder reads (and validates) raw frame records from an underlying
// data source.
// Decoder computes CRC-16 checksums on the fly.
type Decoder struct {
	r   io.Reader
	buf []byte
	err error
	crc crc16.Hash16
}

// NewDecoder creates a decoder that reads and validates data from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:   r,
		buf: make([]byte, 8),
		crc: crc16.New(nil),
	}
}

// ReadHeader reads the global header of the stream.
func (dec *Decoder) ReadHeader(hdr *Header) error {
	dec.crc.Reset()

	v := dec.readU8()
	if dec.err != nil {
		return fmt.Errorf("eformat: could not read global header marker: %w", dec.err)
	}
	if v != gbHeader {
		return fmt.Errorf("eformat: invalid global header marker (got=0x%x, want=0x%x)", v, gbHeader)
	}

	var m [4]byte
	dec.read(m[:])
	if dec.err == nil && m != magic {
		return fmt.Errorf("eformat: invalid magic %q", m[:])
	}

	hdr.Version = dec.readU8()
	if dec.err == nil && hdr.Version != Version {
		return fmt.Errorf("eformat: unsupported version %d", hdr.Version)
	}
	dec.read(hdr.RunID[:])
	hdr.Run = dec.readU32()
	hdr.Channels = dec.readU16()
	hdr.Bins = dec.readU16()
	hdr.DTC = dec.readU8() != 0
	hdr.Time = time.Unix(0, dec.readI64()).UTC()

	v = dec.readU8()
	if dec.err != nil {
		return fmt.Errorf("eformat: could not read global header: %w", dec.unexpected())
	}
	if v != gbTrailer {
		return fmt.Errorf("eformat: invalid global trailer marker (got=0x%x, want=0x%x)", v, gbTrailer)
	}

	return dec.checkCRC("global header")
}

// Decode reads the next record from the stream.
// Decode returns io.EOF when the stream ends on a record boundary.
func (dec *Decoder) Decode(rec *acq.Record) error {
	dec.crc.Reset()

	v := dec.readU8()
	if dec.err != nil {
		if errors.Is(dec.err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("eformat: could not read frame header marker: %w", dec.err)
	}
	if v != frHeader {
		return fmt.Errorf("eformat: invalid frame header marker (got=0x%x, want=0x%x)", v, frHeader)
	}

	rec.Frame = int(dec.readU32())
	rec.Time = time.Unix(0, dec.readI64()).UTC()
	n := int(dec.readU16())
	if dec.err != nil {
		return fmt.Errorf("eformat: could not read frame header: %w", dec.unexpected())
	}

	rec.Channels = make([]acq.ChannelData, n)
	for i := range rec.Channels {
		ch := &rec.Channels[i]
		for j := range ch.Scalars {
			ch.Scalars[j] = dec.readF64()
		}
		kind := dec.readU8()
		size := int(dec.readU16())
		if dec.err != nil {
			return fmt.Errorf(
				"eformat: frame %d: could not read channel %d header: %w",
				rec.Frame, i, dec.unexpected(),
			)
		}
		ch.Spectrum = make([]float64, size)
		switch kind {
		case chU32:
			for k := range ch.Spectrum {
				ch.Spectrum[k] = float64(dec.readU32())
			}
		case chF64:
			for k := range ch.Spectrum {
				ch.Spectrum[k] = dec.readF64()
			}
		default:
			return fmt.Errorf("eformat: frame %d: invalid channel marker (got=0x%x)", rec.Frame, kind)
		}
		if dec.err != nil {
			return fmt.Errorf(
				"eformat: frame %d: could not read channel %d: %w",
				rec.Frame, i, dec.unexpected(),
			)
		}
	}

	v = dec.readU8()
	if dec.err != nil {
		return fmt.Errorf("eformat: frame %d: could not read frame trailer: %w", rec.Frame, dec.unexpected())
	}
	if v != frTrailer {
		return fmt.Errorf("eformat: frame %d: invalid frame trailer marker (got=0x%x)", rec.Frame, v)
	}

	return dec.checkCRC(fmt.Sprintf("frame %d", rec.Frame))
}

func (dec *Decoder) checkCRC(what string) error {
	var (
		comp = dec.crc.Sum16()
		recv = dec.readU16()
	)
	if dec.err != nil {
		return fmt.Errorf("eformat: %s: could not read CRC-16: %w", what, dec.unexpected())
	}
	if comp != recv {
		return fmt.Errorf("eformat: %s: recv=0x%04x comp=0x%04x: %w", what, recv, comp, ErrCRC)
	}
	return nil
}

// unexpected returns the current error, turning a premature end of
// stream into io.ErrUnexpectedEOF.
func (dec *Decoder) unexpected() error {
	if errors.Is(dec.err, io.EOF) {
		dec.err = io.ErrUnexpectedEOF
	}
	return dec.err
}

func (dec *Decoder) read(p []byte) {
	if dec.err != nil {
		return
	}
	_, dec.err = io.ReadFull(dec.r, p)
	if dec.err != nil {
		return
	}
	_, _ = dec.crc.Write(p)
}

func (dec *Decoder) readU8() uint8 {
	dec.read(dec.buf[:1])
	return dec.buf[0]
}

func (dec *Decoder) readU16() uint16 {
	dec.read(dec.buf[:2])
	return binary.BigEndian.Uint16(dec.buf[:2])
}

func (dec *Decoder) readU32() uint32 {
	dec.read(dec.buf[:4])
	return binary.BigEndian.Uint32(dec.buf[:4])
}

func (dec *Decoder) readI64() int64 {
	dec.read(dec.buf[:8])
	return int64(binary.BigEndian.Uint64(dec.buf[:8]))
}

func (dec *Decoder) readF64() float64 {
	dec.read(dec.buf[:8])
	return math.Float64frombits(binary.BigEndian.Uint64(dec.buf[:8]))
}
