// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package eformat describes and handles Xspress3 frame records in their
// raw binary format.
//
// A raw stream starts with a global header, followed by a sequence of
// frame records. The global header and each frame record end with a
// CRC-16 checksum. All values are big-endian.
package eformat // import "github.com/go-lpc/xsp3/internal/eformat"

import (
	"time"

	"github.com/google/uuid"
)

// Version is the version of the raw format written by Encoder.
const Version = 1

const (
	gbHeader  = 0xb0 // global header marker
	gbTrailer = 0xa0 // global trailer marker

	frHeader  = 0xb4 // frame header marker
	frTrailer = 0xa3 // frame trailer marker

	chU32 = 0xc3 // channel marker, spectrum stored as uint32
	chF64 = 0xc4 // channel marker, spectrum stored as float64
)

var magic = [4]byte{'X', 'S', 'P', '3'}

// Header describes a run stored in a raw stream.
type Header struct {
	Version  uint8
	RunID    uuid.UUID // unique identifier of the run
	Run      uint32    // run number
	Channels uint16
	Bins     uint16 // spectrum length
	DTC      bool   // dead-time corrected data
	Time     time.Time
}
