// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xcnv

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/go-lpc/xsp3/acq"
	"github.com/go-lpc/xsp3/internal/eformat"
	"go-hep.org/x/hep/lcio"
)

// Raw2LCIO converts a raw stream into an LCIO file.
// Raw2LCIO returns the number of converted frames.
func Raw2LCIO(w *lcio.Writer, dec *eformat.Decoder, freq int, msg *log.Logger) (int, error) {
	var hdr eformat.Header
	err := dec.ReadHeader(&hdr)
	if err != nil {
		return 0, fmt.Errorf("could not read raw header: %w", err)
	}

	err = w.WriteRunHeader(RunHeader(hdr))
	if err != nil {
		return 0, fmt.Errorf("could not write run header: %w", err)
	}

	n := 0
	for {
		var rec acq.Record
		err := dec.Decode(&rec)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, fmt.Errorf("could not decode raw frame: %w", err)
		}
		if freq > 0 && n%freq == 0 {
			msg.Printf("processing frame %d...", rec.Frame)
		}

		err = w.WriteEvent(Event(int32(hdr.Run), &rec))
		if err != nil {
			return n, fmt.Errorf("could not write frame %d: %w", rec.Frame, err)
		}
		n++
	}
}
