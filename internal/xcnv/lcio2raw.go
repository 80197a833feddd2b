// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xcnv

import (
	"fmt"
	"io"
	"log"

	"github.com/go-lpc/xsp3/internal/eformat"
	"go-hep.org/x/hep/lcio"
)

// LCIO2Raw converts an LCIO file into a raw stream.
// LCIO2Raw returns the number of converted frames.
func LCIO2Raw(w io.Writer, r *lcio.Reader, freq int, msg *log.Logger) (int, error) {
	var (
		enc = eformat.NewEncoder(w)
		n   = 0
	)

	for r.Next() {
		if n == 0 {
			rh := r.RunHeader()
			hdr, err := Header(&rh)
			if err != nil {
				return n, fmt.Errorf("could not convert run header: %w", err)
			}
			err = enc.WriteHeader(hdr)
			if err != nil {
				return n, fmt.Errorf("could not write raw header: %w", err)
			}
		}

		evt := r.Event()
		if freq > 0 && n%freq == 0 {
			msg.Printf("processing frame %d...", evt.EventNumber)
		}

		rec, err := Record(&evt)
		if err != nil {
			return n, fmt.Errorf("could not convert event: %w", err)
		}
		err = enc.Encode(&rec)
		if err != nil {
			return n, fmt.Errorf("could not encode frame %d: %w", rec.Frame, err)
		}
		n++
	}

	err := r.Err()
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("could not read LCIO file: %w", err)
	}

	return n, nil
}
