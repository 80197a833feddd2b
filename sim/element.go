// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"math"

	"github.com/go-lpc/xsp3/acq"
)

type window struct {
	Lo uint32 `json:"lo"`
	Hi uint32 `json:"hi"`
}

// element is a simulated detector element.
type element struct {
	id    int
	nbins int

	thr uint32
	win [acq.MaxWindows]window
	dt  acq.DeadTime
}

func (elt *element) clamp(beg, n int) int {
	if beg >= elt.nbins {
		return 0
	}
	if beg+n > elt.nbins {
		n = elt.nbins - beg
	}
	return n
}

// raw fills dst with the spectrum of frame, starting at bin beg.
//
// Elements generate, in turn, a sine wave, delta functions every 100
// bins and a saw tooth.
func (elt *element) raw(dst []uint32, frame, beg int) {
	n := elt.clamp(beg, len(dst))
	switch elt.id % 3 {
	case 1:
		for i := 0; i < n; i++ {
			v := uint32(0)
			if (beg+i+frame)%100 == 0 {
				v = 100
			}
			dst[i] = v
		}
	case 2:
		for i := 0; i < n; i++ {
			dst[i] = uint32((beg + i + frame) % 100)
		}
	default:
		for i := 0; i < n; i++ {
			dst[i] = uint32((math.Sin(float64(beg+i+frame)/90) + 1) * 100)
		}
	}
}

// dtc fills dst with the dead-time corrected spectrum of frame.
// The simulator has no dead time: corrected and raw values are equal.
func (elt *element) dtc(dst []float64, frame, beg int) {
	n := elt.clamp(beg, len(dst))
	buf := make([]uint32, n)
	elt.raw(buf, frame, beg)
	for i, v := range buf {
		dst[i] = float64(v)
	}
}

// roi returns the sum of the bins of the in-window region win.
func (elt *element) roi(frame, win int) uint32 {
	w := elt.win[win]
	if w.Hi < w.Lo {
		return 0
	}
	beg := int(w.Lo)
	n := elt.clamp(beg, int(w.Hi-w.Lo)+1)
	buf := make([]uint32, n)
	elt.raw(buf, frame, beg)

	var sum uint32
	for _, v := range buf {
		sum += v
	}
	return sum
}
