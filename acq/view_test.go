// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"reflect"
	"testing"
)

func TestView3D(t *testing.T) {
	v := NewView3D[uint32](2, 3, 4)
	if got, want := len(v.Data), 2*3*4; got != want {
		t.Fatalf("invalid buffer size: got=%d, want=%d", got, want)
	}

	for frame := 0; frame < v.Frames; frame++ {
		for ch := 0; ch < v.Channels; ch++ {
			for i := 0; i < v.Len; i++ {
				v.Set(frame, ch, i, uint32(100*frame+10*ch+i))
			}
		}
	}

	if got, want := v.At(1, 2, 3), uint32(123); got != want {
		t.Fatalf("invalid element: got=%d, want=%d", got, want)
	}
	if got, want := v.Slice(1, 1), []uint32{110, 111, 112, 113}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid slice:\ngot= %v\nwant=%v", got, want)
	}
	if got, want := v.Data[4], uint32(10); got != want {
		t.Fatalf("invalid layout: got=%d, want=%d", got, want)
	}

	// appending to a slice must not clobber the next channel.
	s := v.Slice(0, 0)
	_ = append(s, 42)
	if got, want := v.At(0, 1, 0), uint32(10); got != want {
		t.Fatalf("slice aliases next channel: got=%d, want=%d", got, want)
	}

	var w View3D[float64]
	Widen(&w, v)
	if w.Frames != v.Frames || w.Channels != v.Channels || w.Len != v.Len {
		t.Fatalf("invalid widened shape: got=(%d,%d,%d)", w.Frames, w.Channels, w.Len)
	}
	for i := range v.Data {
		if got, want := w.Data[i], float64(v.Data[i]); got != want {
			t.Fatalf("invalid widened value[%d]: got=%v, want=%v", i, got, want)
		}
	}
}

func TestView3DReshape(t *testing.T) {
	v := NewView3D[float64](4, 4, 4)
	ptr := &v.Data[0]

	v.Reshape(1, 2, 3)
	if got, want := len(v.Data), 6; got != want {
		t.Fatalf("invalid size: got=%d, want=%d", got, want)
	}
	if &v.Data[0] != ptr {
		t.Fatalf("buffer was not reused")
	}

	v.Reshape(10, 10, 10)
	if got, want := len(v.Data), 1000; got != want {
		t.Fatalf("invalid size: got=%d, want=%d", got, want)
	}
}
