// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

// View3D is a [frame][channel][elem] view over a flat buffer.
type View3D[T uint32 | float64] struct {
	Frames   int
	Channels int
	Len      int // number of elements per (frame, channel)
	Data     []T
}

// NewView3D allocates a view of the given shape.
func NewView3D[T uint32 | float64](frames, chans, n int) View3D[T] {
	return View3D[T]{
		Frames:   frames,
		Channels: chans,
		Len:      n,
		Data:     make([]T, frames*chans*n),
	}
}

// Reshape resizes the view to the given shape, reusing the underlying
// buffer when large enough.
func (v *View3D[T]) Reshape(frames, chans, n int) {
	sz := frames * chans * n
	if cap(v.Data) < sz {
		v.Data = make([]T, sz)
	}
	v.Data = v.Data[:sz]
	v.Frames = frames
	v.Channels = chans
	v.Len = n
}

func (v View3D[T]) index(frame, ch, i int) int {
	return (frame*v.Channels+ch)*v.Len + i
}

// At returns the i-th element of the (frame, ch) slice.
func (v View3D[T]) At(frame, ch, i int) T {
	return v.Data[v.index(frame, ch, i)]
}

// Set sets the i-th element of the (frame, ch) slice.
func (v View3D[T]) Set(frame, ch, i int, x T) {
	v.Data[v.index(frame, ch, i)] = x
}

// Slice returns the elements of the (frame, ch) pair.
// The returned slice aliases the view's buffer.
func (v View3D[T]) Slice(frame, ch int) []T {
	beg := v.index(frame, ch, 0)
	return v.Data[beg : beg+v.Len : beg+v.Len]
}

// Widen converts a raw integer view into a floating-point one.
func Widen(dst *View3D[float64], src View3D[uint32]) {
	dst.Reshape(src.Frames, src.Channels, src.Len)
	for i, v := range src.Data {
		dst.Data[i] = float64(v)
	}
}
