// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/go-lpc/xsp3/acq"
	"github.com/go-lpc/xsp3/timing"
)

func newDevice(t *testing.T, chans, nbins int, opts ...Option) *Device {
	t.Helper()

	cfg := acq.NewConfig()
	cfg.Channels = chans
	cfg.MaxSpectra = nbins

	dev := New(append([]Option{WithLogger(nil)}, opts...)...)
	err := dev.Configure(cfg)
	if err != nil {
		t.Fatalf("could not configure device: %+v", err)
	}
	return dev
}

func TestSpectra(t *testing.T) {
	const (
		chans = 3
		nbins = 200
		frame = 5
	)
	dev := newDevice(t, chans, nbins)

	raw := make([]uint32, chans*nbins)
	err := dev.ReadSpectra(raw, frame, 1, chans, nbins)
	if err != nil {
		t.Fatalf("could not read spectra: %+v", err)
	}

	dtc := make([]float64, chans*nbins)
	err = dev.ReadSpectraDTC(dtc, frame, 1, chans, nbins)
	if err != nil {
		t.Fatalf("could not read dtc spectra: %+v", err)
	}

	for i := 0; i < nbins; i++ {
		want := [chans]uint32{
			0: uint32((math.Sin(float64(i+frame)/90) + 1) * 100),
			1: 0,
			2: uint32((i + frame) % 100),
		}
		if (i+frame)%100 == 0 {
			want[1] = 100
		}
		for ch := 0; ch < chans; ch++ {
			if got := raw[ch*nbins+i]; got != want[ch] {
				t.Fatalf("ch=%d bin=%d: got=%d, want=%d", ch, i, got, want[ch])
			}
			if got := dtc[ch*nbins+i]; got != float64(want[ch]) {
				t.Fatalf("dtc: ch=%d bin=%d: got=%v, want=%v", ch, i, got, want[ch])
			}
		}
	}
}

func TestScalars(t *testing.T) {
	const (
		chans = 3
		nbins = 200
	)
	dev := newDevice(t, chans, nbins)

	for _, w := range []struct {
		ch, win int
		lo, hi  uint32
	}{
		{2, 0, 10, 19},
		{2, 1, 190, 500}, // clamped to the spectrum length.
		{1, 0, 0, 199},
		{1, 1, 20, 10}, // empty.
	} {
		err := dev.SetWindow(w.ch, w.win, w.lo, w.hi)
		if err != nil {
			t.Fatalf("could not set window: %+v", err)
		}
	}

	raw := make([]uint32, 2*chans*acq.NumScalars)
	err := dev.ReadScalars(raw, 0, 2, chans, acq.NumScalars)
	if err != nil {
		t.Fatalf("could not read scalers: %+v", err)
	}
	dtc := make([]float64, 2*chans*acq.NumScalars)
	err = dev.ReadScalarsDTC(dtc, 0, 2, chans, acq.NumScalars)
	if err != nil {
		t.Fatalf("could not read dtc scalers: %+v", err)
	}

	want := [2][chans][acq.NumScalars]uint32{
		0: {
			1: {acq.ScalInWindow0: 200},
			2: {acq.ScalInWindow0: 145, acq.ScalInWindow1: 945},
		},
		1: {
			1: {acq.ScalInWindow0: 200},
			2: {acq.ScalInWindow0: 155},
		},
	}
	// channel 0 is a sine wave: its [0,0] windows hold the first bin.
	want[0][0][acq.ScalInWindow0] = uint32((math.Sin(0) + 1) * 100)
	want[0][0][acq.ScalInWindow1] = uint32((math.Sin(0) + 1) * 100)
	want[1][0][acq.ScalInWindow0] = uint32((math.Sin(1./90) + 1) * 100)
	want[1][0][acq.ScalInWindow1] = uint32((math.Sin(1./90) + 1) * 100)
	// frame 1 of channel 2: 190+1..199+1 wraps around 100 at bin 199.
	want[1][2][acq.ScalInWindow1] = 91 + 92 + 93 + 94 + 95 + 96 + 97 + 98 + 99 + 0

	for frame := 0; frame < 2; frame++ {
		for ch := 0; ch < chans; ch++ {
			beg := (frame*chans + ch) * acq.NumScalars
			got := raw[beg : beg+acq.NumScalars]
			if !reflect.DeepEqual(got, want[frame][ch][:]) {
				t.Fatalf("frame=%d ch=%d: invalid scalers:\ngot= %v\nwant=%v", frame, ch, got, want[frame][ch])
			}
			for i, v := range dtc[beg : beg+acq.NumScalars] {
				if v != float64(want[frame][ch][i]) {
					t.Fatalf("frame=%d ch=%d: invalid dtc scaler[%d]: got=%v, want=%v", frame, ch, i, v, want[frame][ch][i])
				}
			}
		}
	}
}

func TestProgressITFG(t *testing.T) {
	var (
		t0  = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		now = t0
	)
	dev := newDevice(t, 1, 16, WithClock(func() time.Time { return now }))

	err := dev.SetTimingRegister(0, timing.Register{Source: timing.Internal}.Encode())
	if err != nil {
		t.Fatalf("could not set timing register: %+v", err)
	}
	err = dev.SetupITFG(0, 5, timing.Ticks(10*time.Millisecond), timing.Burst, timing.Gap500ns)
	if err != nil {
		t.Fatalf("could not setup itfg: %+v", err)
	}
	err = dev.StartHistogramming(0)
	if err != nil {
		t.Fatalf("could not start: %+v", err)
	}

	for _, tc := range []struct {
		dt   time.Duration
		want int
	}{
		{0, 0},
		{9 * time.Millisecond, 0},
		{25 * time.Millisecond, 2},
		{50 * time.Millisecond, 5},
		{time.Second, 5},
	} {
		now = t0.Add(tc.dt)
		got, err := dev.Progress()
		if err != nil {
			t.Fatalf("could not get progress: %+v", err)
		}
		if got != tc.want {
			t.Fatalf("dt=%v: invalid progress: got=%d, want=%d", tc.dt, got, tc.want)
		}
	}

	err = dev.StopHistogramming(0)
	if err != nil {
		t.Fatalf("could not stop: %+v", err)
	}
	now = t0.Add(time.Hour)
	if got, _ := dev.Progress(); got != 5 {
		t.Fatalf("progress should be frozen after stop: got=%d", got)
	}
}

func TestProgressSoftware(t *testing.T) {
	dev := newDevice(t, 1, 16)

	err := dev.SetTimingRegister(0, timing.Register{Source: timing.Software}.Encode())
	if err != nil {
		t.Fatalf("could not set timing register: %+v", err)
	}
	err = dev.StartHistogramming(0)
	if err != nil {
		t.Fatalf("could not start: %+v", err)
	}

	var got []int
	for i := 0; i < 6; i++ {
		v, err := dev.Progress()
		if err != nil {
			t.Fatalf("could not get progress: %+v", err)
		}
		got = append(got, v)
	}
	if want := []int{1, 3, 7, 15, 21, 23}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid progress:\ngot= %v\nwant=%v", got, want)
	}
}

func TestErrors(t *testing.T) {
	dev := New(WithLogger(nil))

	_, err := dev.Progress()
	if !errors.Is(err, acq.CodeInvalidPath) {
		t.Fatalf("invalid error: %+v", err)
	}

	err = dev.Configure(acq.NewConfig())
	if err != nil {
		t.Fatalf("could not configure: %+v", err)
	}

	err = dev.StartHistogramming(1)
	if !errors.Is(err, acq.CodeIllegalCard) {
		t.Fatalf("invalid error: %+v", err)
	}

	err = dev.ReadSpectra(make([]uint32, 3), 0, 1, 1, 4)
	if !errors.Is(err, acq.CodeRangeCheck) {
		t.Fatalf("invalid error: %+v", err)
	}

	_, _, err = dev.Window(0, acq.MaxWindows)
	if !errors.Is(err, acq.CodeRangeCheck) {
		t.Fatalf("invalid error: %+v", err)
	}

	if got, want := dev.LastError(), "Simulator is happy"; got != want {
		t.Fatalf("invalid last error: got=%q, want=%q", got, want)
	}

	err = dev.Close()
	if err != nil {
		t.Fatalf("could not close: %+v", err)
	}
	err = dev.Close()
	if !errors.Is(err, acq.CodeInvalidPath) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestSettings(t *testing.T) {
	dir := t.TempDir()

	dev := newDevice(t, 2, 16)
	err := dev.SetGoodThreshold(1, 42)
	if err != nil {
		t.Fatalf("could not set threshold: %+v", err)
	}
	err = dev.SetWindow(1, 1, 3, 7)
	if err != nil {
		t.Fatalf("could not set window: %+v", err)
	}

	err = dev.SaveSettings(dir)
	if err != nil {
		t.Fatalf("could not save settings: %+v", err)
	}

	fresh := newDevice(t, 2, 16)
	err = fresh.RestoreSettings(t.TempDir())
	if err != nil {
		t.Fatalf("could not restore empty settings: %+v", err)
	}
	err = fresh.RestoreSettings(dir)
	if err != nil {
		t.Fatalf("could not restore settings: %+v", err)
	}

	thr, err := fresh.GoodThreshold(1)
	if err != nil {
		t.Fatalf("could not get threshold: %+v", err)
	}
	if thr != 42 {
		t.Fatalf("invalid threshold: got=%d, want=42", thr)
	}
	lo, hi, err := fresh.Window(1, 1)
	if err != nil {
		t.Fatalf("could not get window: %+v", err)
	}
	if lo != 3 || hi != 7 {
		t.Fatalf("invalid window: got=[%d, %d], want=[3, 7]", lo, hi)
	}
}

type frames struct {
	mu   sync.Mutex
	recs []acq.Record
}

func (f *frames) FrameReady(rec acq.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

func TestAcquisition(t *testing.T) {
	var (
		t0   = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		tick = 0
	)
	// every call to the clock advances by one frame time.
	clock := func() time.Time {
		tick++
		return t0.Add(time.Duration(tick) * time.Millisecond)
	}
	dev := New(WithLogger(nil), WithClock(clock))

	cfg := acq.NewConfig()
	cfg.Channels = 3
	cfg.MaxSpectra = 128
	cfg.ITFG.Time = time.Millisecond

	out := new(frames)
	ctl, err := acq.New(dev, cfg, acq.WithLogger(nil), acq.WithConsumer(out))
	if err != nil {
		t.Fatalf("could not create controller: %+v", err)
	}
	err = ctl.Connect()
	if err != nil {
		t.Fatalf("could not connect: %+v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error)
	go func() { done <- ctl.Run(ctx) }()

	err = ctl.Start(5)
	if err != nil {
		t.Fatalf("could not start: %+v", err)
	}

	res, err := ctl.Wait(ctx)
	if err != nil {
		t.Fatalf("could not wait: %+v", err)
	}
	if got, want := res.State, acq.Completed; got != want {
		t.Fatalf("invalid state: got=%v, want=%v (err=%+v)", got, want, res.Err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("could not run: %+v", err)
	}

	out.mu.Lock()
	defer out.mu.Unlock()
	if got, want := len(out.recs), 5; got != want {
		t.Fatalf("invalid number of records: got=%d, want=%d", got, want)
	}
	for i, rec := range out.recs {
		if rec.Frame != i {
			t.Fatalf("invalid frame: got=%d, want=%d", rec.Frame, i)
		}
		saw := rec.Channels[2].Spectrum
		for bin, v := range saw {
			if want := float64((bin + i) % 100); v != want {
				t.Fatalf("frame=%d bin=%d: got=%v, want=%v", i, bin, v, want)
			}
		}
	}
}
