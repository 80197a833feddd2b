// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"fmt"
	"sync"

	"github.com/go-lpc/xsp3/timing"
)

// fakeHW is a scripted hardware.
//
// Progress and Busy replay their scripts, repeating the last value once
// the script is exhausted.
type fakeHW struct {
	mu sync.Mutex

	progress []int
	pidx     int
	busy     []bool
	bidx     int

	failConfigure error
	failRead      int // 1-based index of the failing ReadSpectra call
	nread         int
	reads         [][2]int // (offset, frames) of ReadSpectra calls

	gate    chan struct{} // when set, GoodThreshold blocks until gate is closed
	entered chan struct{} // signaled when GoodThreshold waits on gate

	cfg   Config
	calls []string
	thr   map[int]uint32
	win   map[[2]int][2]uint32
}

func newFakeHW(progress ...int) *fakeHW {
	return &fakeHW{
		progress: progress,
		thr:      make(map[int]uint32),
		win:      make(map[[2]int][2]uint32),
	}
}

func (hw *fakeHW) record(format string, args ...interface{}) {
	hw.calls = append(hw.calls, fmt.Sprintf(format, args...))
}

func (hw *fakeHW) Calls() []string {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	return append([]string(nil), hw.calls...)
}

func (hw *fakeHW) Configure(cfg Config) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	hw.record("configure")
	if hw.failConfigure != nil {
		return hw.failConfigure
	}
	hw.cfg = cfg
	return nil
}

func (hw *fakeHW) Close() error {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	hw.record("close")
	return nil
}

func (hw *fakeHW) SetupClocks(card int, src ClockSource, flags ClockFlags) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	hw.record("setup-clocks card=%d src=%d flags=%d", card, src, flags)
	return nil
}

func (hw *fakeHW) RestoreSettings(dir string) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	hw.record("restore-settings %s", dir)
	return nil
}

func (hw *fakeHW) SaveSettings(dir string) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	hw.record("save-settings %s", dir)
	return nil
}

func (hw *fakeHW) SetRunFlags(flags RunFlags) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	hw.record("set-run-flags 0x%x", uint32(flags))
	return nil
}

func (hw *fakeHW) SetTimingRegister(card int, raw uint32) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	hw.record("set-timing card=%d raw=0x%x", card, raw)
	return nil
}

func (hw *fakeHW) HasITFG() bool { return true }

func (hw *fakeHW) SetupITFG(card, frames int, ticks uint32, trig timing.TrigMode, gap timing.GapMode) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	hw.record("setup-itfg card=%d frames=%d ticks=%d", card, frames, ticks)
	return nil
}

func (hw *fakeHW) StartHistogramming(card int) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	hw.record("start card=%d", card)
	return nil
}

func (hw *fakeHW) StopHistogramming(card int) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	hw.record("stop card=%d", card)
	return nil
}

func (hw *fakeHW) Clear(chans, frames int) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	hw.record("clear chans=%d frames=%d", chans, frames)
	return nil
}

func (hw *fakeHW) Progress() (int, error) {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	if len(hw.progress) == 0 {
		return 0, nil
	}
	v := hw.progress[hw.pidx]
	if hw.pidx < len(hw.progress)-1 {
		hw.pidx++
	}
	return v, nil
}

func (hw *fakeHW) Busy() bool {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	hw.record("busy")
	if len(hw.busy) == 0 {
		return false
	}
	v := hw.busy[hw.bidx]
	if hw.bidx < len(hw.busy)-1 {
		hw.bidx++
	}
	return v
}

// fakeBin is the content of bin of channel ch for frame.
func fakeBin(frame, ch, bin int) uint32 {
	return uint32(frame*1000 + ch*100 + bin%100)
}

func fakeScal(frame, ch, i int) uint32 {
	return uint32(frame*100 + ch*10 + i)
}

// Reads returns the (offset, frames) arguments of the ReadSpectra calls.
func (hw *fakeHW) Reads() [][2]int {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	return append([][2]int(nil), hw.reads...)
}

func (hw *fakeHW) ReadSpectra(dst []uint32, off, n, chans, nbins int) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	hw.reads = append(hw.reads, [2]int{off, n})
	hw.nread++
	if hw.nread == hw.failRead {
		return Code(CodeRangeCheck)
	}
	for i := 0; i < n; i++ {
		for ch := 0; ch < chans; ch++ {
			for bin := 0; bin < nbins; bin++ {
				dst[(i*chans+ch)*nbins+bin] = fakeBin(off+i, ch, bin)
			}
		}
	}
	return nil
}

func (hw *fakeHW) ReadSpectraDTC(dst []float64, off, n, chans, nbins int) error {
	raw := make([]uint32, len(dst))
	err := hw.ReadSpectra(raw, off, n, chans, nbins)
	if err != nil {
		return err
	}
	for i, v := range raw {
		dst[i] = float64(v)
	}
	return nil
}

func (hw *fakeHW) ReadScalars(dst []uint32, off, n, chans, nscal int) error {
	for i := 0; i < n; i++ {
		for ch := 0; ch < chans; ch++ {
			for j := 0; j < nscal; j++ {
				dst[(i*chans+ch)*nscal+j] = fakeScal(off+i, ch, j)
			}
		}
	}
	return nil
}

func (hw *fakeHW) ReadScalarsDTC(dst []float64, off, n, chans, nscal int) error {
	raw := make([]uint32, len(dst))
	_ = hw.ReadScalars(raw, off, n, chans, nscal)
	for i, v := range raw {
		dst[i] = float64(v)
	}
	return nil
}

func (hw *fakeHW) GoodThreshold(ch int) (uint32, error) {
	if hw.gate != nil {
		hw.entered <- struct{}{}
		<-hw.gate
	}
	hw.mu.Lock()
	defer hw.mu.Unlock()
	return hw.thr[ch], nil
}

func (hw *fakeHW) SetGoodThreshold(ch int, v uint32) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	hw.thr[ch] = v
	return nil
}

func (hw *fakeHW) Window(ch, win int) (lo, hi uint32, err error) {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	v := hw.win[[2]int{ch, win}]
	return v[0], v[1], nil
}

func (hw *fakeHW) SetWindow(ch, win int, lo, hi uint32) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	hw.win[[2]int{ch, win}] = [2]uint32{lo, hi}
	return nil
}

func (hw *fakeHW) DeadTimeParams(ch int) (DeadTime, error) {
	return DeadTime{AllEventGradient: float64(ch)}, nil
}

func (hw *fakeHW) LastError() string { return "fake error" }

var _ Hardware = (*fakeHW)(nil)
