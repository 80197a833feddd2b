// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sim provides a software simulation of an Xspress3 system.
//
// The simulated device produces deterministic spectra: a sine wave, delta
// functions and a saw tooth, depending on the channel. Under the internal
// time-frame generator, frames complete as time elapses.
package sim // import "github.com/go-lpc/xsp3/sim"

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/xsp3/acq"
	"github.com/go-lpc/xsp3/timing"
)

const settingsFile = "xsp3-sim.json"

// Device is a simulated Xspress3 system.
type Device struct {
	msg log.MsgStream
	now func() time.Time

	mu    sync.Mutex
	open  bool
	cards int
	elts  []element
	flags acq.RunFlags
	trig  timing.Register

	ftime   time.Duration // frame time of the internal generator
	nframes int
	beg     time.Time
	cur     int
	running bool
}

// New creates a new simulated device.
func New(opts ...Option) *Device {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Device{
		msg: cfg.msg,
		now: cfg.now,
	}
}

var errClosed = fmt.Errorf("sim: device not configured: %w", acq.CodeInvalidPath)

func (dev *Device) checkOpen() error {
	if !dev.open {
		return errClosed
	}
	return nil
}

func (dev *Device) checkCard(card int) error {
	if err := dev.checkOpen(); err != nil {
		return err
	}
	if card < 0 || card >= dev.cards {
		return fmt.Errorf("sim: invalid card %d: %w", card, acq.CodeIllegalCard)
	}
	return nil
}

func (dev *Device) checkChan(ch int) error {
	if err := dev.checkOpen(); err != nil {
		return err
	}
	if ch < 0 || ch >= len(dev.elts) {
		return fmt.Errorf("sim: invalid channel %d: %w", ch, acq.CodeRangeCheck)
	}
	return nil
}

func (dev *Device) Configure(cfg acq.Config) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.msg.Debugf(
		"configure: cards=%d, channels=%d, frames=%d, bins=%d",
		cfg.Cards, cfg.Channels, cfg.MaxFrames, cfg.MaxSpectra,
	)

	dev.cards = cfg.Cards
	dev.elts = make([]element, cfg.Channels)
	for i := range dev.elts {
		dev.elts[i] = element{id: i, nbins: cfg.MaxSpectra}
	}
	dev.open = true
	dev.cur = 0
	dev.running = false
	return nil
}

func (dev *Device) Close() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.checkOpen(); err != nil {
		return err
	}
	dev.open = false
	return nil
}

func (dev *Device) SetupClocks(card int, src acq.ClockSource, flags acq.ClockFlags) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.checkCard(card)
}

type settings struct {
	Thresholds []uint32                 `json:"thresholds"`
	Windows    [][acq.MaxWindows]window `json:"windows"`
	DeadTime   []acq.DeadTime           `json:"dead_time"`
}

func (dev *Device) SaveSettings(dir string) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.checkOpen(); err != nil {
		return err
	}

	var set settings
	for _, elt := range dev.elts {
		set.Thresholds = append(set.Thresholds, elt.thr)
		set.Windows = append(set.Windows, elt.win)
		set.DeadTime = append(set.DeadTime, elt.dt)
	}

	raw, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("sim: could not marshal settings: %w", err)
	}

	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return fmt.Errorf("sim: could not create settings directory %q (%v): %w", dir, err, acq.CodeInvalidPath)
	}

	err = os.WriteFile(filepath.Join(dir, settingsFile), raw, 0644)
	if err != nil {
		return fmt.Errorf("sim: could not save settings: %w", err)
	}
	return nil
}

// RestoreSettings restores the settings saved under dir.
// A directory without simulator settings leaves the device unchanged.
func (dev *Device) RestoreSettings(dir string) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.checkOpen(); err != nil {
		return err
	}

	raw, err := os.ReadFile(filepath.Join(dir, settingsFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("sim: could not read settings: %w", err)
	}

	var set settings
	err = json.Unmarshal(raw, &set)
	if err != nil {
		return fmt.Errorf("sim: could not unmarshal settings: %w", err)
	}

	for i := range dev.elts {
		elt := &dev.elts[i]
		if i < len(set.Thresholds) {
			elt.thr = set.Thresholds[i]
		}
		if i < len(set.Windows) {
			elt.win = set.Windows[i]
		}
		if i < len(set.DeadTime) {
			elt.dt = set.DeadTime[i]
		}
	}
	return nil
}

func (dev *Device) SetRunFlags(flags acq.RunFlags) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.checkOpen(); err != nil {
		return err
	}
	dev.flags = flags
	return nil
}

func (dev *Device) SetTimingRegister(card int, raw uint32) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.checkCard(card); err != nil {
		return err
	}
	dev.trig = timing.Decode(raw)
	return nil
}

func (dev *Device) HasITFG() bool { return true }

func (dev *Device) SetupITFG(card, frames int, ticks uint32, trig timing.TrigMode, gap timing.GapMode) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.checkCard(card); err != nil {
		return err
	}
	dev.ftime = timing.Duration(ticks)
	dev.nframes = frames
	return nil
}

func (dev *Device) StartHistogramming(card int) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.checkCard(card); err != nil {
		return err
	}
	dev.beg = dev.now()
	dev.cur = 0
	dev.running = true
	return nil
}

func (dev *Device) StopHistogramming(card int) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.checkCard(card); err != nil {
		return err
	}
	dev.running = false
	return nil
}

func (dev *Device) Clear(chans, frames int) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.checkOpen()
}

// Progress returns the number of completed frames.
//
// Under the internal time-frame generator, it is the elapsed time since
// the start of histogramming divided by the frame time, capped at the
// configured number of frames. Otherwise, frames advance at every call.
func (dev *Device) Progress() (int, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.checkOpen(); err != nil {
		return 0, err
	}
	if !dev.running {
		return dev.cur, nil
	}

	switch dev.trig.Source {
	case timing.Internal:
		cur := dev.nframes
		if dev.ftime > 0 {
			cur = int(dev.now().Sub(dev.beg) / dev.ftime)
		}
		if cur > dev.nframes {
			cur = dev.nframes
		}
		dev.cur = cur
	default:
		dev.cur += (dev.cur + 1) % 10
	}
	return dev.cur, nil
}

func (dev *Device) Busy() bool { return false }

func (dev *Device) checkRead(size, off, n, chans, nelts int) error {
	if err := dev.checkOpen(); err != nil {
		return err
	}
	switch {
	case off < 0 || n < 0:
		return fmt.Errorf("sim: invalid frame range [%d, %d): %w", off, off+n, acq.CodeRangeCheck)
	case chans > len(dev.elts):
		return fmt.Errorf("sim: invalid number of channels %d: %w", chans, acq.CodeRangeCheck)
	case size < n*chans*nelts:
		return fmt.Errorf("sim: buffer too small (%d < %d): %w", size, n*chans*nelts, acq.CodeRangeCheck)
	}
	return nil
}

func (dev *Device) ReadSpectra(dst []uint32, off, n, chans, nbins int) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.checkRead(len(dst), off, n, chans, nbins); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		for ch := 0; ch < chans; ch++ {
			beg := (i*chans + ch) * nbins
			dev.elts[ch].raw(dst[beg:beg+nbins], off+i, 0)
		}
	}
	return nil
}

func (dev *Device) ReadSpectraDTC(dst []float64, off, n, chans, nbins int) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.checkRead(len(dst), off, n, chans, nbins); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		for ch := 0; ch < chans; ch++ {
			beg := (i*chans + ch) * nbins
			dev.elts[ch].dtc(dst[beg:beg+nbins], off+i, 0)
		}
	}
	return nil
}

// ReadScalars reads the scalers of n frames.
// Only the in-window scalers are simulated, as the sum of their region
// of interest.
func (dev *Device) ReadScalars(dst []uint32, off, n, chans, nscal int) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.checkRead(len(dst), off, n, chans, nscal); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		for ch := 0; ch < chans; ch++ {
			sc := dst[(i*chans+ch)*nscal : (i*chans+ch+1)*nscal]
			for j := range sc {
				sc[j] = 0
			}
			if nscal > acq.ScalInWindow1 {
				sc[acq.ScalInWindow0] = dev.elts[ch].roi(off+i, 0)
				sc[acq.ScalInWindow1] = dev.elts[ch].roi(off+i, 1)
			}
		}
	}
	return nil
}

func (dev *Device) ReadScalarsDTC(dst []float64, off, n, chans, nscal int) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.checkRead(len(dst), off, n, chans, nscal); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		for ch := 0; ch < chans; ch++ {
			sc := dst[(i*chans+ch)*nscal : (i*chans+ch+1)*nscal]
			for j := range sc {
				sc[j] = 0
			}
			if nscal > acq.ScalInWindow1 {
				sc[acq.ScalInWindow0] = float64(dev.elts[ch].roi(off+i, 0))
				sc[acq.ScalInWindow1] = float64(dev.elts[ch].roi(off+i, 1))
			}
		}
	}
	return nil
}

func (dev *Device) GoodThreshold(ch int) (uint32, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.checkChan(ch); err != nil {
		return 0, err
	}
	return dev.elts[ch].thr, nil
}

func (dev *Device) SetGoodThreshold(ch int, v uint32) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.checkChan(ch); err != nil {
		return err
	}
	dev.elts[ch].thr = v
	return nil
}

func (dev *Device) Window(ch, win int) (lo, hi uint32, err error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.checkChan(ch); err != nil {
		return 0, 0, err
	}
	if win < 0 || win >= acq.MaxWindows {
		return 0, 0, fmt.Errorf("sim: invalid window %d: %w", win, acq.CodeRangeCheck)
	}
	w := dev.elts[ch].win[win]
	return w.Lo, w.Hi, nil
}

func (dev *Device) SetWindow(ch, win int, lo, hi uint32) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.checkChan(ch); err != nil {
		return err
	}
	if win < 0 || win >= acq.MaxWindows {
		return fmt.Errorf("sim: invalid window %d: %w", win, acq.CodeRangeCheck)
	}
	dev.elts[ch].win[win] = window{Lo: lo, Hi: hi}
	return nil
}

func (dev *Device) DeadTimeParams(ch int) (acq.DeadTime, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if err := dev.checkChan(ch); err != nil {
		return acq.DeadTime{}, err
	}
	return dev.elts[ch].dt, nil
}

func (dev *Device) LastError() string { return "Simulator is happy" }

var _ acq.Hardware = (*Device)(nil)
