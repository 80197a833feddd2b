// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build xspress3

package hw

//#cgo CFLAGS: -g -Wall -D_GNU_SOURCE=1
//#cgo LDFLAGS: -lxspress3 -lm
//
//#include <stdlib.h>
//#include <sys/types.h>
//#include "xspress3.h"
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/xsp3/acq"
	"github.com/go-lpc/xsp3/timing"
)

// device drives an Xspress3 system through the vendor library.
// The library is not reentrant: all calls are serialized.
type device struct {
	msg   log.MsgStream
	debug int

	mu     sync.Mutex
	path   C.int // library handle, -1 when closed
	cards  int
	chans  int
	frames int
}

var _ acq.Hardware = (*device)(nil)

// Open returns the Xspress3 hardware adapter.
// No library call is made until Configure.
func Open(opts ...Option) (acq.Hardware, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &device{
		msg:   cfg.msg,
		debug: cfg.debug,
		path:  -1,
	}, nil
}

func (dev *device) Configure(cfg acq.Config) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.path >= 0 {
		return fmt.Errorf("hw: configure: session already open: %w", acq.CodeError)
	}

	addr := C.CString(cfg.Address)
	defer C.free(unsafe.Pointer(addr))

	port := C.int(cfg.Port)
	if cfg.Port <= 0 {
		port = -1
	}

	dev.msg.Debugf(
		"xsp3_config(cards=%d, frames=%d, addr=%q, port=%d, chans=%d)",
		cfg.Cards, cfg.MaxFrames, cfg.Address, int(port), cfg.Channels,
	)
	rc := C.xsp3_config(
		C.int(cfg.Cards), C.int(cfg.MaxFrames),
		addr, port, nil,
		C.int(cfg.Channels), 1, nil,
		C.int(dev.debug), 0,
	)
	if err := check("xsp3_config", int(rc)); err != nil {
		return err
	}
	dev.path = rc
	dev.cards = cfg.Cards
	dev.chans = cfg.Channels
	dev.frames = cfg.MaxFrames
	return nil
}

func (dev *device) Close() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.path < 0 {
		return nil
	}
	rc := C.xsp3_close(dev.path)
	dev.path = -1
	return check("xsp3_close", int(rc))
}

func (dev *device) SetupClocks(card int, src acq.ClockSource, flags acq.ClockFlags) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	rc := C.xsp3_clocks_setup(dev.path, C.int(card), C.int(src), C.int(flags), 0)
	return check("xsp3_clocks_setup", int(rc))
}

func (dev *device) RestoreSettings(dir string) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	cdir := C.CString(dir)
	defer C.free(unsafe.Pointer(cdir))

	rc := C.xsp3_restore_settings(dev.path, cdir, 0)
	return check("xsp3_restore_settings", int(rc))
}

func (dev *device) SaveSettings(dir string) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	cdir := C.CString(dir)
	defer C.free(unsafe.Pointer(cdir))

	rc := C.xsp3_save_settings(dev.path, cdir)
	return check("xsp3_save_settings", int(rc))
}

func (dev *device) SetRunFlags(flags acq.RunFlags) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	rc := C.xsp3_set_run_flags(dev.path, C.int(flags))
	return check("xsp3_set_run_flags", int(rc))
}

func (dev *device) SetTimingRegister(card int, raw uint32) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	rc := C.xsp3_set_glob_timeA(dev.path, C.int(card), C.u_int32_t(raw))
	return check("xsp3_set_glob_timeA", int(rc))
}

func (dev *device) HasITFG() bool {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.path < 0 {
		return false
	}
	return C.xsp3_has_itfg(dev.path, 0) > 0
}

func (dev *device) SetupITFG(card, frames int, ticks uint32, trig timing.TrigMode, gap timing.GapMode) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	rc := C.xsp3_itfg_setup(
		dev.path, C.int(card), C.int(frames),
		C.u_int32_t(ticks), C.int(trig), C.int(gap),
	)
	return check("xsp3_itfg_setup", int(rc))
}

func (dev *device) StartHistogramming(card int) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	rc := C.xsp3_histogram_start(dev.path, C.int(card))
	return check("xsp3_histogram_start", int(rc))
}

func (dev *device) StopHistogramming(card int) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	rc := C.xsp3_histogram_stop(dev.path, C.int(card))
	return check("xsp3_histogram_stop", int(rc))
}

func (dev *device) Clear(chans, frames int) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	rc := C.xsp3_histogram_clear(dev.path, 0, C.int(chans), 0, C.int(frames))
	return check("xsp3_histogram_clear", int(rc))
}

func (dev *device) Progress() (int, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	rc := C.xsp3_scaler_check_progress(dev.path)
	if err := check("xsp3_scaler_check_progress", int(rc)); err != nil {
		return 0, err
	}
	return int(rc), nil
}

func (dev *device) Busy() bool {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.path < 0 {
		return false
	}
	rc := C.xsp3_histogram_is_any_busy(dev.path)
	if rc < 0 {
		dev.msg.Warnf("could not query busy state: %v", acq.Code(rc))
		return false
	}
	return rc != 0
}

func (dev *device) ReadSpectra(dst []uint32, off, n, chans, nbins int) error {
	if err := checkBuffer("xsp3_histogram_read4d", len(dst), n, chans, nbins); err != nil {
		return err
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	rc := C.xsp3_histogram_read4d(
		dev.path, (*C.u_int32_t)(unsafe.Pointer(&dst[0])),
		0, 0, 0, C.unsigned(off),
		C.unsigned(nbins), 1, C.unsigned(chans), C.unsigned(n),
	)
	return check("xsp3_histogram_read4d", int(rc))
}

func (dev *device) ReadSpectraDTC(dst []float64, off, n, chans, nbins int) error {
	if err := checkBuffer("xsp3_hist_dtc_read4d", len(dst), n, chans, nbins); err != nil {
		return err
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	rc := C.xsp3_hist_dtc_read4d(
		dev.path, (*C.double)(unsafe.Pointer(&dst[0])), nil,
		0, 0, 0, C.unsigned(off),
		C.unsigned(nbins), 1, C.unsigned(chans), C.unsigned(n),
	)
	return check("xsp3_hist_dtc_read4d", int(rc))
}

func (dev *device) ReadScalars(dst []uint32, off, n, chans, nscal int) error {
	if err := checkBuffer("xsp3_scaler_read", len(dst), n, chans, nscal); err != nil {
		return err
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	rc := C.xsp3_scaler_read(
		dev.path, (*C.u_int32_t)(unsafe.Pointer(&dst[0])),
		0, 0, C.unsigned(off),
		C.unsigned(nscal), C.unsigned(chans), C.unsigned(n),
	)
	return check("xsp3_scaler_read", int(rc))
}

func (dev *device) ReadScalarsDTC(dst []float64, off, n, chans, nscal int) error {
	if err := checkBuffer("xsp3_scaler_dtc_read", len(dst), n, chans, nscal); err != nil {
		return err
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	rc := C.xsp3_scaler_dtc_read(
		dev.path, (*C.double)(unsafe.Pointer(&dst[0])),
		0, 0, C.unsigned(off),
		C.unsigned(nscal), C.unsigned(chans), C.unsigned(n),
	)
	return check("xsp3_scaler_dtc_read", int(rc))
}

func (dev *device) GoodThreshold(ch int) (uint32, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	var v C.u_int32_t
	rc := C.xsp3_get_good_thres(dev.path, C.int(ch), &v)
	if err := check("xsp3_get_good_thres", int(rc)); err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func (dev *device) SetGoodThreshold(ch int, v uint32) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	rc := C.xsp3_set_good_thres(dev.path, C.int(ch), C.u_int32_t(v))
	return check("xsp3_set_good_thres", int(rc))
}

func (dev *device) Window(ch, win int) (lo, hi uint32, err error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	var clo, chi C.u_int32_t
	rc := C.xsp3_get_window(dev.path, C.int(ch), C.int(win), &clo, &chi)
	if err := check("xsp3_get_window", int(rc)); err != nil {
		return 0, 0, err
	}
	return uint32(clo), uint32(chi), nil
}

func (dev *device) SetWindow(ch, win int, lo, hi uint32) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	rc := C.xsp3_set_window(dev.path, C.int(ch), C.int(win), C.int(lo), C.int(hi))
	return check("xsp3_set_window", int(rc))
}

func (dev *device) DeadTimeParams(ch int) (acq.DeadTime, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	var (
		flags         C.int
		aeGrad, aeOff C.double
		iwOff, iwGrad C.double
	)
	rc := C.xsp3_getDeadtimeCorrectionParameters(
		dev.path, C.int(ch), &flags,
		&aeGrad, &aeOff, &iwOff, &iwGrad,
	)
	if err := check("xsp3_getDeadtimeCorrectionParameters", int(rc)); err != nil {
		return acq.DeadTime{}, err
	}
	return acq.DeadTime{
		Flags:            int(flags),
		AllEventGradient: float64(aeGrad),
		AllEventOffset:   float64(aeOff),
		InWindowOffset:   float64(iwOff),
		InWindowGradient: float64(iwGrad),
	}, nil
}

func (dev *device) LastError() string {
	msg := C.xsp3_get_error_message()
	if msg == nil {
		return ""
	}
	return C.GoString(msg)
}
