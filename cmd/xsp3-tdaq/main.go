// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xsp3-tdaq starts a TDAQ server driving an Xspress3 system.
//
// The configuration is read from the file named by $XSP3_CONFIG and from
// the XSP3_ environment variables. Frames are published on the /spectra
// output, encoded in the raw records format: the first frame of a run
// carries the global header of the run.
package main // import "github.com/go-lpc/xsp3/cmd/xsp3-tdaq"

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/xsp3/acq"
	"github.com/go-lpc/xsp3/config"
	"github.com/go-lpc/xsp3/hw"
	"github.com/go-lpc/xsp3/internal/eformat"
	"github.com/go-lpc/xsp3/sim"
	"github.com/google/uuid"
)

func main() {
	cmd := flags.New()

	dev := newDevice(cmd.Args[0], os.Getenv("XSP3_CONFIG"))

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/spectra", dev.spectra)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

const dataQueue = 1024

type device struct {
	name  string
	fname string // configuration file

	mu   sync.Mutex
	cfg  config.Service
	hw   acq.Hardware
	ctl  *acq.Controller
	quit context.CancelFunc
	done chan struct{} // closed when the controller loop exits

	runnbr uint32

	smu     sync.Mutex // guards the output queue counters
	hdr     []byte     // run header, queued ahead of the first frame
	n       int        // frames queued during the run
	dropped int        // frames dropped during the run

	data chan []byte
}

func newDevice(name, fname string) *device {
	return &device{
		name:  name,
		fname: fname,
		data:  make(chan []byte, dataQueue),
	}
}

func (dev *device) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	cfg, err := config.Load(dev.fname)
	if err != nil {
		return fmt.Errorf("could not load configuration: %w", err)
	}

	var hdw acq.Hardware
	switch {
	case cfg.Simulate:
		hdw = sim.New(sim.WithLogger(ctx.Msg))
	default:
		hdw, err = hw.Open(hw.WithLogger(ctx.Msg))
		if err != nil {
			return fmt.Errorf("could not open Xspress3 hardware: %w", err)
		}
	}

	c, err := acq.New(
		hdw, cfg.Acq,
		acq.WithLogger(ctx.Msg),
		acq.WithConsumer(dev),
		acq.WithUpdatePeriod(cfg.UpdatePeriod),
	)
	if err != nil {
		return fmt.Errorf("could not create acquisition controller: %w", err)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.shutdown()
	dev.cfg = cfg
	dev.hw = hdw
	dev.ctl = c

	loop, cancel := context.WithCancel(context.Background())
	dev.quit = cancel
	dev.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		err := c.Run(loop)
		if err != nil {
			ctx.Msg.Errorf("acquisition loop failed: %+v", err)
		}
	}(dev.done)

	return nil
}

func (dev *device) controller() (*acq.Controller, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.ctl == nil {
		return nil, fmt.Errorf("xsp3-tdaq: device not configured")
	}
	return dev.ctl, nil
}

func (dev *device) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	c, err := dev.controller()
	if err != nil {
		return err
	}

	err = c.Connect()
	if err != nil {
		return fmt.Errorf("could not connect to Xspress3: %w", err)
	}
	dev.reset()
	return nil
}

func (dev *device) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	c, err := dev.controller()
	if err != nil {
		return err
	}

	err = c.Stop()
	if err != nil {
		return fmt.Errorf("could not stop acquisition: %w", err)
	}
	_, err = c.Wait(ctx.Ctx)
	if err != nil {
		return fmt.Errorf("could not wait for acquisition: %w", err)
	}
	err = c.Erase()
	if err != nil {
		return fmt.Errorf("could not erase detector memory: %w", err)
	}
	dev.reset()
	return nil
}

// OnStart starts a run. The request may carry the number of frames to
// acquire as a uint32, the configured number is used otherwise.
func (dev *device) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	c, err := dev.controller()
	if err != nil {
		return err
	}

	cfg := c.Config()
	n := cfg.Frames
	if len(req.Body) >= 4 {
		dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
		n = int(dec.ReadU32())
	}

	dev.mu.Lock()
	dev.runnbr++
	run := dev.runnbr
	dev.mu.Unlock()

	dev.reset()
	hdr := eformat.Header{
		Version:  eformat.Version,
		RunID:    uuid.New(),
		Run:      run,
		Channels: uint16(cfg.Channels),
		Bins:     uint16(cfg.MaxSpectra),
		DTC:      cfg.DTC,
		Time:     time.Now().UTC(),
	}
	buf := new(bytes.Buffer)
	err = eformat.NewEncoder(buf).WriteHeader(hdr)
	if err != nil {
		return fmt.Errorf("could not encode run header: %w", err)
	}

	dev.smu.Lock()
	dev.hdr = buf.Bytes()
	dev.smu.Unlock()

	err = c.Start(n)

	dev.smu.Lock()
	defer dev.smu.Unlock()
	if err != nil {
		dev.hdr = nil
		return fmt.Errorf("could not start run %d: %w", run, err)
	}
	dev.flushHeader()
	ctx.Msg.Infof("run %d started (frames=%d)", run, n)
	return nil
}

// flushHeader queues the pending run header, if any.
// dev.smu must be held.
func (dev *device) flushHeader() {
	if dev.hdr == nil {
		return
	}
	select {
	case dev.data <- dev.hdr:
	default:
		dev.dropped++
	}
	dev.hdr = nil
}

func (dev *device) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	c, err := dev.controller()
	if err != nil {
		return err
	}

	err = c.Stop()
	if err != nil {
		return fmt.Errorf("could not stop acquisition: %w", err)
	}
	res, err := c.Wait(ctx.Ctx)
	if err != nil {
		return fmt.Errorf("could not wait for acquisition: %w", err)
	}

	dev.smu.Lock()
	n, dropped := dev.n, dev.dropped
	dev.smu.Unlock()

	ctx.Msg.Debugf(
		"received /stop command... -> n=%d, dropped=%d, state=%v, reason=%v",
		n, dropped, res.State, res.Reason,
	)
	if res.Err != nil {
		ctx.Msg.Warnf("run ended with an error: %+v", res.Err)
	}
	return nil
}

func (dev *device) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.shutdown()
	return nil
}

// shutdown stops the controller loop and disconnects from the detector.
// dev.mu must be held.
func (dev *device) shutdown() {
	if dev.ctl == nil {
		return
	}
	_ = dev.ctl.Stop()
	dev.quit()
	<-dev.done
	_ = dev.ctl.Disconnect()
	dev.ctl = nil
	dev.hw = nil
}

func (dev *device) reset() {
	dev.smu.Lock()
	defer dev.smu.Unlock()
	dev.hdr = nil
	dev.n = 0
	dev.dropped = 0
	for {
		select {
		case <-dev.data:
		default:
			return
		}
	}
}

// FrameReady encodes rec and queues it for the /spectra output.
// Records are dropped when the queue is full.
func (dev *device) FrameReady(rec acq.Record) error {
	buf := new(bytes.Buffer)
	err := eformat.NewEncoder(buf).Encode(&rec)
	if err != nil {
		return fmt.Errorf("xsp3-tdaq: could not encode frame %d: %w", rec.Frame, err)
	}

	dev.smu.Lock()
	defer dev.smu.Unlock()
	dev.flushHeader()
	select {
	case dev.data <- buf.Bytes():
		dev.n++
	default:
		dev.dropped++
	}
	return nil
}

func (dev *device) spectra(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-dev.data:
		dst.Body = data
	}
	return nil
}

func (dev *device) run(ctx tdaq.Context) error {
	<-ctx.Ctx.Done()
	return nil
}

var _ acq.Consumer = (*device)(nil)
