// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xsp3-svc runs the Xspress3 acquisition service.
//
// The service drives the detector (or its simulation), writes the
// acquired frames to the configured sinks and serves control requests
// from xsp3-ctl.
//
// Usage: xsp3-svc [OPTIONS]
//
// ex:
//
//	$> xsp3-svc -cfg /etc/xsp3/svc.yaml
//	$> XSP3_SIMULATE=true XSP3_SINKS_RAW=/data/xsp3 xsp3-svc
package main // import "github.com/go-lpc/xsp3/cmd/xsp3-svc"

import (
	"compress/flate"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/xsp3"
	"github.com/go-lpc/xsp3/acq"
	"github.com/go-lpc/xsp3/conddb"
	"github.com/go-lpc/xsp3/config"
	"github.com/go-lpc/xsp3/ctl"
	"github.com/go-lpc/xsp3/hw"
	"github.com/go-lpc/xsp3/sim"
	"github.com/go-lpc/xsp3/sink"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.SetPrefix("xsp3-svc: ")
	log.SetFlags(0)

	var (
		fname = flag.String("cfg", "", "path to service configuration file")
		simu  = flag.Bool("sim", false, "use the Xspress3 simulator")
		addr  = flag.String("addr", "", "[ip]:port of the control server (overrides configuration)")
		lvl   = flag.Int("lvl", int(tlog.LvlInfo), "message level (-1:debug, 0:info, 1:warn, 2:error)")
		compr = flag.Int("lcio-lvl", flate.DefaultCompression, "compression level for output LCIO files")
	)

	flag.Parse()

	cfg, err := config.Load(*fname)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}
	if *simu {
		cfg.Simulate = true
	}
	if *addr != "" {
		cfg.Ctl = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newService(cfg, tlog.Level(*lvl), *compr, os.Stdout)
	if err != nil {
		log.Fatalf("could not create service: %+v", err)
	}
	defer svc.Close()

	svc.connect()

	err = svc.run(ctx)
	if err != nil {
		log.Fatalf("could not run service: %+v", err)
	}
}

type service struct {
	msg  tlog.MsgStream
	dev  acq.Hardware
	ctl  *acq.Controller
	srv  *ctl.Server
	db   *conddb.DB
	sink sink.Sink
}

func newService(cfg config.Service, lvl tlog.Level, compr int, w io.Writer) (*service, error) {
	svc := &service{
		msg: tlog.NewMsgStream("xsp3-svc", lvl, w),
	}

	switch {
	case cfg.Simulate:
		svc.msg.Infof("using Xspress3 simulator")
		svc.dev = sim.New(sim.WithLogger(tlog.NewMsgStream("sim", lvl, w)))
	default:
		dev, err := hw.Open(hw.WithLogger(tlog.NewMsgStream("xsp3-hw", lvl, w)))
		if err != nil {
			return nil, fmt.Errorf("could not open Xspress3 hardware: %w", err)
		}
		svc.dev = dev
	}

	var sinks []sink.Sink
	if dir := cfg.Sinks.Raw; dir != "" {
		sinks = append(sinks, sink.NewRaw(dir, tlog.NewMsgStream("sink-raw", lvl, w)))
	}
	if dir := cfg.Sinks.LCIO; dir != "" {
		sinks = append(sinks, sink.NewLCIO(dir, compr, tlog.NewMsgStream("sink-lcio", lvl, w)))
	}
	if fname := cfg.Sinks.SHM; fname != "" {
		sinks = append(sinks, sink.NewSHM(fname, tlog.NewMsgStream("sink-shm", lvl, w)))
	}
	svc.sink = sink.Multi(sinks...)

	c, err := acq.New(
		svc.dev, cfg.Acq,
		acq.WithLogger(tlog.NewMsgStream("xsp3-acq", lvl, w)),
		acq.WithConsumer(svc.sink),
		acq.WithUpdatePeriod(cfg.UpdatePeriod),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create acquisition controller: %w", err)
	}
	svc.ctl = c

	opts := []ctl.Option{
		ctl.WithLogger(tlog.NewMsgStream("xsp3-ctl", lvl, w)),
		ctl.WithSink(svc.sink),
	}
	if cfg.DB != "" {
		db, err := conddb.Open(cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("could not open run-history db: %w", err)
		}
		svc.db = db
		opts = append(opts, ctl.WithRunLog(db))
	}

	srv, err := ctl.NewServer(cfg.Ctl, svc.ctl, opts...)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("could not create control server: %w", err)
	}
	svc.srv = srv

	return svc, nil
}

// connect connects to the detector. A failure is not fatal: the
// connection may be retried with a connect request.
func (svc *service) connect() {
	err := svc.ctl.Connect()
	if err != nil {
		svc.msg.Warnf("could not connect to Xspress3: %+v", err)
		svc.msg.Warnf("waiting for a connect request...")
	}
}

func (svc *service) run(ctx context.Context) error {
	if v, _ := xsp3.Version(); v != "" {
		svc.msg.Infof("xsp3 version %s", v)
	}
	svc.msg.Infof("serving control requests on %q...", svc.srv.Addr())

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		return svc.ctl.Run(ctx)
	})
	grp.Go(func() error {
		return svc.srv.Serve(ctx)
	})

	err := grp.Wait()
	if err != nil {
		return fmt.Errorf("could not run service: %w", err)
	}

	_, err = svc.srv.WaitRun(context.Background())
	if err != nil {
		svc.msg.Warnf("last run ended with an error: %+v", err)
	}

	svc.msg.Infof("service stopped")
	return nil
}

func (svc *service) Close() error {
	if svc.srv != nil {
		_ = svc.srv.Close()
	}
	if svc.ctl != nil {
		err := svc.ctl.Disconnect()
		if err != nil {
			svc.msg.Warnf("could not disconnect from Xspress3: %+v", err)
		}
	}
	if svc.db != nil {
		err := svc.db.Close()
		if err != nil {
			svc.msg.Warnf("could not close run-history db: %+v", err)
		}
	}
	return nil
}
