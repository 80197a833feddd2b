// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/xsp3/acq"
	"github.com/go-lpc/xsp3/conddb"
	"github.com/go-lpc/xsp3/internal/eformat"
	"github.com/go-lpc/xsp3/sink"
	"github.com/go-lpc/xsp3/timing"
	"github.com/google/uuid"
)

// Server serves control requests for an acquisition controller.
//
// Frames are expected to be delivered by the controller to the sink
// configured with WithSink: the server opens and closes the sink around
// each run and records the runs in the RunLog, if any.
type Server struct {
	l    net.Listener
	msg  log.MsgStream
	ctl  *acq.Controller
	sink sink.Sink
	runs RunLog
	now  func() time.Time

	quit chan struct{}
	once sync.Once

	cmu   sync.Mutex
	conns map[net.Conn]struct{}

	mu    sync.Mutex
	run   uint32
	runid uuid.UUID
	done  chan struct{} // closed once the current run is recorded
}

// NewServer creates a control server listening on addr.
func NewServer(addr string, ctl *acq.Controller, opts ...Option) (*Server, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ctl: could not listen on %q: %w", addr, err)
	}

	srv := &Server{
		l:     l,
		msg:   cfg.msg,
		ctl:   ctl,
		sink:  cfg.sink,
		runs:  cfg.runs,
		now:   cfg.now,
		quit:  make(chan struct{}),
		conns: make(map[net.Conn]struct{}),
	}
	return srv, nil
}

// Addr returns the address the server listens on.
func (srv *Server) Addr() net.Addr {
	return srv.l.Addr()
}

// Serve accepts and serves connections until ctx is canceled or the
// server is closed.
func (srv *Server) Serve(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			_ = srv.Close()
		case <-srv.quit:
		}
	}()

	for {
		conn, err := srv.l.Accept()
		if err != nil {
			select {
			case <-srv.quit:
				return nil
			default:
			}
			return fmt.Errorf("ctl: could not accept connection: %w", err)
		}

		srv.cmu.Lock()
		srv.conns[conn] = struct{}{}
		srv.cmu.Unlock()

		go srv.handle(ctx, conn)
	}
}

// Close stops listening and closes all the client connections.
func (srv *Server) Close() error {
	var err error
	srv.once.Do(func() {
		close(srv.quit)
		err = srv.l.Close()

		srv.cmu.Lock()
		defer srv.cmu.Unlock()
		for conn := range srv.conns {
			_ = conn.Close()
		}
	})
	return err
}

func (srv *Server) handle(ctx context.Context, conn net.Conn) {
	defer func() {
		srv.cmu.Lock()
		delete(srv.conns, conn)
		srv.cmu.Unlock()
		_ = conn.Close()
	}()
	srv.msg.Debugf("serving %v...", conn.RemoteAddr())
	defer srv.msg.Debugf("serving %v... [done]", conn.RemoteAddr())

	var (
		dec = json.NewDecoder(conn)
		enc = json.NewEncoder(conn)
	)
	for {
		var req request
		err := dec.Decode(&req)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			srv.msg.Warnf("could not decode command request: %+v", err)
			srv.reply(enc, nil, err)
			return
		}
		srv.msg.Debugf("received request: name=%q", req.Name)

		data, err := srv.dispatch(ctx, req)
		if err != nil {
			srv.msg.Warnf("could not run command %q: %+v", req.Name, err)
		}
		srv.reply(enc, data, err)
	}
}

func (srv *Server) reply(enc *json.Encoder, data interface{}, err error) {
	rep := reply{Msg: replyOK}
	switch {
	case err != nil:
		rep.Msg = err.Error()
	case data != nil:
		raw, err := json.Marshal(data)
		if err != nil {
			rep.Msg = fmt.Sprintf("could not encode reply: %+v", err)
			break
		}
		rep.Data = raw
	}

	err = enc.Encode(rep)
	if err != nil {
		srv.msg.Warnf("could not send reply: %+v", err)
	}
}

func decodeArgs(req request, ptr interface{}) error {
	if len(req.Args) == 0 {
		return fmt.Errorf("ctl: missing arguments for %q", req.Name)
	}
	err := json.Unmarshal(req.Args, ptr)
	if err != nil {
		return fmt.Errorf("ctl: could not decode %q payload: %w", req.Name, err)
	}
	return nil
}

func (srv *Server) dispatch(ctx context.Context, req request) (interface{}, error) {
	switch strings.ToLower(req.Name) {
	case "connect":
		return nil, srv.ctl.Connect()

	case "disconnect":
		return nil, srv.ctl.Disconnect()

	case "start":
		var args StartArgs
		err := decodeArgs(req, &args)
		if err != nil {
			return nil, err
		}
		run, err := srv.start(ctx, args)
		if err != nil {
			return nil, err
		}
		return run, nil

	case "stop":
		return nil, srv.ctl.Stop()

	case "wait":
		res, err := srv.WaitRun(ctx)
		if err != nil {
			return nil, err
		}
		return newResult(res), nil

	case "erase":
		return nil, srv.ctl.Erase()

	case "status":
		return srv.status(), nil

	case "save", "restore":
		var dir string
		err := decodeArgs(req, &dir)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(req.Name, "save") {
			return nil, srv.ctl.SaveSettings(dir)
		}
		return nil, srv.ctl.RestoreSettings(dir)

	case "window":
		var args WindowArgs
		err := decodeArgs(req, &args)
		if err != nil {
			return nil, err
		}
		return nil, srv.ctl.SetWindow(args.Channel, args.Window, args.Lo, args.Hi)

	case "threshold":
		var args ThresholdArgs
		err := decodeArgs(req, &args)
		if err != nil {
			return nil, err
		}
		return nil, srv.ctl.SetGoodThreshold(args.Channel, args.Value)

	case "info":
		var ch int
		err := decodeArgs(req, &ch)
		if err != nil {
			return nil, err
		}
		info, err := srv.ctl.Info(ch)
		if err != nil {
			return nil, err
		}
		return info, nil

	case "set":
		var args SetArgs
		err := decodeArgs(req, &args)
		if err != nil {
			return nil, err
		}
		return nil, srv.set(args)

	default:
		return nil, fmt.Errorf("ctl: unknown command %q", req.Name)
	}
}

func (srv *Server) status() Status {
	st := srv.ctl.Status()

	srv.mu.Lock()
	defer srv.mu.Unlock()
	return Status{
		State:     st.State.String(),
		Connected: st.Connected,
		Msg:       st.Msg,
		Frames:    st.Frames,
		Progress:  st.Progress,
		Scalars:   st.Scalars,
		Config:    st.Config,
		Last:      newResult(st.Last),
		Run:       srv.run,
		RunID:     srv.runid,
	}
}

// start starts a new run and returns its run number.
func (srv *Server) start(ctx context.Context, args StartArgs) (uint32, error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.done != nil {
		select {
		case <-srv.done:
		default:
			return 0, acq.ErrAlreadyAcquiring
		}
	}

	st := srv.ctl.Status()
	switch {
	case !st.Connected:
		return 0, acq.ErrNotConnected
	case st.State != acq.Idle:
		return 0, acq.ErrAlreadyAcquiring
	}

	run := args.Run
	if run == 0 {
		run = srv.nextRun(ctx)
	}

	cfg := st.Config
	if args.Frames <= 0 {
		args.Frames = cfg.Frames
	}
	cfg.Frames = args.Frames
	hdr := eformat.Header{
		Version:  eformat.Version,
		RunID:    uuid.New(),
		Run:      run,
		Channels: uint16(cfg.Channels),
		Bins:     uint16(cfg.MaxSpectra),
		DTC:      cfg.DTC,
		Time:     srv.now().UTC(),
	}

	if srv.sink != nil {
		err := srv.sink.Begin(hdr)
		if err != nil {
			_ = srv.sink.End()
			return 0, fmt.Errorf("ctl: could not open sinks for run %d: %w", run, err)
		}
	}

	err := srv.ctl.Start(args.Frames)
	if err != nil {
		if srv.sink != nil {
			_ = srv.sink.End()
		}
		return 0, err
	}

	if srv.runs != nil {
		rec := conddb.NewRun(run, cfg, hdr.Time)
		rec.ID = hdr.RunID
		err := srv.runs.BeginRun(ctx, rec)
		if err != nil {
			srv.msg.Warnf("could not record start of run %d: %+v", run, err)
		}
	}

	srv.msg.Infof("run %d started (id=%v, frames=%d)", run, hdr.RunID, args.Frames)
	srv.run = run
	srv.runid = hdr.RunID
	srv.done = make(chan struct{})
	go srv.record(hdr, srv.done)

	return run, nil
}

func (srv *Server) nextRun(ctx context.Context) uint32 {
	run := srv.run + 1
	if srv.runs == nil {
		return run
	}
	last, err := srv.runs.LastRunNumber(ctx)
	if err != nil {
		srv.msg.Warnf("could not retrieve last run number: %+v", err)
		return run
	}
	if last >= run {
		run = last + 1
	}
	return run
}

// record waits for the end of the run, closes the sinks and records the
// outcome of the run.
func (srv *Server) record(hdr eformat.Header, done chan struct{}) {
	defer close(done)

	res, err := srv.ctl.Wait(context.Background())
	if err != nil {
		srv.msg.Errorf("could not wait for run %d: %+v", hdr.Run, err)
	}

	if srv.sink != nil {
		err := srv.sink.End()
		if err != nil {
			srv.msg.Errorf("could not close sinks of run %d: %+v", hdr.Run, err)
		}
	}

	if srv.runs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.runs.EndRun(ctx, hdr.RunID, res.State.String(), res.Frames)
		if err != nil {
			srv.msg.Warnf("could not record end of run %d: %+v", hdr.Run, err)
		}
	}
}

// WaitRun waits for the current run, if any, to be over and recorded,
// and returns its outcome.
func (srv *Server) WaitRun(ctx context.Context) (acq.Result, error) {
	srv.mu.Lock()
	done := srv.done
	srv.mu.Unlock()

	if done != nil {
		select {
		case <-ctx.Done():
			return acq.Result{}, ctx.Err()
		case <-done:
		}
	}
	return srv.ctl.Result(), nil
}

func (srv *Server) set(args SetArgs) error {
	var (
		cfg = srv.ctl.Config()
		v   = strings.TrimSpace(args.Value)
	)

	atoi := func() (int, error) {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("ctl: invalid %s value %q: %w", args.Name, v, err)
		}
		return n, nil
	}
	atob := func() (bool, error) {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("ctl: invalid %s value %q: %w", args.Name, v, err)
		}
		return b, nil
	}

	switch strings.ToLower(args.Name) {
	case "frames":
		n, err := atoi()
		if err != nil {
			return err
		}
		return srv.ctl.SetFrames(n)

	case "capacity":
		n, err := atoi()
		if err != nil {
			return err
		}
		return srv.ctl.SetCapacity(n)

	case "channels":
		n, err := atoi()
		if err != nil {
			return err
		}
		return srv.ctl.SetChannels(n)

	case "dtc":
		b, err := atob()
		if err != nil {
			return err
		}
		return srv.ctl.SetDTC(b)

	case "mode":
		m, err := acq.ParseMode(v)
		if err != nil {
			return err
		}
		return srv.ctl.SetMode(m)

	case "trigger":
		src, err := timing.ParseSource(v)
		if err != nil {
			return err
		}
		cfg.Trigger.Source = src
		return srv.ctl.SetTrigger(cfg.Trigger)

	case "invert-f0":
		b, err := atob()
		if err != nil {
			return err
		}
		cfg.Trigger.InvertF0 = b
		return srv.ctl.SetTrigger(cfg.Trigger)

	case "invert-veto":
		b, err := atob()
		if err != nil {
			return err
		}
		cfg.Trigger.InvertVeto = b
		return srv.ctl.SetTrigger(cfg.Trigger)

	case "debounce":
		n, err := atoi()
		if err != nil {
			return err
		}
		if n < 0 || n > timing.MaxDebounce {
			return fmt.Errorf("ctl: debounce %d out of range [0, %d]", n, timing.MaxDebounce)
		}
		cfg.Trigger.Debounce = uint8(n)
		return srv.ctl.SetTrigger(cfg.Trigger)

	case "itfg-time":
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ctl: invalid %s value %q: %w", args.Name, v, err)
		}
		cfg.ITFG.Time = d
		return srv.ctl.SetITFG(cfg.ITFG)

	case "itfg-trigger":
		m, err := timing.ParseTrigMode(v)
		if err != nil {
			return err
		}
		cfg.ITFG.Trigger = m
		return srv.ctl.SetITFG(cfg.ITFG)

	case "itfg-gap":
		g, err := timing.ParseGapMode(v)
		if err != nil {
			return err
		}
		cfg.ITFG.Gap = g
		return srv.ctl.SetITFG(cfg.ITFG)
	}

	return fmt.Errorf("ctl: unknown setting %q", args.Name)
}
