// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/xsp3/timing"
)

// Result describes how the last run ended.
type Result struct {
	State  State // terminal state of the run
	Reason StopReason
	Frames int // frames read out
	Err    error

	Unpublished int // frames rejected by the consumer
}

// Controller drives acquisition runs on a Hardware.
//
// A single background loop, started with Run, performs all the run-time
// hardware calls. Commands may be issued concurrently from other
// goroutines.
type Controller struct {
	hw  Hardware
	msg log.MsgStream
	ps  ParamStore
	rdo *Reader
	pub *Publisher

	timeout time.Duration
	checks  int

	startc chan struct{}
	stopc  chan struct{}

	mu     sync.Mutex
	cfg    Config
	state  State
	conn   bool
	prog   Progress
	frames int
	scal   []Scalars
	status string
	res    Result
	done   chan struct{} // closed when the current run is over
}

// New creates a new controller for the provided hardware.
func New(hw Hardware, cfg Config, opts ...Option) (*Controller, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	oc := newConfig()
	for _, opt := range opts {
		opt(&oc)
	}
	if oc.params == nil {
		oc.params = NewParams()
	}
	if oc.timeout <= 0 {
		oc.timeout = defaultPollTimeout
	}
	if oc.checks <= 0 {
		oc.checks = defaultBusyChecks
	}

	c := &Controller{
		hw:      hw,
		msg:     oc.msg,
		ps:      oc.params,
		rdo:     NewReader(hw),
		pub:     NewPublisher(oc.msg, oc.params, oc.cons, oc.period),
		timeout: oc.timeout,
		checks:  oc.checks,
		startc:  make(chan struct{}, 1),
		stopc:   make(chan struct{}, 1),
		cfg:     cfg,
		state:   Idle,
		scal:    make([]Scalars, cfg.Channels),
		res:     Result{State: Idle},
	}
	c.prog = Progress{Requested: cfg.Frames, Capacity: cfg.Capacity}
	c.ps.SetString(ParamState, c.state.String())
	c.ps.SetInt(ParamConnected, 0)
	c.ps.SetInt(ParamFrames, 0)
	c.ps.Notify()

	return c, nil
}

// Params returns the parameter store of the controller.
func (c *Controller) Params() ParamStore { return c.ps }

// Config returns the current acquisition configuration.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// State returns the current state of the controller.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Result returns the outcome of the last run.
func (c *Controller) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res
}

// transition sets the state. c.mu must be held.
func (c *Controller) transition(st State) {
	c.msg.Debugf("state: %v -> %v", c.state, st)
	c.state = st
	c.ps.SetString(ParamState, st.String())
}

// setStatus sets the status message. c.mu must be held.
func (c *Controller) setStatus(msg string) {
	c.status = msg
	c.ps.SetString(ParamStatus, msg)
}

// Start starts the acquisition of n frames.
// Start returns as soon as the acquisition loop has been signaled.
func (c *Controller) Start(n int) error {
	defer c.ps.Notify()
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case !c.conn:
		return ErrNotConnected
	case c.state != Idle:
		return ErrAlreadyAcquiring
	case n <= 0 || n > c.cfg.MaxFrames:
		return configErrorf("frames", "%d out of range [1, %d]", n, c.cfg.MaxFrames)
	}

	c.cfg.Frames = n
	c.prog = Progress{Requested: n, Capacity: c.cfg.Capacity}
	c.frames = 0
	if len(c.scal) != c.cfg.Channels {
		c.scal = make([]Scalars, c.cfg.Channels)
	}
	c.done = make(chan struct{})
	c.transition(Configuring)
	c.ps.SetInt(ParamFrames, 0)
	c.ps.SetInt(ParamCurrent, 0)
	c.ps.SetInt(ParamRequested, int64(n))

	// drop a stop request left over from the previous run.
	select {
	case <-c.stopc:
	default:
	}

	select {
	case c.startc <- struct{}{}:
	default:
	}
	return nil
}

// Stop requests the current run to stop.
// Stop is cooperative: an in-flight readout completes first.
func (c *Controller) Stop() error {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()

	switch st {
	case Idle, Connecting:
		return nil
	}

	c.requestStop()
	return nil
}

// Wait waits for the current run, if any, to complete and returns its
// outcome.
func (c *Controller) Wait(ctx context.Context) (Result, error) {
	c.mu.Lock()
	done := c.done
	res := c.res
	c.mu.Unlock()

	if done == nil {
		return res, nil
	}

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-done:
	}
	return c.Result(), nil
}

// Erase resets the local frame counter, the scaler snapshots and the
// detector histograms.
func (c *Controller) Erase() error {
	defer c.ps.Notify()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Idle {
		return ErrBusy
	}

	if c.conn {
		err := c.hw.Clear(c.cfg.Channels, c.cfg.Capacity)
		if err != nil {
			return hwError(c.hw, "clear", err)
		}
	}

	c.frames = 0
	c.prog = Progress{Requested: c.cfg.Frames, Capacity: c.cfg.Capacity}
	for ch := range c.scal {
		c.scal[ch] = Scalars{}
		for i := range c.scal[ch] {
			c.ps.SetFloat(ScalarParam(ch, i), 0)
		}
	}
	c.ps.SetInt(ParamFrames, 0)
	c.ps.SetInt(ParamCurrent, 0)
	c.setStatus(msgErased)
	return nil
}

// Run runs the acquisition loop until ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			pending := c.state == Configuring
			c.mu.Unlock()
			if pending {
				c.finish(Result{State: Aborted, Reason: StopRequested, Err: ctx.Err()}, msgStopped)
			}
			return nil
		case <-c.startc:
			c.acquire(ctx)
		case <-c.stopc:
			c.mu.Lock()
			pending := c.state == Configuring
			c.mu.Unlock()
			if !pending {
				c.msg.Debugf("discarding stale stop request")
				continue
			}
			// the stop targets the run being started.
			select {
			case <-c.startc:
			case <-ctx.Done():
				c.finish(Result{State: Aborted, Reason: StopRequested, Err: ctx.Err()}, msgStopped)
				return nil
			}
			c.requestStop()
			c.acquire(ctx)
		}
	}
}

func (c *Controller) requestStop() {
	select {
	case c.stopc <- struct{}{}:
	default:
		// already stopping.
	}
}

func (c *Controller) acquire(ctx context.Context) {
	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()

	c.msg.Infof(
		"starting run: frames=%d, capacity=%d, channels=%d, trigger=%v, dtc=%v",
		cfg.Frames, cfg.Capacity, cfg.Channels, cfg.Trigger.Source, cfg.DTC,
	)
	c.pub.reset()

	err := c.configure(cfg)
	if err != nil {
		c.msg.Errorf("could not configure run: %+v", err)
		c.finish(Result{State: Error, Reason: HardwareFailure, Err: err}, err.Error())
		return
	}

	c.mu.Lock()
	c.transition(Acquiring)
	c.setStatus(msgAcquiring)
	c.mu.Unlock()
	c.ps.Notify()

	reason, err := c.poll(ctx, cfg)
	if err != nil {
		c.msg.Errorf("could not read out frames: %+v", err)
	}

	c.mu.Lock()
	c.transition(Draining)
	c.mu.Unlock()
	c.ps.Notify()

	last, derr := c.drain(cfg, reason)
	if last.Reason != None && reason == StopRequested {
		reason = last.Reason
	}

	var (
		res = Result{Reason: reason}
		msg string
	)
	switch {
	case err != nil:
		res.State = Error
		res.Err = err
		msg = err.Error()
	case errors.Is(derr, ErrStall):
		res.State = Error
		res.Err = derr
		msg = msgStall
	case derr != nil:
		res.State = Error
		res.Reason = HardwareFailure
		res.Err = derr
		msg = derr.Error()
	case reason == CapacityReached:
		res.State = Aborted
		res.Err = ErrOverflow
		msg = msgMaxFrames
	case reason == RequestCompleted:
		res.State = Completed
		msg = msgCompleted
	default:
		res.State = Aborted
		msg = msgStopped
	}

	if n, perr := c.pub.failures(); n > 0 {
		res.Unpublished = n
		msg = fmt.Sprintf("%s (%d frames not published: %v)", msg, n, perr)
	}

	c.finish(res, msg)
}

// configure programs the frame-advance source and starts histogramming.
func (c *Controller) configure(cfg Config) error {
	raw := cfg.Trigger.Encode()
	for card := 0; card < cfg.Cards; card++ {
		err := c.hw.SetTimingRegister(card, raw)
		if err != nil {
			return hwError(c.hw, "set-timing-register", err)
		}
	}

	if cfg.internalTrigger() && c.hw.HasITFG() {
		ticks := timing.Ticks(cfg.ITFG.Time)
		err := c.hw.SetupITFG(0, cfg.Frames, ticks, cfg.ITFG.Trigger, cfg.ITFG.Gap)
		if err != nil {
			return hwError(c.hw, "setup-itfg", err)
		}
	}

	for card := 0; card < cfg.Cards; card++ {
		err := c.hw.StartHistogramming(card)
		if err != nil {
			return hwError(c.hw, "start-histogramming", err)
		}
	}
	return nil
}

// poll reads out frames until a stop condition is met.
func (c *Controller) poll(ctx context.Context, cfg Config) (StopReason, error) {
	for {
		if c.stopRequested(ctx) {
			c.msg.Infof("stop requested")
			return StopRequested, nil
		}

		b, err := c.readout(cfg)
		if err != nil {
			return HardwareFailure, err
		}
		if b.Reason != None {
			return b.Reason, nil
		}
	}
}

// stopRequested waits, at most for the poll timeout, for a stop request.
func (c *Controller) stopRequested(ctx context.Context) bool {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-c.stopc:
		return true
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

// readout polls the hardware progress and publishes the newly
// completed frames.
func (c *Controller) readout(cfg Config) (Batch, error) {
	cur, err := c.hw.Progress()
	if err != nil {
		return Batch{}, hwError(c.hw, "progress", err)
	}

	c.mu.Lock()
	if cur < c.prog.Current {
		c.msg.Warnf("hardware progress went backward (%d -> %d)", c.prog.Current, cur)
		cur = c.prog.Current
	}
	c.prog.Current = cur
	b := Track(c.prog)
	c.ps.SetInt(ParamCurrent, int64(cur))
	c.mu.Unlock()

	if b.N == 0 {
		c.ps.Notify()
		return b, nil
	}
	c.msg.Debugf("reading frames [%d, %d)", b.Offset, b.Offset+b.N)

	recs, err := c.rdo.Read(cfg, b.Offset, b.N)
	if err != nil {
		return b, err
	}

	final := b.Reason != None
	for i, rec := range recs {
		c.mu.Lock()
		c.prog.Last = rec.Frame + 1
		c.frames = rec.Frame + 1
		for ch := range rec.Channels {
			c.scal[ch] = rec.Channels[ch].Scalars
		}
		c.mu.Unlock()

		perr := c.pub.Publish(rec, final && i == len(recs)-1)
		if perr != nil {
			c.mu.Lock()
			c.setStatus(perr.Error())
			c.mu.Unlock()
		}
	}

	return b, nil
}

// drain stops the detector, waits for it to settle and reads out the
// frames completed before an explicit stop.
func (c *Controller) drain(cfg Config, reason StopReason) (Batch, error) {
	for card := 0; card < cfg.Cards; card++ {
		err := c.hw.StopHistogramming(card)
		if err != nil {
			err = hwError(c.hw, "stop-histogramming", err)
			if reason == HardwareFailure {
				c.msg.Warnf("%+v", err)
				continue
			}
			return Batch{}, err
		}
	}

	err := c.waitIdle()
	if err != nil {
		c.msg.Errorf("%s", msgStall)
		return Batch{}, err
	}

	if reason != StopRequested {
		return Batch{}, nil
	}

	return c.readout(cfg)
}

// waitIdle waits for the detector to report not-busy twice in a row.
func (c *Controller) waitIdle() error {
	idle := 0
	for i := 0; i < c.checks; i++ {
		if c.hw.Busy() {
			idle = 0
		} else {
			idle++
		}
		if idle == 2 {
			return nil
		}
		time.Sleep(c.timeout)
	}
	return fmt.Errorf("acq: busy after %d checks: %w", c.checks, ErrStall)
}

// finish records the outcome of a run and returns to Idle.
func (c *Controller) finish(res Result, msg string) {
	c.mu.Lock()
	res.Frames = c.frames
	c.res = res
	c.transition(res.State)
	c.setStatus(msg)
	scal := make([]Scalars, len(c.scal))
	copy(scal, c.scal)
	c.mu.Unlock()
	c.pub.snapshot(scal)
	c.ps.Notify()

	switch res.State {
	case Error:
		c.msg.Errorf("run ended: state=%v, frames=%d: %+v", res.State, res.Frames, res.Err)
	default:
		c.msg.Infof("run ended: state=%v, reason=%v, frames=%d", res.State, res.Reason, res.Frames)
	}

	// discard a stop request that raced with the end of the run.
	timer := time.NewTimer(c.timeout)
	select {
	case <-c.stopc:
	case <-timer.C:
	}
	timer.Stop()

	c.mu.Lock()
	c.transition(Idle)
	done := c.done
	c.done = nil
	c.mu.Unlock()
	c.ps.Notify()

	if done != nil {
		close(done)
	}
}
