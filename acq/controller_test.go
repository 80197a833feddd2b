// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/go-daq/tdaq/log"
)

type collector struct {
	mu     sync.Mutex
	frames []int
}

func (c *collector) FrameReady(rec Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, rec.Frame)
	return nil
}

func (c *collector) Frames() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.frames...)
}

func seq(beg, end int) []int {
	o := make([]int, 0, end-beg)
	for i := beg; i < end; i++ {
		o = append(o, i)
	}
	return o
}

// newTestController creates a connected controller with a running
// acquisition loop.
func newTestController(t *testing.T, hw *fakeHW, cfg Config, opts ...Option) (*Controller, *collector) {
	t.Helper()

	cons := new(collector)
	opts = append([]Option{
		WithLogger(log.NewMsgStream("test", log.LvlError, io.Discard)),
		WithConsumer(cons),
		WithPollTimeout(time.Millisecond),
	}, opts...)

	c, err := New(hw, cfg, opts...)
	if err != nil {
		t.Fatalf("could not create controller: %+v", err)
	}

	err = c.Connect()
	if err != nil {
		t.Fatalf("could not connect: %+v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		err := <-done
		if err != nil {
			t.Errorf("could not run acquisition loop: %+v", err)
		}
	})

	return c, cons
}

func wait(t *testing.T, c *Controller) Result {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("could not wait for run: %+v", err)
	}
	return res
}

func status(c *Controller) string {
	v, _ := c.Params().(*Params).Str(ParamStatus)
	return v
}

func TestControllerCompleted(t *testing.T) {
	hw := newFakeHW(3, 3, 7, 10)
	cfg := NewConfig()
	cfg.MaxSpectra = 16

	c, cons := newTestController(t, hw, cfg)

	err := c.Start(10)
	if err != nil {
		t.Fatalf("could not start run: %+v", err)
	}

	res := wait(t, c)
	if got, want := res.State, Completed; got != want {
		t.Fatalf("invalid state: got=%v, want=%v (err=%+v)", got, want, res.Err)
	}
	if got, want := res.Reason, RequestCompleted; got != want {
		t.Fatalf("invalid reason: got=%v, want=%v", got, want)
	}
	if res.Err != nil {
		t.Fatalf("unexpected error: %+v", res.Err)
	}
	if got, want := res.Frames, 10; got != want {
		t.Fatalf("invalid frames: got=%d, want=%d", got, want)
	}
	if got, want := cons.Frames(), seq(0, 10); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid frames:\ngot= %v\nwant=%v", got, want)
	}
	if got, want := c.State(), Idle; got != want {
		t.Fatalf("invalid state after run: got=%v, want=%v", got, want)
	}
	if got, want := status(c), msgCompleted; got != want {
		t.Fatalf("invalid status: got=%q, want=%q", got, want)
	}

	ps := c.Params().(*Params)
	if v, _ := ps.Int(ParamFrames); v != 10 {
		t.Fatalf("invalid frames parameter: got=%d, want=10", v)
	}
	if v, _ := ps.Float(ScalarParam(1, ScalAllEvent)); v != float64(fakeScal(9, 1, ScalAllEvent)) {
		t.Fatalf("invalid scaler parameter: got=%v", v)
	}

	// polls returned 3, 3, 7 and 10 frames: the empty batch reads nothing.
	if got, want := hw.Reads(), [][2]int{{0, 3}, {3, 4}, {7, 3}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid readout batches:\ngot= %v\nwant=%v", got, want)
	}

	calls := hw.Calls()
	for _, want := range []string{
		"set-timing card=0 raw=0x1",
		"setup-itfg card=0 frames=10 ticks=80000000",
		"start card=0",
		"stop card=0",
	} {
		if !contains(calls, want) {
			t.Fatalf("missing hardware call %q in %q", want, calls)
		}
	}
}

func contains(vs []string, v string) bool {
	for _, s := range vs {
		if s == v {
			return true
		}
	}
	return false
}

func TestControllerOverflow(t *testing.T) {
	hw := newFakeHW(3, 8)
	cfg := NewConfig()
	cfg.Capacity = 8
	cfg.MaxSpectra = 16

	c, cons := newTestController(t, hw, cfg)

	err := c.Start(10)
	if err != nil {
		t.Fatalf("could not start run: %+v", err)
	}

	res := wait(t, c)
	if got, want := res.State, Aborted; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if got, want := res.Reason, CapacityReached; got != want {
		t.Fatalf("invalid reason: got=%v, want=%v", got, want)
	}
	if !errors.Is(res.Err, ErrOverflow) {
		t.Fatalf("invalid error: got=%+v, want=%+v", res.Err, ErrOverflow)
	}
	if got, want := cons.Frames(), seq(0, 8); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid frames:\ngot= %v\nwant=%v", got, want)
	}
	if got, want := status(c), msgMaxFrames; got != want {
		t.Fatalf("invalid status: got=%q, want=%q", got, want)
	}
}

func TestControllerReadFailure(t *testing.T) {
	hw := newFakeHW(3, 7, 10)
	hw.failRead = 2
	cfg := NewConfig()
	cfg.MaxSpectra = 16

	c, cons := newTestController(t, hw, cfg)

	err := c.Start(10)
	if err != nil {
		t.Fatalf("could not start run: %+v", err)
	}

	res := wait(t, c)
	if got, want := res.State, Error; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if got, want := res.Reason, HardwareFailure; got != want {
		t.Fatalf("invalid reason: got=%v, want=%v", got, want)
	}
	var herr *HardwareError
	if !errors.As(res.Err, &herr) {
		t.Fatalf("invalid error type: %T (%+v)", res.Err, res.Err)
	}
	if got, want := herr.Op, "read-spectra"; got != want {
		t.Fatalf("invalid op: got=%q, want=%q", got, want)
	}
	if got, want := cons.Frames(), seq(0, 3); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid frames:\ngot= %v\nwant=%v", got, want)
	}
	if got, want := res.Frames, 3; got != want {
		t.Fatalf("invalid frames: got=%d, want=%d", got, want)
	}
	if !contains(hw.Calls(), "stop card=0") {
		t.Fatalf("detector was not stopped")
	}
}

func TestControllerStall(t *testing.T) {
	hw := newFakeHW(10)
	hw.busy = []bool{true}
	cfg := NewConfig()
	cfg.MaxSpectra = 16

	c, _ := newTestController(t, hw, cfg, WithBusyChecks(3))

	err := c.Start(10)
	if err != nil {
		t.Fatalf("could not start run: %+v", err)
	}

	res := wait(t, c)
	if got, want := res.State, Error; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if !errors.Is(res.Err, ErrStall) {
		t.Fatalf("invalid error: got=%+v, want=%+v", res.Err, ErrStall)
	}
	if got, want := status(c), msgStall; got != want {
		t.Fatalf("invalid status: got=%q, want=%q", got, want)
	}
}

func TestControllerBusyFlicker(t *testing.T) {
	hw := newFakeHW(10)
	hw.busy = []bool{false, true, false, true, false, false}
	cfg := NewConfig()
	cfg.MaxSpectra = 16

	c, _ := newTestController(t, hw, cfg)

	err := c.Start(10)
	if err != nil {
		t.Fatalf("could not start run: %+v", err)
	}

	res := wait(t, c)
	if got, want := res.State, Completed; got != want {
		t.Fatalf("invalid state: got=%v, want=%v (err=%+v)", got, want, res.Err)
	}
}

func TestControllerStop(t *testing.T) {
	hw := newFakeHW(2)
	cfg := NewConfig()
	cfg.MaxSpectra = 16

	c, cons := newTestController(t, hw, cfg)

	err := c.Start(10)
	if err != nil {
		t.Fatalf("could not start run: %+v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for c.Status().Frames < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for frames")
		}
		time.Sleep(time.Millisecond)
	}

	err = c.Start(10)
	if !errors.Is(err, ErrAlreadyAcquiring) {
		t.Fatalf("invalid start error: got=%+v, want=%+v", err, ErrAlreadyAcquiring)
	}
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("start error should be a busy error: %+v", err)
	}
	if got, want := c.State(), Acquiring; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}

	err = c.Erase()
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("invalid erase error: got=%+v, want=%+v", err, ErrBusy)
	}

	err = c.Stop()
	if err != nil {
		t.Fatalf("could not stop run: %+v", err)
	}

	res := wait(t, c)
	if got, want := res.State, Aborted; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if got, want := res.Reason, StopRequested; got != want {
		t.Fatalf("invalid reason: got=%v, want=%v", got, want)
	}
	if res.Err != nil {
		t.Fatalf("unexpected error: %+v", res.Err)
	}
	if got, want := cons.Frames(), seq(0, 2); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid frames:\ngot= %v\nwant=%v", got, want)
	}
	if got, want := status(c), msgStopped; got != want {
		t.Fatalf("invalid status: got=%q, want=%q", got, want)
	}

	// stopping an idle controller is a no-op.
	err = c.Stop()
	if err != nil {
		t.Fatalf("could not stop idle controller: %+v", err)
	}
}

func TestControllerNotConnected(t *testing.T) {
	c, err := New(newFakeHW(), NewConfig(), WithLogger(nil))
	if err != nil {
		t.Fatalf("could not create controller: %+v", err)
	}

	err = c.Start(1)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrNotConnected)
	}
	if got, want := c.State(), Idle; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}

	res, err := c.Wait(context.Background())
	if err != nil {
		t.Fatalf("could not wait: %+v", err)
	}
	if got, want := res.State, Idle; got != want {
		t.Fatalf("invalid result state: got=%v, want=%v", got, want)
	}
}

func TestControllerStartInvalid(t *testing.T) {
	cfg := NewConfig()
	cfg.MaxFrames = 100
	cfg.Capacity = 100

	c, _ := newTestController(t, newFakeHW(), cfg)

	for _, n := range []int{-1, 0, 101} {
		err := c.Start(n)
		var cerr *ConfigError
		if !errors.As(err, &cerr) {
			t.Fatalf("n=%d: invalid error: %+v", n, err)
		}
		if got, want := cerr.Field, "frames"; got != want {
			t.Fatalf("n=%d: invalid field: got=%q, want=%q", n, got, want)
		}
	}
	if got, want := c.State(), Idle; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
}

func TestControllerCancel(t *testing.T) {
	hw := newFakeHW(1)
	cfg := NewConfig()
	cfg.MaxSpectra = 16

	cons := new(collector)
	c, err := New(hw, cfg,
		WithLogger(log.NewMsgStream("test", log.LvlError, io.Discard)),
		WithConsumer(cons),
	)
	if err != nil {
		t.Fatalf("could not create controller: %+v", err)
	}
	err = c.Connect()
	if err != nil {
		t.Fatalf("could not connect: %+v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Run(ctx) }()

	err = c.Start(5)
	if err != nil {
		t.Fatalf("could not start run: %+v", err)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("could not run: %+v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for acquisition loop")
	}

	res := wait(t, c)
	if got, want := res.State, Aborted; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if got, want := c.State(), Idle; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
}

func TestStateString(t *testing.T) {
	for _, tc := range []struct {
		st       State
		want     string
		terminal bool
	}{
		{Idle, "idle", false},
		{Connecting, "connecting", false},
		{Configuring, "configuring", false},
		{Acquiring, "acquiring", false},
		{Draining, "draining", false},
		{Completed, "completed", true},
		{Aborted, "aborted", true},
		{Error, "error", true},
		{State(99), "State(99)", false},
	} {
		t.Run(tc.want, func(t *testing.T) {
			if got := tc.st.String(); got != tc.want {
				t.Fatalf("invalid name: got=%q, want=%q", got, tc.want)
			}
			if got := tc.st.Terminal(); got != tc.terminal {
				t.Fatalf("invalid terminal: got=%v, want=%v", got, tc.terminal)
			}
		})
	}
}

func TestControllerBackwardProgress(t *testing.T) {
	hw := newFakeHW(3, 2, 5)
	cfg := NewConfig()
	cfg.MaxSpectra = 16

	c, cons := newTestController(t, hw, cfg)

	err := c.Start(5)
	if err != nil {
		t.Fatalf("could not start run: %+v", err)
	}

	res := wait(t, c)
	if got, want := res.State, Completed; got != want {
		t.Fatalf("invalid state: got=%v, want=%v (err=%+v)", got, want, res.Err)
	}
	if got, want := cons.Frames(), seq(0, 5); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid frames:\ngot= %v\nwant=%v", got, want)
	}
	if got, want := hw.Reads(), [][2]int{{0, 3}, {3, 2}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid readout batches:\ngot= %v\nwant=%v", got, want)
	}
	if got, want := c.Status().Progress.Current, 5; got != want {
		t.Fatalf("invalid current frame count: got=%d, want=%d", got, want)
	}
}

func TestControllerRandomBatches(t *testing.T) {
	const nframes = 50

	for seed := 0; seed < 10; seed++ {
		seed := seed
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			rnd := rand.New(rand.NewSource(int64(seed)))
			var (
				cur    = 0
				script []int
			)
			for cur < nframes {
				cur = min(cur+rnd.Intn(5), nframes)
				script = append(script, cur)
			}

			hw := newFakeHW(script...)
			cfg := NewConfig()
			cfg.MaxSpectra = 8

			c, cons := newTestController(t, hw, cfg)

			err := c.Start(nframes)
			if err != nil {
				t.Fatalf("could not start run: %+v", err)
			}

			res := wait(t, c)
			if got, want := res.State, Completed; got != want {
				t.Fatalf("invalid state: got=%v, want=%v (err=%+v)", got, want, res.Err)
			}
			if got, want := cons.Frames(), seq(0, nframes); !reflect.DeepEqual(got, want) {
				t.Fatalf("invalid frames:\ngot= %v\nwant=%v", got, want)
			}

			next := 0
			for _, r := range hw.Reads() {
				if r[0] != next || r[1] <= 0 {
					t.Fatalf("invalid readout batch %v (next=%d) in %v", r, next, hw.Reads())
				}
				next += r[1]
			}
			if next != nframes {
				t.Fatalf("invalid number of frames read out: got=%d, want=%d", next, nframes)
			}
		})
	}
}

func TestControllerStopBeforeLoop(t *testing.T) {
	for i := 0; i < 20; i++ {
		i := i
		t.Run(fmt.Sprintf("iter-%d", i), func(t *testing.T) {
			hw := newFakeHW()
			cfg := NewConfig()
			cfg.MaxSpectra = 16

			c, err := New(hw, cfg,
				WithLogger(log.NewMsgStream("test", log.LvlError, io.Discard)),
				WithPollTimeout(time.Millisecond),
			)
			if err != nil {
				t.Fatalf("could not create controller: %+v", err)
			}
			err = c.Connect()
			if err != nil {
				t.Fatalf("could not connect: %+v", err)
			}

			err = c.Start(10)
			if err != nil {
				t.Fatalf("could not start run: %+v", err)
			}
			err = c.Stop()
			if err != nil {
				t.Fatalf("could not stop run: %+v", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error)
			go func() { done <- c.Run(ctx) }()
			defer func() {
				cancel()
				<-done
			}()

			wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer wcancel()
			res, err := c.Wait(wctx)
			if err != nil {
				t.Fatalf("stop request was lost: %+v", err)
			}
			if got, want := res.State, Aborted; got != want {
				t.Fatalf("invalid state: got=%v, want=%v", got, want)
			}
			if got, want := res.Reason, StopRequested; got != want {
				t.Fatalf("invalid reason: got=%v, want=%v", got, want)
			}
		})
	}
}

func TestControllerConsumerFailure(t *testing.T) {
	hw := newFakeHW(4, 10)
	cfg := NewConfig()
	cfg.MaxSpectra = 16

	fail := ConsumerFunc(func(rec Record) error {
		return fmt.Errorf("disk full")
	})
	c, _ := newTestController(t, hw, cfg, WithConsumer(fail))

	err := c.Start(10)
	if err != nil {
		t.Fatalf("could not start run: %+v", err)
	}

	res := wait(t, c)
	if got, want := res.State, Completed; got != want {
		t.Fatalf("invalid state: got=%v, want=%v (err=%+v)", got, want, res.Err)
	}
	if got, want := res.Frames, 10; got != want {
		t.Fatalf("invalid frames: got=%d, want=%d", got, want)
	}
	if got, want := res.Unpublished, 10; got != want {
		t.Fatalf("invalid unpublished frames: got=%d, want=%d", got, want)
	}
	want := msgCompleted + " (10 frames not published: acq: could not publish frame 9: disk full)"
	if got := status(c); got != want {
		t.Fatalf("invalid status:\ngot= %q\nwant=%q", got, want)
	}
	if got := c.Status().Msg; got != want {
		t.Fatalf("invalid status message:\ngot= %q\nwant=%q", got, want)
	}
}

func TestControllerStopSnapshot(t *testing.T) {
	hw := newFakeHW(1, 3)
	cfg := NewConfig()
	cfg.MaxSpectra = 16

	c, _ := newTestController(t, hw, cfg, WithUpdatePeriod(time.Hour))

	err := c.Start(10)
	if err != nil {
		t.Fatalf("could not start run: %+v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for c.Status().Frames < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for frames")
		}
		time.Sleep(time.Millisecond)
	}

	err = c.Stop()
	if err != nil {
		t.Fatalf("could not stop run: %+v", err)
	}
	res := wait(t, c)
	if got, want := res.Reason, StopRequested; got != want {
		t.Fatalf("invalid reason: got=%v, want=%v", got, want)
	}

	st := c.Status()
	ps := c.Params().(*Params)
	for ch := 0; ch < cfg.Channels; ch++ {
		want := float64(fakeScal(2, ch, ScalAllEvent))
		if got := st.Scalars[ch][ScalAllEvent]; got != want {
			t.Fatalf("ch=%d: invalid status scaler: got=%v, want=%v", ch, got, want)
		}
		if got, _ := ps.Float(ScalarParam(ch, ScalAllEvent)); got != want {
			t.Fatalf("ch=%d: invalid published scaler: got=%v, want=%v", ch, got, want)
		}
	}
}

func TestControllerBusyWhileAcquiring(t *testing.T) {
	hw := newFakeHW(3, 7, 10)
	hw.busy = []bool{true, true, false, false}
	cfg := NewConfig()
	cfg.MaxSpectra = 16

	c, cons := newTestController(t, hw, cfg)

	err := c.Start(10)
	if err != nil {
		t.Fatalf("could not start run: %+v", err)
	}

	res := wait(t, c)
	if got, want := res.State, Completed; got != want {
		t.Fatalf("invalid state: got=%v, want=%v (err=%+v)", got, want, res.Err)
	}
	if got, want := cons.Frames(), seq(0, 10); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid frames:\ngot= %v\nwant=%v", got, want)
	}
	if got, want := hw.Reads(), [][2]int{{0, 3}, {3, 4}, {7, 3}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid readout batches:\ngot= %v\nwant=%v", got, want)
	}

	// the busy flag is only checked once the detector has been stopped.
	var (
		calls = hw.Calls()
		stop  = -1
		busy  = 0
	)
	for i, call := range calls {
		switch call {
		case "stop card=0":
			stop = i
		case "busy":
			if stop < 0 {
				t.Fatalf("busy checked before stopping the detector: %q", calls)
			}
			busy++
		}
	}
	if got, want := busy, 4; got != want {
		t.Fatalf("invalid number of busy checks: got=%d, want=%d", got, want)
	}
}
