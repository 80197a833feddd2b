// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"fmt"

	"github.com/go-lpc/xsp3/timing"
)

// Status is a snapshot of the controller state.
type Status struct {
	State     State
	Connected bool
	Msg       string
	Frames    int // frames read out in the current (or last) run
	Progress  Progress
	Scalars   []Scalars // last read out scalers, per channel
	Config    Config
	Last      Result
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	scal := make([]Scalars, len(c.scal))
	copy(scal, c.scal)
	return Status{
		State:     c.state,
		Connected: c.conn,
		Msg:       c.status,
		Frames:    c.frames,
		Progress:  c.prog,
		Scalars:   scal,
		Config:    c.cfg,
		Last:      c.res,
	}
}

// Connect opens a session with the detector: it configures the system,
// sets up the clocks of every card, restores the detector settings and
// selects the run flags.
func (c *Controller) Connect() error {
	c.mu.Lock()
	switch {
	case c.state != Idle:
		c.mu.Unlock()
		return ErrBusy
	case c.conn:
		c.mu.Unlock()
		return nil
	}
	cfg := c.cfg
	c.transition(Connecting)
	c.mu.Unlock()
	c.ps.Notify()

	c.msg.Infof(
		"connecting to %s:%d (cards=%d, channels=%d, frames=%d, settings=%q)...",
		cfg.Address, cfg.Port, cfg.Cards, cfg.Channels, cfg.MaxFrames, cfg.ConfigPath,
	)
	err := c.connect(cfg)

	defer c.ps.Notify()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.transition(Idle)
	if err != nil {
		c.setStatus(msgConnectFail)
		return fmt.Errorf("acq: could not connect: %w", err)
	}
	c.conn = true
	c.ps.SetInt(ParamConnected, 1)
	c.setStatus(msgConnected)
	c.msg.Infof("connecting... [ok]")
	return nil
}

func (c *Controller) connect(cfg Config) (err error) {
	err = c.hw.Configure(cfg)
	if err != nil {
		return hwError(c.hw, "configure", err)
	}
	defer func() {
		if err != nil {
			_ = c.hw.Close()
		}
	}()

	for card := 0; card < cfg.Cards; card++ {
		err = c.hw.SetupClocks(card, ClockInternal, ClockMaster)
		if err != nil {
			return hwError(c.hw, "setup-clocks", err)
		}
	}

	if cfg.ConfigPath != "" {
		err = c.hw.RestoreSettings(cfg.ConfigPath)
		if err != nil {
			return hwError(c.hw, "restore-settings", err)
		}
	}

	err = c.hw.SetRunFlags(cfg.Mode.Flags())
	if err != nil {
		return hwError(c.hw, "set-run-flags", err)
	}

	return nil
}

// Disconnect closes the session with the detector.
func (c *Controller) Disconnect() error {
	defer c.ps.Notify()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Idle {
		return ErrBusy
	}
	if !c.conn {
		return nil
	}

	c.conn = false
	c.ps.SetInt(ParamConnected, 0)
	c.setStatus(msgDisconnected)

	err := c.hw.Close()
	if err != nil {
		return hwError(c.hw, "close", err)
	}
	return nil
}

// idle checks the controller can accept a configuration command.
// c.mu must be held.
func (c *Controller) idle(needConn bool) error {
	switch {
	case c.state != Idle:
		return ErrBusy
	case needConn && !c.conn:
		return ErrNotConnected
	}
	return nil
}

// SaveSettings saves the detector settings under dir.
func (c *Controller) SaveSettings(dir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.idle(true); err != nil {
		return err
	}
	if dir == "" {
		return configErrorf("settings", "empty directory")
	}
	return hwError(c.hw, "save-settings", c.hw.SaveSettings(dir))
}

// RestoreSettings restores the detector settings from dir.
func (c *Controller) RestoreSettings(dir string) error {
	defer c.ps.Notify()
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.idle(true); err != nil {
		return err
	}
	if dir == "" {
		return configErrorf("settings", "empty directory")
	}
	err := c.hw.RestoreSettings(dir)
	if err != nil {
		return hwError(c.hw, "restore-settings", err)
	}
	c.cfg.ConfigPath = dir
	return nil
}

func (c *Controller) checkChannel(ch int) error {
	if ch < 0 || ch >= c.cfg.Channels {
		return configErrorf("channel", "%d out of range [0, %d)", ch, c.cfg.Channels)
	}
	return nil
}

// SetWindow sets the [lo, hi] bin range of the in-window scaler win of
// channel ch.
func (c *Controller) SetWindow(ch, win, lo, hi int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.idle(true); err != nil {
		return err
	}
	if err := c.checkChannel(ch); err != nil {
		return err
	}
	switch {
	case win < 0 || win >= MaxWindows:
		return configErrorf("window", "%d out of range [0, %d)", win, MaxWindows)
	case lo < 0 || hi < 0:
		return configErrorf("window", "negative limits [%d, %d]", lo, hi)
	case lo > hi:
		return configErrorf("window", "low limit %d above high limit %d", lo, hi)
	case hi >= c.cfg.MaxSpectra:
		return configErrorf("window", "high limit %d above spectrum length %d", hi, c.cfg.MaxSpectra)
	}
	return hwError(c.hw, "set-window", c.hw.SetWindow(ch, win, uint32(lo), uint32(hi)))
}

// SetGoodThreshold sets the good-event threshold of channel ch.
func (c *Controller) SetGoodThreshold(ch int, v uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.idle(true); err != nil {
		return err
	}
	if err := c.checkChannel(ch); err != nil {
		return err
	}
	return hwError(c.hw, "set-good-threshold", c.hw.SetGoodThreshold(ch, v))
}

// SetFrames sets the default number of frames of a run.
func (c *Controller) SetFrames(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.idle(false); err != nil {
		return err
	}
	if n <= 0 || n > c.cfg.MaxFrames {
		return configErrorf("frames", "%d out of range [1, %d]", n, c.cfg.MaxFrames)
	}
	c.cfg.Frames = n
	return nil
}

// SetCapacity sets the number of frames buffered by the driver.
func (c *Controller) SetCapacity(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.idle(false); err != nil {
		return err
	}
	if n <= 0 || n > c.cfg.MaxFrames {
		return configErrorf("capacity", "%d out of range [1, %d]", n, c.cfg.MaxFrames)
	}
	c.cfg.Capacity = n
	return nil
}

// SetChannels sets the number of channels read out.
// The number of channels can only be changed while disconnected.
func (c *Controller) SetChannels(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.idle(false); err != nil {
		return err
	}
	if c.conn {
		return ErrBusy
	}
	if n <= 0 || n > MaxChannels {
		return configErrorf("channels", "%d out of range [1, %d]", n, MaxChannels)
	}
	c.cfg.Channels = n
	c.scal = make([]Scalars, n)
	return nil
}

// SetTrigger sets the frame-advance configuration of the next runs.
func (c *Controller) SetTrigger(reg timing.Register) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.idle(false); err != nil {
		return err
	}
	c.cfg.Trigger = reg
	return nil
}

// SetITFG sets the internal time-frame generator configuration.
func (c *Controller) SetITFG(itfg timing.ITFG) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.idle(false); err != nil {
		return err
	}
	if itfg.Time <= 0 {
		return configErrorf("itfg", "invalid collection time %v", itfg.Time)
	}
	c.cfg.ITFG = itfg
	return nil
}

// SetDTC enables or disables the dead-time corrected readout.
func (c *Controller) SetDTC(v bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.idle(false); err != nil {
		return err
	}
	c.cfg.DTC = v
	return nil
}

// SetMode sets the run mode. It takes effect at the next connection.
func (c *Controller) SetMode(m Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.idle(false); err != nil {
		return err
	}
	c.cfg.Mode = m
	return nil
}

// ChannelInfo holds the status-only settings of a channel.
type ChannelInfo struct {
	GoodThreshold uint32
	Windows       [MaxWindows][2]uint32
	DeadTime      DeadTime
}

// Info retrieves the settings of channel ch from the detector.
// The detector is queried without holding the controller lock.
func (c *Controller) Info(ch int) (ChannelInfo, error) {
	var info ChannelInfo

	c.mu.Lock()
	conn := c.conn
	err := c.checkChannel(ch)
	c.mu.Unlock()

	switch {
	case !conn:
		return info, ErrNotConnected
	case err != nil:
		return info, err
	}

	thr, err := c.hw.GoodThreshold(ch)
	if err != nil {
		return info, hwError(c.hw, "good-threshold", err)
	}
	info.GoodThreshold = thr

	for win := range info.Windows {
		lo, hi, err := c.hw.Window(ch, win)
		if err != nil {
			return info, hwError(c.hw, "window", err)
		}
		info.Windows[win] = [2]uint32{lo, hi}
	}

	info.DeadTime, err = c.hw.DeadTimeParams(ch)
	if err != nil {
		return info, hwError(c.hw, "dead-time-params", err)
	}
	return info, nil
}
