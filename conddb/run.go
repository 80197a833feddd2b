// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import (
	"time"

	"github.com/go-lpc/xsp3/acq"
	"github.com/go-lpc/xsp3/timing"
	"github.com/google/uuid"
)

// Run is a row of the run-history table.
type Run struct {
	ID         uuid.UUID
	Number     uint32
	Time       time.Time
	Cards      int
	Channels   int
	Frames     int // requested frames
	Capacity   int
	Bins       int
	DTC        bool
	Mode       string
	Trigger    uint32  // raw timing register
	ITFGTime   float64 // ITFG frame time, in seconds
	ConfigPath string
	State      string // final state of the run, empty while running
	NFrames    int    // frames read out
}

// NewRun creates a new run-history row from an acquisition configuration.
func NewRun(number uint32, cfg acq.Config, beg time.Time) Run {
	return Run{
		ID:         uuid.New(),
		Number:     number,
		Time:       beg,
		Cards:      cfg.Cards,
		Channels:   cfg.Channels,
		Frames:     cfg.Frames,
		Capacity:   cfg.Capacity,
		Bins:       cfg.MaxSpectra,
		DTC:        cfg.DTC,
		Mode:       cfg.Mode.String(),
		Trigger:    cfg.Trigger.Encode(),
		ITFGTime:   cfg.ITFG.Time.Seconds(),
		ConfigPath: cfg.ConfigPath,
	}
}

// Apply updates cfg with the settings recorded for the run.
func (run Run) Apply(cfg *acq.Config) error {
	mode, err := acq.ParseMode(run.Mode)
	if err != nil {
		return err
	}
	cfg.Cards = run.Cards
	cfg.Channels = run.Channels
	cfg.Frames = run.Frames
	cfg.Capacity = run.Capacity
	cfg.MaxSpectra = run.Bins
	cfg.DTC = run.DTC
	cfg.Mode = mode
	cfg.Trigger = timing.Decode(run.Trigger)
	cfg.ITFG.Time = time.Duration(run.ITFGTime * float64(time.Second))
	cfg.ConfigPath = run.ConfigPath
	return nil
}
