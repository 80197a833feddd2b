// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"time"

	"github.com/go-lpc/xsp3/timing"
)

const (
	MaxChannels = 64   // maximum number of channels of a system
	MaxWindows  = 2    // number of in-window scalers per channel
	MaxBins     = 4096 // maximum spectrum length
)

// Config is the acquisition configuration of a session.
type Config struct {
	Cards      int  // number of hardware cards
	Channels   int  // number of channels in use
	MaxFrames  int  // number of frames the hardware was configured for
	Capacity   int  // number of frames buffered by the driver (<= MaxFrames)
	MaxSpectra int  // spectrum length, in bins
	DTC        bool // dead-time correction enabled
	Frames     int  // requested number of frames for the current run

	Address    string // base IP address of the detector
	Port       int    // base port of the detector
	ConfigPath string // settings directory restored at connection
	Mode       Mode

	Trigger timing.Register
	ITFG    timing.ITFG
}

// NewConfig returns a configuration with the default values of a
// single-card, four-channel system.
func NewConfig() Config {
	return Config{
		Cards:      1,
		Channels:   4,
		MaxFrames:  16384,
		Capacity:   16384,
		MaxSpectra: MaxBins,
		Frames:     1,
		Address:    "192.168.0.1",
		Port:       30123,
		Mode:       ModeMCA,
		Trigger:    timing.Register{Source: timing.Internal},
		ITFG: timing.ITFG{
			Time:    time.Second,
			Trigger: timing.Burst,
			Gap:     timing.Gap500ns,
		},
	}
}

// Validate checks the self-consistency of the configuration.
func (cfg Config) Validate() error {
	switch {
	case cfg.Cards <= 0:
		return configErrorf("cards", "need at least one card (got=%d)", cfg.Cards)
	case cfg.Channels <= 0 || cfg.Channels > MaxChannels:
		return configErrorf("channels", "%d out of range [1, %d]", cfg.Channels, MaxChannels)
	case cfg.MaxFrames <= 0 || cfg.MaxFrames > timing.MaxFrames:
		return configErrorf("max-frames", "%d out of range [1, %d]", cfg.MaxFrames, timing.MaxFrames)
	case cfg.Capacity <= 0 || cfg.Capacity > cfg.MaxFrames:
		return configErrorf("capacity", "%d out of range [1, %d]", cfg.Capacity, cfg.MaxFrames)
	case cfg.MaxSpectra <= 0 || cfg.MaxSpectra > MaxBins:
		return configErrorf("max-spectra", "%d out of range [1, %d]", cfg.MaxSpectra, MaxBins)
	case cfg.Frames < 0 || cfg.Frames > cfg.MaxFrames:
		return configErrorf("frames", "%d out of range [0, %d]", cfg.Frames, cfg.MaxFrames)
	}
	return nil
}

func (cfg Config) internalTrigger() bool {
	return cfg.Trigger.Source == timing.Internal
}
