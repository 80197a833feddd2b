// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the configuration of an Xspress3 acquisition
// service from a file and from XSP3_ environment variables.
package config // import "github.com/go-lpc/xsp3/config"

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-lpc/xsp3/acq"
	"github.com/go-lpc/xsp3/timing"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding the
// configuration file.
const EnvPrefix = "XSP3"

// Sinks holds the output files of a service. Empty names disable the
// corresponding sink.
type Sinks struct {
	Raw  string // output directory of raw records files
	LCIO string // output directory of LCIO files
	SHM  string // shared-memory live view file
}

// Service is the configuration of an acquisition service.
type Service struct {
	Acq          acq.Config
	UpdatePeriod time.Duration // scaler update period
	Simulate     bool          // use the simulator instead of the hardware
	Sinks        Sinks
	Ctl          string // control server address
	DB           string // run-history database name
}

// Default returns the default service configuration.
func Default() Service {
	return Service{
		Acq:          acq.NewConfig(),
		UpdatePeriod: 100 * time.Millisecond,
		Ctl:          ":7777",
	}
}

func setDefaults(v *viper.Viper, def Service) {
	cfg := def.Acq
	v.SetDefault("cards", cfg.Cards)
	v.SetDefault("channels", cfg.Channels)
	v.SetDefault("max_frames", cfg.MaxFrames)
	v.SetDefault("capacity", cfg.Capacity)
	v.SetDefault("max_spectra", cfg.MaxSpectra)
	v.SetDefault("frames", cfg.Frames)
	v.SetDefault("dtc", cfg.DTC)
	v.SetDefault("address", cfg.Address)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("config_path", cfg.ConfigPath)
	v.SetDefault("mode", cfg.Mode.String())

	v.SetDefault("trigger.source", cfg.Trigger.Source.String())
	v.SetDefault("trigger.invert_f0", cfg.Trigger.InvertF0)
	v.SetDefault("trigger.invert_veto", cfg.Trigger.InvertVeto)
	v.SetDefault("trigger.debounce", cfg.Trigger.Debounce)

	v.SetDefault("itfg.time", cfg.ITFG.Time)
	v.SetDefault("itfg.trigger", cfg.ITFG.Trigger.String())
	v.SetDefault("itfg.gap", cfg.ITFG.Gap.String())

	v.SetDefault("update_period", def.UpdatePeriod)
	v.SetDefault("simulate", def.Simulate)
	v.SetDefault("sinks.raw", def.Sinks.Raw)
	v.SetDefault("sinks.lcio", def.Sinks.LCIO)
	v.SetDefault("sinks.shm", def.Sinks.SHM)
	v.SetDefault("ctl.addr", def.Ctl)
	v.SetDefault("db.name", def.DB)
}

// Load reads the service configuration from the named file.
// An empty file name only applies the defaults and the environment.
// The file format is inferred from its extension (yaml, toml, json).
func Load(fname string) (Service, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fname != "" {
		v.SetConfigFile(fname)
		err := v.ReadInConfig()
		if err != nil {
			return Service{}, fmt.Errorf("config: could not read %q: %w", fname, err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (Service, error) {
	var (
		srv = Service{
			Acq: acq.Config{
				Cards:      v.GetInt("cards"),
				Channels:   v.GetInt("channels"),
				MaxFrames:  v.GetInt("max_frames"),
				Capacity:   v.GetInt("capacity"),
				MaxSpectra: v.GetInt("max_spectra"),
				Frames:     v.GetInt("frames"),
				DTC:        v.GetBool("dtc"),
				Address:    v.GetString("address"),
				Port:       v.GetInt("port"),
				ConfigPath: v.GetString("config_path"),
			},
			UpdatePeriod: v.GetDuration("update_period"),
			Simulate:     v.GetBool("simulate"),
			Sinks: Sinks{
				Raw:  v.GetString("sinks.raw"),
				LCIO: v.GetString("sinks.lcio"),
				SHM:  v.GetString("sinks.shm"),
			},
			Ctl: v.GetString("ctl.addr"),
			DB:  v.GetString("db.name"),
		}
		cfg = &srv.Acq
		err error
	)

	cfg.Mode, err = acq.ParseMode(v.GetString("mode"))
	if err != nil {
		return srv, fmt.Errorf("config: invalid mode: %w", err)
	}

	cfg.Trigger.Source, err = timing.ParseSource(v.GetString("trigger.source"))
	if err != nil {
		return srv, fmt.Errorf("config: invalid trigger: %w", err)
	}
	cfg.Trigger.InvertF0 = v.GetBool("trigger.invert_f0")
	cfg.Trigger.InvertVeto = v.GetBool("trigger.invert_veto")
	deb := v.GetInt("trigger.debounce")
	if deb < 0 || deb > timing.MaxDebounce {
		return srv, fmt.Errorf("config: trigger debounce %d out of range [0, %d]", deb, timing.MaxDebounce)
	}
	cfg.Trigger.Debounce = uint8(deb)

	cfg.ITFG.Time = v.GetDuration("itfg.time")
	cfg.ITFG.Trigger, err = timing.ParseTrigMode(v.GetString("itfg.trigger"))
	if err != nil {
		return srv, fmt.Errorf("config: invalid ITFG: %w", err)
	}
	cfg.ITFG.Gap, err = timing.ParseGapMode(v.GetString("itfg.gap"))
	if err != nil {
		return srv, fmt.Errorf("config: invalid ITFG: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return srv, fmt.Errorf("config: invalid acquisition configuration: %w", err)
	}

	return srv, nil
}
