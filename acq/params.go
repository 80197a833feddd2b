// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"fmt"
	"sort"
	"sync"
)

// Names of the parameters published by the acquisition core.
const (
	ParamState     = "state"
	ParamStatus    = "status"
	ParamConnected = "connected"
	ParamFrames    = "frames"
	ParamCurrent   = "frames-current"
	ParamRequested = "frames-requested"
)

// ScalarParam returns the parameter name of the i-th scaler of channel ch.
func ScalarParam(ch, i int) string {
	return fmt.Sprintf("chan-%02d.%s", ch, ScalarName(i))
}

// ParamStore is a sink of named live values.
type ParamStore interface {
	SetInt(name string, v int64)
	SetFloat(name string, v float64)
	SetString(name string, v string)

	// Notify notifies subscribers of the values changed since the
	// last notification.
	Notify()
}

// Params is an in-memory parameter store.
type Params struct {
	mu    sync.RWMutex
	ints  map[string]int64
	flts  map[string]float64
	strs  map[string]string
	dirty map[string]struct{}
	subs  []func(changed []string)
}

// NewParams returns an empty parameter store.
func NewParams() *Params {
	return &Params{
		ints:  make(map[string]int64),
		flts:  make(map[string]float64),
		strs:  make(map[string]string),
		dirty: make(map[string]struct{}),
	}
}

// Subscribe registers f to be called, with the sorted list of changed
// parameter names, on every notification.
func (ps *Params) Subscribe(f func(changed []string)) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.subs = append(ps.subs, f)
}

func (ps *Params) SetInt(name string, v int64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if old, ok := ps.ints[name]; ok && old == v {
		return
	}
	ps.ints[name] = v
	ps.dirty[name] = struct{}{}
}

func (ps *Params) SetFloat(name string, v float64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if old, ok := ps.flts[name]; ok && old == v {
		return
	}
	ps.flts[name] = v
	ps.dirty[name] = struct{}{}
}

func (ps *Params) SetString(name string, v string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if old, ok := ps.strs[name]; ok && old == v {
		return
	}
	ps.strs[name] = v
	ps.dirty[name] = struct{}{}
}

func (ps *Params) Notify() {
	ps.mu.Lock()
	if len(ps.dirty) == 0 {
		ps.mu.Unlock()
		return
	}
	changed := make([]string, 0, len(ps.dirty))
	for k := range ps.dirty {
		changed = append(changed, k)
	}
	sort.Strings(changed)
	ps.dirty = make(map[string]struct{})
	subs := ps.subs
	ps.mu.Unlock()

	for _, f := range subs {
		f(changed)
	}
}

func (ps *Params) Int(name string) (int64, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	v, ok := ps.ints[name]
	return v, ok
}

func (ps *Params) Float(name string) (float64, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	v, ok := ps.flts[name]
	return v, ok
}

func (ps *Params) Str(name string) (string, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	v, ok := ps.strs[name]
	return v, ok
}

var _ ParamStore = (*Params)(nil)
