// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ctl exposes an Xspress3 acquisition controller over a
// JSON-over-TCP control protocol.
//
// Each request is a JSON object {"name": ..., "args": ...}; the server
// answers every request with a JSON object {"msg": ..., "data": ...}
// where msg is "ok" on success and the error message otherwise.
package ctl // import "github.com/go-lpc/xsp3/ctl"

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-lpc/xsp3/acq"
	"github.com/go-lpc/xsp3/conddb"
	"github.com/google/uuid"
)

const replyOK = "ok"

type request struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type reply struct {
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RunLog records the history of runs.
type RunLog interface {
	LastRunNumber(ctx context.Context) (uint32, error)
	BeginRun(ctx context.Context, run conddb.Run) error
	EndRun(ctx context.Context, id uuid.UUID, state string, nframes int) error
}

var _ RunLog = (*conddb.DB)(nil)

// StartArgs are the arguments of a start request.
type StartArgs struct {
	Frames int    `json:"frames"`
	Run    uint32 `json:"run,omitempty"` // zero selects the next run number
}

// WindowArgs are the arguments of a window request.
type WindowArgs struct {
	Channel int `json:"channel"`
	Window  int `json:"window"`
	Lo      int `json:"lo"`
	Hi      int `json:"hi"`
}

// ThresholdArgs are the arguments of a threshold request.
type ThresholdArgs struct {
	Channel int    `json:"channel"`
	Value   uint32 `json:"value"`
}

// SetArgs are the arguments of a set request.
type SetArgs struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Result describes how a run ended.
type Result struct {
	State  string `json:"state"`
	Reason string `json:"reason"`
	Frames int    `json:"frames"`
	Err    string `json:"err,omitempty"`

	Unpublished int `json:"unpublished,omitempty"` // frames rejected by the output
}

func newResult(res acq.Result) Result {
	o := Result{
		State:       res.State.String(),
		Reason:      res.Reason.String(),
		Frames:      res.Frames,
		Unpublished: res.Unpublished,
	}
	if res.Err != nil {
		o.Err = res.Err.Error()
	}
	return o
}

// Status is a snapshot of the state of a service.
type Status struct {
	State     string        `json:"state"`
	Connected bool          `json:"connected"`
	Msg       string        `json:"msg"`
	Frames    int           `json:"frames"`
	Progress  acq.Progress  `json:"progress"`
	Scalars   []acq.Scalars `json:"scalars"`
	Config    acq.Config    `json:"config"`
	Last      Result        `json:"last"`
	Run       uint32        `json:"run"`
	RunID     uuid.UUID     `json:"run_id"`
}

// errRemote is a failure reported by the server.
type errRemote struct {
	msg string
}

func (err errRemote) Error() string { return err.msg }

// IsRemote reports whether err was returned by the server.
func IsRemote(err error) bool {
	var e errRemote
	return errors.As(err, &e)
}
