// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected     = errors.New("acq: not connected")
	ErrBusy             = errors.New("acq: busy")
	ErrAlreadyAcquiring = fmt.Errorf("acq: already acquiring: %w", ErrBusy)
	ErrOverflow         = errors.New("acq: frame capacity reached before requested frame count")
	ErrStall            = errors.New("acq: detector did not stop")
)

// ConfigError describes an invalid configuration value, detected before
// any hardware call.
type ConfigError struct {
	Field string
	Msg   string
}

func (err *ConfigError) Error() string {
	return fmt.Sprintf("acq: invalid %s: %s", err.Field, err.Msg)
}

func configErrorf(field, format string, args ...interface{}) error {
	return &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Code is a status code returned by the Xspress3 library.
type Code int

const (
	CodeOK              Code = 0
	CodeError           Code = -1
	CodeInvalidPath     Code = -2
	CodeIllegalCard     Code = -3
	CodeIllegalSubpath  Code = -4
	CodeInvalidDMA      Code = -5
	CodeRangeCheck      Code = -6
	CodeInvalidScopeMod Code = -7
)

func (c Code) Error() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeError:
		return "error"
	case CodeInvalidPath:
		return "invalid path"
	case CodeIllegalCard:
		return "illegal card"
	case CodeIllegalSubpath:
		return "illegal subpath"
	case CodeInvalidDMA:
		return "invalid DMA stream"
	case CodeRangeCheck:
		return "range check"
	case CodeInvalidScopeMod:
		return "invalid scope module"
	}
	return fmt.Sprintf("code %d", int(c))
}

// HardwareError is returned when a hardware adapter call fails.
type HardwareError struct {
	Op   string // name of the failing adapter operation
	Code Code
	Msg  string // last error message reported by the adapter
	Err  error
}

func (err *HardwareError) Error() string {
	if err.Msg == "" {
		return fmt.Sprintf("acq: %s failed (code=%d): %v", err.Op, int(err.Code), err.Err)
	}
	return fmt.Sprintf("acq: %s failed (code=%d, msg=%q): %v", err.Op, int(err.Code), err.Msg, err.Err)
}

func (err *HardwareError) Unwrap() error { return err.Err }

func hwError(hw Hardware, op string, err error) error {
	if err == nil {
		return nil
	}
	var herr *HardwareError
	if errors.As(err, &herr) {
		return herr
	}
	code := CodeError
	var c Code
	if errors.As(err, &c) {
		code = c
	}
	return &HardwareError{
		Op:   op,
		Code: code,
		Msg:  hw.LastError(),
		Err:  err,
	}
}
