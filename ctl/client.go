// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ctl

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-lpc/xsp3/acq"
)

// Client sends control requests to a server.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

// Dial connects to the control server at addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ctl: could not dial %q: %w", addr, err)
	}
	return &Client{
		conn: conn,
		enc:  json.NewEncoder(conn),
		dec:  json.NewDecoder(conn),
	}, nil
}

// Close closes the connection to the server.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send sends the named request with its arguments and decodes the
// reply payload into ptr, if ptr is not nil.
func (c *Client) Send(name string, args, ptr interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := request{Name: name}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("ctl: could not encode %q arguments: %w", name, err)
		}
		req.Args = raw
	}

	err := c.enc.Encode(req)
	if err != nil {
		return fmt.Errorf("ctl: could not send %q request: %w", name, err)
	}

	var rep reply
	err = c.dec.Decode(&rep)
	if err != nil {
		return fmt.Errorf("ctl: could not receive %q reply: %w", name, err)
	}

	if rep.Msg != replyOK {
		return fmt.Errorf("ctl: %s: %w", name, errRemote{rep.Msg})
	}

	if ptr != nil && len(rep.Data) != 0 {
		err = json.Unmarshal(rep.Data, ptr)
		if err != nil {
			return fmt.Errorf("ctl: could not decode %q reply: %w", name, err)
		}
	}
	return nil
}

func (c *Client) Connect() error    { return c.Send("connect", nil, nil) }
func (c *Client) Disconnect() error { return c.Send("disconnect", nil, nil) }
func (c *Client) Stop() error       { return c.Send("stop", nil, nil) }
func (c *Client) Erase() error      { return c.Send("erase", nil, nil) }

// Start starts a run of n frames and returns its run number.
// A non-positive n selects the configured number of frames.
func (c *Client) Start(n int) (uint32, error) {
	var run uint32
	err := c.Send("start", StartArgs{Frames: n}, &run)
	return run, err
}

// Wait waits for the current run to be over.
func (c *Client) Wait() (Result, error) {
	var res Result
	err := c.Send("wait", nil, &res)
	return res, err
}

func (c *Client) Status() (Status, error) {
	var st Status
	err := c.Send("status", nil, &st)
	return st, err
}

func (c *Client) Save(dir string) error    { return c.Send("save", dir, nil) }
func (c *Client) Restore(dir string) error { return c.Send("restore", dir, nil) }

// Set modifies the named acquisition setting.
func (c *Client) Set(name, value string) error {
	return c.Send("set", SetArgs{Name: name, Value: value}, nil)
}

func (c *Client) SetWindow(ch, win, lo, hi int) error {
	return c.Send("window", WindowArgs{Channel: ch, Window: win, Lo: lo, Hi: hi}, nil)
}

func (c *Client) SetThreshold(ch int, v uint32) error {
	return c.Send("threshold", ThresholdArgs{Channel: ch, Value: v}, nil)
}

func (c *Client) Info(ch int) (acq.ChannelInfo, error) {
	var info acq.ChannelInfo
	err := c.Send("info", ch, &info)
	return info, err
}
