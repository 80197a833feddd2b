// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-daq/tdaq/log"
)

func TestParams(t *testing.T) {
	ps := NewParams()

	var got [][]string
	ps.Subscribe(func(changed []string) {
		got = append(got, changed)
	})

	ps.Notify() // nothing changed yet.

	ps.SetInt(ParamFrames, 2)
	ps.SetString(ParamState, "idle")
	ps.SetFloat(ScalarParam(1, ScalAllEvent), 42)
	ps.Notify()

	ps.SetInt(ParamFrames, 2) // same value.
	ps.Notify()

	ps.SetInt(ParamFrames, 3)
	ps.Notify()

	want := [][]string{
		{"chan-01.all-event", "frames", "state"},
		{"frames"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid notifications:\ngot= %q\nwant=%q", got, want)
	}

	if v, ok := ps.Int(ParamFrames); !ok || v != 3 {
		t.Fatalf("invalid frames: got=%d (ok=%v)", v, ok)
	}
	if v, ok := ps.Float(ScalarParam(1, ScalAllEvent)); !ok || v != 42 {
		t.Fatalf("invalid scaler: got=%v (ok=%v)", v, ok)
	}
	if v, ok := ps.Str(ParamState); !ok || v != "idle" {
		t.Fatalf("invalid state: got=%q (ok=%v)", v, ok)
	}
	if _, ok := ps.Str("not-there"); ok {
		t.Fatalf("unexpected parameter")
	}
}

func TestScalarParam(t *testing.T) {
	for _, tc := range []struct {
		ch, i int
		want  string
	}{
		{0, ScalTime, "chan-00.time"},
		{3, ScalInWindow1, "chan-03.in-window-1"},
		{12, ScalPileup, "chan-12.pileup"},
		{1, 42, "chan-01.scaler-42"},
	} {
		t.Run(tc.want, func(t *testing.T) {
			if got := ScalarParam(tc.ch, tc.i); got != tc.want {
				t.Fatalf("invalid name: got=%q, want=%q", got, tc.want)
			}
		})
	}
}

func TestPublisher(t *testing.T) {
	var (
		ps   = NewParams()
		msg  = log.NewMsgStream("test", log.LvlError, io.Discard)
		recs []int
		fail = map[int]bool{1: true}
	)
	pub := NewPublisher(msg, ps, ConsumerFunc(func(rec Record) error {
		recs = append(recs, rec.Frame)
		if fail[rec.Frame] {
			return fmt.Errorf("boom")
		}
		return nil
	}), time.Second)

	beg := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	now := beg
	pub.now = func() time.Time { return now }

	mk := func(frame int) Record {
		var sc Scalars
		sc[ScalAllEvent] = float64(frame)
		return Record{Frame: frame, Channels: []ChannelData{{Scalars: sc}}}
	}

	allEvent := func() float64 {
		v, _ := ps.Float(ScalarParam(0, ScalAllEvent))
		return v
	}

	pub.Publish(mk(0), false)
	if got, want := allEvent(), 0.0; got != want {
		t.Fatalf("invalid scaler: got=%v, want=%v", got, want)
	}

	now = beg.Add(100 * time.Millisecond)
	if err := pub.Publish(mk(1), false); err == nil {
		t.Fatalf("expected a consumer error")
	}
	if got, want := allEvent(), 0.0; got != want {
		t.Fatalf("scaler should be throttled: got=%v, want=%v", got, want)
	}

	pub.Publish(mk(2), true)
	if got, want := allEvent(), 2.0; got != want {
		t.Fatalf("scaler should be forced: got=%v, want=%v", got, want)
	}

	now = beg.Add(2 * time.Second)
	pub.Publish(mk(3), false)
	if got, want := allEvent(), 3.0; got != want {
		t.Fatalf("invalid scaler: got=%v, want=%v", got, want)
	}

	if got, want := recs, []int{0, 1, 2, 3}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid published frames: got=%v, want=%v", got, want)
	}
	if v, _ := ps.Int(ParamFrames); v != 4 {
		t.Fatalf("invalid frames counter: got=%d, want=4", v)
	}
	n, err := pub.failures()
	if got, want := n, 1; got != want {
		t.Fatalf("invalid consumer errors: got=%d, want=%d", got, want)
	}
	if err == nil || !strings.Contains(err.Error(), "frame 1: boom") {
		t.Fatalf("invalid consumer error: %+v", err)
	}

	pub.reset()
	if n, err := pub.failures(); n != 0 || err != nil {
		t.Fatalf("invalid reset: n=%d, err=%+v", n, err)
	}
}
