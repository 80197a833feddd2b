// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-lpc/xsp3/ctl"
)

// maxAlerts is the maximum number of alerts sent per topic.
const maxAlerts = 5

type poller func() (ctl.Status, error)

type alert struct {
	topic   string // alerts sharing a topic are rate limited together
	subject string
	body    string
}

type monitor struct {
	freq     time.Duration
	poll     poller
	alerters []alerter

	prev   ctl.Status
	seen   bool // whether prev holds a successful poll
	fails  int  // consecutive poll failures
	alerts map[string]int
}

func newMonitor(freq time.Duration, p poller, alerters ...alerter) *monitor {
	return &monitor{
		freq:     freq,
		poll:     p,
		alerters: alerters,
		alerts:   make(map[string]int),
	}
}

func (mon *monitor) run(ctx context.Context) {
	tick := time.NewTicker(mon.freq)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			mon.step()
		}
	}
}

// step polls the service once and sends the resulting alerts.
func (mon *monitor) step() {
	st, err := mon.poll()
	for _, a := range mon.check(st, err) {
		mon.send(a)
	}
}

// check compares the polled status with the previous one and returns
// the alerts to send.
func (mon *monitor) check(st ctl.Status, err error) []alert {
	if err != nil {
		mon.fails++
		log.Printf("could not poll service: %+v", err)
		if mon.fails < 2 {
			return nil
		}
		return []alert{{
			topic:   "unreachable",
			subject: "service unreachable",
			body:    fmt.Sprintf("failed polls: %d\nfreq: %v\nerror: %+v", mon.fails, mon.freq, err),
		}}
	}
	mon.fails = 0
	mon.alerts["unreachable"] = 0

	var (
		alerts []alert
		prev   = mon.prev
		seen   = mon.seen
	)
	mon.prev = st
	mon.seen = true

	if !seen {
		return nil
	}

	if st.RunID != prev.RunID {
		mon.alerts["stall"] = 0
		mon.alerts["run"] = 0
	}

	if st.State == "acquiring" && prev.State == "acquiring" &&
		st.RunID == prev.RunID && st.Frames == prev.Frames {
		alerts = append(alerts, alert{
			topic:   "stall",
			subject: fmt.Sprintf("run %d stalled", st.Run),
			body: fmt.Sprintf(
				"run: %d (%v)\nframes: %d\nrequested: %d\nfreq: %v",
				st.Run, st.RunID, st.Frames, st.Progress.Requested, mon.freq,
			),
		})
	}

	if st.Last != prev.Last && st.Last.Err != "" {
		alerts = append(alerts, alert{
			topic:   "run",
			subject: fmt.Sprintf("run %d ended with state %s", st.Run, st.Last.State),
			body: fmt.Sprintf(
				"run: %d (%v)\nstate: %s\nreason: %s\nframes: %d\nerror: %s",
				st.Run, st.RunID, st.Last.State, st.Last.Reason, st.Last.Frames, st.Last.Err,
			),
		})
	}

	if prev.Connected && !st.Connected {
		alerts = append(alerts, alert{
			topic:   "conn",
			subject: "detector disconnected",
			body:    fmt.Sprintf("state: %s\nmessage: %s", st.State, st.Msg),
		})
	}

	return alerts
}

func (mon *monitor) send(a alert) {
	log.Printf("alert: %s", a.subject)
	mon.alerts[a.topic]++
	if mon.alerts[a.topic] > maxAlerts {
		return
	}
	for _, al := range mon.alerters {
		err := al.alert(a.subject, a.body)
		if err != nil {
			log.Printf("could not send alert: %+v", err)
		}
	}
}
