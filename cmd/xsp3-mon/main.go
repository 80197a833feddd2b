// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xsp3-mon monitors an xsp3-svc service and sends alerts when a
// run stalls or fails.
//
// Mail alerts are configured with the MAIL_USERNAME, MAIL_PASSWORD,
// MAIL_SERVER, MAIL_PORT and MAIL_TGTS environment variables.
// SMS alerts are posted to $SMS_ENDPOINT.
package main // import "github.com/go-lpc/xsp3/cmd/xsp3-mon"

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/xsp3/ctl"
)

func main() {
	var (
		addr = flag.String("addr", "localhost:7777", "[ip]:port of the xsp3-svc control server")
		freq = flag.Duration("freq", 30*time.Second, "polling interval")
		sms  = flag.Bool("sms", false, "enable SMS alerts")
	)

	flag.Parse()

	log.SetPrefix("xsp3-mon: ")
	log.SetFlags(0)

	alerters := []alerter{newMailer()}
	if *sms {
		alerters = append(alerters, newSMS(os.Getenv("SMS_ENDPOINT")))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	mon := newMonitor(*freq, dialStatus(*addr), alerters...)
	log.Printf("monitoring %q every %v...", *addr, *freq)
	mon.run(ctx)
}

// dialStatus returns a poller querying the status of the service at addr.
// The connection is re-established after a failure.
func dialStatus(addr string) poller {
	var cli *ctl.Client
	return func() (ctl.Status, error) {
		if cli == nil {
			c, err := ctl.Dial(addr)
			if err != nil {
				return ctl.Status{}, err
			}
			cli = c
		}
		st, err := cli.Status()
		if err != nil && !ctl.IsRemote(err) {
			_ = cli.Close()
			cli = nil
		}
		return st, err
	}
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}

func splitTargets(s string) []string {
	var o []string
	for _, v := range strings.Split(s, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			o = append(o, v)
		}
	}
	return o
}
