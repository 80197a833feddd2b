// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xsp3-ctl sends control requests to an xsp3-svc service.
//
// ex:
//
//	$> xsp3-ctl connect
//	$> xsp3-ctl set trigger software
//	$> xsp3-ctl start 100
//	$> xsp3-ctl wait
//	$> xsp3-ctl -addr=daq:7777 shell
package main // import "github.com/go-lpc/xsp3/cmd/xsp3-ctl"

import (
	"fmt"
	"os"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "xsp3-ctl: %+v\n", err)
		os.Exit(1)
	}
}
