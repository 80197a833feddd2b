// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xsp3 holds code to drive the acquisition of Xspress3
// multichannel spectroscopy detectors.
//
// The acquisition core lives in the acq package, hardware back-ends in
// the sim and hw packages, and output consumers in the sink package.
package xsp3 // import "github.com/go-lpc/xsp3"

import (
	"fmt"
	"runtime/debug"
)

// Version returns the version of xsp3 and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	const root = "github.com/go-lpc/xsp3"
	if b.Main.Path == root {
		return b.Main.Version, b.Main.Sum
	}

	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if r := m.Replace; r != nil {
			switch {
			case r.Version != "" && r.Path != "":
				return fmt.Sprintf("%s %s", r.Path, r.Version), r.Sum
			case r.Version != "":
				return r.Version, r.Sum
			case r.Path != "":
				return r.Path, r.Sum
			}
			return m.Version + "*", ""
		}
		return m.Version, m.Sum
	}
	return "", ""
}
