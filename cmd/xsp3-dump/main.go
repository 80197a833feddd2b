// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// xsp3-dump decodes and displays Xspress3 frames stored in raw, LCIO or
// live-view files.
//
// Usage: xsp3-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> xsp3-dump ./xsp3-run-000042.raw
//	=== run 42 (6ba7b810-9dad-11d1-80b4-00c04fd430c8) ===
//	channels: 4
//	bins:     4096
//	dtc:      false
//	time:     2020-06-01 12:00:00 +0000 UTC
//	--- frame 0 (2020-06-01 12:00:00.001 +0000 UTC) ---
//	  ch=00 counts=      1234 scalars=[1000 1234 0 0 12 11 10 9]
//	  ch=01 counts=       567 scalars=[500 567 0 0 3 2 1 0]
//	[...]
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-lpc/xsp3/acq"
	"github.com/go-lpc/xsp3/internal/eformat"
	"github.com/go-lpc/xsp3/internal/xcnv"
	"github.com/go-lpc/xsp3/sink"
	"go-hep.org/x/hep/lcio"
)

const usage = `xsp3-dump decodes and displays Xspress3 frames stored in raw, LCIO or live-view files.

Usage: xsp3-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

Example:

 $> xsp3-dump ./xsp3-run-000042.raw
 $> xsp3-dump -spectra -n=2 ./xsp3-run-000042.slcio
 $> xsp3-dump -live /dev/shm/xsp3

`

func main() {
	xmain(os.Stdout, os.Args[1:])
}

func xmain(w io.Writer, args []string) {
	log.SetPrefix("xsp3-dump: ")
	log.SetFlags(0)

	var (
		fset = flag.NewFlagSet("xsp3-dump", flag.ExitOnError)

		live = fset.Bool("live", false, "input files are live-view files")
		spec = fset.Bool("spectra", false, "display spectra")
		nmax = fset.Int("n", -1, "maximum number of frames to display (-1: all)")
	)

	fset.Usage = func() {
		fmt.Print(usage)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		log.Fatalf("could not parse input arguments: %+v", err)
	}

	if fset.NArg() == 0 {
		fset.Usage()
		log.Fatalf("missing path to input file")
	}

	opts := options{spectra: *spec, nmax: *nmax}
	for _, fname := range fset.Args() {
		var err error
		switch {
		case *live:
			err = dumpLive(w, fname, opts)
		default:
			err = process(w, fname, opts)
		}
		if err != nil {
			log.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}
}

type options struct {
	spectra bool
	nmax    int
}

func isLCIO(fname string) bool {
	switch strings.ToLower(filepath.Ext(fname)) {
	case ".slcio", ".lcio":
		return true
	}
	return false
}

func process(w io.Writer, fname string, opts options) error {
	switch {
	case isLCIO(fname):
		r, err := lcio.Open(fname)
		if err != nil {
			return fmt.Errorf("could not open LCIO file: %w", err)
		}
		defer r.Close()

		rp, wp := io.Pipe()
		defer rp.Close()

		msg := log.New(io.Discard, "", 0)
		ch := make(chan error, 1)
		go func() {
			defer wp.Close()
			_, err := xcnv.LCIO2Raw(wp, r, 0, msg)
			ch <- err
		}()

		err = dump(w, rp, opts)
		if err != nil {
			_ = rp.CloseWithError(err)
			<-ch
			return err
		}
		_, _ = io.Copy(io.Discard, rp)

		err = <-ch
		if err != nil {
			return fmt.Errorf("could not convert LCIO file: %w", err)
		}
		return nil

	default:
		f, err := os.Open(fname)
		if err != nil {
			return fmt.Errorf("could not open raw file: %w", err)
		}
		defer f.Close()

		return dump(w, bufio.NewReader(f), opts)
	}
}

func dump(w io.Writer, r io.Reader, opts options) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	dec := eformat.NewDecoder(r)

	var hdr eformat.Header
	err := dec.ReadHeader(&hdr)
	if err != nil {
		if errors.Is(err, io.EOF) {
			fmt.Fprintf(wbuf, "=== empty stream ===\n")
			return nil
		}
		return fmt.Errorf("could not decode header: %w", err)
	}
	fmt.Fprintf(wbuf, "=== run %d (%v) ===\n", hdr.Run, hdr.RunID)
	fmt.Fprintf(wbuf, "channels: %d\n", hdr.Channels)
	fmt.Fprintf(wbuf, "bins:     %d\n", hdr.Bins)
	fmt.Fprintf(wbuf, "dtc:      %v\n", hdr.DTC)
	fmt.Fprintf(wbuf, "time:     %v\n", hdr.Time)

	n := 0
	for opts.nmax < 0 || n < opts.nmax {
		var rec acq.Record
		err := dec.Decode(&rec)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("could not decode frame: %w", err)
		}
		dumpRecord(wbuf, rec, opts)
		n++
	}
	fmt.Fprintf(wbuf, "frames:   %d\n", n)

	return nil
}

func dumpRecord(w io.Writer, rec acq.Record, opts options) {
	fmt.Fprintf(w, "--- frame %d (%v) ---\n", rec.Frame, rec.Time)
	for i, ch := range rec.Channels {
		fmt.Fprintf(w, "  ch=%02d counts=% 10g scalars=%v\n", i, sum(ch.Spectrum), ch.Scalars)
		if !opts.spectra {
			continue
		}
		for j, v := range ch.Spectrum {
			if v == 0 {
				continue
			}
			fmt.Fprintf(w, "    bin=%04d %g\n", j, v)
		}
	}
}

func dumpLive(w io.Writer, fname string, opts options) error {
	live, err := sink.ReadLive(fname)
	if err != nil {
		return err
	}

	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	fmt.Fprintf(wbuf, "=== live view: run %d ===\n", live.Run)
	fmt.Fprintf(wbuf, "count:    %d\n", live.Count)
	if live.Count > 0 {
		dumpRecord(wbuf, live.Record, opts)
	}
	return nil
}

func sum(vs []float64) float64 {
	var o float64
	for _, v := range vs {
		o += v
	}
	return o
}
