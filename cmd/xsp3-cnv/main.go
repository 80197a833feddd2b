// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xsp3-cnv converts Xspress3 raw records files to LCIO files, and
// back.
//
// The direction of the conversion is inferred from the extension of the
// input file: .slcio and .lcio files are converted to raw files, other
// files to LCIO ones.
package main // import "github.com/go-lpc/xsp3/cmd/xsp3-cnv"

import (
	"bufio"
	"compress/flate"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-lpc/xsp3/internal/eformat"
	"github.com/go-lpc/xsp3/internal/xcnv"
	"go-hep.org/x/hep/lcio"
)

var (
	msg = log.New(os.Stdout, "xsp3-cnv: ", 0)
)

func main() {
	var (
		oname = flag.String("o", "", "path to output file")
		compr = flag.Int("lvl", flate.DefaultCompression, "compression level for output LCIO file")
		freq  = flag.Int("freq", 1000, "frequency of progress messages (0: none)")
	)

	flag.Usage = func() {
		fmt.Printf(`Usage: xsp3-cnv [OPTIONS] file

ex:
 $> xsp3-cnv -o out.slcio -lvl=9 ./xsp3-run-000042.raw
 $> xsp3-cnv -o out.raw ./xsp3-run-000042.slcio

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		msg.Fatalf("missing input file")
	}

	fname := flag.Arg(0)
	if *oname == "" {
		*oname = outName(fname)
	}

	n, err := process(*oname, fname, *compr, *freq)
	if err != nil {
		msg.Fatalf("could not convert %q: %+v", fname, err)
	}
	msg.Printf("converted %d frames to %q", n, *oname)
}

func isLCIO(fname string) bool {
	switch strings.ToLower(filepath.Ext(fname)) {
	case ".slcio", ".lcio":
		return true
	}
	return false
}

// outName returns the default output file name for the input fname.
func outName(fname string) string {
	base := strings.TrimSuffix(filepath.Base(fname), filepath.Ext(fname))
	if isLCIO(fname) {
		return base + ".raw"
	}
	return base + ".slcio"
}

func process(oname, fname string, compr, freq int) (int, error) {
	if isLCIO(fname) {
		return lcio2raw(oname, fname, freq)
	}
	return raw2lcio(oname, fname, compr, freq)
}

func raw2lcio(oname, fname string, compr, freq int) (int, error) {
	f, err := os.Open(fname)
	if err != nil {
		return 0, fmt.Errorf("could not open raw file: %w", err)
	}
	defer f.Close()

	w, err := lcio.Create(oname)
	if err != nil {
		return 0, fmt.Errorf("could not create output LCIO file: %w", err)
	}
	defer w.Close()
	w.SetCompressionLevel(compr)

	n, err := xcnv.Raw2LCIO(w, eformat.NewDecoder(bufio.NewReader(f)), freq, msg)
	if err != nil {
		return n, fmt.Errorf("could not convert to LCIO: %w", err)
	}

	err = w.Close()
	if err != nil {
		return n, fmt.Errorf("could not close output LCIO file: %w", err)
	}
	return n, nil
}

func lcio2raw(oname, fname string, freq int) (int, error) {
	r, err := lcio.Open(fname)
	if err != nil {
		return 0, fmt.Errorf("could not open LCIO file: %w", err)
	}
	defer r.Close()

	f, err := os.Create(oname)
	if err != nil {
		return 0, fmt.Errorf("could not create output raw file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	n, err := xcnv.LCIO2Raw(w, r, freq, msg)
	if err != nil {
		return n, fmt.Errorf("could not convert to raw: %w", err)
	}

	err = w.Flush()
	if err != nil {
		return n, fmt.Errorf("could not flush output raw file: %w", err)
	}
	err = f.Close()
	if err != nil {
		return n, fmt.Errorf("could not close output raw file: %w", err)
	}
	return n, nil
}
