// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xsp3-sql displays the run history recorded in the Xspress3
// database.
package main // import "github.com/go-lpc/xsp3/cmd/xsp3-sql"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/go-lpc/xsp3/conddb"
)

const (
	dbname = "xsp3"
)

func main() {
	log.SetPrefix("xsp3-sql: ")
	log.SetFlags(0)

	var (
		name = flag.String("db", dbname, "name of the run-history database")
		nrun = flag.Int("n", 10, "number of runs to display")
	)

	flag.Parse()

	db, err := conddb.Open(*name)
	if err != nil {
		log.Fatalf("could not open xsp3 db: %+v", err)
	}
	defer db.Close()

	err = doQuery(os.Stdout, db, *nrun)
	if err != nil {
		log.Fatalf("could not do query: %+v", err)
	}
}

type runStore interface {
	LastRun(ctx context.Context) (conddb.Run, error)
	Runs(ctx context.Context, n int) ([]conddb.Run, error)
}

var _ runStore = (*conddb.DB)(nil)

func doQuery(w io.Writer, db runStore, n int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	last, err := db.LastRun(ctx)
	if err != nil {
		return fmt.Errorf("could not get last run: %w", err)
	}
	fmt.Fprintf(w, "last run: %d (%v)\n", last.Number, last.ID)
	fmt.Fprintf(w, "  date:     %v\n", last.Time.Format(time.RFC3339))
	fmt.Fprintf(w, "  channels: %d (cards=%d)\n", last.Channels, last.Cards)
	fmt.Fprintf(w, "  frames:   %d/%d (capacity=%d)\n", last.NFrames, last.Frames, last.Capacity)
	fmt.Fprintf(w, "  bins:     %d\n", last.Bins)
	fmt.Fprintf(w, "  dtc:      %v\n", last.DTC)
	fmt.Fprintf(w, "  mode:     %s\n", last.Mode)
	fmt.Fprintf(w, "  trigger:  0x%08x\n", last.Trigger)
	fmt.Fprintf(w, "  itfg:     %gs\n", last.ITFGTime)
	fmt.Fprintf(w, "  settings: %q\n", last.ConfigPath)
	fmt.Fprintf(w, "  state:    %s\n", last.State)

	runs, err := db.Runs(ctx, n)
	if err != nil {
		return fmt.Errorf("could not retrieve runs: %w", err)
	}

	fmt.Fprintf(w, "\n")
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprintf(tw, "run\tdate\tstate\tframes\trequested\tchannels\tmode\n")
	for _, run := range runs {
		fmt.Fprintf(
			tw, "%d\t%s\t%s\t%d\t%d\t%d\t%s\n",
			run.Number, run.Time.Format(time.RFC3339), run.State,
			run.NFrames, run.Frames, run.Channels, run.Mode,
		)
	}
	return tw.Flush()
}
