// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb holds types to describe the configuration and run-history
// database of the Xspress3 detector.
package conddb // import "github.com/go-lpc/xsp3/conddb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

const (
	host = "localhost"
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// DB exposes convenience methods to easily retrieve and record run
// configurations from the Xspress3 database.
type DB struct {
	db   *sql.DB
	name string // name of the Xspress3 database
}

// Open opens a connection to the Xspress3 database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

const runColumns = `id, run, datetime, cards, channels, frames, capacity, nbins, dtc, mode, trigger, itfg_time, config_path, state, nframes`

func scanRun(rows *sql.Rows, run *Run) error {
	var id string
	err := rows.Scan(
		&id, &run.Number, &run.Time,
		&run.Cards, &run.Channels, &run.Frames, &run.Capacity, &run.Bins,
		&run.DTC, &run.Mode, &run.Trigger, &run.ITFGTime, &run.ConfigPath,
		&run.State, &run.NFrames,
	)
	if err != nil {
		return err
	}
	run.ID, err = uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", id, err)
	}
	return nil
}

// LastRunNumber returns the number of the most recent run, or zero
// if no run was ever recorded.
func (db *DB) LastRunNumber(ctx context.Context) (uint32, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var run uint32
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT run FROM runs ORDER BY datetime DESC LIMIT 1",
	)
	if err != nil {
		return run, fmt.Errorf("conddb: could not query last run number: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&run)
		if err != nil {
			return run, fmt.Errorf("conddb: could not get last run number value: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return run, fmt.Errorf("conddb: could not scan db for last run number: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return run, fmt.Errorf("conddb: context error while retrieving last run number: %w", err)
	}

	return run, nil
}

// LastRun returns the configuration of the most recent run.
func (db *DB) LastRun(ctx context.Context) (Run, error) {
	runs, err := db.Runs(ctx, 1)
	if err != nil {
		return Run{}, fmt.Errorf("conddb: could not retrieve last run: %w", err)
	}
	if len(runs) == 0 {
		return Run{}, fmt.Errorf("conddb: no run in %q db", db.name)
	}
	return runs[0], nil
}

// Runs returns the n most recent runs, most recent first.
func (db *DB) Runs(ctx context.Context, n int) ([]Run, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var runs []Run
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT "+runColumns+" FROM runs ORDER BY datetime DESC LIMIT ?",
		n,
	)
	if err != nil {
		return runs, fmt.Errorf("conddb: could not run runs query: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		var run Run
		err = scanRun(rows, &run)
		if err != nil {
			return runs, fmt.Errorf("conddb: could not scan row %d for runs: %w", i, err)
		}
		i++
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return runs, fmt.Errorf("conddb: could not scan db for runs: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return runs, fmt.Errorf("conddb: context error while retrieving runs: %w", err)
	}

	return runs, nil
}

// BeginRun records the configuration of a new run.
func (db *DB) BeginRun(ctx context.Context, run Run) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		"INSERT INTO runs ("+runColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		run.ID.String(), run.Number, run.Time,
		run.Cards, run.Channels, run.Frames, run.Capacity, run.Bins,
		run.DTC, run.Mode, run.Trigger, run.ITFGTime, run.ConfigPath,
		run.State, run.NFrames,
	)
	if err != nil {
		return fmt.Errorf("conddb: could not insert run %d: %w", run.Number, err)
	}
	return nil
}

// EndRun records the outcome of the run identified by id.
func (db *DB) EndRun(ctx context.Context, id uuid.UUID, state string, nframes int) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		"UPDATE runs SET state=?, nframes=? WHERE id=?",
		state, nframes, id.String(),
	)
	if err != nil {
		return fmt.Errorf("conddb: could not update run %v: %w", id, err)
	}
	return nil
}
