// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-lpc/xsp3/ctl"
	"github.com/peterh/liner"
)

const histName = ".xsp3-ctl.history"

func shell(cli *ctl.Client, w io.Writer) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(complete)

	hist := histFile()
	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt("xsp3> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				fmt.Fprintf(w, "\n")
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		term.AppendHistory(line)

		switch args[0] {
		case "quit", "exit":
			return nil
		case "help", "?":
			help(w)
			continue
		}

		err = do(cli, w, args)
		if err != nil {
			fmt.Fprintf(w, "error: %+v\n", err)
		}
	}
}

func histFile() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, histName)
}

func complete(line string) []string {
	var o []string
	for _, cmd := range commands {
		if strings.HasPrefix(cmd.name, line) {
			o = append(o, cmd.name)
		}
	}
	for _, name := range []string{"help", "quit"} {
		if strings.HasPrefix(name, line) {
			o = append(o, name)
		}
	}
	return o
}
