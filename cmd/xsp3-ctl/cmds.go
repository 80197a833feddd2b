// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/go-lpc/xsp3"
	"github.com/go-lpc/xsp3/ctl"
	"github.com/spf13/cobra"
)

// command is a control request issued from the command line or the
// interactive shell.
type command struct {
	name  string
	usage string
	help  string
	nargs int // number of expected arguments, -1 for 0 or 1
	run   func(cli *ctl.Client, w io.Writer, args []string) error
}

var commands = []command{
	{
		name: "connect", help: "connect to the detector",
		run: func(cli *ctl.Client, w io.Writer, args []string) error {
			return cli.Connect()
		},
	},
	{
		name: "disconnect", help: "disconnect from the detector",
		run: func(cli *ctl.Client, w io.Writer, args []string) error {
			return cli.Disconnect()
		},
	},
	{
		name: "start", usage: "[frames]", help: "start a run", nargs: -1,
		run: func(cli *ctl.Client, w io.Writer, args []string) error {
			n := 0
			if len(args) == 1 {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid number of frames %q: %w", args[0], err)
				}
				n = v
			}
			run, err := cli.Start(n)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "run %d started\n", run)
			return nil
		},
	},
	{
		name: "stop", help: "stop the current run",
		run: func(cli *ctl.Client, w io.Writer, args []string) error {
			return cli.Stop()
		},
	},
	{
		name: "wait", help: "wait for the current run to end",
		run: func(cli *ctl.Client, w io.Writer, args []string) error {
			res, err := cli.Wait()
			if err != nil {
				return err
			}
			printResult(w, res)
			return nil
		},
	},
	{
		name: "erase", help: "erase the detector memory",
		run: func(cli *ctl.Client, w io.Writer, args []string) error {
			return cli.Erase()
		},
	},
	{
		name: "status", help: "display the status of the service",
		run: func(cli *ctl.Client, w io.Writer, args []string) error {
			st, err := cli.Status()
			if err != nil {
				return err
			}
			printStatus(w, st)
			return nil
		},
	},
	{
		name: "save", usage: "dir", help: "save the detector settings to dir", nargs: 1,
		run: func(cli *ctl.Client, w io.Writer, args []string) error {
			return cli.Save(args[0])
		},
	},
	{
		name: "restore", usage: "dir", help: "restore the detector settings from dir", nargs: 1,
		run: func(cli *ctl.Client, w io.Writer, args []string) error {
			return cli.Restore(args[0])
		},
	},
	{
		name: "set", usage: "name value", help: "set a configuration value", nargs: 2,
		run: func(cli *ctl.Client, w io.Writer, args []string) error {
			return cli.Set(args[0], args[1])
		},
	},
	{
		name: "window", usage: "chan win lo hi", help: "set a region of interest", nargs: 4,
		run: func(cli *ctl.Client, w io.Writer, args []string) error {
			vs, err := atois(args)
			if err != nil {
				return err
			}
			return cli.SetWindow(vs[0], vs[1], vs[2], vs[3])
		},
	},
	{
		name: "threshold", usage: "chan value", help: "set the good-event threshold of a channel", nargs: 2,
		run: func(cli *ctl.Client, w io.Writer, args []string) error {
			vs, err := atois(args)
			if err != nil {
				return err
			}
			if vs[1] < 0 {
				return fmt.Errorf("invalid threshold %d", vs[1])
			}
			return cli.SetThreshold(vs[0], uint32(vs[1]))
		},
	},
	{
		name: "info", usage: "chan", help: "display the settings of a channel", nargs: 1,
		run: func(cli *ctl.Client, w io.Writer, args []string) error {
			ch, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid channel %q: %w", args[0], err)
			}
			info, err := cli.Info(ch)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "channel:   %d\n", ch)
			fmt.Fprintf(w, "threshold: %d\n", info.GoodThreshold)
			for i, win := range info.Windows {
				fmt.Fprintf(w, "window-%d:  [%d, %d]\n", i, win[0], win[1])
			}
			fmt.Fprintf(w, "dead-time: %+v\n", info.DeadTime)
			return nil
		},
	},
}

func lookup(name string) (command, bool) {
	for _, cmd := range commands {
		if cmd.name == name {
			return cmd, true
		}
	}
	return command{}, false
}

func (cmd command) check(args []string) error {
	switch {
	case cmd.nargs < 0:
		if len(args) > 1 {
			return fmt.Errorf("%s: too many arguments (usage: %s %s)", cmd.name, cmd.name, cmd.usage)
		}
	case len(args) != cmd.nargs:
		return fmt.Errorf("%s: invalid number of arguments (usage: %s %s)", cmd.name, cmd.name, cmd.usage)
	}
	return nil
}

// do runs the command line args against cli.
func do(cli *ctl.Client, w io.Writer, args []string) error {
	if len(args) == 0 {
		return nil
	}
	cmd, ok := lookup(args[0])
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}
	err := cmd.check(args[1:])
	if err != nil {
		return err
	}
	return cmd.run(cli, w, args[1:])
}

func atois(args []string) ([]int, error) {
	vs := make([]int, len(args))
	for i, arg := range args {
		v, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", arg, err)
		}
		vs[i] = v
	}
	return vs, nil
}

func printResult(w io.Writer, res ctl.Result) {
	fmt.Fprintf(w, "state:  %s\n", res.State)
	fmt.Fprintf(w, "reason: %s\n", res.Reason)
	fmt.Fprintf(w, "frames: %d\n", res.Frames)
	if res.Unpublished > 0 {
		fmt.Fprintf(w, "lost:   %d\n", res.Unpublished)
	}
	if res.Err != "" {
		fmt.Fprintf(w, "error:  %s\n", res.Err)
	}
}

func printStatus(w io.Writer, st ctl.Status) {
	fmt.Fprintf(w, "state:     %s\n", st.State)
	fmt.Fprintf(w, "connected: %v\n", st.Connected)
	fmt.Fprintf(w, "message:   %s\n", st.Msg)
	fmt.Fprintf(w, "run:       %d (%v)\n", st.Run, st.RunID)
	fmt.Fprintf(w, "frames:    %d\n", st.Frames)
	fmt.Fprintf(
		w, "progress:  last=%d, current=%d, requested=%d, capacity=%d\n",
		st.Progress.Last, st.Progress.Current, st.Progress.Requested, st.Progress.Capacity,
	)
	cfg := st.Config
	fmt.Fprintf(
		w, "config:    channels=%d, bins=%d, frames=%d, capacity=%d, dtc=%v, mode=%v\n",
		cfg.Channels, cfg.MaxSpectra, cfg.Frames, cfg.Capacity, cfg.DTC, cfg.Mode,
	)
	fmt.Fprintf(w, "trigger:   %+v\n", cfg.Trigger)
	fmt.Fprintf(w, "itfg:      %+v\n", cfg.ITFG)
	fmt.Fprintf(w, "last run:  state=%s, reason=%s, frames=%d", st.Last.State, st.Last.Reason, st.Last.Frames)
	if st.Last.Err != "" {
		fmt.Fprintf(w, ", err=%q", st.Last.Err)
	}
	fmt.Fprintf(w, "\n")
	for i, scal := range st.Scalars {
		fmt.Fprintf(w, "scalars[%d]: %v\n", i, scal)
	}
}

func newRootCmd() *cobra.Command {
	var addr string

	version, _ := xsp3.Version()
	root := &cobra.Command{
		Use:           "xsp3-ctl",
		Version:       version,
		Short:         "xsp3-ctl controls an Xspress3 acquisition service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", "localhost:7777", "[ip]:port of the xsp3-svc control server")

	for _, cmd := range commands {
		cmd := cmd
		use := cmd.name
		if cmd.usage != "" {
			use += " " + cmd.usage
		}
		args := cobra.ExactArgs(cmd.nargs)
		if cmd.nargs < 0 {
			args = cobra.MaximumNArgs(1)
		}
		root.AddCommand(&cobra.Command{
			Use:   use,
			Short: cmd.help,
			Args:  args,
			RunE: func(c *cobra.Command, args []string) error {
				return withClient(addr, func(cli *ctl.Client) error {
					return cmd.run(cli, c.OutOrStdout(), args)
				})
			},
		})
	}

	root.AddCommand(&cobra.Command{
		Use:   "shell",
		Short: "run an interactive control shell",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return withClient(addr, func(cli *ctl.Client) error {
				return shell(cli, c.OutOrStdout())
			})
		},
	})

	return root
}

func withClient(addr string, f func(cli *ctl.Client) error) error {
	cli, err := ctl.Dial(addr)
	if err != nil {
		return err
	}
	defer cli.Close()

	return f(cli)
}

func help(w io.Writer) {
	names := make([]string, 0, len(commands))
	for _, cmd := range commands {
		names = append(names, cmd.name)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "commands:\n")
	for _, name := range names {
		cmd, _ := lookup(name)
		fmt.Fprintf(w, "  %-28s %s\n", strings.TrimSpace(cmd.name+" "+cmd.usage), cmd.help)
	}
	fmt.Fprintf(w, "  %-28s %s\n", "help", "display this message")
	fmt.Fprintf(w, "  %-28s %s\n", "quit", "leave the shell")
}
