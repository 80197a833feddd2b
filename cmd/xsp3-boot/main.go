// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xsp3-boot (re)starts all the Xspress3 DAQ processes.
//
// Each process logs into $XSP3LOGDIR/<name>.log (/var/log/xsp3 by
// default). With -pmon, the CPU and memory usage of each process is
// recorded into $XSP3LOGDIR/<name>-pmon.log.
//
// ex:
//
//	$> xsp3-boot -cfg=/etc/xsp3/svc.yaml -pmon
package main // import "github.com/go-lpc/xsp3/cmd/xsp3-boot"

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
)

var (
	dir = os.Getenv("XSP3LOGDIR")

	cfgFile = flag.String("cfg", "", "path to the xsp3-svc configuration file")
	doMon   = flag.Bool("pmon", false, "enable pmon monitoring")
	doFreq  = flag.Duration("freq", 1*time.Second, "pmon frequency")
	doAlert = flag.Bool("alert", true, "start the xsp3-mon alert monitor")

	stop = make(chan os.Signal, 1)
)

func main() {
	flag.Parse()

	log.SetPrefix("xsp3-boot: ")
	log.SetFlags(0)

	cmds := []*exec.Cmd{
		exec.Command("xsp3-svc", "-cfg="+*cfgFile),
	}
	if *doAlert {
		cmds = append(cmds, exec.Command("xsp3-mon"))
	}

	err := run(*doMon, *doFreq, cmds, dir, stop)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(doMon bool, freq time.Duration, cmds []*exec.Cmd, dir string, stop chan os.Signal) error {
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	for _, cmd := range cmds {
		name := filepath.Base(cmd.Path)
		err := killall(name)
		if err != nil {
			log.Printf("could not kill %q: %+v", name, err)
		}
	}

	if dir == "" {
		dir = "/var/log/xsp3"
	}
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return fmt.Errorf("could not create log directory %q: %w", dir, err)
	}

	var (
		grp  errgroup.Group
		kill = make(chan int)
	)
	for _, cmd := range cmds {
		cmd := cmd
		grp.Go(func() error {
			return start(cmd, dir, kill, doMon, freq)
		})
	}

	go func() {
		<-stop
		close(kill)
	}()

	err = grp.Wait()
	if err != nil {
		return fmt.Errorf("could not boot DAQ: %w", err)
	}
	return nil
}

// killall kills the leftover processes of a previous boot.
var killall = func(name string) error {
	kill := exec.Command("killall", "-q", name)
	kill.Stderr = os.Stderr
	kill.Stdout = os.Stdout
	return kill.Run()
}

func start(cmd *exec.Cmd, dir string, kill chan int, doMon bool, freq time.Duration) error {
	name := filepath.Base(cmd.Path)
	out, err := os.Create(filepath.Join(dir, name+".log"))
	if err != nil {
		return fmt.Errorf("could not create output log file for %q: %w", name, err)
	}
	defer out.Close()

	cmd.Stdout = out
	cmd.Stderr = out

	log.Printf("starting %q...", name)
	err = cmd.Start()
	if err != nil {
		return fmt.Errorf("could not start %q: %w", name, err)
	}

	if doMon {
		p, err := pmon.Monitor(cmd.Process.Pid)
		if err != nil {
			return fmt.Errorf("could not start monitoring %q (pid=%d): %w", name, cmd.Process.Pid, err)
		}
		f, err := os.Create(filepath.Join(dir, name+"-pmon.log"))
		if err != nil {
			return fmt.Errorf("could not create pmon log file for command %q: %w", name, err)
		}
		defer f.Close()
		p.W = f
		p.Freq = freq

		go func() {
			log.Printf("run pmon %q...", name)
			err := p.Run()
			if err != nil {
				log.Printf("could not start monitoring %q: %+v", name, err)
			}
		}()

		defer func() {
			err := p.Kill()
			if err != nil {
				log.Printf("could not stop monitoring %q: %+v", name, err)
			}
		}()
	}

	errch := make(chan error, 1)
	go func() {
		errch <- cmd.Wait()
	}()

	select {
	case <-kill:
		// give the process a chance to close its run and sinks.
		_ = cmd.Process.Signal(os.Interrupt)
		select {
		case <-errch:
		case <-time.After(5 * time.Second):
			err = cmd.Process.Kill()
			if err != nil {
				return fmt.Errorf("could not kill %q: %+v", name, err)
			}
			<-errch
		}
	case err = <-errch:
		if err != nil {
			return fmt.Errorf("could not run %q: %w", name, err)
		}
	}

	return nil
}
