// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"conga/cmd"
	"conga/internal/audio"
	applog "conga/internal/log"
	"conga/pkg/build"

	"github.com/mdobak/go-xerrors"
)

// main runs in three phases:
//
// 1. Startup (cold path): build info, command line and configuration,
// PortAudio.
//
// 2. Detection (hot path): the PortAudio callback ticks the detector and hit
// events fan out to the transports. Replay runs the same detector over a
// file instead.
//
// 3. Shutdown (cold path): on SIGINT/SIGTERM the stream, recording and
// transports are closed.
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	if err := build.Initialize(false); err != nil {
		fatal(err)
	}

	opts, err := cmd.ParseArgs(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if opts.Command == cmd.CommandNone {
		return
	}
	if err := applog.Configure(opts.Config.LogLevel); err != nil {
		applog.Warnf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Command == cmd.CommandReplay {
		if err := cmd.RunReplay(ctx, opts, os.Stdout); err != nil {
			fatal(err)
		}
		return
	}

	// One thread for the audio callback, one for everything else.
	runtime.GOMAXPROCS(2)

	if err := audio.Initialize(); err != nil {
		fatal(err)
	}
	defer audio.Terminate()

	// ==================== DETECTION PHASE (Hot Path) ====================

	switch opts.Command {
	case cmd.CommandList:
		err = cmd.RunList(os.Stdout)
	case cmd.CommandRun:
		err = cmd.RunLive(ctx, opts)
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	if err != nil {
		audio.Terminate()
		fatal(err)
	}
}

// fatal logs err and exits.
func fatal(err error) {
	report(err)
	os.Exit(1)
}

// report logs err with the stack it was reported from.
func report(err error) {
	applog.Errorf("%s", xerrors.Sprint(xerrors.New(err)))
}
