// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"conga/internal/analysis"
	"conga/internal/audio"
	applog "conga/internal/log"
	"conga/internal/tui"
	"conga/pkg/build"
)

// TUILogFile receives log output while the terminal monitor owns the screen.
var TUILogFile = "conga.log"

// RunList prints the host's audio devices. PortAudio must be initialised.
func RunList(w io.Writer) error {
	return audio.ListDevices(w)
}

// RunLive captures from the configured device until ctx is cancelled or the
// monitor is closed.
func RunLive(ctx context.Context, opts *Options) (err error) {
	cfg := opts.Config

	if opts.Pick {
		devices, err := audio.HostDevices()
		if err != nil {
			return err
		}
		sel, err := tui.PickDevice(devices)
		if err != nil {
			return err
		}
		if !sel.Chosen {
			return nil
		}
		cfg.Audio.InputDevice = sel.Device.ID
		cfg.Audio.SampleRate = sel.SampleRate
	}

	outputs, err := OpenOutputs(cfg.Transport)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, outputs.Close()) }()

	engine, err := audio.NewEngine(cfg, outputs.Handler())
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, engine.Close()) }()

	detector := engine.Detector()
	detector.OnModeChange(func(c analysis.ModeChange) {
		logger.Infof("mode %s -> %s (%s)", c.From, c.To, c.Reason)
	})

	if err := engine.StartInputStream(); err != nil {
		return err
	}

	if cfg.Recording.Enabled {
		path := audio.RecordingPath(cfg.Recording, time.Now())
		if err := engine.StartRecording(path); err != nil {
			return err
		}
		defer func() {
			logger.Infof("recorded %s to %s", engine.RecordedDuration().Round(time.Millisecond), path)
		}()
	}

	if err := outputs.StartStats(detector); err != nil {
		return err
	}

	calDuration := cfg.Detection.NoiseFloor.CalibrationDuration
	if cfg.TUI {
		f, err := os.OpenFile(TUILogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening %s: %w", TUILogFile, err)
		}
		applog.SetOutput(f)
		defer func() {
			applog.SetOutput(os.Stderr)
			f.Close()
		}()
		if opts.Calibrate {
			if _, err := detector.CalibrateNoiseFloor(calDuration); err != nil {
				logger.Warnf("calibration not started: %v", err)
			}
		}
		return tui.RunMonitor(build.GetBuildFlags().Name, detector, calDuration)
	}

	if opts.Calibrate {
		if err := calibrate(ctx, detector, calDuration); err != nil {
			return err
		}
	}

	logger.Infof("listening, press Ctrl+C to stop")
	<-ctx.Done()
	return nil
}

// calibrate blocks until the noise floor has been learned. A failed
// calibration keeps the default floor and is not fatal.
func calibrate(ctx context.Context, detector analysis.Detector, d time.Duration) error {
	cal, err := detector.CalibrateNoiseFloor(d)
	if err != nil {
		logger.Warnf("calibration not started: %v", err)
		return nil
	}
	logger.Infof("calibrating noise floor for %s, keep quiet", d)
	switch err := cal.Wait(ctx); {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		detector.CancelCalibration()
		return nil
	case err != nil:
		logger.Warnf("calibration failed: %v", err)
	default:
		logger.Infof("noise floor calibrated at %.5f", cal.Floor())
	}
	return nil
}

// RunReplay feeds a WAV file through a fresh detector and writes a summary
// to w. Events go to the configured transports as they would live.
func RunReplay(ctx context.Context, opts *Options, w io.Writer) (err error) {
	cfg := opts.Config

	outputs, err := OpenOutputs(cfg.Transport)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, outputs.Close()) }()

	res, err := audio.ReplayFile(ctx, opts.ReplayPath, cfg, outputs.Handler())
	if err != nil {
		return err
	}
	writeSummary(w, opts.ReplayPath, res, res.Detector.Stats())
	return nil
}

func writeSummary(w io.Writer, path string, res audio.ReplayResult, s analysis.Stats) {
	fmt.Fprintf(w, "\nReplayed %s\n", path)
	fmt.Fprintf(w, "    %.0f Hz, %d channel(s), %d-bit, %s in %d buffers\n",
		res.SampleRate, res.Channels, res.BitDepth, res.Duration.Round(time.Millisecond), res.Buffers)
	if res.FFTSize > 0 {
		fmt.Fprintf(w, "    FFT: %d points, %s window\n", res.FFTSize, res.Window)
	} else {
		fmt.Fprintf(w, "    FFT: disabled\n")
	}
	fmt.Fprintf(w, "    Mode: %s, onsets: %d, events: %d, gated: %d, errors: %d\n",
		s.Mode, s.TotalHits, s.Events, s.GatedHits, s.ErrorCount)

	types := make([]analysis.HitType, 0, len(s.PerCategory))
	for t := range s.PerCategory {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		fmt.Fprintf(w, "    %-10s %d\n", t, s.PerCategory[t])
	}
}
