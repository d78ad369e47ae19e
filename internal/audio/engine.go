// SPDX-License-Identifier: MIT
/*
Package audio captures microphone input with PortAudio and feeds it to the
hit detector:
- One detector tick per PortAudio callback
- Pre-allocated buffers, no GC pressure in the hot path
- Optional WAV recording of the raw input
- WAV replay through the same frame builder for offline tuning
*/
package audio

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"conga/internal/analysis"
	"conga/internal/config"
	"conga/internal/fft"
	applog "conga/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gordonklaus/portaudio"
)

var logger = applog.Named("Engine")

type Engine struct {
	config *config.Config

	detector analysis.Detector
	frames   *FrameBuilder

	// Audio input handling.
	inputBuffer  []int32
	inputDevice  *portaudio.DeviceInfo
	inputLatency time.Duration
	inputStream  *portaudio.Stream

	// Recording state. isRecording is checked without the lock on the audio
	// thread; recMu guards the encoder itself.
	recMu          sync.Mutex
	isRecording    int32
	outputFile     *os.File
	wavEncoder     *wav.Encoder
	sampleBuf      *audio.IntBuffer
	recordedFrames int64
	maxFrames      int64 // 0 for unlimited.
	writeFailures  int
}

// NewEngine opens the configured input device and builds the detector the
// capture path supports. PortAudio must be initialised.
func NewEngine(cfg *config.Config, handler analysis.EventHandler) (*Engine, error) {
	inputDevice, err := InputDevice(cfg.Audio.InputDevice)
	if err != nil {
		return nil, err
	}
	if cfg.Audio.InputChannels > inputDevice.MaxInputChannels {
		return nil, fmt.Errorf("device %s has %d input channels, %d requested",
			inputDevice.Name, inputDevice.MaxInputChannels, cfg.Audio.InputChannels)
	}

	e, err := newEngine(cfg, handler)
	if err != nil {
		return nil, err
	}
	e.inputDevice = inputDevice
	if cfg.Audio.LowLatency {
		e.inputLatency = inputDevice.DefaultLowInputLatency
	} else {
		e.inputLatency = inputDevice.DefaultHighInputLatency
	}
	logger.Infof("input %q, %.0f Hz, %d frames/buffer, latency %s",
		inputDevice.Name, cfg.Audio.SampleRate, cfg.Audio.FramesPerBuffer, e.inputLatency)
	return e, nil
}

// newEngine builds everything except the PortAudio device.
func newEngine(cfg *config.Config, handler analysis.EventHandler) (*Engine, error) {
	a := cfg.Audio
	frames, err := newFrames(a, a.SampleRate, a.InputChannels)
	if err != nil {
		return nil, err
	}

	detector, err := analysis.New(cfg.Detection, frames.Capabilities(), handler)
	if err != nil {
		return nil, fmt.Errorf("building detector: %w", err)
	}

	return &Engine{
		config:      cfg,
		detector:    detector,
		frames:      frames,
		inputBuffer: make([]int32, a.FramesPerBuffer*a.InputChannels),
	}, nil
}

// newFrames builds the frame builder a asks for at the given rate and
// channel count. The frames are time-domain only when a disables the FFT or
// the transform cannot be set up.
func newFrames(a config.AudioConfig, sampleRate float64, channels int) (*FrameBuilder, error) {
	fftSize := 0
	wf := fft.Hann
	if !a.DisableFFT {
		fftSize = a.EffectiveFFTSize()
		var err error
		if wf, err = fft.ParseWindowFunc(a.FFTWindow); err != nil {
			return nil, err
		}
	}

	frames, err := NewFrameBuilder(sampleRate, channels, a.FramesPerBuffer, fftSize, wf)
	if err != nil && fftSize > 0 {
		logger.Warnf("spectral analysis unavailable, falling back to simple detection: %v", err)
		frames, err = NewFrameBuilder(sampleRate, channels, a.FramesPerBuffer, 0, wf)
	}
	return frames, err
}

// Detector returns the pipeline the engine ticks.
func (e *Engine) Detector() analysis.Detector {
	return e.detector
}

func (e *Engine) StartInputStream() error {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: e.config.Audio.InputChannels,
			Device:   e.inputDevice,
			Latency:  e.inputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0,
			Device:   nil,
		},
		FramesPerBuffer: e.config.Audio.FramesPerBuffer,
		SampleRate:      e.config.Audio.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, e.processInputStream)
	if err != nil {
		return fmt.Errorf("opening input stream: %w", err)
	}
	e.inputStream = stream

	if err := e.inputStream.Start(); err != nil {
		e.inputStream.Close()
		e.inputStream = nil
		return fmt.Errorf("starting input stream: %w", err)
	}
	return nil
}

func (e *Engine) StopInputStream() error {
	if e.inputStream != nil {
		if err := e.inputStream.Stop(); err != nil {
			return err
		}
		if err := e.inputStream.Close(); err != nil {
			return err
		}
		e.inputStream = nil
	}
	return nil
}

// processInputStream is the PortAudio callback. It runs on a locked OS
// thread and only touches pre-allocated buffers outside of detected hits.
func (e *Engine) processInputStream(in []int32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	copy(e.inputBuffer, in)
	e.processBuffer(e.inputBuffer)
}

func (e *Engine) processBuffer(buffer []int32) analysis.TickResult {
	res := e.detector.Tick(e.frames.FromInt32(buffer))
	e.record(buffer)
	return res
}

// Close stops recording and the input stream.
func (e *Engine) Close() error {
	if err := e.StopRecording(); err != nil {
		return err
	}
	return e.StopInputStream()
}
