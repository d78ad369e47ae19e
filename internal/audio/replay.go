// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"conga/internal/analysis"
	"conga/internal/config"
	"conga/internal/fft"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned for files the decoder cannot read.
var ErrInvalidWAV = errors.New("invalid WAV file")

// ReplayResult summarises a replayed file.
type ReplayResult struct {
	SampleRate float64
	Channels   int
	BitDepth   int
	Buffers    int
	Duration   time.Duration
	FFTSize    int // 0 when the frames carried no spectrum.
	Window     fft.WindowFunc

	// Detector is the pipeline the file was fed through. It is nil when the
	// file could not be decoded.
	Detector analysis.Detector
}

// ReplayFile decodes the WAV file at path and feeds it through a detector
// built from cfg.Detection, one tick per cfg.Audio.FramesPerBuffer frames.
// Frames are built with the FFT size and window of cfg.Audio, exactly as the
// live engine would, but as fast as the detector allows. Timestamps are
// derived from the sample position.
func ReplayFile(ctx context.Context, path string, cfg *config.Config, handler analysis.EventHandler) (ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("failed to open wav file: %w", err)
	}
	defer f.Close()
	return Replay(ctx, f, cfg, handler)
}

// Replay is ReplayFile for an already open reader.
func Replay(ctx context.Context, r io.ReadSeeker, cfg *config.Config, handler analysis.EventHandler) (ReplayResult, error) {
	a := cfg.Audio
	if a.FramesPerBuffer <= 0 {
		a.FramesPerBuffer = config.DefaultFramesPerBuffer
	}
	framesPerBuffer := a.FramesPerBuffer

	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return ReplayResult{}, ErrInvalidWAV
	}
	format := dec.Format()
	res := ReplayResult{
		SampleRate: float64(format.SampleRate),
		Channels:   format.NumChannels,
		BitDepth:   int(dec.BitDepth),
	}
	if res.Channels < 1 || res.BitDepth < 8 || res.SampleRate <= 0 {
		return res, fmt.Errorf("%w: %d channels, %d-bit, %.0f Hz", ErrInvalidWAV, res.Channels, res.BitDepth, res.SampleRate)
	}

	// The file decides rate and layout; everything else follows the live
	// configuration.
	frames, err := newFrames(a, res.SampleRate, res.Channels)
	if err != nil {
		return res, err
	}
	res.FFTSize = frames.FFTSize()
	res.Window = frames.Window()

	detector, err := analysis.New(cfg.Detection, frames.Capabilities(), handler)
	if err != nil {
		return res, fmt.Errorf("building detector: %w", err)
	}
	res.Detector = detector

	buf := &audio.IntBuffer{
		Data:   make([]int, framesPerBuffer*res.Channels),
		Format: format,
	}
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		n, err := dec.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return res, fmt.Errorf("error reading PCM data: %w", err)
		}
		n -= n % res.Channels
		if n == 0 {
			break
		}

		detector.Tick(frames.FromInts(buf.Data[:n], res.BitDepth))
		res.Buffers++

		if err != nil || n < len(buf.Data) {
			break
		}
	}

	res.Duration = frames.Elapsed()
	return res, nil
}
