// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"time"

	"conga/internal/analysis"
	"conga/internal/fft"
)

const int32Scale = 1 << 31

// FrameBuilder turns capture buffers into analysis frames. The FFT runs over
// a sliding window of the most recent fftSize mono samples, so the spectrum
// resolution does not depend on the buffer size. Timestamps come from the
// number of samples consumed, which keeps them monotonic and sample-accurate.
//
// Every buffer the builder hands out is reused on the next call.
type FrameBuilder struct {
	channels   int
	sampleRate float64

	mono   []float64 // First channel of the current buffer.
	window []float64 // Last fftSize mono samples.
	mags   []float64
	fft    *fft.Processor // nil for time-domain-only sources.

	samples int64
}

// NewFrameBuilder sizes every buffer up front. fftSize 0 disables spectral
// analysis.
func NewFrameBuilder(sampleRate float64, channels, framesPerBuffer, fftSize int, wf fft.WindowFunc) (*FrameBuilder, error) {
	if channels < 1 || framesPerBuffer < 1 {
		return nil, fmt.Errorf("invalid frame layout: %d channels, %d frames", channels, framesPerBuffer)
	}
	b := &FrameBuilder{
		channels:   channels,
		sampleRate: sampleRate,
		mono:       make([]float64, framesPerBuffer),
	}
	if fftSize == 0 {
		return b, nil
	}

	proc, err := fft.NewProcessor(fftSize, sampleRate, wf)
	if err != nil {
		return nil, err
	}
	b.fft = proc
	b.window = make([]float64, fftSize)
	b.mags = make([]float64, proc.Bins())
	return b, nil
}

// Capabilities reports what the frames will carry.
func (b *FrameBuilder) Capabilities() analysis.Capabilities {
	return analysis.Capabilities{FrequencyDomain: b.fft != nil, TimeDomain: true}
}

// FFTSize is the transform length, 0 without spectral analysis.
func (b *FrameBuilder) FFTSize() int {
	if b.fft == nil {
		return 0
	}
	return b.fft.Size()
}

// Window is the window function applied before the transform.
func (b *FrameBuilder) Window() fft.WindowFunc {
	if b.fft == nil {
		return fft.Hann
	}
	return b.fft.Window()
}

// FromInt32 builds a frame from an interleaved full-scale int32 buffer.
func (b *FrameBuilder) FromInt32(in []int32) analysis.AudioFrame {
	n := min(len(in)/b.channels, len(b.mono))
	for i := range n {
		b.mono[i] = float64(in[i*b.channels]) / int32Scale
	}
	return b.build(n)
}

// FromInts builds a frame from an interleaved integer buffer of the given
// bit depth, as decoded from a WAV file.
func (b *FrameBuilder) FromInts(in []int, bitDepth int) analysis.AudioFrame {
	scale := float64(int64(1) << (bitDepth - 1))
	n := min(len(in)/b.channels, len(b.mono))
	for i := range n {
		b.mono[i] = float64(in[i*b.channels]) / scale
	}
	return b.build(n)
}

func (b *FrameBuilder) build(n int) analysis.AudioFrame {
	frame := analysis.AudioFrame{
		TimeDomain: b.mono[:n],
		SampleRate: b.sampleRate,
		Timestamp:  b.clock(),
	}
	b.samples += int64(n)

	if b.fft == nil {
		return frame
	}
	if n >= len(b.window) {
		copy(b.window, b.mono[n-len(b.window):n])
	} else {
		copy(b.window, b.window[n:])
		copy(b.window[len(b.window)-n:], b.mono[:n])
	}
	b.fft.Process(b.window)
	_ = b.fft.MagnitudesInto(b.mags) // Sized from the same processor.
	frame.FrequencyMagnitudes = b.mags
	return frame
}

func (b *FrameBuilder) clock() time.Duration {
	return time.Duration(float64(b.samples) / b.sampleRate * float64(time.Second))
}

// Elapsed is the audio time consumed so far.
func (b *FrameBuilder) Elapsed() time.Duration {
	return b.clock()
}
