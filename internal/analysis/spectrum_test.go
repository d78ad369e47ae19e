// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedFloor float64

func (f fixedFloor) Floor() float64 { return float64(f) }

// 8 bins at 16 kHz puts bin i at i*1000 Hz.
const testRate = 16000

func plainSpectral() SpectralConfig {
	return SpectralConfig{Gain: 1, SmoothingFrames: 1, NotchWidthHz: 1}
}

func TestProcessEmptyInput(t *testing.T) {
	p := NewSpectralProcessor(DefaultConfig().Spectral, fixedFloor(0.01))

	out := p.Process(nil, testRate)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestProcessDoesNotMutateInput(t *testing.T) {
	p := NewSpectralProcessor(plainSpectral(), fixedFloor(0.1))
	raw := []float64{0, 0.05, 0.5, 0.9}
	orig := append([]float64(nil), raw...)

	out := p.Process(raw, testRate)
	assert.Equal(t, orig, raw)
	out[0] = 42
	assert.Equal(t, orig, raw)
}

func TestConditionGainClamps(t *testing.T) {
	cfg := plainSpectral()
	cfg.Gain = 2
	p := NewSpectralProcessor(cfg, nil)

	out := p.Condition([]float64{0.1, 0.4, 0.6, 1}, testRate)
	assert.InDeltaSlice(t, []float64{0.2, 0.8, 1, 1}, out, 1e-12)
}

func TestConditionHighPassRamp(t *testing.T) {
	cfg := plainSpectral()
	cfg.HighPassCutoffHz = 4000
	p := NewSpectralProcessor(cfg, nil)

	raw := make([]float64, 8)
	for i := range raw {
		raw[i] = 0.5
	}
	out := p.Condition(raw, testRate)

	// (f/cutoff)^2 below the cutoff, untouched from the cutoff up.
	want := []float64{0, 0.5 / 16, 0.5 / 4, 0.5 * 9 / 16, 0.5, 0.5, 0.5, 0.5}
	assert.InDeltaSlice(t, want, out, 1e-12)
}

func TestConditionNotch(t *testing.T) {
	cfg := plainSpectral()
	cfg.NotchEnabled = true
	cfg.NotchFrequencyHz = 3000
	cfg.NotchWidthHz = 500
	cfg.NotchDepth = 0.9
	p := NewSpectralProcessor(cfg, nil)

	raw := make([]float64, 8)
	for i := range raw {
		raw[i] = 0.5
	}
	out := p.Condition(raw, testRate)

	assert.InDelta(t, 0.05, out[3], 1e-12, "centre bin keeps 1-depth")
	neighbour := 0.5 * (1 - 0.9*math.Exp(-2))
	assert.InDelta(t, neighbour, out[2], 1e-12)
	assert.InDelta(t, neighbour, out[4], 1e-12)
	assert.Greater(t, out[6], out[4])
}

func TestFinishClampsToFloor(t *testing.T) {
	p := NewSpectralProcessor(plainSpectral(), fixedFloor(0.02))

	out := p.Process([]float64{0, 0.01, 0.02, 0.5}, testRate)
	for i, v := range out {
		assert.GreaterOrEqual(t, v, 0.02, "bin %d", i)
	}
	assert.Equal(t, 0.5, out[3])
}

func TestFinishSmoothing(t *testing.T) {
	cfg := plainSpectral()
	cfg.AntiFlicker = true
	cfg.SmoothingFrames = 2
	p := NewSpectralProcessor(cfg, fixedFloor(0))

	first := p.Process([]float64{0.2, 0.4}, testRate)
	assert.InDeltaSlice(t, []float64{0.2, 0.4}, first, 1e-12)

	second := p.Process([]float64{0.4, 0}, testRate)
	assert.InDeltaSlice(t, []float64{0.3, 0.2}, second, 1e-12)

	third := p.Process([]float64{0, 0}, testRate)
	assert.InDeltaSlice(t, []float64{0.2, 0}, third, 1e-12)

	// A new bin count starts a fresh history.
	fresh := p.Process([]float64{0.6, 0.6, 0.6}, testRate)
	assert.InDeltaSlice(t, []float64{0.6, 0.6, 0.6}, fresh, 1e-12)
}

func TestFinishLogCompress(t *testing.T) {
	cfg := plainSpectral()
	cfg.LogCompress = true
	p := NewSpectralProcessor(cfg, fixedFloor(0))

	out := p.Process([]float64{0, 1.0 / 9, 1}, testRate)
	assert.InDeltaSlice(t, []float64{0, math.Log10(2), 1}, out, 1e-12)
}

func TestProcessOutputBounds(t *testing.T) {
	cfg := DefaultConfig().Spectral
	cfg.Gain = 3
	cfg.AntiFlicker = true
	p := NewSpectralProcessor(cfg, fixedFloor(0.001))

	raw := make([]float64, 256)
	for frame := 0; frame < 10; frame++ {
		for i := range raw {
			raw[i] = math.Abs(math.Sin(float64(i*frame) * 0.37))
		}
		out := p.Process(raw, 44100)
		require.Len(t, out, len(raw))
		for _, v := range out {
			assert.GreaterOrEqual(t, v, 0.001)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
}
