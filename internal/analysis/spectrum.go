// SPDX-License-Identifier: MIT
package analysis

import "math"

// FloorSource supplies the current noise floor to SpectralProcessor.
type FloorSource interface {
	Floor() float64
}

// SpectralProcessor turns raw normalised magnitudes into a cleaned Spectrum.
//
// Processing is split in two so the noise estimator can observe the
// conditioned spectrum before the floor clamp biases it:
//
//	Condition: gain, high-pass ramp, notch, clamp to [0, 1]
//	Finish:    clamp to the noise floor, optional smoothing and log compression
type SpectralProcessor struct {
	cfg   SpectralConfig
	floor FloorSource

	history [][]float64
	next    int
	filled  int
	bins    int
}

// NewSpectralProcessor returns a processor reading its floor from floor.
// A nil floor source means a floor of zero.
func NewSpectralProcessor(cfg SpectralConfig, floor FloorSource) *SpectralProcessor {
	return &SpectralProcessor{cfg: cfg, floor: floor}
}

// SetConfig applies new settings. Smoothing history is discarded when the
// window size changes.
func (p *SpectralProcessor) SetConfig(cfg SpectralConfig) {
	if cfg.SmoothingFrames != p.cfg.SmoothingFrames || cfg.AntiFlicker != p.cfg.AntiFlicker {
		p.Reset()
	}
	p.cfg = cfg
}

// Reset drops the smoothing history.
func (p *SpectralProcessor) Reset() {
	p.history = nil
	p.next, p.filled, p.bins = 0, 0, 0
}

// Process runs Condition followed by Finish.
func (p *SpectralProcessor) Process(raw []float64, sampleRate float64) Spectrum {
	return p.Finish(p.Condition(raw, sampleRate))
}

// Condition applies gain and the frequency-dependent filters. Bin i is taken
// to sit at i * (sampleRate/2) / len(raw) Hz. The input is never modified.
func (p *SpectralProcessor) Condition(raw []float64, sampleRate float64) Spectrum {
	out := make(Spectrum, len(raw))
	if len(raw) == 0 {
		return out
	}

	binHz := sampleRate / 2 / float64(len(raw))
	cutoff := p.cfg.HighPassCutoffHz
	notch := p.cfg.NotchEnabled && p.cfg.NotchWidthHz > 0
	twoVar := 2 * p.cfg.NotchWidthHz * p.cfg.NotchWidthHz

	for i, v := range raw {
		x := v * p.cfg.Gain
		f := float64(i) * binHz
		if cutoff > 0 && f < cutoff {
			r := f / cutoff
			x *= r * r
		}
		if notch {
			d := f - p.cfg.NotchFrequencyHz
			x *= 1 - p.cfg.NotchDepth*math.Exp(-(d*d)/twoVar)
		}
		out[i] = clamp01(x)
	}
	return out
}

// Finish clamps a conditioned spectrum to the noise floor and applies the
// optional smoothing and log compression. Every value of the result is at
// least the floor.
func (p *SpectralProcessor) Finish(cond Spectrum) Spectrum {
	out := make(Spectrum, len(cond))
	if len(cond) == 0 {
		return out
	}

	var floor float64
	if p.floor != nil {
		floor = p.floor.Floor()
	}
	for i, v := range cond {
		out[i] = math.Max(v, floor)
	}

	if p.cfg.AntiFlicker && p.cfg.SmoothingFrames > 1 {
		p.smooth(out, floor)
	}
	if p.cfg.LogCompress {
		for i, v := range out {
			out[i] = math.Log10(9*v + 1)
		}
	}
	return out
}

func (p *SpectralProcessor) smooth(s Spectrum, floor float64) {
	k := p.cfg.SmoothingFrames
	if len(s) != p.bins || len(p.history) != k {
		p.history = make([][]float64, k)
		for i := range p.history {
			p.history[i] = make([]float64, len(s))
		}
		p.next, p.filled, p.bins = 0, 0, len(s)
	}

	copy(p.history[p.next], s)
	p.next = (p.next + 1) % k
	if p.filled < k {
		p.filled++
	}

	inv := 1 / float64(p.filled)
	for i := range s {
		var sum float64
		for j := 0; j < p.filled; j++ {
			sum += p.history[j][i]
		}
		// Older frames were clamped to an older floor.
		s[i] = math.Max(sum*inv, floor)
	}
}
