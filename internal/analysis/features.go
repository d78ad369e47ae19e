// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// FeatureExtractor derives a FeatureVector from a cleaned spectrum and the
// matching time-domain buffer.
type FeatureExtractor struct {
	cfg FeatureConfig
}

// NewFeatureExtractor returns an extractor using cfg.
func NewFeatureExtractor(cfg FeatureConfig) *FeatureExtractor {
	return &FeatureExtractor{cfg: cfg}
}

// SetConfig applies new settings.
func (e *FeatureExtractor) SetConfig(cfg FeatureConfig) {
	e.cfg = cfg
}

// Extract computes features for one hit. It returns false when the spectrum
// is empty or carries too little energy to describe; the caller treats that
// as no signal. timeDomain may be empty, in which case HasAttack is false.
func (e *FeatureExtractor) Extract(s Spectrum, timeDomain []float64, sampleRate float64) (*FeatureVector, bool) {
	n := len(s)
	if n == 0 || sampleRate <= 0 {
		return nil, false
	}

	total := floats.Dot(s, s)
	if total <= e.cfg.MinEnergy {
		return nil, false
	}
	binHz := sampleRate / 2 / float64(n)

	fv := &FeatureVector{TotalEnergy: total}
	var magSum, weighted, highMag float64
	for i, m := range s {
		f := float64(i) * binHz
		p := m * m
		switch {
		case inBand(f, e.cfg.Low):
			fv.LowEnergy += p
		case inBand(f, e.cfg.Mid):
			fv.MidEnergy += p
		case inBand(f, e.cfg.High):
			fv.HighEnergy += p
		case inBand(f, e.cfg.Ultra):
			fv.UltraEnergy += p
		}
		magSum += m
		weighted += f * m
		if f >= e.cfg.HighFreqCutoffHz {
			highMag += m
		}
	}
	fv.LowEnergy /= total
	fv.MidEnergy /= total
	fv.HighEnergy /= total
	fv.UltraEnergy /= total

	fv.PeakFrequencyHz = float64(floats.MaxIdx(s)) * binHz
	if magSum > 0 {
		fv.SpectralCentroidHz = weighted / magSum
		fv.HighFreqRatio = highMag / magSum
	}
	fv.SpectralRolloffBin = rolloffBin(s, total, e.cfg.RolloffFraction)

	fv.Peaks = e.findPeaks(s, binHz)
	fv.FundamentalFrequencyHz = e.fundamental(fv.Peaks, fv.PeakFrequencyHz)

	fv.Attack, fv.HasAttack = e.attack(timeDomain)
	return fv, true
}

func inBand(f float64, b Band) bool {
	return f >= b.LowHz && f < b.HighHz
}

func rolloffBin(s Spectrum, total, fraction float64) int {
	limit := total * fraction
	var acc float64
	for i, m := range s {
		acc += m * m
		if acc >= limit {
			return i
		}
	}
	return len(s) - 1
}

// findPeaks returns local maxima strictly above both neighbours whose
// magnitude is at least PeakThreshold times the strongest bin, strongest
// first and capped at MaxPeaks.
func (e *FeatureExtractor) findPeaks(s Spectrum, binHz float64) []Peak {
	if len(s) < 3 {
		return nil
	}
	threshold := e.cfg.PeakThreshold * floats.Max(s)

	var peaks []Peak
	for i := 1; i < len(s)-1; i++ {
		m := s[i]
		if m > s[i-1] && m > s[i+1] && m >= threshold {
			peaks = append(peaks, Peak{Bin: i, FrequencyHz: float64(i) * binHz, Magnitude: m})
		}
	}
	sort.SliceStable(peaks, func(a, b int) bool {
		return peaks[a].Magnitude > peaks[b].Magnitude
	})
	if len(peaks) > e.cfg.MaxPeaks {
		peaks = peaks[:e.cfg.MaxPeaks]
	}
	return peaks
}

// fundamental picks the strongest peak inside the fundamental search range,
// then the strongest peak anywhere, then the peak bin.
func (e *FeatureExtractor) fundamental(peaks []Peak, fallback float64) float64 {
	for _, p := range peaks {
		if p.FrequencyHz >= e.cfg.FundamentalMinHz && p.FrequencyHz <= e.cfg.FundamentalMaxHz {
			return p.FrequencyHz
		}
	}
	if len(peaks) > 0 {
		return peaks[0].FrequencyHz
	}
	return fallback
}

// attack measures the envelope of the buffer: the position of the absolute
// peak as a rise time, and the mean level in the sustain window relative to
// that peak.
func (e *FeatureExtractor) attack(td []float64) (AttackFeatures, bool) {
	n := len(td)
	if n == 0 {
		return AttackFeatures{}, false
	}

	peakIdx, peak := 0, 0.0
	for i, v := range td {
		if a := math.Abs(v); a > peak {
			peakIdx, peak = i, a
		}
	}

	af := AttackFeatures{
		PeakAmplitude: peak,
		RiseTimeMs:    float64(peakIdx) / float64(n) * 1000,
	}
	if peak == 0 {
		return af, true
	}

	lo := int(e.cfg.SustainWindowStart * float64(n))
	hi := int(e.cfg.SustainWindowEnd * float64(n))
	hi = min(max(hi, lo+1), n)
	lo = min(lo, hi-1)
	var sum float64
	for _, v := range td[lo:hi] {
		sum += math.Abs(v)
	}
	af.SustainRatio = sum / float64(hi-lo) / peak
	return af, true
}
