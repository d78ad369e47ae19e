// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"time"
)

var (
	// ErrMalformedFrame is returned for frames carrying NaN/Inf values, negative
	// magnitudes or a missing sample rate.
	ErrMalformedFrame = errors.New("malformed audio frame")
	// ErrSpectrumLengthChanged is returned when a frame's bin count differs from
	// the length fixed by the first frame of the session.
	ErrSpectrumLengthChanged = errors.New("spectrum length changed mid-session")
	// ErrFrequencyDomainUnavailable is returned by operations that need spectral
	// data when the pipeline was built for a time-domain-only source.
	ErrFrequencyDomainUnavailable = errors.New("frequency-domain data unavailable")
)

// HitType is the label attached to a hit event.
type HitType string

const (
	HitOpen       HitType = "open"
	HitSlap       HitType = "slap"
	HitBass       HitType = "bass"
	HitTip        HitType = "tip"
	HitBackground HitType = "background"
	HitAmbiguous  HitType = "ambiguous"
	HitUnknown    HitType = "unknown"
	HitNoise      HitType = "noise"
	HitGeneric    HitType = "generic"
)

// IsCategory reports whether t is one of the four playable stroke categories.
func (t HitType) IsCategory() bool {
	switch t {
	case HitOpen, HitSlap, HitBass, HitTip:
		return true
	}
	return false
}

// AudioFrame is one analysis window delivered by the audio source. The core
// reads frames and never mutates them.
type AudioFrame struct {
	TimeDomain          []float64     // Samples in [-1, 1].
	FrequencyMagnitudes []float64     // One non-negative value per bin, normalised to [0, 1].
	SampleRate          float64       // Hz.
	Timestamp           time.Duration // Monotonic time since the source started.
}

// Spectrum is a cleaned, normalised magnitude spectrum. Values are never
// negative and the length is fixed for a session.
type Spectrum []float64

// Peak is a local spectral maximum.
type Peak struct {
	Bin         int
	FrequencyHz float64
	Magnitude   float64
}

// AttackFeatures describe the time-domain envelope of a hit.
type AttackFeatures struct {
	PeakAmplitude float64
	RiseTimeMs    float64
	SustainRatio  float64
}

// FeatureVector is derived fresh every tick from a Spectrum and a short
// time-domain buffer. It is treated as immutable once produced.
type FeatureVector struct {
	LowEnergy   float64 // Band energies normalised by TotalEnergy.
	MidEnergy   float64
	HighEnergy  float64
	UltraEnergy float64

	PeakFrequencyHz        float64
	FundamentalFrequencyHz float64
	SpectralCentroidHz     float64
	SpectralRolloffBin     int
	TotalEnergy            float64

	// HighFreqRatio is the magnitude share at or above the configured
	// high-frequency cutoff.
	HighFreqRatio float64

	Attack    AttackFeatures
	HasAttack bool // False when no time-domain buffer was supplied.

	Peaks []Peak // Strongest first.
}

// EnergyDistribution returns the band fractions at the requested granularity:
// 3 bands fold ultra into high, 4 bands report all of them.
func (f *FeatureVector) EnergyDistribution(bands int) []float64 {
	if bands == 4 {
		return []float64{f.LowEnergy, f.MidEnergy, f.HighEnergy, f.UltraEnergy}
	}
	return []float64{f.LowEnergy, f.MidEnergy, f.HighEnergy + f.UltraEnergy}
}

// ClassificationResult is produced once per accepted hit.
type ClassificationResult struct {
	Type              HitType
	Confidence        float64
	PerCategoryScores map[HitType]float64
	Features          *FeatureVector
}

// Event is what the pipeline hands to the game layer: either a labelled
// classification or a generic timing event.
type Event struct {
	Type       HitType               `json:"type"`
	Confidence float64               `json:"confidence"`
	Timestamp  time.Duration         `json:"timestamp"`
	Mode       Mode                  `json:"mode"`
	Result     *ClassificationResult `json:"-"`
}

// EventHandler receives at most one Event per tick.
type EventHandler func(Event)

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
