// SPDX-License-Identifier: MIT
package analysis

// AttackProfile is the expected envelope shape of a stroke.
type AttackProfile struct {
	RiseTimeRangeMs [2]float64 `yaml:"rise_time_range_ms"`
	SustainRatio    float64    `yaml:"sustain_ratio"`
}

// CategoryProfile is the static reference descriptor of one stroke category.
// Profiles are configured at startup and never mutated at runtime.
type CategoryProfile struct {
	Type               HitType       `yaml:"type"`
	FundamentalRange   [2]float64    `yaml:"fundamental_range_hz"`
	HarmonicPeaksHz    []float64     `yaml:"harmonic_peaks_hz"`
	HighFreqRatio      float64       `yaml:"high_freq_ratio"`
	EnergyDistribution []float64     `yaml:"energy_distribution"` // 3 or 4 fractions summing to ~1.
	Attack             AttackProfile `yaml:"attack"`
}

// DefaultProfiles returns the reference profiles for the four conga strokes.
func DefaultProfiles() []CategoryProfile {
	return []CategoryProfile{
		{
			Type:               HitOpen,
			FundamentalRange:   [2]float64{150, 250},
			HarmonicPeaksHz:    []float64{350, 450, 650, 750},
			HighFreqRatio:      0.3,
			EnergyDistribution: []float64{0.4, 0.4, 0.2},
			Attack:             AttackProfile{RiseTimeRangeMs: [2]float64{10, 30}, SustainRatio: 0.6},
		},
		{
			Type:               HitSlap,
			FundamentalRange:   [2]float64{200, 300},
			HarmonicPeaksHz:    []float64{500, 1000, 2500, 5000},
			HighFreqRatio:      0.7,
			EnergyDistribution: []float64{0.2, 0.3, 0.5},
			Attack:             AttackProfile{RiseTimeRangeMs: [2]float64{2, 12}, SustainRatio: 0.25},
		},
		{
			Type:               HitBass,
			FundamentalRange:   [2]float64{60, 120},
			HarmonicPeaksHz:    []float64{120, 180, 240},
			HighFreqRatio:      0.1,
			EnergyDistribution: []float64{0.7, 0.2, 0.1},
			Attack:             AttackProfile{RiseTimeRangeMs: [2]float64{15, 50}, SustainRatio: 0.7},
		},
		{
			Type:               HitTip,
			FundamentalRange:   [2]float64{300, 500},
			HarmonicPeaksHz:    []float64{800, 1200, 1600},
			HighFreqRatio:      0.45,
			EnergyDistribution: []float64{0.25, 0.5, 0.25},
			Attack:             AttackProfile{RiseTimeRangeMs: [2]float64{5, 20}, SustainRatio: 0.35},
		},
	}
}

func cloneProfiles(in []CategoryProfile) []CategoryProfile {
	out := make([]CategoryProfile, len(in))
	for i, p := range in {
		out[i] = p
		out[i].HarmonicPeaksHz = append([]float64(nil), p.HarmonicPeaksHz...)
		out[i].EnergyDistribution = append([]float64(nil), p.EnergyDistribution...)
	}
	return out
}
