// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Named configuration presets. The numbers are empirical defaults, not invariants.
const (
	ProfileDesktop = "desktop"
	ProfileMobile  = "mobile"
)

// SpectralConfig controls SpectralProcessor.
type SpectralConfig struct {
	Gain             float64 `yaml:"gain"`                // Input gain multiplier.
	HighPassCutoffHz float64 `yaml:"high_pass_cutoff_hz"` // Squared ramp from 0 Hz to the cutoff; 0 disables.
	NotchEnabled     bool    `yaml:"notch_enabled"`       // Gaussian notch for mains hum or a known resonance.
	NotchFrequencyHz float64 `yaml:"notch_frequency_hz"`
	NotchWidthHz     float64 `yaml:"notch_width_hz"` // Standard deviation of the notch.
	NotchDepth       float64 `yaml:"notch_depth"`    // 0..1, 1 removes the centre bin entirely.
	AntiFlicker      bool    `yaml:"anti_flicker"`   // Moving average over SmoothingFrames.
	SmoothingFrames  int     `yaml:"smoothing_frames"`
	LogCompress      bool    `yaml:"log_compress"` // Display-only log10(9x+1); off on the analysis path.
}

// NoiseFloorConfig controls NoiseFloorEstimator.
type NoiseFloorConfig struct {
	MinFloor            float64       `yaml:"min_floor"`
	InitialFloor        float64       `yaml:"initial_floor"`
	LowEnergyThreshold  float64       `yaml:"low_energy_threshold"` // Mean-square energy per bin.
	FlatnessThreshold   float64       `yaml:"flatness_threshold"`
	MaxAlpha            float64       `yaml:"max_alpha"`        // Steady-state EMA rate.
	FloorAdaptRate      float64       `yaml:"floor_adapt_rate"` // Max fraction of the floor gap closed per update.
	SafetyMultiplier    float64       `yaml:"safety_multiplier"`
	CalibrationDuration time.Duration `yaml:"calibration_duration"`
}

// TransientConfig controls TransientDetector.
type TransientConfig struct {
	VolumeThreshold float64       `yaml:"volume_threshold"`
	TransientRatio  float64       `yaml:"transient_ratio"`
	MaxSustainRatio float64       `yaml:"max_sustain_ratio"`
	MaxDuration     time.Duration `yaml:"max_duration"`
	Debounce        time.Duration `yaml:"debounce"`
	HistorySize     int           `yaml:"history_size"`
	AverageWindow   int           `yaml:"average_window"`
	MinHistory      int           `yaml:"min_history"`
}

// Band is a named frequency range, LowHz inclusive and HighHz exclusive.
type Band struct {
	Name   string  `yaml:"name"`
	LowHz  float64 `yaml:"low_hz"`
	HighHz float64 `yaml:"high_hz"`
}

// FeatureConfig controls FeatureExtractor.
type FeatureConfig struct {
	Low                Band    `yaml:"low"`
	Mid                Band    `yaml:"mid"`
	High               Band    `yaml:"high"`
	Ultra              Band    `yaml:"ultra"`
	HighFreqCutoffHz   float64 `yaml:"high_freq_cutoff_hz"`
	PeakThreshold      float64 `yaml:"peak_threshold"`
	MaxPeaks           int     `yaml:"max_peaks"`
	FundamentalMinHz   float64 `yaml:"fundamental_min_hz"`
	FundamentalMaxHz   float64 `yaml:"fundamental_max_hz"`
	RolloffFraction    float64 `yaml:"rolloff_fraction"`
	SustainWindowStart float64 `yaml:"sustain_window_start"`
	SustainWindowEnd   float64 `yaml:"sustain_window_end"`
	MinEnergy          float64 `yaml:"min_energy"`
	NoiseGateEnabled   bool    `yaml:"noise_gate_enabled"`
	NoiseGateThreshold float64 `yaml:"noise_gate_threshold"` // Total spectral energy below which no features are computed.
}

// ScoreWeights are the classifier's sub-score weights.
type ScoreWeights struct {
	Fundamental float64 `yaml:"fundamental"`
	Energy      float64 `yaml:"energy"`
	HighFreq    float64 `yaml:"high_freq"`
	Attack      float64 `yaml:"attack"`
	Harmonic    float64 `yaml:"harmonic"`
}

// Sum returns the total weight.
func (w ScoreWeights) Sum() float64 {
	return w.Fundamental + w.Energy + w.HighFreq + w.Attack + w.Harmonic
}

// ClassifierConfig controls Classifier.
type ClassifierConfig struct {
	MinEnergy           float64           `yaml:"min_energy"`
	MinConfidence       float64           `yaml:"min_confidence"`
	HarmonicToleranceHz float64           `yaml:"harmonic_tolerance_hz"`
	Weights             ScoreWeights      `yaml:"weights"`
	Profiles            []CategoryProfile `yaml:"profiles"`
}

// ModeConfig controls ModeController.
type ModeConfig struct {
	InitialMode          Mode    `yaml:"initial_mode"`
	Window               int     `yaml:"window"`
	DowngradeConfidence  float64 `yaml:"downgrade_confidence"`
	DowngradeConsistency float64 `yaml:"downgrade_consistency"`
	UpgradeConfidence    float64 `yaml:"upgrade_confidence"`
	UpgradeConsistency   float64 `yaml:"upgrade_consistency"`
	IntelligentFloor     float64 `yaml:"intelligent_floor"`
	HybridFloor          float64 `yaml:"hybrid_floor"`
	MaxErrors            int     `yaml:"max_errors"`
}

// Config is the complete detection configuration.
type Config struct {
	Profile    string           `yaml:"profile"`
	Spectral   SpectralConfig   `yaml:"spectral"`
	NoiseFloor NoiseFloorConfig `yaml:"noise_floor"`
	Transient  TransientConfig  `yaml:"transient"`
	Features   FeatureConfig    `yaml:"features"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Mode       ModeConfig       `yaml:"mode"`
}

// DefaultConfig returns the desktop preset.
func DefaultConfig() Config {
	return DesktopProfile()
}

// DesktopProfile is tuned for a laptop or desktop microphone near the drum.
func DesktopProfile() Config {
	return Config{
		Profile: ProfileDesktop,
		Spectral: SpectralConfig{
			Gain:             1.0,
			HighPassCutoffHz: 40,
			NotchEnabled:     false,
			NotchFrequencyHz: 50,
			NotchWidthHz:     5,
			NotchDepth:       0.9,
			AntiFlicker:      false,
			SmoothingFrames:  3,
			LogCompress:      false,
		},
		NoiseFloor: NoiseFloorConfig{
			MinFloor:            0.0005,
			InitialFloor:        0.001,
			LowEnergyThreshold:  0.0025,
			FlatnessThreshold:   0.5,
			MaxAlpha:            0.1,
			FloorAdaptRate:      0.1,
			SafetyMultiplier:    1.3,
			CalibrationDuration: 2500 * time.Millisecond,
		},
		Transient: TransientConfig{
			VolumeThreshold: 0.05,
			TransientRatio:  1.8,
			MaxSustainRatio: 0.3,
			MaxDuration:     150 * time.Millisecond,
			Debounce:        80 * time.Millisecond,
			HistorySize:     32,
			AverageWindow:   3,
			MinHistory:      3,
		},
		Features: FeatureConfig{
			Low:                Band{Name: "low", LowHz: 40, HighHz: 200},
			Mid:                Band{Name: "mid", LowHz: 200, HighHz: 1000},
			High:               Band{Name: "high", LowHz: 1000, HighHz: 4000},
			Ultra:              Band{Name: "ultra", LowHz: 4000, HighHz: 20000},
			HighFreqCutoffHz:   1000,
			PeakThreshold:      0.05,
			MaxPeaks:           16,
			FundamentalMinHz:   60,
			FundamentalMaxHz:   400,
			RolloffFraction:    0.85,
			SustainWindowStart: 0.3,
			SustainWindowEnd:   0.7,
			MinEnergy:          1e-9,
			NoiseGateEnabled:   true,
			NoiseGateThreshold: 1e-4,
		},
		Classifier: ClassifierConfig{
			MinEnergy:           1e-3,
			MinConfidence:       0.2,
			HarmonicToleranceHz: 50,
			Weights: ScoreWeights{
				Fundamental: 0.30,
				Energy:      0.25,
				HighFreq:    0.20,
				Attack:      0.15,
				Harmonic:    0.10,
			},
			Profiles: DefaultProfiles(),
		},
		Mode: ModeConfig{
			InitialMode:          ModeIntelligent,
			Window:               5,
			DowngradeConfidence:  0.6,
			DowngradeConsistency: 0.6,
			UpgradeConfidence:    0.8,
			UpgradeConsistency:   0.8,
			IntelligentFloor:     0.5,
			HybridFloor:          0.7,
			MaxErrors:            10,
		},
	}
}

// MobileProfile is tuned for phone microphones: more gain, a lower trigger
// level and a longer debounce to ride out their automatic gain control.
func MobileProfile() Config {
	cfg := DesktopProfile()
	cfg.Profile = ProfileMobile
	cfg.Spectral.Gain = 1.5
	cfg.Spectral.HighPassCutoffHz = 80
	cfg.Spectral.AntiFlicker = true
	cfg.Transient.VolumeThreshold = 0.03
	cfg.Transient.TransientRatio = 1.5
	cfg.Transient.Debounce = 120 * time.Millisecond
	cfg.NoiseFloor.SafetyMultiplier = 1.5
	return cfg
}

// ProfileConfig returns the preset with the given name.
func ProfileConfig(name string) (Config, error) {
	switch name {
	case ProfileDesktop, "":
		return DesktopProfile(), nil
	case ProfileMobile:
		return MobileProfile(), nil
	default:
		return Config{}, fmt.Errorf("unknown detection profile %q", name)
	}
}

// Clone returns a deep copy of the configuration.
func (c Config) Clone() Config {
	out := c
	out.Classifier.Profiles = cloneProfiles(c.Classifier.Profiles)
	return out
}

// Validate checks every section and reports all out-of-range values.
func (c *Config) Validate() error {
	var errs []error

	s := c.Spectral
	if s.Gain <= 0 {
		errs = append(errs, fmt.Errorf("spectral.gain must be positive, got %g", s.Gain))
	}
	if s.HighPassCutoffHz < 0 {
		errs = append(errs, fmt.Errorf("spectral.high_pass_cutoff_hz must be non-negative, got %g", s.HighPassCutoffHz))
	}
	if s.NotchEnabled && (s.NotchFrequencyHz <= 0 || s.NotchWidthHz <= 0) {
		errs = append(errs, errors.New("spectral notch needs positive frequency and width"))
	}
	if s.NotchDepth < 0 || s.NotchDepth > 1 {
		errs = append(errs, fmt.Errorf("spectral.notch_depth must be in [0,1], got %g", s.NotchDepth))
	}
	if s.SmoothingFrames < 1 {
		errs = append(errs, fmt.Errorf("spectral.smoothing_frames must be >= 1, got %d", s.SmoothingFrames))
	}

	n := c.NoiseFloor
	if n.MinFloor < 0 || n.InitialFloor < n.MinFloor {
		errs = append(errs, fmt.Errorf("noise_floor: need 0 <= min_floor (%g) <= initial_floor (%g)", n.MinFloor, n.InitialFloor))
	}
	if n.LowEnergyThreshold <= 0 {
		errs = append(errs, fmt.Errorf("noise_floor.low_energy_threshold must be positive, got %g", n.LowEnergyThreshold))
	}
	if n.FlatnessThreshold < 0 || n.FlatnessThreshold > 1 {
		errs = append(errs, fmt.Errorf("noise_floor.flatness_threshold must be in [0,1], got %g", n.FlatnessThreshold))
	}
	if n.MaxAlpha <= 0 || n.MaxAlpha > 1 {
		errs = append(errs, fmt.Errorf("noise_floor.max_alpha must be in (0,1], got %g", n.MaxAlpha))
	}
	if n.FloorAdaptRate <= 0 || n.FloorAdaptRate > 1 {
		errs = append(errs, fmt.Errorf("noise_floor.floor_adapt_rate must be in (0,1], got %g", n.FloorAdaptRate))
	}
	if n.SafetyMultiplier < 1 {
		errs = append(errs, fmt.Errorf("noise_floor.safety_multiplier must be >= 1, got %g", n.SafetyMultiplier))
	}
	if n.CalibrationDuration <= 0 {
		errs = append(errs, fmt.Errorf("noise_floor.calibration_duration must be positive, got %s", n.CalibrationDuration))
	}

	t := c.Transient
	if t.VolumeThreshold < 0 {
		errs = append(errs, fmt.Errorf("transient.volume_threshold must be non-negative, got %g", t.VolumeThreshold))
	}
	if t.TransientRatio < 1 {
		errs = append(errs, fmt.Errorf("transient.transient_ratio must be >= 1, got %g", t.TransientRatio))
	}
	if t.MaxSustainRatio <= 0 || t.MaxSustainRatio >= 1 {
		errs = append(errs, fmt.Errorf("transient.max_sustain_ratio must be in (0,1), got %g", t.MaxSustainRatio))
	}
	if t.MaxDuration <= 0 || t.Debounce < 0 {
		errs = append(errs, errors.New("transient: max_duration must be positive and debounce non-negative"))
	}
	if t.AverageWindow < 1 || t.MinHistory < t.AverageWindow || t.HistorySize < t.MinHistory {
		errs = append(errs, fmt.Errorf("transient: need 1 <= average_window (%d) <= min_history (%d) <= history_size (%d)",
			t.AverageWindow, t.MinHistory, t.HistorySize))
	}

	f := c.Features
	for _, b := range []Band{f.Low, f.Mid, f.High, f.Ultra} {
		if b.LowHz < 0 || b.HighHz <= b.LowHz {
			errs = append(errs, fmt.Errorf("features: band %q has invalid range [%g, %g)", b.Name, b.LowHz, b.HighHz))
		}
	}
	if f.FundamentalMinHz <= 0 || f.FundamentalMaxHz <= f.FundamentalMinHz {
		errs = append(errs, fmt.Errorf("features: invalid fundamental range [%g, %g]", f.FundamentalMinHz, f.FundamentalMaxHz))
	}
	if f.RolloffFraction <= 0 || f.RolloffFraction > 1 {
		errs = append(errs, fmt.Errorf("features.rolloff_fraction must be in (0,1], got %g", f.RolloffFraction))
	}
	if f.SustainWindowStart < 0 || f.SustainWindowEnd > 1 || f.SustainWindowEnd <= f.SustainWindowStart {
		errs = append(errs, fmt.Errorf("features: invalid sustain window [%g, %g]", f.SustainWindowStart, f.SustainWindowEnd))
	}
	if f.PeakThreshold < 0 || f.MaxPeaks < 1 || f.MinEnergy < 0 || f.NoiseGateThreshold < 0 || f.HighFreqCutoffHz <= 0 {
		errs = append(errs, errors.New("features: thresholds must be non-negative and max_peaks >= 1"))
	}

	k := c.Classifier
	if k.MinEnergy < 0 {
		errs = append(errs, fmt.Errorf("classifier.min_energy must be non-negative, got %g", k.MinEnergy))
	}
	if k.MinConfidence < 0 || k.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("classifier.min_confidence must be in [0,1], got %g", k.MinConfidence))
	}
	if k.HarmonicToleranceHz <= 0 {
		errs = append(errs, fmt.Errorf("classifier.harmonic_tolerance_hz must be positive, got %g", k.HarmonicToleranceHz))
	}
	w := k.Weights
	if w.Fundamental < 0 || w.Energy < 0 || w.HighFreq < 0 || w.Attack < 0 || w.Harmonic < 0 {
		errs = append(errs, errors.New("classifier.weights must be non-negative"))
	} else if math.Abs(w.Sum()-1) > 1e-6 {
		errs = append(errs, fmt.Errorf("classifier.weights must sum to 1, got %g", w.Sum()))
	}
	if len(k.Profiles) == 0 {
		errs = append(errs, errors.New("classifier.profiles must not be empty"))
	}
	seen := make(map[HitType]bool, len(k.Profiles))
	for _, p := range k.Profiles {
		if err := validateProfile(p); err != nil {
			errs = append(errs, err)
		}
		if seen[p.Type] {
			errs = append(errs, fmt.Errorf("classifier: duplicate profile %q", p.Type))
		}
		seen[p.Type] = true
	}

	m := c.Mode
	if m.InitialMode < ModeIntelligent || m.InitialMode > ModeSimple {
		errs = append(errs, fmt.Errorf("mode.initial_mode out of range: %d", m.InitialMode))
	}
	if m.Window < 1 {
		errs = append(errs, fmt.Errorf("mode.window must be >= 1, got %d", m.Window))
	}
	for name, v := range map[string]float64{
		"downgrade_confidence":  m.DowngradeConfidence,
		"downgrade_consistency": m.DowngradeConsistency,
		"upgrade_confidence":    m.UpgradeConfidence,
		"upgrade_consistency":   m.UpgradeConsistency,
		"intelligent_floor":     m.IntelligentFloor,
		"hybrid_floor":          m.HybridFloor,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("mode.%s must be in [0,1], got %g", name, v))
		}
	}
	if m.UpgradeConfidence < m.DowngradeConfidence || m.UpgradeConsistency < m.DowngradeConsistency {
		errs = append(errs, errors.New("mode: upgrade thresholds must not be below downgrade thresholds"))
	}
	if m.MaxErrors < 0 {
		errs = append(errs, fmt.Errorf("mode.max_errors must be non-negative, got %d", m.MaxErrors))
	}

	return errors.Join(errs...)
}

func validateProfile(p CategoryProfile) error {
	if !p.Type.IsCategory() {
		return fmt.Errorf("profile type %q is not a stroke category", p.Type)
	}
	if p.FundamentalRange[0] < 0 || p.FundamentalRange[1] < p.FundamentalRange[0] {
		return fmt.Errorf("profile %q: invalid fundamental range %v", p.Type, p.FundamentalRange)
	}
	if p.Attack.RiseTimeRangeMs[0] < 0 || p.Attack.RiseTimeRangeMs[1] < p.Attack.RiseTimeRangeMs[0] {
		return fmt.Errorf("profile %q: invalid rise time range %v", p.Type, p.Attack.RiseTimeRangeMs)
	}
	if n := len(p.EnergyDistribution); n != 3 && n != 4 {
		return fmt.Errorf("profile %q: energy distribution needs 3 or 4 bands, got %d", p.Type, n)
	}
	var sum float64
	for _, v := range p.EnergyDistribution {
		if v < 0 {
			return fmt.Errorf("profile %q: negative energy fraction", p.Type)
		}
		sum += v
	}
	if math.Abs(sum-1) > 0.05 {
		return fmt.Errorf("profile %q: energy distribution sums to %g, want ~1", p.Type, sum)
	}
	if p.HighFreqRatio < 0 || p.HighFreqRatio > 1 || p.Attack.SustainRatio < 0 || p.Attack.SustainRatio > 1 {
		return fmt.Errorf("profile %q: ratios must be in [0,1]", p.Type)
	}
	return nil
}
