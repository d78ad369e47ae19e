// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
)

// neutralAttackScore is used when no time-domain buffer was available.
const neutralAttackScore = 0.5

// Classifier scores a FeatureVector against each CategoryProfile and picks
// the best match.
type Classifier struct {
	cfg ClassifierConfig
}

// NewClassifier returns a classifier with its own copy of the profiles.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	cfg.Profiles = cloneProfiles(cfg.Profiles)
	return &Classifier{cfg: cfg}
}

// Classify labels f. Too little energy yields HitNoise with zero confidence;
// a best score under MinConfidence yields HitAmbiguous. Equal scores resolve
// to the profile listed first.
func (c *Classifier) Classify(f *FeatureVector) ClassificationResult {
	if f == nil || f.TotalEnergy < c.cfg.MinEnergy {
		return ClassificationResult{Type: HitNoise, Features: f}
	}

	scores := make(map[HitType]float64, len(c.cfg.Profiles))
	best, bestScore := HitAmbiguous, -1.0
	for _, p := range c.cfg.Profiles {
		s := c.Score(f, p)
		scores[p.Type] = s
		if s > bestScore {
			best, bestScore = p.Type, s
		}
	}

	res := ClassificationResult{
		Type:              best,
		Confidence:        math.Max(bestScore, 0),
		PerCategoryScores: scores,
		Features:          f,
	}
	if bestScore < c.cfg.MinConfidence {
		res.Type = HitAmbiguous
	}
	return res
}

// Score returns the weighted similarity of f to p in [0, 1].
func (c *Classifier) Score(f *FeatureVector, p CategoryProfile) float64 {
	w := c.cfg.Weights
	total := w.Fundamental*rangeMatch(f.FundamentalFrequencyHz, p.FundamentalRange) +
		w.Energy*energyMatch(f, p.EnergyDistribution) +
		w.HighFreq*closeness(f.HighFreqRatio, p.HighFreqRatio) +
		w.Attack*attackMatch(f, p.Attack) +
		w.Harmonic*harmonicMatch(f.Peaks, p.HarmonicPeaksHz, c.cfg.HarmonicToleranceHz)
	return clamp01(total)
}

// rangeMatch is 1 inside r and falls off linearly to 0 at half the range
// width beyond either edge.
func rangeMatch(v float64, r [2]float64) float64 {
	lo, hi := r[0], r[1]
	if v >= lo && v <= hi {
		return 1
	}
	tol := (hi - lo) / 2
	if tol <= 0 {
		return 0
	}
	var dist float64
	if v < lo {
		dist = lo - v
	} else {
		dist = v - hi
	}
	return math.Max(0, 1-dist/tol)
}

func closeness(a, b float64) float64 {
	return math.Max(0, 1-math.Abs(a-b))
}

func energyMatch(f *FeatureVector, want []float64) float64 {
	if len(want) == 0 {
		return 0
	}
	got := f.EnergyDistribution(len(want))
	var sum float64
	for i, w := range want {
		sum += closeness(got[i], w)
	}
	return sum / float64(len(want))
}

func attackMatch(f *FeatureVector, p AttackProfile) float64 {
	if !f.HasAttack {
		return neutralAttackScore
	}
	return (rangeMatch(f.Attack.RiseTimeMs, p.RiseTimeRangeMs) + closeness(f.Attack.SustainRatio, p.SustainRatio)) / 2
}

// harmonicMatch is the fraction of expected harmonics that have a detected
// peak within tol Hz.
func harmonicMatch(peaks []Peak, expected []float64, tol float64) float64 {
	if len(expected) == 0 {
		return 0
	}
	matched := 0
	for _, h := range expected {
		for _, p := range peaks {
			if math.Abs(p.FrequencyHz-h) <= tol {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(expected))
}
