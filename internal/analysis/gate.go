// SPDX-License-Identifier: MIT
package analysis

// NoiseGate suppresses feature extraction for hits whose total spectral
// energy is too low to classify.
type NoiseGate struct {
	enabled   bool
	threshold float64
}

// NewNoiseGate returns a gate with the given state and threshold.
func NewNoiseGate(enabled bool, threshold float64) *NoiseGate {
	g := &NoiseGate{enabled: enabled}
	g.SetThreshold(threshold)
	return g
}

func (g *NoiseGate) Enable() {
	g.enabled = true
}

func (g *NoiseGate) Disable() {
	g.enabled = false
}

// Enabled reports whether the gate is active.
func (g *NoiseGate) Enabled() bool {
	return g.enabled
}

// SetThreshold adjusts the gate threshold.
// The value is in the range of 0.0-1.0 where 0=always open.
func (g *NoiseGate) SetThreshold(threshold float64) {
	g.threshold = clamp01(threshold)
}

// Threshold returns the current gate threshold.
func (g *NoiseGate) Threshold() float64 {
	return g.threshold
}

// Open reports whether a hit with the given total energy passes the gate.
// A disabled gate always passes.
func (g *NoiseGate) Open(energy float64) bool {
	if !g.enabled {
		return true
	}
	return energy >= g.threshold
}
