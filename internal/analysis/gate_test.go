// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"
	"testing"
)

func TestGateEnableToggle(t *testing.T) {
	gate := NewNoiseGate(false, 0.01)

	if gate.Enabled() {
		t.Error("Gate should be disabled initially")
	}

	gate.Enable()
	gate.Enable() // Multiple calls should be idempotent
	if !gate.Enabled() {
		t.Error("Gate should be enabled after Enable()")
	}

	gate.Disable()
	gate.Disable()
	if gate.Enabled() {
		t.Error("Gate should be disabled after Disable()")
	}
}

func TestGateThresholdBoundaries(t *testing.T) {
	tests := []struct {
		input    float64
		expected float64
	}{
		{-0.1, 0.0}, // Below min
		{0.0, 0.0},  // Minimum
		{0.5, 0.5},  // Middle
		{1.0, 1.0},  // Maximum
		{1.5, 1.0},  // Above max
	}

	gate := NewNoiseGate(true, 0)
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.2f", tt.input), func(t *testing.T) {
			gate.SetThreshold(tt.input)
			if got := gate.Threshold(); math.Abs(got-tt.expected) > 1e-12 {
				t.Errorf("Threshold() = %.3f, want %.3f", got, tt.expected)
			}
		})
	}
}

func TestGateOpen(t *testing.T) {
	tests := []struct {
		desc      string
		enabled   bool
		threshold float64
		energy    float64
		want      bool
	}{
		{"disabled/quiet", false, 0.1, 0.0001, true},
		{"disabled/silent", false, 0.1, 0, true},
		{"enabled/quiet/low threshold", true, 0.00001, 0.0001, true},
		{"enabled/quiet/mid threshold", true, 0.1, 0.0001, false},
		{"enabled/loud/mid threshold", true, 0.1, 0.8, true},
		{"enabled/exactly at threshold", true, 0.25, 0.25, true},
		{"enabled/zero threshold", true, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			gate := NewNoiseGate(tt.enabled, tt.threshold)
			if got := gate.Open(tt.energy); got != tt.want {
				t.Errorf("Open(%g) = %v, want %v", tt.energy, got, tt.want)
			}
		})
	}
}
