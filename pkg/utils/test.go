// SPDX-License-Identifier: MIT
package utils

import (
	"math"
	"math/rand"
	"sync"
)

// MockTransport records everything sent to it instead of transmitting.
type MockTransport struct {
	mu       sync.Mutex
	messages []any
	closed   bool
}

// Send stores the message for later inspection.
func (m *MockTransport) Send(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, data)
	return nil
}

// Close marks the transport closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Messages returns a copy of every message sent so far.
func (m *MockTransport) Messages() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.messages...)
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GenerateSine returns size samples of a sine at frequency Hz.
func GenerateSine(frequency, sampleRate, amplitude float64, size int) []float64 {
	buffer := make([]float64, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = amplitude * math.Sin(2*math.Pi*frequency*t)
	}
	return buffer
}

// GenerateComplexWave returns a 440Hz fundamental plus two harmonics.
func GenerateComplexWave(size int, sampleRate float64) []float64 {
	buffer := make([]float64, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		buffer[i] = 0.9 * (math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2)
	}
	return buffer
}

// GenerateDrumHit synthesises a struck membrane: a linear attack over
// attackMs followed by an exponential decay with time constant decayMs, on
// a fundamental plus the given overtones at half, third, ... amplitude.
func GenerateDrumHit(sampleRate, amplitude, attackMs, decayMs float64, size int, fundamental float64, overtones ...float64) []float64 {
	buffer := make([]float64, size)
	attack := attackMs / 1000 * sampleRate
	decay := decayMs / 1000 * sampleRate
	for i := range buffer {
		x := float64(i)
		env := math.Exp(-x / decay)
		if x < attack {
			env = x / attack
		}
		t := x / sampleRate
		v := math.Sin(2 * math.Pi * fundamental * t)
		for k, f := range overtones {
			v += math.Sin(2*math.Pi*f*t) / float64(k+2)
		}
		buffer[i] = amplitude * env * v
	}
	normalise(buffer, amplitude)
	return buffer
}

// GenerateWhiteNoise returns uniformly distributed noise from a fixed seed.
func GenerateWhiteNoise(amplitude float64, size int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	buffer := make([]float64, size)
	for i := range buffer {
		buffer[i] = amplitude * (2*rng.Float64() - 1)
	}
	return buffer
}

// SpectrumWithPeaks builds a magnitude spectrum of bins values at floor,
// with the bin nearest each frequency set to its magnitude. Bin i sits at
// i*binHz.
func SpectrumWithPeaks(bins int, binHz, floor float64, peaks map[float64]float64) []float64 {
	s := make([]float64, bins)
	for i := range s {
		s[i] = floor
	}
	for hz, mag := range peaks {
		bin := int(math.Round(hz / binHz))
		if bin >= 0 && bin < bins {
			s[bin] = mag
		}
	}
	return s
}

// ToInt32 converts samples in [-1, 1] to full-scale int32 PCM.
func ToInt32(samples []float64) []int32 {
	out := make([]int32, len(samples))
	for i, v := range samples {
		v = math.Max(-1, math.Min(1, v))
		out[i] = int32(v * math.MaxInt32)
	}
	return out
}

// FindPeakBin returns the index of the largest magnitude in [startBin, endBin].
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}

func normalise(buffer []float64, amplitude float64) {
	var peak float64
	for _, v := range buffer {
		peak = math.Max(peak, math.Abs(v))
	}
	if peak == 0 {
		return
	}
	scale := amplitude / peak
	for i := range buffer {
		buffer[i] *= scale
	}
}
