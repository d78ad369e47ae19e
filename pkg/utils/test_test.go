// SPDX-License-Identifier: MIT
package utils

import (
	"math"
	"os"
	"testing"
)

const (
	testSize       = 1024
	testSampleRate = 44100
	testFrequency  = 440.0 // A4 note
)

var testMagnitudes []float64

func TestMain(m *testing.M) {
	testMagnitudes = make([]float64, testSize)

	// Creates a "hill" with peak at position testSize/4.
	for i := range testMagnitudes {
		testMagnitudes[i] = math.Exp(-0.01 * math.Pow(float64(i-testSize/4), 2))
	}

	os.Exit(m.Run())
}

func TestMockTransport(t *testing.T) {
	mt := &MockTransport{}

	for _, msg := range []any{"hello", 42, []float64{0.1, 0.2}} {
		if err := mt.Send(msg); err != nil {
			t.Fatalf("Send(%v) error = %v", msg, err)
		}
	}

	got := mt.Messages()
	if len(got) != 3 {
		t.Fatalf("Messages() returned %d items, want 3", len(got))
	}
	if got[0] != "hello" || got[1] != 42 {
		t.Errorf("Messages() = %v", got)
	}

	got[0] = "mutated"
	if mt.Messages()[0] != "hello" {
		t.Error("Messages() exposed internal storage")
	}

	if mt.Closed() {
		t.Error("transport closed before Close()")
	}
	_ = mt.Close()
	if !mt.Closed() {
		t.Error("Closed() = false after Close()")
	}
}

func TestGenerateSine(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		sampleRate float64
		frequency  float64
	}{
		{"A4", testSize, testSampleRate, testFrequency},
		{"Low", 4096, 8000, 100},
		{"High", 2048, 96000, 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GenerateSine(tt.frequency, tt.sampleRate, 0.5, tt.size)

			if len(result) != tt.size {
				t.Fatalf("GenerateSine() buffer size = %d, want %d", len(result), tt.size)
			}

			crossCount := 0
			for i := 1; i < tt.size; i++ {
				if (result[i-1] < 0 && result[i] >= 0) || (result[i-1] >= 0 && result[i] < 0) {
					crossCount++
				}
				if math.Abs(result[i]) > 0.5+1e-12 {
					t.Fatalf("sample %d = %g exceeds amplitude", i, result[i])
				}
			}

			// Two crossings per cycle, 20% margin for phase alignment.
			expected := float64(tt.size) / (tt.sampleRate / tt.frequency / 2)
			if math.Abs(float64(crossCount)-expected) > 0.2*expected {
				t.Errorf("zero crossings = %d, expected approximately %.1f", crossCount, expected)
			}
		})
	}
}

func TestGenerateComplexWave(t *testing.T) {
	result := GenerateComplexWave(testSize, testSampleRate)
	if len(result) != testSize {
		t.Fatalf("buffer size = %d, want %d", len(result), testSize)
	}
	for i, v := range result {
		if math.Abs(v) > 0.9 {
			t.Fatalf("sample %d = %g exceeds 0.9", i, v)
		}
	}
}

func TestGenerateDrumHit(t *testing.T) {
	hit := GenerateDrumHit(testSampleRate, 0.8, 2, 15, 2048, 200, 400, 650)

	peakIdx, peak := 0, 0.0
	for i, v := range hit {
		if a := math.Abs(v); a > peak {
			peakIdx, peak = i, a
		}
	}
	if math.Abs(peak-0.8) > 1e-9 {
		t.Errorf("peak amplitude = %g, want 0.8", peak)
	}

	if peakIdx > len(hit)/2 {
		t.Errorf("peak at sample %d, want an early attack", peakIdx)
	}

	var head, tail float64
	for _, v := range hit[:512] {
		head += math.Abs(v)
	}
	for _, v := range hit[len(hit)-512:] {
		tail += math.Abs(v)
	}
	if tail >= head/4 {
		t.Errorf("tail energy %g not decayed relative to head %g", tail, head)
	}
}

func TestGenerateWhiteNoise(t *testing.T) {
	a := GenerateWhiteNoise(0.1, 4096, 7)
	b := GenerateWhiteNoise(0.1, 4096, 7)

	var sum float64
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same seed produced different noise")
		}
		if math.Abs(a[i]) > 0.1 {
			t.Fatalf("sample %d = %g exceeds amplitude", i, a[i])
		}
		sum += a[i]
	}
	if mean := sum / float64(len(a)); math.Abs(mean) > 0.01 {
		t.Errorf("noise mean = %g, want ~0", mean)
	}
}

func TestSpectrumWithPeaks(t *testing.T) {
	s := SpectrumWithPeaks(64, 50, 0.001, map[float64]float64{200: 0.8, 1010: 0.4, 99999: 1})

	if len(s) != 64 {
		t.Fatalf("len = %d, want 64", len(s))
	}
	if s[4] != 0.8 || s[20] != 0.4 {
		t.Errorf("peaks not placed: s[4]=%g s[20]=%g", s[4], s[20])
	}
	if s[0] != 0.001 || s[63] != 0.001 {
		t.Error("floor not applied")
	}
}

func TestToInt32(t *testing.T) {
	got := ToInt32([]float64{0, 1, -1, 2, 0.5})
	want := []int32{0, math.MaxInt32, -math.MaxInt32, math.MaxInt32, math.MaxInt32 / 2}
	for i := range want {
		if d := got[i] - want[i]; d > 1 || d < -1 {
			t.Errorf("ToInt32[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFindPeakBin(t *testing.T) {
	tests := []struct {
		name     string
		mags     []float64
		start    int
		end      int
		expected int
	}{
		{"Full Range", testMagnitudes, 0, testSize - 1, testSize / 4},
		{"Partial Range Start", testMagnitudes, testSize / 8, testSize - 1, testSize / 4},
		{"Partial Range End", testMagnitudes, 0, testSize / 3, testSize / 4},
		{"Negative Start", testMagnitudes, -10, testSize - 1, testSize / 4},
		{"Out of Range End", testMagnitudes, 0, testSize * 2, testSize / 4},
		{"Empty Slice", []float64{}, 0, 10, 0},
		{"Single Value", []float64{1.0}, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FindPeakBin(tt.mags, tt.start, tt.end); got != tt.expected {
				t.Errorf("FindPeakBin() = %d, want %d", got, tt.expected)
			}
		})
	}

	allocs := testing.AllocsPerRun(100, func() {
		FindPeakBin(testMagnitudes, 0, len(testMagnitudes)-1)
	})
	if allocs > 0 {
		t.Errorf("FindPeakBin allocated memory: got %.1f allocs, want 0", allocs)
	}
}

func BenchmarkGenerateDrumHit(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		GenerateDrumHit(testSampleRate, 0.8, 2, 15, testSize, 200, 400, 650)
	}
}

func BenchmarkFindPeakBin(b *testing.B) {
	benchmarks := []struct {
		name string
		size int
	}{
		{"Small", 64},
		{"Standard", 1024},
		{"Large", 8192},
	}

	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			mags := make([]float64, bm.size)
			peakPos := bm.size / 2
			for i := range mags {
				mags[i] = math.Exp(-0.01 * math.Pow(float64(i-peakPos), 2))
			}

			b.ReportAllocs()
			for b.Loop() {
				FindPeakBin(mags, 0, bm.size-1)
			}
		})
	}
}
