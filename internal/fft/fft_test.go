// SPDX-License-Identifier: MIT
package fft

import (
	"errors"
	"math"
	"testing"

	"conga/pkg/utils"
)

const (
	testFFTSize    = 1024
	testSampleRate = 44100
)

func newTestProcessor(t testing.TB) *Processor {
	t.Helper()
	p, err := NewProcessor(testFFTSize, testSampleRate, Hann)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	return p
}

func TestNewProcessorValidation(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		rate    float64
		wantErr error
	}{
		{"valid", 512, 48000, nil},
		{"not a power of two", 1000, 48000, ErrSizeNotPowerOfTwo},
		{"zero size", 0, 48000, ErrSizeNotPowerOfTwo},
		{"zero rate", 512, 0, ErrInvalidSampleRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProcessor(tt.size, tt.rate, Hann)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewProcessor(%d, %g) error = %v, want %v", tt.size, tt.rate, err, tt.wantErr)
			}
		})
	}
}

func TestProcessFindsSineAtBinCentre(t *testing.T) {
	p := newTestProcessor(t)
	const bin = 40
	freq := p.FrequencyForBin(bin)

	p.Process(utils.GenerateSine(freq, testSampleRate, 1.0, testFFTSize))
	mags := p.Magnitudes()

	if len(mags) != p.Bins() {
		t.Fatalf("got %d magnitudes, want %d", len(mags), p.Bins())
	}
	if got := utils.FindPeakBin(mags, 0, len(mags)-1); got != bin {
		t.Errorf("peak at bin %d, want %d", got, bin)
	}
	if math.Abs(mags[bin]-1) > 0.01 {
		t.Errorf("full-scale sine magnitude = %.4f, want ~1", mags[bin])
	}
	for i, m := range mags {
		if m < 0 || m > 1 {
			t.Fatalf("magnitude %g at bin %d outside [0,1]", m, i)
		}
	}
}

func TestProcessZeroPadsShortInput(t *testing.T) {
	p := newTestProcessor(t)
	p.Process(make([]float64, 10))
	for i, m := range p.Magnitudes() {
		if m != 0 {
			t.Fatalf("silent input produced %g at bin %d", m, i)
		}
	}
}

func TestMagnitudesInto(t *testing.T) {
	p := newTestProcessor(t)
	p.Process(utils.GenerateSine(1000, testSampleRate, 0.5, testFFTSize))

	if err := p.MagnitudesInto(make([]float64, 3)); err == nil {
		t.Error("expected error for wrong destination length")
	}
	dst := make([]float64, p.Bins())
	if err := p.MagnitudesInto(dst); err != nil {
		t.Fatalf("MagnitudesInto: %v", err)
	}
	want := p.Magnitudes()
	for i := range dst {
		if dst[i] != want[i] {
			t.Fatalf("bin %d: %g != %g", i, dst[i], want[i])
		}
	}
}

func TestFrequencyForBin(t *testing.T) {
	p := newTestProcessor(t)
	tests := []struct {
		bin  int
		want float64
	}{
		{0, 0},
		{1, testSampleRate / float64(testFFTSize)},
		{256, 11025},
		{-1, 0},
		{testFFTSize / 2, 0}, // Nyquist is not part of the spectrum.
	}
	for _, tt := range tests {
		if got := p.FrequencyForBin(tt.bin); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("FrequencyForBin(%d) = %g, want %g", tt.bin, got, tt.want)
		}
	}
}

func TestParseWindowFunc(t *testing.T) {
	tests := []struct {
		name    string
		want    WindowFunc
		wantErr bool
	}{
		{"hann", Hann, false},
		{"Hanning", Hann, false},
		{"BLACKMAN", Blackman, false},
		{"blackmannuttall", BlackmanNuttall, false},
		{" hamming ", Hamming, false},
		{"square", Hann, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWindowFunc(tt.name)
			if got != tt.want || (err != nil) != tt.wantErr {
				t.Errorf("ParseWindowFunc(%q) = (%v, %v), want (%v, err=%v)", tt.name, got, err, tt.want, tt.wantErr)
			}
		})
	}
}

func TestFFTHotPath(t *testing.T) {
	p := newTestProcessor(t)
	input := utils.GenerateSine(440, testSampleRate, 0.8, testFFTSize)
	dst := make([]float64, p.Bins())

	// Warm-up call so lazy initialisation does not count.
	p.Process(input)
	allocs := testing.AllocsPerRun(100, func() {
		p.Process(input)
		_ = p.MagnitudesInto(dst)
	})

	if allocs > 0 {
		t.Errorf("Expected zero allocations in FFT hot path, got %.1f", allocs)
	}
}

func BenchmarkProcess(b *testing.B) {
	p := newTestProcessor(b)
	input := make([]float64, testFFTSize)

	// Fundamental at 440Hz plus harmonics.
	for i := range input {
		tm := float64(i) / testSampleRate
		input[i] = math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
	}

	b.ReportAllocs()

	for b.Loop() {
		p.Process(input)
	}
}
