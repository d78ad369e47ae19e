// SPDX-License-Identifier: MIT
package fft

import (
	"errors"
	"fmt"
	"math/cmplx"
	"strings"
	"sync"

	"conga/pkg/bitint"

	applog "conga/internal/log"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

var (
	ErrSizeNotPowerOfTwo = errors.New("fft size must be a power of 2")
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
)

// WindowFunc selects the window applied before the transform.
type WindowFunc int

const (
	BartlettHann WindowFunc = iota
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
)

var windowNames = map[WindowFunc]string{
	BartlettHann:    "bartletthann",
	Blackman:        "blackman",
	BlackmanNuttall: "blackmannuttall",
	Hann:            "hann",
	Hamming:         "hamming",
	Lanczos:         "lanczos",
	Nuttall:         "nuttall",
}

func (w WindowFunc) String() string {
	if name, ok := windowNames[w]; ok {
		return name
	}
	return fmt.Sprintf("window(%d)", int(w))
}

// ParseWindowFunc converts a name (case-insensitive) to a WindowFunc. Unknown
// names return Hann and an error.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "hanning":
		return Hann, nil
	default:
		for w, wn := range windowNames {
			if wn == n {
				return w, nil
			}
		}
	}
	return Hann, fmt.Errorf("unknown FFT window function name: '%s'", name)
}

// Pre-allocated buffers for one transform.
type workspace struct {
	input     []float64    // Windowed samples.
	coeffs    []complex128 // size/2+1 complex results.
	magnitude []float64    // size/2 normalised magnitudes, Nyquist dropped.
	window    []float64
	mu        sync.RWMutex // Protects magnitude.
}

// Processor turns blocks of samples into a normalised magnitude spectrum of
// size/2 bins. Bin i is centred on i*sampleRate/size Hz, so the spectrum
// covers 0 Hz up to just below Nyquist.
type Processor struct {
	fft        *fourier.FFT
	size       int
	sampleRate float64
	wf         WindowFunc
	scale      float64 // Maps a full-scale sine to a magnitude of 1.
	ws         workspace
}

// NewProcessor pre-allocates every buffer and computes the window coefficients.
func NewProcessor(size int, sampleRate float64, wf WindowFunc) (*Processor, error) {
	if !bitint.IsPowerOfTwo(size) || size < 4 {
		return nil, fmt.Errorf("%w, got %d", ErrSizeNotPowerOfTwo, size)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w, got %f", ErrInvalidSampleRate, sampleRate)
	}

	coeffs := make([]float64, size)
	applyWindow(coeffs, wf)
	var sum float64
	for _, c := range coeffs {
		sum += c
	}

	applog.Named("FFT").Debugf("initialising processor (size %d, %.1f Hz, %s window)", size, sampleRate, wf)

	return &Processor{
		fft:        fourier.NewFFT(size),
		size:       size,
		sampleRate: sampleRate,
		wf:         wf,
		scale:      2 / sum,
		ws: workspace{
			input:     make([]float64, size),
			coeffs:    make([]complex128, size/2+1),
			magnitude: make([]float64, size/2),
			window:    coeffs,
		},
	}, nil
}

// Process windows samples (zero-padding short input), runs the transform and
// stores magnitudes clamped to [0, 1]. It does not allocate.
func (p *Processor) Process(samples []float64) {
	p.ws.mu.Lock()
	defer p.ws.mu.Unlock()

	for i := range p.size {
		if i < len(samples) {
			p.ws.input[i] = samples[i] * p.ws.window[i]
		} else {
			p.ws.input[i] = 0
		}
	}

	p.fft.Coefficients(p.ws.coeffs, p.ws.input)
	for i := range p.ws.magnitude {
		m := cmplx.Abs(p.ws.coeffs[i]) * p.scale
		if m > 1 {
			m = 1
		}
		p.ws.magnitude[i] = m
	}
}

// Magnitudes returns a copy of the latest spectrum.
func (p *Processor) Magnitudes() []float64 {
	p.ws.mu.RLock()
	defer p.ws.mu.RUnlock()
	return append([]float64(nil), p.ws.magnitude...)
}

// MagnitudesInto copies the latest spectrum into dst, which must hold
// exactly Bins values.
func (p *Processor) MagnitudesInto(dst []float64) error {
	p.ws.mu.RLock()
	defer p.ws.mu.RUnlock()

	if len(dst) != len(p.ws.magnitude) {
		return fmt.Errorf("destination slice length %d does not match required length %d", len(dst), len(p.ws.magnitude))
	}
	copy(dst, p.ws.magnitude)
	return nil
}

// FrequencyForBin returns the centre frequency of bin i, or 0 when out of range.
func (p *Processor) FrequencyForBin(i int) float64 {
	if i < 0 || i >= len(p.ws.magnitude) {
		return 0
	}
	return float64(i) * p.sampleRate / float64(p.size)
}

// Bins is the number of magnitudes produced per transform.
func (p *Processor) Bins() int { return p.size / 2 }

func (p *Processor) Size() int { return p.size }

func (p *Processor) SampleRate() float64 { return p.sampleRate }

func (p *Processor) Window() WindowFunc { return p.wf }

func applyWindow(coeffs []float64, wf WindowFunc) {
	for i := range coeffs {
		coeffs[i] = 1
	}
	switch wf {
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	default:
		window.Hann(coeffs)
	}
}
