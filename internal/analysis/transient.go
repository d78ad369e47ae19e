// SPDX-License-Identifier: MIT
package analysis

import (
	"time"
)

const backgroundAlpha = 0.1

// TransientState is a snapshot of the detector.
type TransientState struct {
	InTransient    bool
	StartTimestamp time.Duration
	PeakLevel      float64
	VolumeHistory  []float64 // Oldest first.
}

// TransientDecision is the detector's verdict for one volume sample.
type TransientDecision struct {
	Hit           bool // Onset that passed the debounce window.
	Onset         bool // Onset regardless of debounce.
	Debounced     bool // Onset suppressed because a hit fired too recently.
	InTransient   bool
	Volume        float64
	RecentAverage float64
	Strength      float64 // How far the onset rose above the recent average, in [0, 1].
}

// TransientDetector finds sharp volume onsets against a short rolling
// average and enforces a minimum gap between accepted hits.
type TransientDetector struct {
	cfg TransientConfig

	inTransient bool
	start       time.Duration
	peak        float64

	history []float64
	head    int
	count   int

	triggered   bool
	lastTrigger time.Duration
	background  float64
}

// NewTransientDetector returns an idle detector.
func NewTransientDetector(cfg TransientConfig) *TransientDetector {
	return &TransientDetector{
		cfg:     cfg,
		history: make([]float64, max(cfg.HistorySize, 1)),
	}
}

// SetConfig applies new settings, keeping the most recent history.
func (t *TransientDetector) SetConfig(cfg TransientConfig) {
	if cfg.HistorySize != t.cfg.HistorySize {
		recent := t.ordered()
		t.history = make([]float64, max(cfg.HistorySize, 1))
		t.head, t.count = 0, 0
		if over := len(recent) - len(t.history); over > 0 {
			recent = recent[over:]
		}
		for _, v := range recent {
			t.push(v)
		}
	}
	t.cfg = cfg
}

// SetBackground overrides the background volume used until enough history
// has accumulated.
func (t *TransientDetector) SetBackground(v float64) {
	t.background = v
}

// ObserveBackground folds the volume of a frame known to be noise into the
// background estimate.
func (t *TransientDetector) ObserveBackground(v float64) {
	t.background += backgroundAlpha * (v - t.background)
}

// Background returns the current background volume estimate.
func (t *TransientDetector) Background() float64 {
	return t.background
}

// Update processes one volume sample taken at now.
func (t *TransientDetector) Update(volume float64, now time.Duration) TransientDecision {
	d := TransientDecision{Volume: volume}
	if t.count < t.cfg.MinHistory {
		t.push(volume)
		return d
	}

	avg := t.recentAverage()
	d.RecentAverage = avg

	if t.inTransient {
		if volume > t.peak {
			t.peak = volume
		}
		if now-t.start > t.cfg.MaxDuration || (t.peak > 0 && volume/t.peak < t.cfg.MaxSustainRatio) {
			t.inTransient = false
		}
	} else if volume > avg*t.cfg.TransientRatio && volume > t.cfg.VolumeThreshold {
		t.inTransient = true
		t.start = now
		t.peak = volume

		d.Onset = true
		d.Strength = clamp01(1 - avg/volume)
		if !t.triggered || now-t.lastTrigger >= t.cfg.Debounce {
			d.Hit = true
			t.triggered = true
			t.lastTrigger = now
		} else {
			d.Debounced = true
		}
	}

	d.InTransient = t.inTransient
	t.push(volume)
	return d
}

// State returns a snapshot of the detector.
func (t *TransientDetector) State() TransientState {
	return TransientState{
		InTransient:    t.inTransient,
		StartTimestamp: t.start,
		PeakLevel:      t.peak,
		VolumeHistory:  t.ordered(),
	}
}

// Reset returns the detector to idle with empty history.
func (t *TransientDetector) Reset() {
	t.inTransient = false
	t.start, t.peak = 0, 0
	t.head, t.count = 0, 0
	t.triggered = false
	t.lastTrigger = 0
	for i := range t.history {
		t.history[i] = 0
	}
}

// recentAverage is the mean of the last AverageWindow samples, excluding the
// sample being evaluated.
func (t *TransientDetector) recentAverage() float64 {
	n := t.cfg.AverageWindow
	if n <= 0 || t.count < n {
		return t.background
	}
	var sum float64
	for i := 1; i <= n; i++ {
		idx := (t.head - i + len(t.history)) % len(t.history)
		sum += t.history[idx]
	}
	return sum / float64(n)
}

func (t *TransientDetector) push(v float64) {
	t.history[t.head] = v
	t.head = (t.head + 1) % len(t.history)
	if t.count < len(t.history) {
		t.count++
	}
}

func (t *TransientDetector) ordered() []float64 {
	out := make([]float64, 0, t.count)
	start := (t.head - t.count + len(t.history)) % len(t.history)
	for i := 0; i < t.count; i++ {
		out = append(out, t.history[(start+i)%len(t.history)])
	}
	return out
}
