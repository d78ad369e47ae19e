// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	applog "conga/internal/log"

	"github.com/mdobak/go-xerrors"
	"gonum.org/v1/gonum/floats"
)

// Capabilities describe what the audio source can deliver. They are checked
// once when the pipeline is built.
type Capabilities struct {
	FrequencyDomain bool
	TimeDomain      bool
}

// TickResult reports what one tick did. It is informational; events are
// delivered through the EventHandler.
type TickResult struct {
	Event       *Event
	NoSignal    bool
	NoiseUpdate bool // Frame was folded into the noise profile.
	Transient   TransientDecision
	Gated       bool // Hit rejected by the noise gate before feature extraction.
	Features    *FeatureVector
	Result      *ClassificationResult
	Err         error
}

// Thresholds are the live detection thresholds reported by Stats.
type Thresholds struct {
	VolumeThreshold  float64       `json:"volume_threshold"`
	TransientRatio   float64       `json:"transient_ratio"`
	MinConfidence    float64       `json:"min_confidence"`
	IntelligentFloor float64       `json:"intelligent_floor"`
	HybridFloor      float64       `json:"hybrid_floor"`
	NoiseGate        float64       `json:"noise_gate"`
	Debounce         time.Duration `json:"debounce"`
}

// Stats is a read-only snapshot of the pipeline counters.
type Stats struct {
	Mode          Mode            `json:"mode"`
	Ticks         uint64          `json:"ticks"`
	TotalHits     uint64          `json:"total_hits"` // Onsets accepted by the transient detector.
	Events        uint64          `json:"events"`
	GatedHits     uint64          `json:"gated_hits"`
	PerCategory   map[HitType]int `json:"per_category"`
	ErrorCount    int             `json:"error_count"`
	SoftErrors    int             `json:"soft_errors"`
	Consistency   float64         `json:"consistency"`
	AvgConfidence float64         `json:"avg_confidence"`
	NoiseFloor    float64         `json:"noise_floor"`
	NoiseUpdates  int             `json:"noise_updates"`
	Calibrating   bool            `json:"calibrating"`
	Thresholds    Thresholds      `json:"thresholds"`
	LastEvent     *Event          `json:"last_event,omitempty"`
}

// Detector is implemented by FullPipeline and SimplePipeline.
type Detector interface {
	Tick(frame AudioFrame) TickResult
	CalibrateNoiseFloor(d time.Duration) (*Calibration, error)
	CancelCalibration() bool
	Stats() Stats
	Reset()
	Configure(cfg Config) error
	OnModeChange(fn func(ModeChange))
}

// New validates cfg and builds the pipeline variant the source supports.
func New(cfg Config, caps Capabilities, handler EventHandler) (Detector, error) {
	switch {
	case caps.FrequencyDomain:
		return NewFullPipeline(cfg, handler)
	case caps.TimeDomain:
		return NewSimplePipeline(cfg, handler)
	default:
		return nil, errors.New("audio source provides neither frequency nor time domain data")
	}
}

// core holds what both pipeline variants share: serialisation, the transient
// gate, debounced emission and counters.
type core struct {
	mu      sync.Mutex
	cfg     Config
	handler EventHandler
	log     *applog.Logger

	transient *TransientDetector

	ticks, hits, events, gated uint64
	perCategory                map[HitType]int
	lastEvent                  *Event
	emitted                    bool
	lastEmit                   time.Duration
}

func newCore(cfg Config, handler EventHandler, name string) core {
	return core{
		cfg:         cfg,
		handler:     handler,
		log:         applog.Named(name),
		transient:   NewTransientDetector(cfg.Transient),
		perCategory: make(map[HitType]int),
	}
}

// emit delivers an event unless one was already emitted inside the debounce
// window. It reports whether the handler was called.
func (c *core) emit(ev Event) bool {
	if c.emitted && ev.Timestamp-c.lastEmit < c.cfg.Transient.Debounce {
		c.log.Debugf("suppressed %s at %s inside debounce window", ev.Type, ev.Timestamp)
		return false
	}
	c.emitted = true
	c.lastEmit = ev.Timestamp
	c.events++
	c.perCategory[ev.Type]++
	c.lastEvent = &ev
	if c.handler != nil {
		c.handler(ev)
	}
	return true
}

func (c *core) resetCounters() {
	c.ticks, c.hits, c.events, c.gated = 0, 0, 0, 0
	c.perCategory = make(map[HitType]int)
	c.lastEvent = nil
	c.emitted = false
	c.lastEmit = 0
}

func (c *core) baseStats() Stats {
	s := Stats{
		Ticks:       c.ticks,
		TotalHits:   c.hits,
		Events:      c.events,
		GatedHits:   c.gated,
		PerCategory: make(map[HitType]int, len(c.perCategory)),
		Thresholds: Thresholds{
			VolumeThreshold:  c.cfg.Transient.VolumeThreshold,
			TransientRatio:   c.cfg.Transient.TransientRatio,
			MinConfidence:    c.cfg.Classifier.MinConfidence,
			IntelligentFloor: c.cfg.Mode.IntelligentFloor,
			HybridFloor:      c.cfg.Mode.HybridFloor,
			Debounce:         c.cfg.Transient.Debounce,
		},
	}
	for k, v := range c.perCategory {
		s.PerCategory[k] = v
	}
	if c.lastEvent != nil {
		ev := *c.lastEvent
		s.LastEvent = &ev
	}
	return s
}

// FullPipeline runs the complete spectral analysis chain for sources that
// deliver frequency-domain data.
type FullPipeline struct {
	core

	spectral   *SpectralProcessor
	noise      *NoiseFloorEstimator
	features   *FeatureExtractor
	classifier *Classifier
	gate       *NoiseGate
	mode       *ModeController

	bins int // Spectrum length fixed by the first frame of the session.
}

// NewFullPipeline validates cfg and wires the analysis components.
func NewFullPipeline(cfg Config, handler EventHandler) (*FullPipeline, error) {
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detection config: %w", err)
	}

	p := &FullPipeline{core: newCore(cfg, handler, "Analysis")}
	p.noise = NewNoiseFloorEstimator(cfg.NoiseFloor)
	p.spectral = NewSpectralProcessor(cfg.Spectral, p.noise)
	p.features = NewFeatureExtractor(cfg.Features)
	p.classifier = NewClassifier(cfg.Classifier)
	p.gate = NewNoiseGate(cfg.Features.NoiseGateEnabled, cfg.Features.NoiseGateThreshold)
	p.mode = NewModeController(cfg.Mode)
	return p, nil
}

// Tick processes one frame. Ticks are serialised; a fault inside a tick is
// logged, counted and reported in the result, never propagated.
func (p *FullPipeline) Tick(frame AudioFrame) TickResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tick(frame)
}

func (p *FullPipeline) tick(frame AudioFrame) (res TickResult) {
	p.ticks++
	defer func() {
		if r := recover(); r != nil {
			res = TickResult{Err: p.fault(frame, fmt.Errorf("panic: %v", r))}
		}
	}()

	if isSilent(frame.FrequencyMagnitudes) {
		p.noise.Advance(frame.Timestamp)
		res.NoSignal = true
		return res
	}
	if err := p.validate(frame); err != nil {
		res.Err = p.fault(frame, err)
		return res
	}

	cond := p.spectral.Condition(frame.FrequencyMagnitudes, frame.SampleRate)
	volume := frameVolume(frame.TimeDomain, cond)

	// The noise model sees the spectrum before the floor clamp.
	p.noise.Observe(cond, frame.Timestamp)
	if p.noise.Update(cond) {
		res.NoiseUpdate = true
		p.transient.ObserveBackground(volume)
	}

	spectrum := p.spectral.Finish(cond)

	res.Transient = p.transient.Update(volume, frame.Timestamp)
	if !res.Transient.Hit {
		return res
	}
	p.hits++

	if p.mode.Mode() == ModeSimple {
		res.Event = p.emitEvent(HitGeneric, res.Transient.Strength, ModeSimple, frame.Timestamp, nil)
		return res
	}

	// Gate on the energy the frame carries, not the floor-clamped spectrum.
	if !p.gate.Open(floats.Dot(cond, cond)) {
		p.gated++
		res.Gated = true
		p.log.Debugf("hit at %s gated", frame.Timestamp)
		return res
	}

	fv, ok := p.features.Extract(spectrum, frame.TimeDomain, frame.SampleRate)
	if !ok {
		res.NoSignal = true
		return res
	}
	res.Features = fv

	cr := p.classifier.Classify(fv)
	res.Result = &cr
	d := p.mode.Observe(cr)
	p.log.Debugf("hit at %s: %s %.2f (%s)", frame.Timestamp, cr.Type, cr.Confidence, d.Mode)
	if d.Forward {
		res.Event = p.emitEvent(d.Type, d.Confidence, d.Mode, frame.Timestamp, &cr)
	}
	return res
}

func (p *FullPipeline) emitEvent(t HitType, conf float64, mode Mode, ts time.Duration, cr *ClassificationResult) *Event {
	ev := Event{Type: t, Confidence: clamp01(conf), Timestamp: ts, Mode: mode, Result: cr}
	if !p.emit(ev) {
		return nil
	}
	return &ev
}

func (p *FullPipeline) validate(frame AudioFrame) error {
	mags := frame.FrequencyMagnitudes
	if frame.SampleRate <= 0 || math.IsNaN(frame.SampleRate) || math.IsInf(frame.SampleRate, 0) {
		return fmt.Errorf("%w: sample rate %g", ErrMalformedFrame, frame.SampleRate)
	}
	for i, v := range mags {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: magnitude %g at bin %d", ErrMalformedFrame, v, i)
		}
	}
	for i, v := range frame.TimeDomain {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: sample %g at index %d", ErrMalformedFrame, v, i)
		}
	}
	if p.bins == 0 {
		p.bins = len(mags)
	} else if len(mags) != p.bins {
		return fmt.Errorf("%w: got %d bins, session uses %d", ErrSpectrumLengthChanged, len(mags), p.bins)
	}
	return nil
}

func (p *FullPipeline) fault(frame AudioFrame, err error) error {
	err = fmt.Errorf("tick at %s: %w", frame.Timestamp, err)
	traced := xerrors.New(err)
	p.mode.RecordError(traced)
	p.log.Errorf("processing fault: %s", xerrors.Sprint(traced))
	return err
}

// CalibrateNoiseFloor starts learning the noise floor from the next d of
// audio. Detection continues while it runs. If frames stop arriving, a
// watchdog finishes the calibration with whatever was collected.
func (p *FullPipeline) CalibrateNoiseFloor(d time.Duration) (*Calibration, error) {
	p.mu.Lock()
	cal, err := p.noise.StartCalibration(d)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	time.AfterFunc(cal.Duration()+calibrationGrace(cal.Duration()), func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.noise.ExpireCalibration(cal)
	})
	return cal, nil
}

func calibrationGrace(d time.Duration) time.Duration {
	return max(d/2, 250*time.Millisecond)
}

// CancelCalibration abandons a running calibration.
func (p *FullPipeline) CancelCalibration() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.noise.CancelCalibration()
}

// NoiseProfile returns a copy of the learned noise profile.
func (p *FullPipeline) NoiseProfile() NoiseProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.noise.Profile()
}

// ModeState returns a copy of the adaptive mode state.
func (p *FullPipeline) ModeState() ModeState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode.State()
}

// Stats returns a snapshot of the counters.
func (p *FullPipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.baseStats()
	ms := p.mode.State()
	s.Mode = ms.CurrentMode
	s.ErrorCount = ms.ErrorCount
	s.SoftErrors = ms.SoftErrors
	s.Consistency = ms.Consistency
	s.AvgConfidence = ms.AvgConfidence
	s.NoiseFloor = p.noise.Floor()
	s.NoiseUpdates = p.noise.profile.UpdateCount
	s.Calibrating = p.noise.Calibrating()
	if p.gate.Enabled() {
		s.Thresholds.NoiseGate = p.gate.Threshold()
	}
	return s
}

// Reset returns the transient detector and mode controller to their initial
// state and clears the counters. The learned noise profile is kept.
func (p *FullPipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.transient.Reset()
	p.spectral.Reset()
	p.mode.Reset()
	p.resetCounters()
	p.log.Infof("pipeline reset")
}

// Configure applies a new configuration live. The learned noise profile and
// the mode window survive.
func (p *FullPipeline) Configure(cfg Config) error {
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid detection config: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	p.spectral.SetConfig(cfg.Spectral)
	p.noise.SetConfig(cfg.NoiseFloor)
	p.transient.SetConfig(cfg.Transient)
	p.features.SetConfig(cfg.Features)
	p.classifier = NewClassifier(cfg.Classifier)
	p.gate = NewNoiseGate(cfg.Features.NoiseGateEnabled, cfg.Features.NoiseGateThreshold)
	p.mode.SetConfig(cfg.Mode)
	p.log.Infof("configuration updated (profile %s)", cfg.Profile)
	return nil
}

// OnModeChange registers a transition callback. It runs inside Tick and
// must not call back into the pipeline.
func (p *FullPipeline) OnModeChange(fn func(ModeChange)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode.OnModeChange(fn)
}

// SimplePipeline serves sources without frequency-domain data. Every
// debounced onset becomes a generic event.
type SimplePipeline struct {
	core
	errorCount int
}

// NewSimplePipeline validates cfg and builds a time-domain-only pipeline.
func NewSimplePipeline(cfg Config, handler EventHandler) (*SimplePipeline, error) {
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detection config: %w", err)
	}
	return &SimplePipeline{core: newCore(cfg, handler, "SimpleAnalysis")}, nil
}

// Tick processes one frame's time-domain samples.
func (p *SimplePipeline) Tick(frame AudioFrame) (res TickResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ticks++
	defer func() {
		if r := recover(); r != nil {
			res = TickResult{Err: p.fault(frame, fmt.Errorf("panic: %v", r))}
		}
	}()

	if isSilent(frame.TimeDomain) {
		res.NoSignal = true
		return res
	}
	for i, v := range frame.TimeDomain {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			res.Err = p.fault(frame, fmt.Errorf("%w: sample %g at index %d", ErrMalformedFrame, v, i))
			return res
		}
	}

	res.Transient = p.transient.Update(rms(frame.TimeDomain), frame.Timestamp)
	if !res.Transient.Hit {
		return res
	}
	p.hits++

	ev := Event{Type: HitGeneric, Confidence: res.Transient.Strength, Timestamp: frame.Timestamp, Mode: ModeSimple}
	if p.emit(ev) {
		res.Event = &ev
	}
	return res
}

func (p *SimplePipeline) fault(frame AudioFrame, err error) error {
	err = fmt.Errorf("tick at %s: %w", frame.Timestamp, err)
	p.errorCount++
	p.log.Errorf("processing fault: %s", xerrors.Sprint(xerrors.New(err)))
	return err
}

// CalibrateNoiseFloor is unavailable without spectral data.
func (p *SimplePipeline) CalibrateNoiseFloor(time.Duration) (*Calibration, error) {
	return nil, ErrFrequencyDomainUnavailable
}

// CancelCalibration always reports false.
func (p *SimplePipeline) CancelCalibration() bool {
	return false
}

// Stats returns a snapshot of the counters.
func (p *SimplePipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.baseStats()
	s.Mode = ModeSimple
	s.ErrorCount = p.errorCount
	return s
}

// Reset clears the transient detector and counters.
func (p *SimplePipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transient.Reset()
	p.resetCounters()
	p.errorCount = 0
}

// Configure applies new transient settings live.
func (p *SimplePipeline) Configure(cfg Config) error {
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid detection config: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	p.transient.SetConfig(cfg.Transient)
	return nil
}

// OnModeChange is a no-op: a simple pipeline never changes mode.
func (p *SimplePipeline) OnModeChange(func(ModeChange)) {}

func isSilent(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func rms(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return math.Sqrt(floats.Dot(v, v) / float64(len(v)))
}

// frameVolume prefers the time-domain RMS and falls back to the RMS of the
// conditioned spectrum.
func frameVolume(td []float64, s Spectrum) float64 {
	if len(td) > 0 {
		return rms(td)
	}
	return rms(s)
}
