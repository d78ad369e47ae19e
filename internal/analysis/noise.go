// SPDX-License-Identifier: MIT
package analysis

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	applog "conga/internal/log"

	"gonum.org/v1/gonum/stat"
)

var (
	ErrCalibrationInProgress = errors.New("noise calibration already in progress")
	ErrCalibrationNoSamples  = errors.New("noise calibration collected no frames")
	ErrCalibrationCancelled  = errors.New("noise calibration cancelled")
)

const flatnessEpsilon = 1e-12

// NoiseProfile is the learned background level. It changes only through
// noise updates or an explicit calibration.
type NoiseProfile struct {
	PerBinLevel    []float64
	PerBinVariance []float64
	UpdateCount    int
	AdaptiveFloor  float64
}

func (p NoiseProfile) clone() NoiseProfile {
	p.PerBinLevel = append([]float64(nil), p.PerBinLevel...)
	p.PerBinVariance = append([]float64(nil), p.PerBinVariance...)
	return p
}

// Calibration is the handle of one calibration run. It completes when the
// pipeline has seen frames spanning the requested duration, when the
// watchdog expires it, or when it is cancelled.
type Calibration struct {
	duration time.Duration

	started bool
	start   time.Duration
	sum     []float64
	sumSq   []float64
	frames  int

	once  sync.Once
	done  chan struct{}
	err   error
	floor float64
}

func newCalibration(d time.Duration) *Calibration {
	return &Calibration{duration: d, done: make(chan struct{})}
}

// Duration is the span of audio the calibration collects.
func (c *Calibration) Duration() time.Duration {
	return c.duration
}

// Done is closed when the calibration has finished.
func (c *Calibration) Done() <-chan struct{} {
	return c.done
}

// Err returns the outcome once Done is closed, nil before that.
func (c *Calibration) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Floor is the calibrated floor. Zero unless the calibration succeeded.
func (c *Calibration) Floor() float64 {
	select {
	case <-c.done:
		return c.floor
	default:
		return 0
	}
}

// Wait blocks until the calibration finishes or ctx is done.
func (c *Calibration) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Calibration) complete(floor float64, err error) {
	c.once.Do(func() {
		c.floor = floor
		c.err = err
		close(c.done)
	})
}

// NoiseFloorEstimator learns the per-bin background level from frames that
// look like noise and derives the adaptive floor used by SpectralProcessor.
type NoiseFloorEstimator struct {
	cfg             NoiseFloorConfig
	profile         NoiseProfile
	calibratedFloor float64
	cal             *Calibration
	log             *applog.Logger
}

// NewNoiseFloorEstimator returns an estimator seeded with the initial floor.
func NewNoiseFloorEstimator(cfg NoiseFloorConfig) *NoiseFloorEstimator {
	floor := math.Max(cfg.InitialFloor, cfg.MinFloor)
	return &NoiseFloorEstimator{
		cfg:             cfg,
		profile:         NoiseProfile{AdaptiveFloor: floor},
		calibratedFloor: floor,
		log:             applog.Named("Noise"),
	}
}

// SetConfig applies new settings. The learned profile is kept.
func (e *NoiseFloorEstimator) SetConfig(cfg NoiseFloorConfig) {
	e.cfg = cfg
	if e.profile.AdaptiveFloor < cfg.MinFloor {
		e.profile.AdaptiveFloor = cfg.MinFloor
	}
}

// Floor returns the current adaptive floor.
func (e *NoiseFloorEstimator) Floor() float64 {
	return e.profile.AdaptiveFloor
}

// Profile returns a copy of the learned noise profile.
func (e *NoiseFloorEstimator) Profile() NoiseProfile {
	return e.profile.clone()
}

// Calibrating reports whether a calibration is collecting frames.
func (e *NoiseFloorEstimator) Calibrating() bool {
	return e.cal != nil
}

// IsLikelyNoise reports whether s is quiet and spectrally flat. Energy is the
// mean square magnitude over all bins; flatness is the ratio of geometric to
// arithmetic mean over all bins except DC.
func (e *NoiseFloorEstimator) IsLikelyNoise(s Spectrum) bool {
	if len(s) < 3 {
		return false
	}

	var energy float64
	for _, v := range s {
		energy += v * v
	}
	energy /= float64(len(s))
	if energy >= e.cfg.LowEnergyThreshold {
		return false
	}

	return spectralFlatness(s[1:]) > e.cfg.FlatnessThreshold
}

func spectralFlatness(s []float64) float64 {
	var logSum, sum float64
	for _, v := range s {
		v += flatnessEpsilon
		logSum += math.Log(v)
		sum += v
	}
	n := float64(len(s))
	return math.Exp(logSum/n) / (sum / n)
}

// Update folds s into the profile when it looks like noise and reports
// whether it did.
func (e *NoiseFloorEstimator) Update(s Spectrum) bool {
	if !e.IsLikelyNoise(s) {
		return false
	}

	p := &e.profile
	if len(p.PerBinLevel) != len(s) {
		p.PerBinLevel = append([]float64(nil), s...)
		p.PerBinVariance = make([]float64, len(s))
		p.UpdateCount = 1
		e.adaptFloor()
		return true
	}

	alpha := math.Min(e.cfg.MaxAlpha, 1/float64(p.UpdateCount+1))
	for i, v := range s {
		d := v - p.PerBinLevel[i]
		p.PerBinLevel[i] += alpha * d
		p.PerBinVariance[i] = (1-alpha)*p.PerBinVariance[i] + alpha*d*d
	}
	p.UpdateCount++
	e.adaptFloor()
	return true
}

// adaptFloor moves the floor a bounded step towards the safety-scaled mean
// level. It never drops more than FloorAdaptRate below the last calibrated
// value and never below MinFloor.
func (e *NoiseFloorEstimator) adaptFloor() {
	target := math.Max(e.cfg.MinFloor, stat.Mean(e.profile.PerBinLevel, nil)*e.cfg.SafetyMultiplier)
	floor := e.profile.AdaptiveFloor
	floor += e.cfg.FloorAdaptRate * (target - floor)
	floor = math.Max(floor, e.calibratedFloor*(1-e.cfg.FloorAdaptRate))
	e.profile.AdaptiveFloor = math.Max(floor, e.cfg.MinFloor)
}

// StartCalibration begins collecting frames for d. A non-positive d uses the
// configured calibration duration.
func (e *NoiseFloorEstimator) StartCalibration(d time.Duration) (*Calibration, error) {
	if e.cal != nil {
		return nil, ErrCalibrationInProgress
	}
	if d <= 0 {
		d = e.cfg.CalibrationDuration
	}
	e.cal = newCalibration(d)
	e.log.Infof("calibrating for %s", d)
	return e.cal, nil
}

// Observe feeds a conditioned spectrum to a running calibration. The clock
// starts at the first observed frame.
func (e *NoiseFloorEstimator) Observe(s Spectrum, now time.Duration) {
	c := e.cal
	if c == nil {
		return
	}
	if !c.started {
		c.started = true
		c.start = now
	}

	if len(s) > 0 {
		if len(c.sum) != len(s) {
			c.sum = make([]float64, len(s))
			c.sumSq = make([]float64, len(s))
			c.frames = 0
		}
		for i, v := range s {
			c.sum[i] += v
			c.sumSq[i] += v * v
		}
		c.frames++
	}

	if now-c.start >= c.duration {
		e.finishCalibration()
	}
}

// Advance moves a running calibration's clock without contributing a frame.
func (e *NoiseFloorEstimator) Advance(now time.Duration) {
	e.Observe(nil, now)
}

// ExpireCalibration finishes c with whatever it has collected, provided it is
// still the running calibration.
func (e *NoiseFloorEstimator) ExpireCalibration(c *Calibration) {
	if e.cal != nil && e.cal == c {
		e.log.Warnf("calibration watchdog fired after %d frames", c.frames)
		e.finishCalibration()
	}
}

// CancelCalibration abandons the running calibration, leaving the profile
// untouched. It reports whether anything was cancelled.
func (e *NoiseFloorEstimator) CancelCalibration() bool {
	c := e.cal
	if c == nil {
		return false
	}
	e.cal = nil
	c.complete(0, ErrCalibrationCancelled)
	e.log.Infof("calibration cancelled")
	return true
}

func (e *NoiseFloorEstimator) finishCalibration() {
	c := e.cal
	e.cal = nil
	if c.frames == 0 {
		e.log.Warnf("calibration finished without frames, keeping floor %.5f", e.profile.AdaptiveFloor)
		c.complete(0, ErrCalibrationNoSamples)
		return
	}

	n := float64(c.frames)
	mean := make([]float64, len(c.sum))
	variance := make([]float64, len(c.sum))
	for i := range c.sum {
		mean[i] = c.sum[i] / n
		variance[i] = math.Max(0, c.sumSq[i]/n-mean[i]*mean[i])
	}

	floor := math.Max(e.cfg.MinFloor, stat.Mean(mean, nil)*e.cfg.SafetyMultiplier)
	e.profile = NoiseProfile{
		PerBinLevel:    mean,
		PerBinVariance: variance,
		UpdateCount:    c.frames,
		AdaptiveFloor:  floor,
	}
	e.calibratedFloor = floor

	e.log.Infof("calibrated floor %.5f from %d frames", floor, c.frames)
	c.complete(floor, nil)
}
