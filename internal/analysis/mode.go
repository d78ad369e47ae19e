// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"strings"

	applog "conga/internal/log"

	"gonum.org/v1/gonum/stat"
)

// Mode is the operating mode of the adaptive controller.
type Mode int

const (
	ModeIntelligent Mode = iota // Every confident classification is forwarded with its label.
	ModeHybrid                  // Confident labels are forwarded, everything else becomes a generic hit.
	ModeSimple                  // Classification is skipped; only transient onsets are forwarded.
)

func (m Mode) String() string {
	switch m {
	case ModeIntelligent:
		return "intelligent"
	case ModeHybrid:
		return "hybrid"
	case ModeSimple:
		return "simple"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a mode name (case-insensitive) to a Mode.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "intelligent":
		return ModeIntelligent, nil
	case "hybrid":
		return ModeHybrid, nil
	case "simple":
		return ModeSimple, nil
	default:
		return ModeIntelligent, fmt.Errorf("unknown mode %q", name)
	}
}

// MarshalText lets modes appear by name in YAML and JSON.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText parses a mode name.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ModeChange describes one mode transition.
type ModeChange struct {
	From          Mode
	To            Mode
	Reason        string
	Consistency   float64
	AvgConfidence float64
	ErrorCount    int
}

// ModeState is owned by ModeController. Copies handed out by State are
// detached from the controller.
type ModeState struct {
	CurrentMode   Mode
	RecentResults []ClassificationResult
	ErrorCount    int
	SoftErrors    int
	Consistency   float64
	AvgConfidence float64
	Forced        bool // Set when repeated faults forced Simple mode; cleared only by Reset.
}

// Decision is the controller's routing verdict for one classification.
type Decision struct {
	Forward    bool
	Type       HitType
	Confidence float64
	Mode       Mode // Mode the decision was taken in.
	SoftError  bool // Dropped because confidence was under the intelligent-mode floor.
}

// ModeController tracks rolling classification quality and switches between
// intelligent, hybrid and simple operation.
type ModeController struct {
	cfg       ModeConfig
	state     ModeState
	lastErr   error
	listeners []func(ModeChange)
	log       *applog.Logger
}

// NewModeController returns a controller starting in cfg.InitialMode.
func NewModeController(cfg ModeConfig) *ModeController {
	return &ModeController{
		cfg: cfg,
		state: ModeState{
			CurrentMode:   cfg.InitialMode,
			RecentResults: make([]ClassificationResult, 0, cfg.Window),
		},
		log: applog.Named("Mode"),
	}
}

// OnModeChange registers fn to be called synchronously on every transition.
// Callbacks run inside the tick and must not call back into the pipeline.
func (c *ModeController) OnModeChange(fn func(ModeChange)) {
	if fn != nil {
		c.listeners = append(c.listeners, fn)
	}
}

// Mode returns the current operating mode.
func (c *ModeController) Mode() Mode {
	return c.state.CurrentMode
}

// State returns a copy of the controller state.
func (c *ModeController) State() ModeState {
	s := c.state
	s.RecentResults = append([]ClassificationResult(nil), c.state.RecentResults...)
	return s
}

// LastError returns the most recent processing fault, if any.
func (c *ModeController) LastError() error {
	return c.lastErr
}

// SetConfig applies new thresholds without discarding the rolling window.
func (c *ModeController) SetConfig(cfg ModeConfig) {
	c.cfg = cfg
	if over := len(c.state.RecentResults) - cfg.Window; over > 0 {
		c.state.RecentResults = append(c.state.RecentResults[:0], c.state.RecentResults[over:]...)
	}
	c.recompute()
}

// Observe records a classification, decides how it is forwarded in the
// current mode, then re-evaluates the intelligent/hybrid hysteresis.
func (c *ModeController) Observe(res ClassificationResult) Decision {
	mode := c.state.CurrentMode
	if mode == ModeSimple {
		return Decision{Forward: true, Type: HitGeneric, Confidence: res.Confidence, Mode: mode}
	}

	// Noise is a hit with too little energy to classify. It stays out of the
	// window so it cannot drag consistency down.
	if res.Type != HitNoise {
		c.push(res)
		c.recompute()
	}

	d := c.route(mode, res)
	if d.SoftError {
		c.state.SoftErrors++
	}
	c.evaluate()
	return d
}

// RecordError counts a processing fault. Once the count passes MaxErrors the
// controller is forced into Simple mode until Reset.
func (c *ModeController) RecordError(err error) {
	c.lastErr = err
	c.state.ErrorCount++
	if c.state.ErrorCount > c.cfg.MaxErrors && c.state.CurrentMode != ModeSimple {
		c.state.Forced = true
		c.transition(ModeSimple, fmt.Sprintf("error count %d exceeded %d", c.state.ErrorCount, c.cfg.MaxErrors))
	}
}

// Reset clears all counters and returns to the configured initial mode.
func (c *ModeController) Reset() {
	prev := c.state.CurrentMode
	c.state = ModeState{
		CurrentMode:   prev,
		RecentResults: c.state.RecentResults[:0],
	}
	c.lastErr = nil
	if prev != c.cfg.InitialMode {
		c.transition(c.cfg.InitialMode, "reset")
	}
}

func (c *ModeController) route(mode Mode, res ClassificationResult) Decision {
	d := Decision{Type: res.Type, Confidence: res.Confidence, Mode: mode}
	switch mode {
	case ModeIntelligent:
		if res.Type.IsCategory() && res.Confidence >= c.cfg.IntelligentFloor {
			d.Forward = true
		} else {
			d.SoftError = true
		}
	case ModeHybrid:
		if res.Type == HitNoise {
			break
		}
		d.Forward = true
		if !res.Type.IsCategory() || res.Confidence <= c.cfg.HybridFloor {
			d.Type = HitGeneric
		}
	}
	return d
}

func (c *ModeController) evaluate() {
	if len(c.state.RecentResults) < c.cfg.Window {
		return
	}
	s := c.state
	switch s.CurrentMode {
	case ModeIntelligent:
		if s.AvgConfidence < c.cfg.DowngradeConfidence && s.Consistency < c.cfg.DowngradeConsistency {
			c.transition(ModeHybrid, fmt.Sprintf("confidence %.2f, consistency %.2f", s.AvgConfidence, s.Consistency))
		}
	case ModeHybrid:
		if s.AvgConfidence > c.cfg.UpgradeConfidence && s.Consistency > c.cfg.UpgradeConsistency {
			c.transition(ModeIntelligent, fmt.Sprintf("confidence %.2f, consistency %.2f", s.AvgConfidence, s.Consistency))
		}
	}
}

func (c *ModeController) transition(to Mode, reason string) {
	change := ModeChange{
		From:          c.state.CurrentMode,
		To:            to,
		Reason:        reason,
		Consistency:   c.state.Consistency,
		AvgConfidence: c.state.AvgConfidence,
		ErrorCount:    c.state.ErrorCount,
	}
	c.state.CurrentMode = to
	// A fresh window keeps one burst of results from flipping the mode back.
	c.state.RecentResults = c.state.RecentResults[:0]
	c.recompute()

	c.log.Infof("mode %s -> %s (%s)", change.From, change.To, reason)
	for _, fn := range c.listeners {
		fn(change)
	}
}

func (c *ModeController) push(res ClassificationResult) {
	if len(c.state.RecentResults) >= c.cfg.Window {
		n := copy(c.state.RecentResults, c.state.RecentResults[1:])
		c.state.RecentResults = c.state.RecentResults[:n]
	}
	c.state.RecentResults = append(c.state.RecentResults, res)
}

func (c *ModeController) recompute() {
	window := c.state.RecentResults
	if len(window) == 0 {
		c.state.Consistency = 0
		c.state.AvgConfidence = 0
		return
	}

	counts := make(map[HitType]int, len(window))
	confidences := make([]float64, len(window))
	best := 0
	for i, r := range window {
		counts[r.Type]++
		if counts[r.Type] > best {
			best = counts[r.Type]
		}
		confidences[i] = r.Confidence
	}
	c.state.Consistency = float64(best) / float64(len(window))
	c.state.AvgConfidence = stat.Mean(confidences, nil)
}
