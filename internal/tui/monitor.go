// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"conga/internal/analysis"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// DefaultRefresh is how often the monitor polls detector stats.
const DefaultRefresh = 100 * time.Millisecond

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A0A0A0")).
			Width(14)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E5484D"))

	modeStyles = map[analysis.Mode]lipgloss.Style{
		analysis.ModeIntelligent: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#25A065")),
		analysis.ModeHybrid:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F5A524")),
		analysis.ModeSimple:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E5484D")),
	}
)

type monitorKeys struct {
	Calibrate key.Binding
	Reset     key.Binding
	Quit      key.Binding
}

var defaultMonitorKeys = monitorKeys{
	Calibrate: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "calibrate")),
	Reset:     key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset")),
	Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

func (k monitorKeys) help() string {
	parts := make([]string, 0, 3)
	for _, b := range []key.Binding{k.Calibrate, k.Reset, k.Quit} {
		h := b.Help()
		parts = append(parts, h.Key+": "+h.Desc)
	}
	return strings.Join(parts, " • ")
}

type statsTickMsg time.Time

type calibrationDoneMsg struct {
	floor float64
	err   error
}

// Monitor is a bubbletea model showing live detector state.
type Monitor struct {
	detector    analysis.Detector
	calibration time.Duration
	refresh     time.Duration
	keys        monitorKeys

	title       string
	stats       analysis.Stats
	calibrating bool
	status      string
	statusErr   bool
	quitting    bool
}

// NewMonitor builds a monitor for detector. calibration is the duration used
// when the user starts a noise calibration.
func NewMonitor(title string, detector analysis.Detector, calibration time.Duration) Monitor {
	return Monitor{
		detector:    detector,
		calibration: calibration,
		refresh:     DefaultRefresh,
		keys:        defaultMonitorKeys,
		title:       title,
		stats:       detector.Stats(),
	}
}

func (m Monitor) Init() tea.Cmd {
	return m.tick()
}

func (m Monitor) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return statsTickMsg(t)
	})
}

func (m Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case statsTickMsg:
		m.stats = m.detector.Stats()
		return m, m.tick()

	case calibrationDoneMsg:
		m.calibrating = false
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("calibration failed: %v", msg.err), true)
		} else {
			m.setStatus(fmt.Sprintf("calibrated, floor %.5f", msg.floor), false)
		}
		m.stats = m.detector.Stats()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, m.keys.Calibrate):
			cal, err := m.detector.CalibrateNoiseFloor(m.calibration)
			if err != nil {
				m.setStatus(fmt.Sprintf("calibration unavailable: %v", err), true)
				return m, nil
			}
			m.calibrating = true
			m.setStatus(fmt.Sprintf("calibrating for %s, keep quiet", m.calibration), false)
			return m, waitCalibration(cal)

		case key.Matches(msg, m.keys.Reset):
			m.detector.Reset()
			m.stats = m.detector.Stats()
			m.setStatus("counters reset", false)
		}
	}
	return m, nil
}

func (m *Monitor) setStatus(s string, isErr bool) {
	m.status = s
	m.statusErr = isErr
}

func waitCalibration(cal *analysis.Calibration) tea.Cmd {
	return func() tea.Msg {
		<-cal.Done()
		return calibrationDoneMsg{floor: cal.Floor(), err: cal.Err()}
	}
}

func (m Monitor) View() string {
	if m.quitting {
		return ""
	}

	s := m.stats
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(m.title))
	sb.WriteString("\n\n")

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(label))
		sb.WriteString(value)
		sb.WriteString("\n")
	}

	modeStyle, ok := modeStyles[s.Mode]
	if !ok {
		modeStyle = infoStyle
	}
	row("Mode", modeStyle.Render(s.Mode.String()))
	row("Hits", fmt.Sprintf("%d onsets, %d events, %d gated", s.TotalHits, s.Events, s.GatedHits))
	row("Strokes", renderCounts(s.PerCategory))

	errs := fmt.Sprintf("%d", s.ErrorCount)
	if s.ErrorCount > 0 {
		errs = errorStyle.Render(errs)
	}
	row("Errors", errs)
	row("Noise floor", fmt.Sprintf("%.5f (%d updates)", s.NoiseFloor, s.NoiseUpdates))
	if s.Mode != analysis.ModeSimple {
		row("Confidence", fmt.Sprintf("avg %.2f, consistency %.2f", s.AvgConfidence, s.Consistency))
	}

	cal := "idle"
	if s.Calibrating || m.calibrating {
		cal = highlightStyle.Render("running")
	}
	row("Calibration", cal)

	last := "none"
	if ev := s.LastEvent; ev != nil {
		last = fmt.Sprintf("%s (%.2f) at %s", highlightStyle.Render(string(ev.Type)), ev.Confidence, ev.Timestamp.Round(time.Millisecond))
	}
	row("Last hit", last)

	if m.status != "" {
		sb.WriteString("\n")
		if m.statusErr {
			sb.WriteString(errorStyle.Render(m.status))
		} else {
			sb.WriteString(infoStyle.Render(m.status))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(infoStyle.Render(m.keys.help()))
	return sb.String()
}

// renderCounts lists the four stroke categories first, then anything else
// that was emitted, in name order.
func renderCounts(counts map[analysis.HitType]int) string {
	order := []analysis.HitType{analysis.HitOpen, analysis.HitSlap, analysis.HitBass, analysis.HitTip}
	var extra []analysis.HitType
	for t := range counts {
		if !t.IsCategory() {
			extra = append(extra, t)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })

	parts := make([]string, 0, len(order)+len(extra))
	for _, t := range append(order, extra...) {
		parts = append(parts, fmt.Sprintf("%s %d", t, counts[t]))
	}
	return strings.Join(parts, "  ")
}

// RunMonitor blocks until the user quits the monitor.
func RunMonitor(title string, detector analysis.Detector, calibration time.Duration) error {
	p := tea.NewProgram(NewMonitor(title, detector, calibration), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
