// SPDX-License-Identifier: MIT
package tui

import (
	"errors"
	"fmt"
	"strings"

	"conga/internal/audio"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ErrNoInputDevices is returned when nothing can be picked.
var ErrNoInputDevices = errors.New("no input-capable audio devices found")

// ScreenType defines which screen is currently active.
type ScreenType int

const (
	ListScreen ScreenType = iota
	ConfigScreen
)

var pickerSampleRates = []float64{44100, 48000, 88200, 96000}

// Selection is the outcome of the picker. Chosen is false when the user quit
// without confirming.
type Selection struct {
	Device     audio.Device
	SampleRate float64
	Chosen     bool
}

type pickerKeys struct {
	Up, Down, Enter, Back, Quit key.Binding
}

var defaultPickerKeys = pickerKeys{
	Up:    key.NewBinding(key.WithKeys("up", "k")),
	Down:  key.NewBinding(key.WithKeys("down", "j")),
	Enter: key.NewBinding(key.WithKeys("enter")),
	Back:  key.NewBinding(key.WithKeys("esc")),
	Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c")),
}

// DevicePicker lets the user choose the capture device and sample rate
// before the detector starts.
type DevicePicker struct {
	devices       []audio.Device
	selectedIndex int
	viewport      viewport.Model
	ready         bool
	activeScreen  ScreenType
	keys          pickerKeys

	sampleRateIndex int
	selection       Selection
}

// NewDevicePicker keeps only the devices that can capture.
func NewDevicePicker(devices []audio.Device) DevicePicker {
	inputs := make([]audio.Device, 0, len(devices))
	for _, d := range devices {
		if d.CanCapture() {
			inputs = append(inputs, d)
		}
	}
	return DevicePicker{
		devices:      inputs,
		activeScreen: ListScreen,
		keys:         defaultPickerKeys,
	}
}

func (m DevicePicker) Init() tea.Cmd {
	return nil
}

func (m DevicePicker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.viewport.Style = lipgloss.NewStyle()
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.refresh()

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}

		switch m.activeScreen {
		case ListScreen:
			switch {
			case key.Matches(msg, m.keys.Up):
				if m.selectedIndex > 0 {
					m.selectedIndex--
				}
			case key.Matches(msg, m.keys.Down):
				if m.selectedIndex < len(m.devices)-1 {
					m.selectedIndex++
				}
			case key.Matches(msg, m.keys.Enter):
				if len(m.devices) > 0 {
					m.activeScreen = ConfigScreen
					m.sampleRateIndex = rateIndex(m.devices[m.selectedIndex].DefaultSampleRate)
				}
			}

		case ConfigScreen:
			switch {
			case key.Matches(msg, m.keys.Back):
				m.activeScreen = ListScreen
			case key.Matches(msg, m.keys.Up):
				if m.sampleRateIndex > 0 {
					m.sampleRateIndex--
				}
			case key.Matches(msg, m.keys.Down):
				if m.sampleRateIndex < len(pickerSampleRates)-1 {
					m.sampleRateIndex++
				}
			case key.Matches(msg, m.keys.Enter):
				m.selection = Selection{
					Device:     m.devices[m.selectedIndex],
					SampleRate: pickerSampleRates[m.sampleRateIndex],
					Chosen:     true,
				}
				return m, tea.Quit
			}
		}
		m.refresh()
		return m, nil
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *DevicePicker) refresh() {
	if !m.ready {
		return
	}
	if m.activeScreen == ConfigScreen {
		m.viewport.SetContent(m.renderDeviceConfig())
	} else {
		m.viewport.SetContent(m.renderDevices())
	}
}

// rateIndex falls back to 44.1kHz when the device default is not offered.
func rateIndex(rate float64) int {
	for i, r := range pickerSampleRates {
		if r == rate {
			return i
		}
	}
	return 0
}

// Selection returns what the user confirmed, if anything.
func (m DevicePicker) Selection() Selection {
	return m.selection
}

func (m DevicePicker) View() string {
	if !m.ready {
		return "Initializing..."
	}

	var title, help string
	if m.activeScreen == ListScreen {
		title = titleStyle.Render("Choose Input Device")
		help = infoStyle.Render("↑/↓: Navigate • Enter: Configure • q: Quit")
	} else {
		title = titleStyle.Render("Device Configuration")
		help = infoStyle.Render("↑/↓: Change Value • Enter: Start • Esc: Back • q: Quit")
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

func (m DevicePicker) renderDevices() string {
	if len(m.devices) == 0 {
		return "No input devices found."
	}

	var sb strings.Builder
	for i, device := range m.devices {
		info := fmt.Sprintf("[%d] %s (%s)\n", device.ID, device.Name, device.Kind())
		info += fmt.Sprintf("    Input channels: %d, default sample rate: %.0f Hz\n",
			device.MaxInputChannels, device.DefaultSampleRate)
		info += fmt.Sprintf("    Input latency: %s low, %s high\n",
			device.LowInputLatency, device.HighInputLatency)

		if i == m.selectedIndex {
			info = highlightStyle.Render(info)
		}
		sb.WriteString(info)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m DevicePicker) renderDeviceConfig() string {
	var sb strings.Builder
	device := m.devices[m.selectedIndex]

	fmt.Fprintf(&sb, "Configure Device: %s\n\n", device.Name)
	sb.WriteString("Sample Rate:\n")

	for i, rate := range pickerSampleRates {
		marker := " "
		if i == m.sampleRateIndex {
			marker = "▶"
		}
		line := fmt.Sprintf("  %s %.0f Hz\n", marker, rate)
		if i == m.sampleRateIndex {
			line = highlightStyle.Render(line)
		}
		sb.WriteString(line)
	}
	return sb.String()
}

// PickDevice runs the picker full screen and returns the user's choice.
func PickDevice(devices []audio.Device) (Selection, error) {
	picker := NewDevicePicker(devices)
	if len(picker.devices) == 0 {
		return Selection{}, ErrNoInputDevices
	}

	final, err := tea.NewProgram(picker, tea.WithAltScreen()).Run()
	if err != nil {
		return Selection{}, err
	}
	return final.(DevicePicker).Selection(), nil
}
