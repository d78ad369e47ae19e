// SPDX-License-Identifier: MIT
package config

import (
	"time"

	"conga/internal/analysis"
)

// Defaults and hardware limits for the capture side.
const (
	DefaultDeviceID        = MinDeviceID // System default input.
	DefaultSampleRate      = 44100
	DefaultFramesPerBuffer = 512
	DefaultChannels        = 1
	DefaultFFTSize         = 1024
	DefaultFFTWindow       = "hann"
	DefaultFormat          = "wav"
	DefaultBitDepth        = 32
	DefaultOutputDir       = "./recordings"

	DefaultUDPTarget     = "127.0.0.1:9090"
	DefaultStatsInterval = 100 * time.Millisecond
	DefaultWebSocketAddr = "127.0.0.1:8765"
	DefaultWebSocketPath = "/hits"

	MinDeviceID     = -1     // -1 represents the system default device.
	MinSampleRate   = 8000   // Hz
	MaxSampleRate   = 192000 // Hz
	MaxBufferFrames = 8192

	// Consecutive WAV write failures tolerated before recording stops.
	DefaultMaxConsecutiveWriteFailures = 5
)

// Config is the complete runtime configuration, loaded from YAML and then
// overridden by the environment and the command line.
type Config struct {
	Debug     bool            `yaml:"debug"`
	LogLevel  string          `yaml:"log_level"` // debug, info, warn, error.
	Audio     AudioConfig     `yaml:"audio"`
	Detection analysis.Config `yaml:"detection"` // Preset chosen by detection.profile, fields override it.
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`
	TUI       bool            `yaml:"tui"`
}

// AudioConfig holds the input device and analysis window settings.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"` // PortAudio device index, -1 for default.
	SampleRate      float64 `yaml:"sample_rate"`
	FramesPerBuffer int     `yaml:"frames_per_buffer"`
	InputChannels   int     `yaml:"input_channels"` // Only the first channel is analysed.
	LowLatency      bool    `yaml:"low_latency"`
	FFTSize         int     `yaml:"fft_size"` // 0 picks the next power of two >= frames_per_buffer.
	FFTWindow       string  `yaml:"fft_window"`

	// Time-domain-only capture: the pipeline runs in simple mode with no
	// spectral analysis.
	DisableFFT bool `yaml:"disable_fft"`
}

// RecordingConfig holds WAV capture settings.
type RecordingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	OutputDir   string `yaml:"output_dir"`
	OutputFile  string `yaml:"output_file"` // Overrides the generated name in output_dir.
	Format      string `yaml:"format"`      // Only "wav".
	BitDepth    int    `yaml:"bit_depth"`
	MaxDuration int    `yaml:"max_duration_seconds"` // 0 for unlimited.
}

// TransportConfig selects where hit events and stats go.
type TransportConfig struct {
	LogEvents bool `yaml:"log_events"`

	WebSocketEnabled bool   `yaml:"websocket_enabled"`
	WebSocketAddress string `yaml:"websocket_address"`
	WebSocketPath    string `yaml:"websocket_path"`

	UDPEnabled       bool          `yaml:"udp_enabled"` // Binary hit events.
	UDPTargetAddress string        `yaml:"udp_target_address"`
	UDPStatsEnabled  bool          `yaml:"udp_stats_enabled"`
	UDPStatsInterval time.Duration `yaml:"udp_stats_interval"`
}

// NewConfig returns the built-in defaults with the given detection preset.
func NewConfig(detection analysis.Config) *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			InputChannels:   DefaultChannels,
			FFTWindow:       DefaultFFTWindow,
		},
		Detection: detection,
		Recording: RecordingConfig{
			OutputDir: DefaultOutputDir,
			Format:    DefaultFormat,
			BitDepth:  DefaultBitDepth,
		},
		Transport: TransportConfig{
			LogEvents:        true,
			WebSocketAddress: DefaultWebSocketAddr,
			WebSocketPath:    DefaultWebSocketPath,
			UDPTargetAddress: DefaultUDPTarget,
			UDPStatsInterval: DefaultStatsInterval,
		},
	}
}
