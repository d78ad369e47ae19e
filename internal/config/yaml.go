// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"conga/internal/analysis"
	"conga/internal/fft"
	applog "conga/internal/log"
	"conga/pkg/bitint"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvFile is loaded before the ENV_* overrides are read. Variables already
// present in the process environment win.
var EnvFile = ".env"

var logger = applog.Named("Config")

// LoadConfig loads configuration from the YAML file at path, using the
// detection preset the file names. See Load.
func LoadConfig(path string) (*Config, error) {
	return Load(path, "")
}

// Load builds the configuration in layers: built-in defaults, the detection
// preset, the YAML file at path (or ./config.yaml when path is empty and it
// exists), then ENV_* overrides from the environment and EnvFile. The preset
// is picked from profile, else ENV_DETECTION_PROFILE, else detection.profile
// in the file. Explicit detection fields in the file override the preset.
func Load(path, profile string) (*Config, error) {
	if err := godotenv.Load(EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", EnvFile, err)
	}

	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}

	var data []byte
	var fileProfile string
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		var peek struct {
			Detection struct {
				Profile string `yaml:"profile"`
			} `yaml:"detection"`
		}
		if err := yaml.Unmarshal(data, &peek); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		fileProfile = peek.Detection.Profile
	}

	name := profile
	if name == "" {
		name = os.Getenv("ENV_DETECTION_PROFILE")
	}
	if name == "" {
		name = fileProfile
	}
	preset, err := analysis.ProfileConfig(strings.ToLower(name))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg := NewConfig(preset)
	if data != nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		logger.Debugf("loaded %s", path)
	}
	cfg.Detection.Profile = preset.Profile

	// Overrides are applied AFTER the file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if _, ok := applog.ParseLevel(c.LogLevel); !ok && c.LogLevel != "" {
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}

	a := c.Audio
	if a.InputDevice < MinDeviceID {
		errs = append(errs, fmt.Errorf("audio.input_device must be >= %d, got %d", MinDeviceID, a.InputDevice))
	}
	if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be within [%d, %d], got %g", MinSampleRate, MaxSampleRate, a.SampleRate))
	}
	if a.FramesPerBuffer <= 0 || a.FramesPerBuffer > MaxBufferFrames {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer must be within [1, %d], got %d", MaxBufferFrames, a.FramesPerBuffer))
	}
	if a.InputChannels < 1 {
		errs = append(errs, fmt.Errorf("audio.input_channels must be positive, got %d", a.InputChannels))
	}
	if a.FFTSize != 0 && (!bitint.IsPowerOfTwo(a.FFTSize) || a.FFTSize < a.FramesPerBuffer) {
		errs = append(errs, fmt.Errorf("audio.fft_size must be 0 or a power of two >= frames_per_buffer, got %d", a.FFTSize))
	}
	if _, err := fft.ParseWindowFunc(a.FFTWindow); err != nil {
		errs = append(errs, fmt.Errorf("audio.fft_window: %w", err))
	}

	r := c.Recording
	if r.Enabled {
		if !strings.EqualFold(r.Format, "wav") {
			errs = append(errs, fmt.Errorf("recording.format %q is not supported, only wav", r.Format))
		}
		switch r.BitDepth {
		case 16, 24, 32:
		default:
			errs = append(errs, fmt.Errorf("recording.bit_depth must be 16, 24 or 32, got %d", r.BitDepth))
		}
		if r.OutputDir == "" && r.OutputFile == "" {
			errs = append(errs, errors.New("recording.output_dir or recording.output_file must be set when recording is enabled"))
		}
	}
	if r.MaxDuration < 0 {
		errs = append(errs, fmt.Errorf("recording.max_duration_seconds must not be negative, got %d", r.MaxDuration))
	}

	t := c.Transport
	if t.UDPEnabled || t.UDPStatsEnabled {
		if t.UDPTargetAddress == "" {
			errs = append(errs, errors.New("transport.udp_target_address must be set when UDP is enabled"))
		} else if !strings.Contains(t.UDPTargetAddress, ":") {
			errs = append(errs, fmt.Errorf("transport.udp_target_address '%s' appears invalid (missing port?)", t.UDPTargetAddress))
		}
	}
	if t.UDPStatsEnabled && t.UDPStatsInterval <= 0 {
		errs = append(errs, errors.New("transport.udp_stats_interval must be positive when UDP stats are enabled"))
	}
	if t.WebSocketEnabled {
		if t.WebSocketAddress == "" {
			errs = append(errs, errors.New("transport.websocket_address must be set when the websocket is enabled"))
		}
		if !strings.HasPrefix(t.WebSocketPath, "/") {
			errs = append(errs, fmt.Errorf("transport.websocket_path must start with '/', got %q", t.WebSocketPath))
		}
	}

	if err := c.Detection.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("detection: %w", err))
	}

	return errors.Join(errs...)
}

// EffectiveFFTSize is the transform length the engine will use.
func (a AudioConfig) EffectiveFFTSize() int {
	if a.FFTSize > 0 {
		return a.FFTSize
	}
	return bitint.FFTSizeFor(a.FramesPerBuffer, DefaultFFTSize)
}

// applyEnvOverrides reads the ENV_* variables. Malformed values are logged
// and ignored.
func (c *Config) applyEnvOverrides() {
	// ENV_{...}
	// General overrides.
	envBool("ENV_DEBUG", &c.Debug)
	envString("ENV_LOG_LEVEL", &c.LogLevel)
	envBool("ENV_TUI", &c.TUI)

	// ENV_AUDIO_{...}
	envInt("ENV_AUDIO_INPUT_DEVICE", &c.Audio.InputDevice)
	envFloat("ENV_AUDIO_SAMPLE_RATE", &c.Audio.SampleRate)
	envInt("ENV_AUDIO_FRAMES_PER_BUFFER", &c.Audio.FramesPerBuffer)

	// ENV_UDP_{...}
	// Specific to the transport layer.
	envBool("ENV_UDP_ENABLED", &c.Transport.UDPEnabled)
	envString("ENV_UDP_TARGET_ADDRESS", &c.Transport.UDPTargetAddress)
	envBool("ENV_UDP_STATS_ENABLED", &c.Transport.UDPStatsEnabled)
	envDuration("ENV_UDP_STATS_INTERVAL", &c.Transport.UDPStatsInterval)

	// ENV_WEBSOCKET_{...}
	envBool("ENV_WEBSOCKET_ENABLED", &c.Transport.WebSocketEnabled)
	envString("ENV_WEBSOCKET_ADDRESS", &c.Transport.WebSocketAddress)
}

func envString(key string, dst *string) {
	if val, ok := os.LookupEnv(key); ok {
		*dst = val
		logger.Infof("overriding %s from env: %s", key, val)
	}
}

func envBool(key string, dst *bool) {
	envParse(key, dst, strconv.ParseBool)
}

func envInt(key string, dst *int) {
	envParse(key, dst, strconv.Atoi)
}

func envFloat(key string, dst *float64) {
	envParse(key, dst, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func envDuration(key string, dst *time.Duration) {
	envParse(key, dst, time.ParseDuration)
}

func envParse[T any](key string, dst *T, parse func(string) (T, error)) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	v, err := parse(val)
	if err != nil {
		logger.Warnf("ignoring %s=%q: %v", key, val, err)
		return
	}
	*dst = v
	logger.Infof("overriding %s from env: %v", key, v)
}
