// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"

	"conga/internal/config"
	"conga/pkg/build"

	"github.com/spf13/cobra"
)

// Command names what main should do after parsing.
type Command string

const (
	CommandNone   Command = "" // Help or version was printed.
	CommandRun    Command = "run"
	CommandList   Command = "list"
	CommandReplay Command = "replay"
)

// Options is the parsed command line on top of the loaded configuration.
type Options struct {
	Command    Command
	Config     *config.Config
	ReplayPath string
	Calibrate  bool // Calibrate the noise floor before detecting.
	Pick       bool // Choose the input device interactively.
}

type flagValues struct {
	configPath      string
	profile         string
	device          int
	sampleRate      float64
	framesPerBuffer int
	channels        int
	lowLatency      bool
	record          bool
	output          string
	tui             bool
	verbose         bool
}

// ParseArgs parses args (without the program name), loads the configuration
// the flags point at and applies explicit flags over it.
func ParseArgs(args []string) (*Options, error) {
	buildInfo := build.GetBuildFlags()
	opts := &Options{}
	var fv flagValues

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         "Real-time conga hit detection",
		Long:          "Listens to a microphone, detects conga strokes and forwards them as hit events.",
		Version:       buildInfo.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(fv.configPath, fv.profile)
			if err != nil {
				return err
			}
			if err := fv.apply(cmd, cfg); err != nil {
				return err
			}
			opts.Config = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Command = CommandRun
			return nil
		},
	}
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Command = CommandList
			return nil
		},
	}

	replayCmd := &cobra.Command{
		Use:   "replay <file.wav>",
		Short: "Run detection over a recorded WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Command = CommandReplay
			opts.ReplayPath = args[0]
			return nil
		},
	}
	rootCmd.AddCommand(listCmd, replayCmd)

	pf := rootCmd.PersistentFlags()

	// Configuration source
	pf.StringVar(&fv.configPath, "config", "",
		"Path to the YAML configuration file (default ./config.yaml if present)")
	pf.StringVarP(&fv.profile, "profile", "p", "",
		"Detection preset: desktop or mobile")

	// Audio Device Configuration
	pf.IntVarP(&fv.device, "device", "d", config.DefaultDeviceID,
		"Specify input device ID. Use 'list' command to see available devices.")
	pf.IntVarP(&fv.channels, "channels", "c", config.DefaultChannels,
		"Number of input channels to open; detection uses the first")
	pf.Float64VarP(&fv.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	pf.IntVarP(&fv.framesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"The number of frames per buffer (affects latency)")
	pf.BoolVarP(&fv.lowLatency, "low-latency", "l", false,
		"Use the device's low input latency")
	rootCmd.Flags().BoolVar(&opts.Pick, "pick", false,
		"Choose the input device and sample rate interactively")

	// Detection
	rootCmd.Flags().BoolVar(&opts.Calibrate, "calibrate", false,
		"Calibrate the noise floor before detecting (stay quiet)")

	// Recording Configuration
	rootCmd.Flags().BoolVarP(&fv.record, "record", "r", false,
		"Record audio from the input device while detecting")
	rootCmd.Flags().StringVarP(&fv.output, "output", "o", "",
		"Output file name. Default is <output_dir>/conga-YYYYMMDD-HHMMSS.wav")

	// Display
	rootCmd.Flags().BoolVar(&fv.tui, "tui", false,
		"Show the live terminal monitor")
	pf.BoolVarP(&fv.verbose, "verbose", "v", false,
		"Show verbose output")

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	return opts, nil
}

// apply copies the flags the user actually set over cfg and revalidates.
func (fv flagValues) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := func(name string) bool {
		f := cmd.Flag(name)
		return f != nil && f.Changed
	}

	if changed("device") {
		cfg.Audio.InputDevice = fv.device
	}
	if changed("channels") {
		cfg.Audio.InputChannels = fv.channels
	}
	if changed("sample-rate") {
		cfg.Audio.SampleRate = fv.sampleRate
	}
	if changed("frames-per-buffer") {
		cfg.Audio.FramesPerBuffer = fv.framesPerBuffer
	}
	if changed("low-latency") {
		cfg.Audio.LowLatency = fv.lowLatency
	}
	if changed("record") {
		cfg.Recording.Enabled = fv.record
	}
	if changed("output") {
		cfg.Recording.OutputFile = fv.output
		cfg.Recording.Enabled = true
	}
	if changed("tui") {
		cfg.TUI = fv.tui
	}
	if fv.verbose {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

