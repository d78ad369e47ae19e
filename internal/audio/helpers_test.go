// SPDX-License-Identifier: MIT
package audio

import (
	"os"
	"testing"
	"time"

	"conga/internal/analysis"
	"conga/internal/config"
	"conga/pkg/utils"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	testSampleRate = 44100
	testFrameSize  = 512
)

// drumSession is low-level noise with hits drum strokes starting at 0.5s and
// spaced 300ms apart, each aligned to a buffer boundary.
func drumSession(hits int) []float64 {
	const spacing = 0.3
	total := int((0.5 + spacing*float64(hits) + 0.3) * testSampleRate)
	signal := utils.GenerateWhiteNoise(0.002, total, 1)

	hit := utils.GenerateDrumHit(testSampleRate, 0.8, 1, 15, 4096, 220, 440, 700)
	for h := range hits {
		start := int((0.5+spacing*float64(h))*testSampleRate) / testFrameSize * testFrameSize
		for i, v := range hit {
			if start+i < len(signal) {
				signal[start+i] += v
			}
		}
	}
	return signal
}

// hybridConfig forwards every accepted hit, labelled or generic.
func hybridConfig(channels int) *config.Config {
	cfg := config.NewConfig(analysis.DesktopProfile())
	cfg.Audio.SampleRate = testSampleRate
	cfg.Audio.FramesPerBuffer = testFrameSize
	cfg.Audio.InputChannels = channels
	cfg.Recording.BitDepth = 32
	cfg.Detection.Mode.InitialMode = analysis.ModeHybrid
	return cfg
}

type eventLog struct{ events []analysis.Event }

func (l *eventLog) handle(ev analysis.Event) { l.events = append(l.events, ev) }

func (l *eventLog) timestamps() []time.Duration {
	out := make([]time.Duration, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Timestamp
	}
	return out
}

func writeWAV(t *testing.T, path string, samples []float64, bitDepth int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	scale := float64(int64(1)<<(bitDepth-1) - 1)
	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(max(-1, min(1, v)) * scale)
	}

	enc := wav.NewEncoder(f, testSampleRate, bitDepth, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: testSampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}
