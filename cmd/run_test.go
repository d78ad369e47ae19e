// SPDX-License-Identifier: MIT
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"conga/internal/analysis"
	"conga/internal/audio"
	"conga/internal/config"
	"conga/pkg/utils"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const replayRate = 44100

func writeSession(t *testing.T, seconds float64) string {
	t.Helper()
	n := int(seconds * replayRate)
	signal := utils.GenerateWhiteNoise(0.002, n, 3)
	hit := utils.GenerateDrumHit(replayRate, 0.8, 2, 15, 4096, 200, 400, 650)
	copy(signal[replayRate/2:], hit)

	data := make([]int, n)
	for i, v := range signal {
		data[i] = int(v * 32767)
	}

	path := filepath.Join(t.TempDir(), "session.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, replayRate, 16, 1, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: replayRate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	return path
}

func replayOptions(path string) *Options {
	cfg := config.NewConfig(analysis.DefaultConfig())
	cfg.Transport.LogEvents = false
	return &Options{Command: CommandReplay, Config: cfg, ReplayPath: path}
}

func TestRunReplaySummary(t *testing.T) {
	path := writeSession(t, 1)

	var out bytes.Buffer
	require.NoError(t, RunReplay(context.Background(), replayOptions(path), &out))

	summary := out.String()
	assert.Contains(t, summary, "Replayed "+path)
	assert.Contains(t, summary, "44100 Hz, 1 channel(s), 16-bit, 1s")
	assert.Contains(t, summary, "onsets: ")
}

func TestRunReplayUsesAudioConfig(t *testing.T) {
	path := writeSession(t, 0.5)

	opts := replayOptions(path)
	opts.Config.Audio.FFTSize = 4096
	opts.Config.Audio.FFTWindow = "hamming"
	var out bytes.Buffer
	require.NoError(t, RunReplay(context.Background(), opts, &out))
	assert.Contains(t, out.String(), "FFT: 4096 points, hamming window")

	opts = replayOptions(path)
	opts.Config.Audio.DisableFFT = true
	out.Reset()
	require.NoError(t, RunReplay(context.Background(), opts, &out))
	assert.Contains(t, out.String(), "FFT: disabled")
	assert.Contains(t, out.String(), "Mode: simple")
}

func TestRunReplayMissingFile(t *testing.T) {
	err := RunReplay(context.Background(), replayOptions(filepath.Join(t.TempDir(), "none.wav")), &bytes.Buffer{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunReplayCancelled(t *testing.T) {
	path := writeSession(t, 0.5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunReplay(ctx, replayOptions(path), &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteSummaryListsCategories(t *testing.T) {
	var out bytes.Buffer
	writeSummary(&out, "x.wav", audioResult(), analysis.Stats{
		Mode:        analysis.ModeHybrid,
		Events:      3,
		PerCategory: map[analysis.HitType]int{analysis.HitTip: 1, analysis.HitGeneric: 2},
	})
	s := out.String()
	assert.Contains(t, s, "Mode: hybrid")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("generic")), bytes.Index(out.Bytes(), []byte("tip")))
}

func audioResult() audio.ReplayResult {
	return audio.ReplayResult{SampleRate: replayRate, Channels: 1, BitDepth: 16, Buffers: 10, Duration: 116 * time.Millisecond}
}
