// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"conga/internal/analysis"
	"conga/internal/config"
	"conga/internal/fft"
	"conga/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayFileDetectsHits(t *testing.T) {
	signal := drumSession(4)
	path := filepath.Join(t.TempDir(), "session.wav")
	writeWAV(t, path, signal, 16)

	var log eventLog
	res, err := ReplayFile(context.Background(), path, hybridConfig(1), log.handle)
	require.NoError(t, err)
	require.NotNil(t, res.Detector)

	assert.Equal(t, float64(testSampleRate), res.SampleRate)
	assert.Equal(t, 1, res.Channels)
	assert.Equal(t, 16, res.BitDepth)
	assert.Equal(t, (len(signal)+testFrameSize-1)/testFrameSize, res.Buffers)
	want := time.Duration(float64(len(signal)) / testSampleRate * float64(time.Second))
	assert.InDelta(t, float64(want), float64(res.Duration), float64(time.Microsecond))

	assert.Equal(t, config.DefaultFFTSize, res.FFTSize)
	assert.Equal(t, fft.Hann, res.Window)
	assert.Equal(t, uint64(4), res.Detector.Stats().TotalHits)
	require.Len(t, log.events, 4)

	// Hits start at 0.5s and are 300ms apart.
	for i, ts := range log.timestamps() {
		expected := 500*time.Millisecond + time.Duration(i)*300*time.Millisecond
		assert.InDelta(t, float64(expected), float64(ts), float64(30*time.Millisecond), "hit %d", i)
	}
}

func TestReplayMatchesLiveEngine(t *testing.T) {
	signal := drumSession(3)
	path := filepath.Join(t.TempDir(), "session.wav")
	writeWAV(t, path, signal, 32)

	var replayed eventLog
	_, err := ReplayFile(context.Background(), path, hybridConfig(1), replayed.handle)
	require.NoError(t, err)

	var live eventLog
	e, err := newEngine(hybridConfig(1), live.handle)
	require.NoError(t, err)
	pcm := utils.ToInt32(signal)
	for start := 0; start+testFrameSize <= len(pcm); start += testFrameSize {
		e.processBuffer(pcm[start : start+testFrameSize])
	}

	require.Len(t, live.events, 3)
	assert.Equal(t, replayed.timestamps(), live.timestamps())
}

func TestReplayInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a RIFF file"), 0o644))

	res, err := ReplayFile(context.Background(), path, hybridConfig(1), nil)
	assert.ErrorIs(t, err, ErrInvalidWAV)
	assert.Nil(t, res.Detector)

	_, err = ReplayFile(context.Background(), filepath.Join(t.TempDir(), "missing.wav"), hybridConfig(1), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)

	cfg := hybridConfig(1)
	cfg.Audio.FFTWindow = "triangle"
	writeWAV(t, path, drumSession(1), 16)
	_, err = ReplayFile(context.Background(), path, cfg, nil)
	assert.ErrorContains(t, err, "unknown FFT window")
}

func TestReplayCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.wav")
	writeWAV(t, path, drumSession(1), 16)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := ReplayFile(ctx, path, hybridConfig(1), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Buffers)
}

func TestReplayFollowsAudioConfig(t *testing.T) {
	signal := drumSession(3)
	path := filepath.Join(t.TempDir(), "session.wav")
	writeWAV(t, path, signal, 32)

	cfg := hybridConfig(1)
	cfg.Audio.FFTSize = 2048
	cfg.Audio.FFTWindow = "blackman"

	var replayed eventLog
	res, err := ReplayFile(context.Background(), path, cfg, replayed.handle)
	require.NoError(t, err)
	assert.Equal(t, 2048, res.FFTSize)
	assert.Equal(t, fft.Blackman, res.Window)

	// The live engine with the same settings must see the same spectra.
	var live eventLog
	e, err := newEngine(cfg, live.handle)
	require.NoError(t, err)
	assert.Equal(t, 2048, e.frames.FFTSize())
	assert.Equal(t, fft.Blackman, e.frames.Window())
	pcm := utils.ToInt32(signal)
	for start := 0; start+testFrameSize <= len(pcm); start += testFrameSize {
		e.processBuffer(pcm[start : start+testFrameSize])
	}

	require.NotEmpty(t, live.events)
	require.Len(t, replayed.events, len(live.events))
	for i := range live.events {
		assert.Equal(t, live.events[i].Type, replayed.events[i].Type, "event %d", i)
		assert.Equal(t, live.events[i].Timestamp, replayed.events[i].Timestamp, "event %d", i)
	}
}

func TestReplayWithoutFFT(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.wav")
	writeWAV(t, path, drumSession(2), 16)

	cfg := hybridConfig(1)
	cfg.Audio.DisableFFT = true

	var log eventLog
	res, err := ReplayFile(context.Background(), path, cfg, log.handle)
	require.NoError(t, err)
	assert.Zero(t, res.FFTSize)

	stats := res.Detector.Stats()
	assert.Equal(t, analysis.ModeSimple, stats.Mode)
	require.Len(t, log.events, 2)
	for _, ev := range log.events {
		assert.Equal(t, analysis.HitGeneric, ev.Type)
	}
}
