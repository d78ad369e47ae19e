// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"conga/internal/config"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// RecordingPath returns the configured output file, or a timestamped name
// inside the output directory.
func RecordingPath(cfg config.RecordingConfig, now time.Time) string {
	if cfg.OutputFile != "" {
		return cfg.OutputFile
	}
	return filepath.Join(cfg.OutputDir, "conga-"+now.Format("20060102-150405")+".wav")
}

func (e *Engine) StartRecording(filename string) error {
	e.recMu.Lock()
	defer e.recMu.Unlock()

	if atomic.LoadInt32(&e.isRecording) == 1 || e.wavEncoder != nil {
		return fmt.Errorf("already recording")
	}

	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	a, r := e.config.Audio, e.config.Recording
	bitDepth := r.BitDepth
	if bitDepth == 0 {
		bitDepth = config.DefaultBitDepth
	}

	e.outputFile = file
	e.wavEncoder = wav.NewEncoder(file, int(a.SampleRate), bitDepth, a.InputChannels, 1)
	e.sampleBuf = &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: a.InputChannels,
			SampleRate:  int(a.SampleRate),
		},
		Data:           make([]int, a.FramesPerBuffer*a.InputChannels),
		SourceBitDepth: bitDepth,
	}
	e.recordedFrames = 0
	e.maxFrames = int64(r.MaxDuration) * int64(a.SampleRate)
	e.writeFailures = 0

	atomic.StoreInt32(&e.isRecording, 1)
	logger.Infof("recording to %s (%d-bit)", filename, bitDepth)
	return nil
}

// record appends one interleaved buffer to the WAV file. Writing stops, with
// the file left open for StopRecording, once the maximum duration is reached
// or too many writes fail in a row.
func (e *Engine) record(buffer []int32) {
	if atomic.LoadInt32(&e.isRecording) == 0 {
		return
	}
	e.recMu.Lock()
	defer e.recMu.Unlock()
	if e.wavEncoder == nil {
		return
	}

	channels := e.config.Audio.InputChannels
	frames := int64(len(buffer) / channels)
	if e.maxFrames > 0 {
		frames = min(frames, e.maxFrames-e.recordedFrames)
	}
	n := min(int(frames)*channels, cap(e.sampleBuf.Data))

	shift := 32 - e.sampleBuf.SourceBitDepth
	e.sampleBuf.Data = e.sampleBuf.Data[:n]
	for i := range n {
		e.sampleBuf.Data[i] = int(buffer[i] >> shift)
	}

	if err := e.wavEncoder.Write(e.sampleBuf); err != nil {
		e.writeFailures++
		logger.Errorf("error writing to WAV file: %v", err)
		if e.writeFailures >= config.DefaultMaxConsecutiveWriteFailures {
			logger.Errorf("%d consecutive write failures, recording stopped", e.writeFailures)
			atomic.StoreInt32(&e.isRecording, 0)
		}
		return
	}
	e.writeFailures = 0
	e.recordedFrames += int64(n / channels)

	if e.maxFrames > 0 && e.recordedFrames >= e.maxFrames {
		logger.Infof("maximum recording duration reached")
		atomic.StoreInt32(&e.isRecording, 0)
	}
}

// RecordedDuration is the audio time written to the current recording.
func (e *Engine) RecordedDuration() time.Duration {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	return time.Duration(float64(e.recordedFrames) / e.config.Audio.SampleRate * float64(time.Second))
}

func (e *Engine) StopRecording() error {
	atomic.StoreInt32(&e.isRecording, 0)

	e.recMu.Lock()
	defer e.recMu.Unlock()

	if e.wavEncoder != nil {
		err := e.wavEncoder.Close()
		e.wavEncoder = nil
		if err != nil {
			e.outputFile.Close()
			e.outputFile = nil
			return err
		}
	}

	if e.outputFile != nil {
		if err := e.outputFile.Close(); err != nil {
			e.outputFile = nil
			return err
		}
		e.outputFile = nil
	}
	return nil
}
