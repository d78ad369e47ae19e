// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"time"

	"conga/internal/analysis"
)

// Transport delivers hit events to a consumer. Implementations must be safe
// for concurrent use and must not block the audio callback.
type Transport interface {
	Send(data any) error
	Close() error
}

// HitMessage is the JSON shape of a hit event on the wire.
type HitMessage struct {
	Type        analysis.HitType `json:"type"`
	Confidence  float64          `json:"confidence"`
	TimestampMs float64          `json:"timestamp_ms"` // Since the audio source started.
	Mode        analysis.Mode    `json:"mode"`
}

// NewHitMessage converts a pipeline event to its wire form.
func NewHitMessage(ev analysis.Event) HitMessage {
	return HitMessage{
		Type:        ev.Type,
		Confidence:  ev.Confidence,
		TimestampMs: float64(ev.Timestamp) / float64(time.Millisecond),
		Mode:        ev.Mode,
	}
}

// Multi fans every message out to all of its transports.
type Multi []Transport

// Send delivers data to every transport and joins their errors.
func (m Multi) Send(data any) error {
	var errs []error
	for _, t := range m {
		if err := t.Send(data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every transport, even if some fail.
func (m Multi) Close() error {
	var errs []error
	for _, t := range m {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handler returns an EventHandler that forwards events through t. Send
// failures are reported to onErr, which may be nil.
func Handler(t Transport, onErr func(error)) analysis.EventHandler {
	return func(ev analysis.Event) {
		if err := t.Send(ev); err != nil && onErr != nil {
			onErr(err)
		}
	}
}

var _ Transport = Multi(nil)
