// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"conga/internal/analysis"
	"conga/internal/transport"
)

/*
Hit packet (BigEndian), one per event:

|<- 4 ->|<--- 8 --->|<- 1 ->|<- 1 ->|<-- 4 -->|
+-------+-----------+-------+-------+---------+
|  Seq  | Timestamp | Type  | Mode  | Conf    |
|uint32 |  int64 ns | uint8 | uint8 | float32 |
+-------+-----------+-------+-------+---------+

Timestamp is the event time since the audio source started.
*/
const HitPacketSize = 4 + 8 + 1 + 1 + 4

// Wire codes for hit types. Zero is reserved for unknown labels.
var hitTypeCodes = map[analysis.HitType]uint8{
	analysis.HitOpen:       1,
	analysis.HitSlap:       2,
	analysis.HitBass:       3,
	analysis.HitTip:        4,
	analysis.HitGeneric:    5,
	analysis.HitAmbiguous:  6,
	analysis.HitBackground: 7,
	analysis.HitNoise:      8,
}

// HitTypeCode returns the wire code for t.
func HitTypeCode(t analysis.HitType) uint8 {
	return hitTypeCodes[t]
}

// HitTypeFromCode is the inverse of HitTypeCode.
func HitTypeFromCode(code uint8) analysis.HitType {
	for t, c := range hitTypeCodes {
		if c == code {
			return t
		}
	}
	return analysis.HitUnknown
}

// EventTransport sends each hit event as a fixed-size binary datagram.
type EventTransport struct {
	sender *Sender
	mu     sync.Mutex
	seq    uint32
	buf    [HitPacketSize]byte
}

// NewEventTransport wraps sender. The transport owns it from then on.
func NewEventTransport(sender *Sender) (*EventTransport, error) {
	if sender == nil {
		return nil, fmt.Errorf("EventTransport: UDP sender cannot be nil")
	}
	return &EventTransport{sender: sender}, nil
}

// Send encodes and transmits an analysis.Event. Other values are rejected.
func (t *EventTransport) Send(data any) error {
	ev, ok := data.(analysis.Event)
	if !ok {
		return fmt.Errorf("EventTransport: unsupported message type %T", data)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	EncodeHit(t.buf[:], t.seq, ev)
	return t.sender.Send(t.buf[:])
}

// Close closes the underlying sender.
func (t *EventTransport) Close() error {
	return t.sender.Close()
}

// EncodeHit writes ev into dst, which must hold HitPacketSize bytes.
func EncodeHit(dst []byte, seq uint32, ev analysis.Event) {
	binary.BigEndian.PutUint32(dst[0:], seq)
	binary.BigEndian.PutUint64(dst[4:], uint64(ev.Timestamp))
	dst[12] = HitTypeCode(ev.Type)
	dst[13] = uint8(ev.Mode)
	binary.BigEndian.PutUint32(dst[14:], math.Float32bits(float32(ev.Confidence)))
}

// DecodeHit parses a hit packet.
func DecodeHit(b []byte) (seq uint32, ev analysis.Event, err error) {
	if len(b) != HitPacketSize {
		return 0, ev, fmt.Errorf("hit packet is %d bytes, want %d", len(b), HitPacketSize)
	}
	seq = binary.BigEndian.Uint32(b[0:])
	ev.Timestamp = time.Duration(binary.BigEndian.Uint64(b[4:]))
	ev.Type = HitTypeFromCode(b[12])
	ev.Mode = analysis.Mode(b[13])
	ev.Confidence = float64(math.Float32frombits(binary.BigEndian.Uint32(b[14:])))
	return seq, ev, nil
}

var _ transport.Transport = (*EventTransport)(nil)
