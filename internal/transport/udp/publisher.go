// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"conga/internal/analysis"
)

// StatsSource is anything that can report pipeline statistics.
type StatsSource interface {
	Stats() analysis.Stats
}

// StatsPublisher periodically snapshots a StatsSource, packs the counters
// into a binary packet and sends it over UDP. Start and Stop are idempotent.
type StatsPublisher struct {
	sender   *Sender
	source   StatsSource
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // Protects ticker and doneChan during Start/Stop.

	sequenceNum  uint32
	packetBuffer *bytes.Buffer // Reused for every packet.
}

// NewStatsPublisher creates a publisher. Intervals <= 0 default to 100ms.
func NewStatsPublisher(interval time.Duration, sender *Sender, source StatsSource) (*StatsPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("StatsPublisher: UDP sender cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("StatsPublisher: stats source cannot be nil")
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
		logger.Warnf("invalid stats interval, defaulting to %s", interval)
	}

	return &StatsPublisher{
		sender:       sender,
		source:       source,
		interval:     interval,
		packetBuffer: bytes.NewBuffer(make([]byte, 0, StatsPacketSize)),
	}, nil
}

// Start launches the publishing goroutine. Calling Start while running is a
// no-op.
func (p *StatsPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		logger.Warnf("stats publisher already running")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	// Locals so the goroutine never reads the fields.
	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		logger.Infof("stats publisher started (interval %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.buildAndSendPacket()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the goroutine and waits for it to exit. Safe to call when not
// running.
func (p *StatsPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	logger.Debugf("stats publisher stopped")
	return nil
}

/*
Stats packet (BigEndian):

+----------------+---------+-------+------------------------------------+
| Field          | Type    | Bytes | Description                        |
|----------------|---------|-------|------------------------------------|
| Sequence       | uint32  | 4     | Monotonically increasing           |
| Timestamp      | int64   | 8     | Nanoseconds since epoch            |
| Mode           | uint8   | 1     | 0 intelligent, 1 hybrid, 2 simple  |
| Calibrating    | uint8   | 1     | 1 while calibration is running     |
| Error count    | uint32  | 4     |                                    |
| Noise floor    | float32 | 4     |                                    |
| Total hits     | uint64  | 8     | Onsets accepted                    |
| Events         | uint64  | 8     | Events emitted                     |
| Open..Tip      | uint32  | 4 x 4 | Per-category counts                |
+----------------+---------+-------+------------------------------------+
*/

// StatsPacketSize is the encoded size of one stats packet.
const StatsPacketSize = 4 + 8 + 1 + 1 + 4 + 4 + 8 + 8 + 4*4

var categories = [...]analysis.HitType{analysis.HitOpen, analysis.HitSlap, analysis.HitBass, analysis.HitTip}

type statsPacket struct {
	Sequence    uint32
	Timestamp   int64
	Mode        uint8
	Calibrating uint8
	ErrorCount  uint32
	NoiseFloor  float32
	TotalHits   uint64
	Events      uint64
	PerCategory [4]uint32
}

func newStatsPacket(seq uint32, now time.Time, s analysis.Stats) statsPacket {
	pkt := statsPacket{
		Sequence:   seq,
		Timestamp:  now.UnixNano(),
		Mode:       uint8(s.Mode),
		ErrorCount: uint32(s.ErrorCount),
		NoiseFloor: float32(s.NoiseFloor),
		TotalHits:  s.TotalHits,
		Events:     s.Events,
	}
	if s.Calibrating {
		pkt.Calibrating = 1
	}
	for i, c := range categories {
		pkt.PerCategory[i] = uint32(s.PerCategory[c])
	}
	return pkt
}

func (p *StatsPublisher) buildAndSendPacket() {
	p.sequenceNum++
	pkt := newStatsPacket(p.sequenceNum, time.Now(), p.source.Stats())

	p.packetBuffer.Reset()
	if err := binary.Write(p.packetBuffer, binary.BigEndian, &pkt); err != nil {
		logger.Errorf("error packing stats packet: %v", err)
		return
	}

	// The sender logs its own failures.
	if err := p.sender.Send(p.packetBuffer.Bytes()); err == nil {
		logger.Debugf("sent stats packet %d (%d bytes)", p.sequenceNum, p.packetBuffer.Len())
	}
}

// DecodeStats parses a stats packet back into its fields.
func DecodeStats(b []byte) (seq uint32, stats analysis.Stats, err error) {
	if len(b) != StatsPacketSize {
		return 0, stats, fmt.Errorf("stats packet is %d bytes, want %d", len(b), StatsPacketSize)
	}
	var pkt statsPacket
	if err := binary.Read(bytes.NewReader(b), binary.BigEndian, &pkt); err != nil {
		return 0, stats, err
	}
	stats = analysis.Stats{
		Mode:        analysis.Mode(pkt.Mode),
		Calibrating: pkt.Calibrating == 1,
		ErrorCount:  int(pkt.ErrorCount),
		NoiseFloor:  float64(pkt.NoiseFloor),
		TotalHits:   pkt.TotalHits,
		Events:      pkt.Events,
		PerCategory: make(map[analysis.HitType]int, len(categories)),
	}
	for i, c := range categories {
		stats.PerCategory[c] = int(pkt.PerCategory[i])
	}
	return pkt.Sequence, stats, nil
}

// Close stops publishing. The sender is owned by the caller.
func (p *StatsPublisher) Close() error {
	return p.Stop()
}

var _ interface{ Close() error } = (*StatsPublisher)(nil)
