// SPDX-License-Identifier: MIT
package udp

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"conga/internal/analysis"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listen opens a loopback receiver and a Sender pointed at it.
func listen(t *testing.T) (*net.UDPConn, *Sender) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	s, err := NewSender(conn.LocalAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return conn, s
}

func read(t *testing.T, conn *net.UDPConn) []byte {
	t.Helper()
	buf := make([]byte, 1500)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	return buf[:n]
}

func TestSenderRoundTrip(t *testing.T) {
	conn, s := listen(t)

	require.NoError(t, s.Send([]byte("ping")))
	assert.Equal(t, "ping", string(read(t, conn)))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Send([]byte("late")), ErrSenderClosed)
}

func TestNewSenderBadAddress(t *testing.T) {
	_, err := NewSender("no-port")
	assert.Error(t, err)
}

func TestEventTransport(t *testing.T) {
	conn, s := listen(t)
	et, err := NewEventTransport(s)
	require.NoError(t, err)

	ev := analysis.Event{
		Type:       analysis.HitBass,
		Confidence: 0.75,
		Timestamp:  3 * time.Second,
		Mode:       analysis.ModeHybrid,
	}
	require.NoError(t, et.Send(ev))
	require.NoError(t, et.Send(ev))

	for want := uint32(1); want <= 2; want++ {
		seq, got, err := DecodeHit(read(t, conn))
		require.NoError(t, err)
		assert.Equal(t, want, seq)
		assert.Equal(t, ev.Type, got.Type)
		assert.Equal(t, ev.Mode, got.Mode)
		assert.Equal(t, ev.Timestamp, got.Timestamp)
		assert.InDelta(t, ev.Confidence, got.Confidence, 1e-6)
	}

	assert.Error(t, et.Send("not an event"))
	_, err = NewEventTransport(nil)
	assert.Error(t, err)
}

func TestHitTypeCodes(t *testing.T) {
	seen := map[uint8]bool{}
	for ht, code := range hitTypeCodes {
		assert.NotZero(t, code)
		assert.False(t, seen[code], "duplicate code %d", code)
		seen[code] = true
		assert.Equal(t, ht, HitTypeFromCode(code))
	}
	assert.Equal(t, analysis.HitUnknown, HitTypeFromCode(0))
	assert.Equal(t, uint8(0), HitTypeCode(analysis.HitUnknown))
}

func TestDecodeHitRejectsShortPacket(t *testing.T) {
	_, _, err := DecodeHit(make([]byte, HitPacketSize-1))
	assert.Error(t, err)
}

type fakeStats struct{ calls atomic.Int32 }

func (f *fakeStats) Stats() analysis.Stats {
	f.calls.Add(1)
	return analysis.Stats{
		Mode:        analysis.ModeSimple,
		TotalHits:   42,
		Events:      40,
		ErrorCount:  11,
		NoiseFloor:  0.002,
		Calibrating: true,
		PerCategory: map[analysis.HitType]int{analysis.HitOpen: 5, analysis.HitTip: 2},
	}
}

func TestStatsPublisher(t *testing.T) {
	conn, s := listen(t)
	src := &fakeStats{}

	p, err := NewStatsPublisher(10*time.Millisecond, s, src)
	require.NoError(t, err)
	p.Start()
	p.Start() // No-op while running.
	t.Cleanup(func() { p.Close() })

	seq, stats, err := DecodeStats(read(t, conn))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), seq)
	assert.Equal(t, analysis.ModeSimple, stats.Mode)
	assert.Equal(t, uint64(42), stats.TotalHits)
	assert.Equal(t, uint64(40), stats.Events)
	assert.Equal(t, 11, stats.ErrorCount)
	assert.True(t, stats.Calibrating)
	assert.InDelta(t, 0.002, stats.NoiseFloor, 1e-7)
	assert.Equal(t, 5, stats.PerCategory[analysis.HitOpen])
	assert.Equal(t, 0, stats.PerCategory[analysis.HitSlap])
	assert.Equal(t, 2, stats.PerCategory[analysis.HitTip])

	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
	calls := src.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, src.calls.Load(), "publisher kept polling after Stop")

	// Restart after Stop.
	p.Start()
	_, _, err = DecodeStats(read(t, conn))
	require.NoError(t, err)
}

func TestNewStatsPublisherValidation(t *testing.T) {
	_, s := listen(t)
	_, err := NewStatsPublisher(time.Second, nil, &fakeStats{})
	assert.Error(t, err)
	_, err = NewStatsPublisher(time.Second, s, nil)
	assert.Error(t, err)

	p, err := NewStatsPublisher(0, s, &fakeStats{})
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, p.interval)
}
