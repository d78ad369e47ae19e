// SPDX-License-Identifier: MIT
package cmd

import (
	"net"
	"testing"
	"time"

	"conga/internal/analysis"
	"conga/internal/config"
	"conga/internal/transport/udp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStats struct{ s analysis.Stats }

func (f staticStats) Stats() analysis.Stats { return f.s }

func udpListener(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readPacket(t *testing.T, conn *net.UDPConn) []byte {
	t.Helper()
	buf := make([]byte, 1500)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	return buf[:n]
}

func TestOpenOutputsNothingEnabled(t *testing.T) {
	o, err := OpenOutputs(config.TransportConfig{})
	require.NoError(t, err)
	assert.Empty(t, o.Events)

	o.Handler()(analysis.Event{Type: analysis.HitOpen})
	require.NoError(t, o.StartStats(staticStats{}))
	assert.NoError(t, o.Close())
}

func TestOpenOutputsFanOut(t *testing.T) {
	conn := udpListener(t)
	cfg := config.TransportConfig{
		LogEvents:        true,
		WebSocketEnabled: true,
		WebSocketAddress: "127.0.0.1:0",
		WebSocketPath:    config.DefaultWebSocketPath,
		UDPEnabled:       true,
		UDPTargetAddress: conn.LocalAddr().String(),
	}

	o, err := OpenOutputs(cfg)
	require.NoError(t, err)
	require.Len(t, o.Events, 3)
	require.NotNil(t, o.WebSocket)

	ev := analysis.Event{Type: analysis.HitSlap, Confidence: 0.75, Timestamp: 2 * time.Second, Mode: analysis.ModeHybrid}
	o.Handler()(ev)

	pkt := readPacket(t, conn)
	require.Len(t, pkt, udp.HitPacketSize)
	seq, got, err := udp.DecodeHit(pkt)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), seq)
	assert.Equal(t, ev.Type, got.Type)
	assert.Equal(t, ev.Timestamp, got.Timestamp)

	assert.NoError(t, o.Close())
}

func TestOutputsStatsShareSocket(t *testing.T) {
	conn := udpListener(t)
	cfg := config.TransportConfig{
		UDPStatsEnabled:  true,
		UDPTargetAddress: conn.LocalAddr().String(),
		UDPStatsInterval: 10 * time.Millisecond,
	}

	o, err := OpenOutputs(cfg)
	require.NoError(t, err)
	assert.Empty(t, o.Events, "stats alone add no event transport")

	src := staticStats{analysis.Stats{TotalHits: 12, PerCategory: map[analysis.HitType]int{analysis.HitBass: 4}}}
	require.NoError(t, o.StartStats(src))

	pkt := readPacket(t, conn)
	require.Len(t, pkt, udp.StatsPacketSize)
	_, stats, err := udp.DecodeStats(pkt)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), stats.TotalHits)
	assert.Equal(t, 4, stats.PerCategory[analysis.HitBass])

	assert.NoError(t, o.Close())
}

func TestOpenOutputsBadWebSocketAddress(t *testing.T) {
	_, err := OpenOutputs(config.TransportConfig{
		LogEvents:        true,
		WebSocketEnabled: true,
		WebSocketAddress: "256.0.0.1:bad",
		WebSocketPath:    "/hits",
	})
	assert.Error(t, err)
}
