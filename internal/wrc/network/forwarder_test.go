package network

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })
	return server
}

func TestPacketForwarder_Forwards(t *testing.T) {
	server := listenLoopback(t)
	stats := &MockPacketStats{}

	forwarder, err := NewPacketForwarder(server.LocalAddr().String(), stats, time.Second)
	require.NoError(t, err)
	defer forwarder.Close()
	assert.Equal(t, server.LocalAddr().String(), forwarder.Address())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	forwarder.Start(ctx)

	datagram := []byte("test packet data")
	forwarder.ForwardAsync(datagram)
	// The forwarder keeps its own copy.
	datagram[0] = 'X'

	require.NoError(t, server.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 1024)
	n, _, err := server.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "test packet data", string(buf[:n]))
}

func TestPacketForwarder_DropsWhenFull(t *testing.T) {
	server := listenLoopback(t)
	stats := &MockPacketStats{}

	forwarder, err := NewPacketForwarder(server.LocalAddr().String(), stats, time.Second)
	require.NoError(t, err)
	defer forwarder.Close()

	// Not started, so nothing drains the queue.
	for i := 0; i < ForwardQueueSize+5; i++ {
		forwarder.ForwardAsync([]byte{byte(i)})
	}
	_, _, dropped := stats.snapshot()
	assert.Equal(t, 5, dropped)
}

func TestPacketForwarder_BadAddress(t *testing.T) {
	_, err := NewPacketForwarder("nowhere", nil, 0)
	assert.Error(t, err)
}

func TestPacketForwarder_CloseIsIdempotent(t *testing.T) {
	server := listenLoopback(t)
	forwarder, err := NewPacketForwarder(server.LocalAddr().String(), nil, 0)
	require.NoError(t, err)
	require.NoError(t, forwarder.Close())
	assert.NoError(t, forwarder.Close())
}
