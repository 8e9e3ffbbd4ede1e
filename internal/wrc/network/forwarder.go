package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DroppedCounter records datagrams the forwarder had to discard.
type DroppedCounter interface {
	AddDropped()
}

// ForwardQueueSize is the number of datagrams buffered for forwarding.
const ForwardQueueSize = 1000

// PacketForwarder sends copies of received datagrams to another UDP
// address. Queueing never blocks the receive loop: when the queue is full the
// datagram is dropped and counted.
type PacketForwarder struct {
	conn        net.Conn
	channel     chan []byte
	stats       DroppedCounter
	logInterval time.Duration
	address     string
	closeOnce   sync.Once
}

// NewPacketForwarder creates a forwarder that sends datagrams to address
// (host:port).
func NewPacketForwarder(address string, stats DroppedCounter, logInterval time.Duration) (*PacketForwarder, error) {
	forwardUDPAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, forwardUDPAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}
	if stats == nil {
		stats = noopStats{}
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}

	return &PacketForwarder{
		conn:        conn,
		channel:     make(chan []byte, ForwardQueueSize),
		stats:       stats,
		logInterval: logInterval,
		address:     address,
	}, nil
}

// Address returns the forwarding destination.
func (f *PacketForwarder) Address() string { return f.address }

// Start begins the forwarding goroutine. Write errors are summarised once per
// log interval.
func (f *PacketForwarder) Start(ctx context.Context) {
	go func() {
		droppedCount := 0
		var lastError error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case datagram, ok := <-f.channel:
				if !ok {
					return
				}
				if _, err := f.conn.Write(datagram); err != nil {
					droppedCount++
					lastError = err
				}
			case <-ticker.C:
				if droppedCount > 0 && lastError != nil {
					log.Warn().Err(lastError).Int("dropped", droppedCount).Str("addr", f.address).
						Msg("dropped forwarded datagrams due to errors")
					droppedCount = 0
					lastError = nil
				}
			}
		}
	}()

	log.Info().Str("addr", f.address).Msg("forwarding datagrams")
}

// ForwardAsync queues a copy of datagram. If the queue is full the datagram
// is dropped and counted.
func (f *PacketForwarder) ForwardAsync(datagram []byte) {
	datagramCopy := make([]byte, len(datagram))
	copy(datagramCopy, datagram)

	select {
	case f.channel <- datagramCopy:
	default:
		f.stats.AddDropped()
	}
}

// Close stops the forwarding goroutine and closes the connection.
func (f *PacketForwarder) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.channel)
		err = f.conn.Close()
	})
	return err
}
