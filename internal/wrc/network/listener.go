// Package network receives telemetry datagrams from UDP sockets or packet
// captures and forwards raw datagrams to a second consumer.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MaxDatagramSize is the receive buffer per read. It is larger than a
// telemetry packet so oversized datagrams reach the decoder intact and are
// reported as size mismatches instead of being silently truncated.
const MaxDatagramSize = 2048

// Handler consumes one datagram. data is only valid for the duration of the
// call; implementations must copy it to retain it.
type Handler interface {
	HandleDatagram(data []byte, from *net.UDPAddr)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(data []byte, from *net.UDPAddr)

func (f HandlerFunc) HandleDatagram(data []byte, from *net.UDPAddr) { f(data, from) }

// PacketStatsInterface provides packet statistics management.
type PacketStatsInterface interface {
	AddPacket(bytes int)
	AddDropped()
}

// UDPListener receives telemetry datagrams and passes each to a Handler,
// optionally forwarding a raw copy.
type UDPListener struct {
	address       string
	rcvBuf        int
	stats         PacketStatsInterface
	forwarder     *PacketForwarder
	handler       Handler
	socketFactory UDPSocketFactory

	connMu sync.RWMutex
	conn   UDPSocket
	ready  chan struct{}
	once   sync.Once
}

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address       string
	RcvBuf        int
	Stats         PacketStatsInterface
	Forwarder     *PacketForwarder
	Handler       Handler
	SocketFactory UDPSocketFactory // Optional: factory for creating UDP sockets (for testing)
}

// NewUDPListener creates a new UDP listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	stats := config.Stats
	if stats == nil {
		stats = noopStats{}
	}
	handler := config.Handler
	if handler == nil {
		handler = HandlerFunc(func([]byte, *net.UDPAddr) {})
	}
	socketFactory := config.SocketFactory
	if socketFactory == nil {
		socketFactory = RealUDPSocketFactory{}
	}
	return &UDPListener{
		address:       config.Address,
		rcvBuf:        config.RcvBuf,
		stats:         stats,
		forwarder:     config.Forwarder,
		handler:       handler,
		socketFactory: socketFactory,
		ready:         make(chan struct{}),
	}
}

type noopStats struct{}

func (noopStats) AddPacket(int) {}
func (noopStats) AddDropped()   {}

// Start listens for datagrams until ctx is done. It returns ctx.Err() on
// cancellation and nil if the socket is closed with Close.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := l.socketFactory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	l.setConn(conn)
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			log.Warn().Err(err).Int("rcv_buf", l.rcvBuf).Msg("failed to set UDP receive buffer size")
		}
	}

	log.Info().Stringer("addr", conn.LocalAddr()).Int("rcv_buf", l.rcvBuf).Msg("UDP listener started")

	if l.forwarder != nil {
		l.forwarder.Start(ctx)
	}

	buffer := make([]byte, MaxDatagramSize)
	var deadlineErrLogged bool

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("UDP listener stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		// Set read deadline to allow checking context cancellation
		if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil && !deadlineErrLogged {
			log.Warn().Err(err).Msg("failed to set read deadline")
			deadlineErrLogged = true
		}

		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Error().Err(err).Msg("UDP read error")
			continue
		}

		l.handlePacket(buffer[:n], from)
	}
}

func (l *UDPListener) handlePacket(data []byte, from *net.UDPAddr) {
	l.stats.AddPacket(len(data))
	if l.forwarder != nil {
		l.forwarder.ForwardAsync(data)
	}
	l.handler.HandleDatagram(data, from)
}

func (l *UDPListener) setConn(conn UDPSocket) {
	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	l.once.Do(func() { close(l.ready) })
}

// Ready is closed once the socket is bound.
func (l *UDPListener) Ready() <-chan struct{} {
	return l.ready
}

// Addr returns the bound address, or nil before Start has bound the socket.
func (l *UDPListener) Addr() net.Addr {
	l.connMu.RLock()
	defer l.connMu.RUnlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Close closes the UDP listener and releases resources.
// It is safe to call Close multiple times.
func (l *UDPListener) Close() error {
	l.connMu.Lock()
	conn := l.conn
	l.conn = nil
	l.connMu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
