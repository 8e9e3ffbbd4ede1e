// Package stream forwards published telemetry samples to gRPC clients.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/wrc.report/internal/wrc/pipeline"
)

// Config holds configuration for the stream server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50051")
	ListenAddr string

	// MaxClients is the maximum number of concurrent subscribers. Zero
	// means no limit.
	MaxClients int

	// ClientBuffer is the number of samples queued per subscriber before
	// samples are dropped for that subscriber.
	ClientBuffer int

	// SpeedUnits selects the units of the view embedded in each message.
	SpeedUnits string
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50051",
		MaxClients:   8,
		ClientBuffer: 64,
	}
}

// Stats is a snapshot of publisher counters.
type Stats struct {
	Clients   int    `json:"clients"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

type client struct {
	id uint64
	ch chan *structpb.Struct
}

// Publisher is a pipeline.Sink that broadcasts each sample to every
// subscribed client. A slow client loses samples; it never stalls ingest.
type Publisher struct {
	cfg Config

	clientsMu sync.RWMutex
	clients   map[uint64]*client
	nextID    atomic.Uint64

	published atomic.Uint64
	dropped   atomic.Uint64

	done     chan struct{}
	doneOnce sync.Once
}

var _ TelemetryServer = (*Publisher)(nil)
var _ pipeline.Sink = (*Publisher)(nil)

// NewPublisher creates a Publisher with the given configuration.
func NewPublisher(cfg Config) *Publisher {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = DefaultConfig().ClientBuffer
	}
	return &Publisher{
		cfg:     cfg,
		clients: make(map[uint64]*client),
		done:    make(chan struct{}),
	}
}

// Publish encodes s once and queues it for every subscriber.
func (p *Publisher) Publish(s pipeline.Sample) {
	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	if len(p.clients) == 0 {
		return
	}

	msg, err := ToStruct(s.Document(p.cfg.SpeedUnits))
	if err != nil {
		log.Error().Err(err).Uint64("packet_uid", s.Record.PacketUID).Msg("failed to encode sample for stream")
		return
	}
	p.published.Add(1)

	for _, c := range p.clients {
		select {
		case c.ch <- msg:
		default:
			p.dropped.Add(1)
		}
	}
}

// ToStruct converts a JSON-encodable value to a protobuf Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	msg := &structpb.Struct{}
	if err := protojson.Unmarshal(b, msg); err != nil {
		return nil, fmt.Errorf("convert to struct: %w", err)
	}
	return msg, nil
}

// Subscribe implements TelemetryServer.
func (p *Publisher) Subscribe(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	c, err := p.addClient()
	if err != nil {
		return err
	}
	defer p.removeClient(c.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return nil
		case msg := <-c.ch:
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func (p *Publisher) addClient() (*client, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()

	if p.cfg.MaxClients > 0 && len(p.clients) >= p.cfg.MaxClients {
		return nil, status.Errorf(codes.ResourceExhausted, "subscriber limit %d reached", p.cfg.MaxClients)
	}
	c := &client{
		id: p.nextID.Add(1),
		ch: make(chan *structpb.Struct, p.cfg.ClientBuffer),
	}
	p.clients[c.id] = c
	log.Info().Uint64("client", c.id).Int("clients", len(p.clients)).Msg("stream client connected")
	return c, nil
}

func (p *Publisher) removeClient(id uint64) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	delete(p.clients, id)
	log.Info().Uint64("client", id).Int("clients", len(p.clients)).Msg("stream client disconnected")
}

// Stats returns the current counters.
func (p *Publisher) Stats() Stats {
	p.clientsMu.RLock()
	n := len(p.clients)
	p.clientsMu.RUnlock()
	return Stats{
		Clients:   n,
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
	}
}

// Serve runs a gRPC server on lis until ctx is cancelled. Open subscriber
// streams are ended before the server stops.
func (p *Publisher) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer()
	RegisterTelemetryServer(srv, p)

	served := make(chan struct{})
	defer close(served)
	go func() {
		select {
		case <-ctx.Done():
		case <-served:
			return
		}
		p.doneOnce.Do(func() { close(p.done) })
		srv.GracefulStop()
	}()

	log.Info().Str("addr", lis.Addr().String()).Msg("telemetry stream listening")
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// ListenAndServe listens on cfg.ListenAddr and calls Serve.
func (p *Publisher) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", p.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.cfg.ListenAddr, err)
	}
	return p.Serve(ctx, lis)
}
