package network

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/rs/zerolog/log"
)

// pcapngMagic is the block type of a pcapng section header.
const pcapngMagic = 0x0A0D0D0A

// ReplayOptions controls PCAP replay.
type ReplayOptions struct {
	// Port selects UDP datagrams by destination port; zero accepts any port.
	Port int
	// Realtime paces delivery by the capture timestamps.
	Realtime bool
	// Speed scales realtime pacing; values <= 0 mean 1.
	Speed float64
}

// ReplayResult summarises a replay.
type ReplayResult struct {
	Frames    int           // frames read from the capture
	Datagrams int           // UDP payloads delivered to the handler
	Elapsed   time.Duration // wall-clock duration of the replay
}

type packetDataSource interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// OpenCapture opens a pcap or pcapng stream.
func OpenCapture(r io.Reader) (gopacket.PacketDataSource, layers.LinkType, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read capture header: %w", err)
	}

	var src packetDataSource
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		src, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		src, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open capture: %w", err)
	}
	return src, src.LinkType(), nil
}

// ReadPCAPFile replays the telemetry datagrams of a capture file through
// handler, as if they had arrived on a socket. If forwarder is not nil,
// datagrams are also forwarded.
func ReadPCAPFile(ctx context.Context, path string, opts ReplayOptions, handler Handler, stats PacketStatsInterface, forwarder *PacketForwarder) (ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()
	return ReplayPCAP(ctx, f, opts, handler, stats, forwarder)
}

// ReplayPCAP is ReadPCAPFile over an already open capture stream.
func ReplayPCAP(ctx context.Context, r io.Reader, opts ReplayOptions, handler Handler, stats PacketStatsInterface, forwarder *PacketForwarder) (ReplayResult, error) {
	src, linkType, err := OpenCapture(r)
	if err != nil {
		return ReplayResult{}, err
	}
	if stats == nil {
		stats = noopStats{}
	}
	speed := opts.Speed
	if speed <= 0 {
		speed = 1
	}

	var (
		res       ReplayResult
		start     = time.Now()
		firstTS   time.Time
		packetSrc = gopacket.NewPacketSource(src, linkType)
	)
	packetSrc.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	for {
		if err := ctx.Err(); err != nil {
			log.Info().Int("datagrams", res.Datagrams).Msg("PCAP replay stopping due to context cancellation")
			res.Elapsed = time.Since(start)
			return res, err
		}

		pkt, err := packetSrc.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A truncated final record is how an interrupted capture ends.
			if errors.Is(err, io.ErrUnexpectedEOF) {
				log.Warn().Err(err).Msg("PCAP file ends mid-record")
				break
			}
			res.Elapsed = time.Since(start)
			return res, fmt.Errorf("failed to read PCAP record %d: %w", res.Frames+1, err)
		}
		res.Frames++

		udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if opts.Port != 0 && int(udp.DstPort) != opts.Port {
			continue
		}

		if opts.Realtime {
			ts := pkt.Metadata().Timestamp
			if firstTS.IsZero() {
				firstTS = ts
			}
			due := start.Add(time.Duration(float64(ts.Sub(firstTS)) / speed))
			if wait := time.Until(due); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					res.Elapsed = time.Since(start)
					return res, ctx.Err()
				case <-timer.C:
				}
			}
		}

		from := &net.UDPAddr{Port: int(udp.SrcPort)}
		switch ip := pkt.NetworkLayer().(type) {
		case *layers.IPv4:
			from.IP = ip.SrcIP
		case *layers.IPv6:
			from.IP = ip.SrcIP
		}

		stats.AddPacket(len(udp.Payload))
		if forwarder != nil {
			forwarder.ForwardAsync(udp.Payload)
		}
		handler.HandleDatagram(udp.Payload, from)
		res.Datagrams++
	}

	res.Elapsed = time.Since(start)
	log.Info().Int("frames", res.Frames).Int("datagrams", res.Datagrams).Dur("elapsed", res.Elapsed).
		Msg("PCAP replay complete")
	return res, nil
}
