package sim

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PCAPWriter writes datagrams as Ethernet/IPv4/UDP frames to a classic
// pcap file, suitable for replay with network.ReadPCAPFile.
type PCAPWriter struct {
	w        *pcapgo.Writer
	src, dst *net.UDPAddr
	next     time.Time
	interval time.Duration
	frames   int
}

// NewPCAPWriter writes the file header to w. Frame timestamps start at
// start and advance by interval per Write.
func NewPCAPWriter(w io.Writer, src, dst *net.UDPAddr, start time.Time, interval time.Duration) (*PCAPWriter, error) {
	if src.IP.To4() == nil || dst.IP.To4() == nil {
		return nil, fmt.Errorf("pcap writer needs IPv4 addresses, got %s -> %s", src, dst)
	}
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &PCAPWriter{w: pw, src: src, dst: dst, next: start, interval: interval}, nil
}

// Write appends p as one UDP frame.
func (p *PCAPWriter) Write(payload []byte) (int, error) {
	if err := p.WriteAt(p.next, payload); err != nil {
		return 0, err
	}
	p.next = p.next.Add(p.interval)
	return len(payload), nil
}

// WriteAt appends payload as one UDP frame captured at ts.
func (p *PCAPWriter) WriteAt(ts time.Time, payload []byte) error {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x57, 0x52, 0x43, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0x57, 0x52, 0x43, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    p.src.IP.To4(),
		DstIP:    p.dst.IP.To4(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(p.src.Port),
		DstPort: layers.UDPPort(p.dst.Port),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("serialize frame: %w", err)
	}
	data := buf.Bytes()
	ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(data), Length: len(data)}
	if err := p.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	p.frames++
	return nil
}

// Frames returns the number of frames written.
func (p *PCAPWriter) Frames() int { return p.frames }
