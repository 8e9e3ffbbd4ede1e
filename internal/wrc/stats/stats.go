// Package stats accumulates stream-health statistics for the ingest loop.
package stats

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/wrc.report/internal/timeutil"
	"github.com/banshee-data/wrc.report/internal/wrc/packet"
	"github.com/banshee-data/wrc.report/internal/wrc/sequence"
)

// maxIntervals bounds the inter-arrival samples kept between resets.
const maxIntervals = 1 << 14

// Snapshot is a copy of the counters over one reporting interval.
type Snapshot struct {
	Duration time.Duration `json:"duration_ns"`

	Packets        int64 `json:"packets"`
	Bytes          int64 `json:"bytes"`
	ForwardDropped int64 `json:"forward_dropped"`

	Truncated    int64 `json:"truncated"`
	SizeMismatch int64 `json:"size_mismatch"`
	Malformed    int64 `json:"malformed"`
	Warnings     int64 `json:"malformed_warnings"`

	Sequence sequence.Counters `json:"sequence"`

	PacketsPerSec float64 `json:"packets_per_sec"`
	BytesPerSec   float64 `json:"bytes_per_sec"`

	// Inter-arrival time between datagrams in milliseconds.
	IntervalMeanMs   float64 `json:"interval_mean_ms"`
	IntervalStdDevMs float64 `json:"interval_stddev_ms"`
}

// DecodeErrors is the number of datagrams rejected by the decoder.
func (s Snapshot) DecodeErrors() int64 {
	return s.Truncated + s.SizeMismatch + s.Malformed
}

// PacketStats tracks packet statistics with thread-safe operations.
type PacketStats struct {
	clock timeutil.Clock

	mu          sync.Mutex
	cur         Snapshot
	intervals   []float64
	lastArrival time.Time
	lastReset   time.Time

	total Snapshot
}

// NewPacketStats creates a PacketStats using the real clock.
func NewPacketStats() *PacketStats {
	return NewPacketStatsWithClock(timeutil.RealClock{})
}

// NewPacketStatsWithClock creates a PacketStats reading time from clock.
func NewPacketStatsWithClock(clock timeutil.Clock) *PacketStats {
	return &PacketStats{
		clock:     clock,
		lastReset: clock.Now(),
	}
}

// AddPacket records one received datagram.
func (ps *PacketStats) AddPacket(bytes int) {
	now := ps.clock.Now()
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.cur.Packets++
	ps.cur.Bytes += int64(bytes)
	ps.total.Packets++
	ps.total.Bytes += int64(bytes)

	if !ps.lastArrival.IsZero() && len(ps.intervals) < maxIntervals {
		ps.intervals = append(ps.intervals, float64(now.Sub(ps.lastArrival))/float64(time.Millisecond))
	}
	ps.lastArrival = now
}

// AddDropped records a datagram the forwarder could not queue.
func (ps *PacketStats) AddDropped() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.cur.ForwardDropped++
	ps.total.ForwardDropped++
}

// AddDecodeError classifies and counts a decoder error.
func (ps *PacketStats) AddDecodeError(err error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, s := range []*Snapshot{&ps.cur, &ps.total} {
		switch {
		case errors.Is(err, packet.ErrTruncated):
			s.Truncated++
		case errors.Is(err, packet.ErrSizeMismatch):
			s.SizeMismatch++
		case errors.Is(err, packet.ErrMalformed):
			s.Malformed++
		}
	}
}

// AddWarnings counts non-finite fields passed through by a lenient decoder.
func (ps *PacketStats) AddWarnings(n int) {
	if n == 0 {
		return
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.cur.Warnings += int64(n)
	ps.total.Warnings += int64(n)
}

// AddEvent counts a sequence classification.
func (ps *PacketStats) AddEvent(e sequence.Event) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.cur.Sequence.Add(e)
	ps.total.Sequence.Add(e)
}

// GetAndReset returns the current interval and starts a new one.
func (ps *PacketStats) GetAndReset() Snapshot {
	now := ps.clock.Now()
	ps.mu.Lock()
	defer ps.mu.Unlock()

	s := ps.cur
	s.Duration = now.Sub(ps.lastReset)
	if secs := s.Duration.Seconds(); secs > 0 {
		s.PacketsPerSec = float64(s.Packets) / secs
		s.BytesPerSec = float64(s.Bytes) / secs
	}
	if len(ps.intervals) > 1 {
		s.IntervalMeanMs, s.IntervalStdDevMs = stat.MeanStdDev(ps.intervals, nil)
	} else if len(ps.intervals) == 1 {
		s.IntervalMeanMs = ps.intervals[0]
	}

	ps.cur = Snapshot{}
	ps.intervals = ps.intervals[:0]
	ps.lastReset = now
	return s
}

// Totals returns the counters accumulated since creation.
func (ps *PacketStats) Totals() Snapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.total
}

// LogStats logs and resets the current interval. Quiet intervals are not
// logged.
func (ps *PacketStats) LogStats() {
	s := ps.GetAndReset()
	if s.Packets == 0 && s.ForwardDropped == 0 {
		return
	}

	ev := log.Info()
	if s.DecodeErrors() > 0 || s.Sequence.Gaps > 0 || s.Sequence.Resets > 0 {
		ev = log.Warn()
	}
	ev.Float64("packets_per_sec", s.PacketsPerSec).
		Float64("kb_per_sec", s.BytesPerSec/1024).
		Float64("interval_mean_ms", s.IntervalMeanMs).
		Float64("interval_stddev_ms", s.IntervalStdDevMs).
		Int64("decode_errors", s.DecodeErrors()).
		Int64("malformed_warnings", s.Warnings).
		Uint64("gaps", s.Sequence.Gaps).
		Uint64("lost", s.Sequence.Dropped).
		Uint64("duplicates", s.Sequence.Duplicates).
		Uint64("reordered", s.Sequence.Reordered).
		Uint64("resets", s.Sequence.Resets).
		Int64("forward_dropped", s.ForwardDropped).
		Msg("telemetry stats")
}

// Report calls LogStats every interval until ctx is done. A non-positive
// interval disables reporting.
func (ps *PacketStats) Report(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := ps.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			ps.LogStats()
		}
	}
}
