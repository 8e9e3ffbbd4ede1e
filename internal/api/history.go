package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/wrc.report/internal/wrc/packet"
	"github.com/banshee-data/wrc.report/internal/wrc/pipeline"
)

// DefaultHistorySize holds roughly ten seconds of telemetry at 60 Hz.
const DefaultHistorySize = 600

// Point is the compact form of a sample kept for charts.
type Point struct {
	Received  time.Time `json:"received"`
	Session   uuid.UUID `json:"session"`
	PacketUID uint64    `json:"packet_uid"`
	StageTime float32   `json:"stage_time"`
	SpeedMPS  float32   `json:"speed_mps"`
	RPM       float32   `json:"rpm"`
	Gear      string    `json:"gear"`
	Throttle  int       `json:"throttle_pct"`
	Brake     int       `json:"brake_pct"`
}

// MarshalJSON writes non-finite floats as null.
func (p Point) MarshalJSON() ([]byte, error) {
	type plain Point
	return json.Marshal(struct {
		plain
		StageTime *float32 `json:"stage_time"`
		SpeedMPS  *float32 `json:"speed_mps"`
		RPM       *float32 `json:"rpm"`
	}{
		plain:     plain(p),
		StageTime: packet.Nullable(p.StageTime),
		SpeedMPS:  packet.Nullable(p.SpeedMPS),
		RPM:       packet.Nullable(p.RPM),
	})
}

func newPoint(s pipeline.Sample) Point {
	return Point{
		Received:  s.Received,
		Session:   s.Session,
		PacketUID: s.Record.PacketUID,
		StageTime: s.Record.StageCurrentTime,
		SpeedMPS:  s.Record.VehicleSpeed,
		RPM:       s.Record.VehicleEngineRPMCurrent,
		Gear:      s.Record.Gear().String(),
		Throttle:  s.Record.ThrottlePercentage(),
		Brake:     s.Record.BrakePercentage(),
	}
}

// History is a pipeline.Sink that keeps the most recent non-stale samples.
type History struct {
	mu     sync.Mutex
	points []Point
	next   int
	full   bool
}

// NewHistory returns a History holding up to size points.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{points: make([]Point, size)}
}

// Publish records s unless it is older than data already recorded.
func (h *History) Publish(s pipeline.Sample) {
	if s.Event.Stale() {
		return
	}
	p := newPoint(s)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.points[h.next] = p
	h.next++
	if h.next == len(h.points) {
		h.next = 0
		h.full = true
	}
}

// Points returns up to limit of the newest points, oldest first. A
// non-positive limit returns everything held.
func (h *History) Points(limit int) []Point {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []Point
	if h.full {
		out = make([]Point, 0, len(h.points))
		out = append(out, h.points[h.next:]...)
		out = append(out, h.points[:h.next]...)
	} else {
		out = append([]Point(nil), h.points[:h.next]...)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Len returns the number of points held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return len(h.points)
	}
	return h.next
}
