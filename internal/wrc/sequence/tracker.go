package sequence

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Counters accumulates per-kind totals for stream-health reporting.
type Counters struct {
	InOrder    uint64 `json:"in_order"`
	Gaps       uint64 `json:"gaps"`
	Dropped    uint64 `json:"dropped"`
	Duplicates uint64 `json:"duplicates"`
	Reordered  uint64 `json:"reordered"`
	Resets     uint64 `json:"resets"`
}

// Add counts one event.
func (c *Counters) Add(e Event) {
	switch e.Kind {
	case InOrder:
		c.InOrder++
	case Gap:
		c.Gaps++
		c.Dropped += e.Dropped()
	case Duplicate:
		c.Duplicates++
	case Reordered:
		c.Reordered++
	case Reset:
		c.Resets++
	}
}

// Total is the number of observations counted.
func (c Counters) Total() uint64 {
	return c.InOrder + c.Gaps + c.Duplicates + c.Reordered + c.Resets
}

// Merge adds other into c.
func (c *Counters) Merge(other Counters) {
	c.InOrder += other.InOrder
	c.Gaps += other.Gaps
	c.Dropped += other.Dropped
	c.Duplicates += other.Duplicates
	c.Reordered += other.Reordered
	c.Resets += other.Resets
}

// Observation is the result of Tracker.Observe.
type Observation struct {
	Stream  string    `json:"stream"`
	Session uuid.UUID `json:"session"`
	Event   Event     `json:"event"`
}

// StreamStatus is a point-in-time summary of one tracked stream.
type StreamStatus struct {
	Stream   string    `json:"stream"`
	Session  uuid.UUID `json:"session"`
	Last     uint64    `json:"last_packet_uid"`
	Counters Counters  `json:"counters"`
}

type stream struct {
	monitor  *Monitor
	session  uuid.UUID
	counters Counters
}

// Tracker owns one Monitor per stream key, usually the sender's address,
// and is safe for concurrent use. Each stream carries a session id that is
// replaced whenever its Monitor reports a Reset.
type Tracker struct {
	cfg     Config
	newUUID func() uuid.UUID

	mu      sync.Mutex
	streams map[string]*stream
}

// NewTracker returns an empty Tracker whose monitors use cfg.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		cfg:     cfg,
		newUUID: uuid.New,
		streams: make(map[string]*stream),
	}
}

// Observe classifies id on the named stream.
func (t *Tracker) Observe(key string, id uint64) Observation {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.streams[key]
	if !ok {
		s = &stream{monitor: NewMonitor(t.cfg), session: t.newUUID()}
		t.streams[key] = s
	}

	ev := s.monitor.Observe(id)
	if ev.Kind == Reset {
		s.session = t.newUUID()
	}
	s.counters.Add(ev)

	return Observation{Stream: key, Session: s.session, Event: ev}
}

// Session returns the current session id of a stream.
func (t *Tracker) Session(key string) (uuid.UUID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[key]
	if !ok {
		return uuid.Nil, false
	}
	return s.session, true
}

// Streams returns a status for every stream, sorted by key.
func (t *Tracker) Streams() []StreamStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]StreamStatus, 0, len(t.streams))
	for key, s := range t.streams {
		last, _ := s.monitor.Last()
		out = append(out, StreamStatus{
			Stream:   key,
			Session:  s.session,
			Last:     last,
			Counters: s.counters,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out
}

// Totals sums the counters of every stream.
func (t *Tracker) Totals() Counters {
	t.mu.Lock()
	defer t.mu.Unlock()
	var c Counters
	for _, s := range t.streams {
		c.Merge(s.counters)
	}
	return c
}

// Forget drops a stream's state; its next observation starts a new session.
func (t *Tracker) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.streams, key)
}
