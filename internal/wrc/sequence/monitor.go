// Package sequence classifies rolling packet identifiers observed on a
// lossy, unordered datagram stream.
//
// UDP may drop, duplicate or reorder datagrams. A consumer that blindly
// replaces its current state with each arriving record can regress to stale
// data, so every identifier is classified and the ingest loop decides what
// to do with each class.
package sequence

import "fmt"

// Kind is the classification of one observed identifier.
type Kind uint8

const (
	// InOrder is the first observation or exactly last+1.
	InOrder Kind = iota
	// Gap is a forward jump by more than one; Jump-1 datagrams were lost.
	Gap
	// Duplicate is an identifier already seen inside the tracking window.
	Duplicate
	// Reordered is an identifier below last-seen that was not seen before.
	Reordered
	// Reset is a regression of at least Config.ResetThreshold, which is
	// taken as a sender restart.
	Reset
)

var kindNames = [...]string{"in_order", "gap", "duplicate", "reordered", "reset"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for i, name := range kindNames {
		if name == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("sequence: unknown kind %q", b)
}

// Event is the outcome of observing one identifier. It is informational and
// never an error.
type Event struct {
	Kind Kind `json:"kind"`
	// Jump is id-last for Gap events and zero otherwise.
	Jump uint64 `json:"jump,omitempty"`
}

// Dropped is the number of datagrams a Gap skipped over.
func (e Event) Dropped() uint64 {
	if e.Kind != Gap || e.Jump == 0 {
		return 0
	}
	return e.Jump - 1
}

// Stale reports whether the event's record is older than, or a copy of,
// data already delivered.
func (e Event) Stale() bool {
	return e.Kind == Duplicate || e.Kind == Reordered
}

func (e Event) String() string {
	if e.Kind == Gap {
		return fmt.Sprintf("gap(%d)", e.Jump)
	}
	return e.Kind.String()
}

const (
	// DefaultResetThreshold is the regression, in identifiers, at which an
	// older identifier is treated as a restart instead of late delivery.
	// Reordering on a local network rarely exceeds a couple of datagrams,
	// while a restarted game starts far below the previous session.
	DefaultResetThreshold uint64 = 5

	// DefaultWindowSize is the number of recent identifiers remembered for
	// duplicate detection.
	DefaultWindowSize = 64
)

// Config tunes a Monitor.
type Config struct {
	// ResetThreshold is the minimum last-id regression classified as Reset.
	// Zero selects DefaultResetThreshold; math.MaxUint64 disables resets.
	ResetThreshold uint64 `json:"reset_threshold"`
	// WindowSize bounds the duplicate window. Zero or negative keeps every
	// identifier seen since the last reset (no pruning).
	WindowSize int `json:"window_size"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ResetThreshold: DefaultResetThreshold,
		WindowSize:     DefaultWindowSize,
	}
}

// Monitor tracks the identifiers of a single stream. It is not safe for
// concurrent use: classification depends on strictly ordered observation,
// so exactly one goroutine may own a Monitor. Use Tracker to share state.
type Monitor struct {
	cfg     Config
	started bool
	last    uint64

	seen map[uint64]struct{}
	ring []uint64
	next int
}

// NewMonitor returns a Monitor with no observations.
func NewMonitor(cfg Config) *Monitor {
	if cfg.ResetThreshold == 0 {
		cfg.ResetThreshold = DefaultResetThreshold
	}
	m := &Monitor{cfg: cfg}
	m.clear()
	return m
}

// Observe classifies id and updates the stream state.
func (m *Monitor) Observe(id uint64) Event {
	if !m.started {
		m.started = true
		m.last = id
		m.remember(id)
		return Event{Kind: InOrder}
	}

	if _, dup := m.seen[id]; dup {
		return Event{Kind: Duplicate}
	}

	switch {
	case id == m.last+1:
		m.last = id
		m.remember(id)
		return Event{Kind: InOrder}
	case id > m.last:
		jump := id - m.last
		m.last = id
		m.remember(id)
		return Event{Kind: Gap, Jump: jump}
	case m.last-id >= m.cfg.ResetThreshold:
		m.clear()
		m.last = id
		m.remember(id)
		return Event{Kind: Reset}
	default:
		// Late arrival: remember it for duplicate detection without
		// moving last-seen backwards.
		m.remember(id)
		return Event{Kind: Reordered}
	}
}

// Last returns the highest in-session identifier observed so far.
func (m *Monitor) Last() (uint64, bool) {
	return m.last, m.started
}

// Config returns the effective configuration.
func (m *Monitor) Config() Config {
	return m.cfg
}

func (m *Monitor) clear() {
	m.seen = make(map[uint64]struct{})
	m.ring = m.ring[:0]
	m.next = 0
}

func (m *Monitor) remember(id uint64) {
	if m.cfg.WindowSize <= 0 {
		m.seen[id] = struct{}{}
		return
	}
	if len(m.ring) < m.cfg.WindowSize {
		m.ring = append(m.ring, id)
	} else {
		delete(m.seen, m.ring[m.next])
		m.ring[m.next] = id
		m.next = (m.next + 1) % m.cfg.WindowSize
	}
	m.seen[id] = struct{}{}
}
