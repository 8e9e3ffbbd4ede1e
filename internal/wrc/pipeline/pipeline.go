// Package pipeline turns received datagrams into classified samples and
// fans them out to output sinks.
package pipeline

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/banshee-data/wrc.report/internal/timeutil"
	"github.com/banshee-data/wrc.report/internal/units"
	"github.com/banshee-data/wrc.report/internal/wrc/packet"
	"github.com/banshee-data/wrc.report/internal/wrc/sequence"
	"github.com/banshee-data/wrc.report/internal/wrc/view"
)

// Sample is one decoded record together with its stream context.
type Sample struct {
	Stream   string
	Session  uuid.UUID
	Event    sequence.Event
	Record   packet.Telemetry
	Warnings []packet.FieldError
	Received time.Time
}

// Document is the JSON form of a sample shared by every text output.
type Document struct {
	Stream   string              `json:"stream"`
	Session  uuid.UUID           `json:"session"`
	Event    sequence.Event      `json:"event"`
	Received time.Time           `json:"received"`
	Record   packet.Telemetry    `json:"telemetry"`
	View     view.View           `json:"view"`
	Warnings []packet.FieldError `json:"warnings,omitempty"`
}

// Document projects s with speeds in speedUnits.
func (s Sample) Document(speedUnits string) Document {
	return Document{
		Stream:   s.Stream,
		Session:  s.Session,
		Event:    s.Event,
		Received: s.Received,
		Record:   s.Record,
		View:     view.NewWithUnits(s.Record, speedUnits),
		Warnings: s.Warnings,
	}
}

// Sink receives published samples. Publish is called from the ingest
// goroutine and must not block.
type Sink interface {
	Publish(Sample)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Sample)

func (f SinkFunc) Publish(s Sample) { f(s) }

// Stats receives decode and sequencing outcomes.
type Stats interface {
	AddDecodeError(err error)
	AddWarnings(n int)
	AddEvent(e sequence.Event)
}

// Options configures a Pipeline.
type Options struct {
	Decoder packet.Decoder
	// Tracker defaults to a Tracker with sequence.DefaultConfig.
	Tracker *sequence.Tracker
	Stats   Stats
	// DropStale withholds Duplicate and Reordered samples from sinks so
	// consumers never regress to older data.
	DropStale bool
	// PrintJSON, when set, receives every published sample as indented JSON.
	PrintJSON  io.Writer
	SpeedUnits string
	Clock      timeutil.Clock
}

// Pipeline decodes datagrams, classifies their identifiers and publishes
// the resulting samples. HandleDatagram is meant to be driven by a single
// receive goroutine; Latest may be called from any goroutine.
type Pipeline struct {
	opts    Options
	sinks   []Sink
	errLog  zerolog.Logger
	latestM sync.RWMutex
	latest  Sample
	hasLast bool
}

// New returns a Pipeline publishing to sinks.
func New(opts Options, sinks ...Sink) *Pipeline {
	if opts.Tracker == nil {
		opts.Tracker = sequence.NewTracker(sequence.DefaultConfig())
	}
	if opts.Stats == nil {
		opts.Stats = noopStats{}
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if !units.IsValid(opts.SpeedUnits) {
		opts.SpeedUnits = units.KPH
	}
	return &Pipeline{
		opts:  opts,
		sinks: sinks,
		// A misconfigured sender can produce thousands of bad datagrams
		// per second.
		errLog: log.Sample(&zerolog.BurstSampler{Burst: 5, Period: time.Second}),
	}
}

type noopStats struct{}

func (noopStats) AddDecodeError(error)    {}
func (noopStats) AddWarnings(int)         {}
func (noopStats) AddEvent(sequence.Event) {}

// HandleDatagram processes one datagram. It satisfies network.Handler.
func (p *Pipeline) HandleDatagram(data []byte, from *net.UDPAddr) {
	received := p.opts.Clock.Now()
	stream := "unknown"
	if from != nil {
		stream = from.String()
	}

	rec, warnings, err := p.opts.Decoder.Decode(data)
	if err != nil {
		p.opts.Stats.AddDecodeError(err)
		ev := p.errLog.Warn().Err(err).Str("stream", stream).Int("len", len(data))
		var merr *packet.MalformedError
		if errors.As(err, &merr) {
			ev = ev.Interface("fields", merr.Fields)
		}
		ev.Msg("dropping datagram")
		return
	}
	if len(warnings) > 0 {
		p.opts.Stats.AddWarnings(len(warnings))
		p.errLog.Warn().Str("stream", stream).Uint64("packet_uid", rec.PacketUID).
			Interface("fields", warnings).Msg("non-finite telemetry values")
	}

	obs := p.opts.Tracker.Observe(stream, rec.PacketUID)
	p.opts.Stats.AddEvent(obs.Event)
	logEvent(obs, rec.PacketUID)

	if p.opts.DropStale && obs.Event.Stale() {
		return
	}

	s := Sample{
		Stream:   stream,
		Session:  obs.Session,
		Event:    obs.Event,
		Record:   rec,
		Warnings: warnings,
		Received: received,
	}
	p.publish(s)
}

func logEvent(obs sequence.Observation, uid uint64) {
	switch obs.Event.Kind {
	case sequence.Reset:
		log.Info().Str("stream", obs.Stream).Stringer("session", obs.Session).Uint64("packet_uid", uid).
			Msg("sender restarted, new session")
	case sequence.Gap:
		log.Debug().Str("stream", obs.Stream).Uint64("packet_uid", uid).Uint64("lost", obs.Event.Dropped()).
			Msg("gap")
	case sequence.Duplicate, sequence.Reordered:
		log.Debug().Str("stream", obs.Stream).Uint64("packet_uid", uid).Stringer("kind", obs.Event.Kind).
			Msg("stale datagram")
	}
}

func (p *Pipeline) publish(s Sample) {
	if !s.Event.Stale() {
		p.latestM.Lock()
		p.latest, p.hasLast = s, true
		p.latestM.Unlock()
	}

	if p.opts.PrintJSON != nil {
		if b, err := json.MarshalIndent(s.Document(p.opts.SpeedUnits), "", "  "); err != nil {
			log.Error().Err(err).Msg("failed to encode sample")
		} else {
			b = append(b, '\n')
			if _, err := p.opts.PrintJSON.Write(b); err != nil {
				log.Error().Err(err).Msg("failed to print sample")
			}
		}
	}

	for _, sink := range p.sinks {
		sink.Publish(s)
	}
}

// Latest returns the newest in-order sample published, if any.
func (p *Pipeline) Latest() (Sample, bool) {
	p.latestM.RLock()
	defer p.latestM.RUnlock()
	return p.latest, p.hasLast
}

// Tracker returns the sequence tracker the pipeline classifies with.
func (p *Pipeline) Tracker() *sequence.Tracker {
	return p.opts.Tracker
}

// SpeedUnits returns the units views are rendered in.
func (p *Pipeline) SpeedUnits() string {
	return p.opts.SpeedUnits
}
