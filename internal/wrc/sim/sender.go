package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/banshee-data/wrc.report/internal/timeutil"
	"github.com/banshee-data/wrc.report/internal/wrc/packet"
)

// DatagramWriter receives one encoded datagram per call. A connected
// *net.UDPConn and *PCAPWriter both satisfy it.
type DatagramWriter interface {
	Write(p []byte) (int, error)
}

// Result summarises a Run.
type Result struct {
	Samples   int          `json:"samples"`
	Datagrams int          `json:"datagrams"`
	Impaired  ImpairCounts `json:"impaired"`
}

// Sender paces a Generator at its configured rate.
type Sender struct {
	Gen *Generator
	// Impair may be nil to send every datagram unchanged.
	Impair *Impairer
	Clock  timeutil.Clock
}

// Run sends count samples to w, or runs until ctx is done when count is
// zero. Cancellation is not an error.
func (s *Sender) Run(ctx context.Context, w DatagramWriter, count int) (Result, error) {
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	rate := s.Gen.Config().Rate
	interval := time.Duration(float64(time.Second) / rate)
	progressEvery := max(1, int(rate*10))
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	var res Result
	send := func(datagrams [][]byte) error {
		for _, d := range datagrams {
			if _, err := w.Write(d); err != nil {
				return fmt.Errorf("send packet: %w", err)
			}
			res.Datagrams++
		}
		return nil
	}
	finish := func() (Result, error) {
		if s.Impair != nil {
			if err := send(s.Impair.Flush()); err != nil {
				return res, err
			}
			res.Impaired = s.Impair.Counts()
		}
		return res, nil
	}

	for count == 0 || res.Samples < count {
		select {
		case <-ctx.Done():
			return finish()
		case <-ticker.C():
		}

		d := packet.Encode(s.Gen.Next())
		res.Samples++
		out := [][]byte{d}
		if s.Impair != nil {
			out = s.Impair.Apply(d)
		}
		if err := send(out); err != nil {
			return res, err
		}
		if res.Samples%progressEvery == 0 {
			log.Debug().Int("samples", res.Samples).Int("datagrams", res.Datagrams).Msg("simulator progress")
		}
	}
	return finish()
}
