package sim

import (
	"fmt"
	"math/rand"
)

// Impairment sets per-datagram probabilities, each in [0, 1].
type Impairment struct {
	Loss      float64 `json:"loss"`
	Duplicate float64 `json:"duplicate"`
	Reorder   float64 `json:"reorder"`
}

// Validate checks that every probability is in range.
func (im Impairment) Validate() error {
	for name, p := range map[string]float64{"loss": im.Loss, "duplicate": im.Duplicate, "reorder": im.Reorder} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%s probability %v outside [0, 1]", name, p)
		}
	}
	return nil
}

// ImpairCounts tallies what an Impairer did.
type ImpairCounts struct {
	Lost       int `json:"lost"`
	Duplicated int `json:"duplicated"`
	Reordered  int `json:"reordered"`
}

// Impairer mangles a datagram sequence. A reordered datagram is held back
// and emitted right after the next datagram that gets through.
type Impairer struct {
	cfg    Impairment
	rng    *rand.Rand
	held   []byte
	counts ImpairCounts
}

// NewImpairer returns an Impairer whose decisions are reproducible for a
// given seed.
func NewImpairer(cfg Impairment, seed int64) *Impairer {
	return &Impairer{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

func (im *Impairer) roll(p float64) bool {
	return p > 0 && im.rng.Float64() < p
}

// Apply returns the datagrams to send, in order, in place of d.
func (im *Impairer) Apply(d []byte) [][]byte {
	if im.roll(im.cfg.Loss) {
		im.counts.Lost++
		return nil
	}
	if im.held == nil && im.roll(im.cfg.Reorder) {
		im.held = d
		im.counts.Reordered++
		return nil
	}

	out := [][]byte{d}
	if im.roll(im.cfg.Duplicate) {
		out = append(out, d)
		im.counts.Duplicated++
	}
	if im.held != nil {
		out = append(out, im.held)
		im.held = nil
	}
	return out
}

// Flush returns any held datagram.
func (im *Impairer) Flush() [][]byte {
	if im.held == nil {
		return nil
	}
	d := im.held
	im.held = nil
	return [][]byte{d}
}

// Counts returns the running tallies.
func (im *Impairer) Counts() ImpairCounts { return im.counts }
