// Command wrc-sim sends synthetic WRC telemetry to a receiver, optionally
// dropping, duplicating and reordering datagrams, or writes the same
// stream to a pcap file for offline replay.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/banshee-data/wrc.report/internal/monitoring"
	"github.com/banshee-data/wrc.report/internal/wrc/packet"
	"github.com/banshee-data/wrc.report/internal/wrc/sim"
)

// Config holds the simulator settings.
type Config struct {
	Addr         string
	Rate         float64
	Count        int
	StartUID     uint64
	RestartAfter int
	Impair       sim.Impairment
	Seed         int64
	PCAPOut      string
	LogLevel     string
}

func parseFlags() Config {
	var cfg Config
	def := sim.DefaultConfig()

	flag.StringVar(&cfg.Addr, "addr", "127.0.0.1:6969", "Receiver UDP address (destination address in -pcap mode)")
	flag.Float64Var(&cfg.Rate, "rate", def.Rate, "Samples per second")
	flag.IntVar(&cfg.Count, "count", 0, "Number of samples to send (0 = until interrupted; required with -pcap)")
	flag.Uint64Var(&cfg.StartUID, "start-uid", def.StartUID, "First packet_uid of each session")
	flag.IntVar(&cfg.RestartAfter, "restart-after", 0, "Restart the session after this many samples (0 = never)")
	flag.Float64Var(&cfg.Impair.Loss, "loss", 0, "Probability of dropping a datagram")
	flag.Float64Var(&cfg.Impair.Duplicate, "dup", 0, "Probability of sending a datagram twice")
	flag.Float64Var(&cfg.Impair.Reorder, "reorder", 0, "Probability of delaying a datagram behind the next one")
	flag.Int64Var(&cfg.Seed, "seed", 1, "Random seed for impairments")
	flag.StringVar(&cfg.PCAPOut, "pcap", "", "Write a pcap file instead of sending")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level")
	flag.Parse()
	return cfg
}

func (c Config) validate() error {
	if c.Rate <= 0 {
		return fmt.Errorf("rate must be positive, got %v", c.Rate)
	}
	if c.Count < 0 || c.RestartAfter < 0 {
		return fmt.Errorf("count and restart-after must be non-negative")
	}
	if c.PCAPOut != "" && c.Count == 0 {
		return fmt.Errorf("-pcap needs a positive -count")
	}
	return c.Impair.Validate()
}

func (c Config) generator() *sim.Generator {
	gc := sim.DefaultConfig()
	gc.Rate = c.Rate
	gc.StartUID = c.StartUID
	gc.RestartAfter = c.RestartAfter
	return sim.NewGenerator(gc)
}

func main() {
	cfg := parseFlags()
	if _, err := monitoring.Configure(monitoring.Options{App: "wrc-sim", Level: cfg.LogLevel}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := cfg.validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid flags")
	}

	var (
		res sim.Result
		err error
	)
	if cfg.PCAPOut != "" {
		res, err = writePCAP(cfg)
	} else {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		res, err = send(ctx, cfg)
		stop()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("simulator failed")
	}

	b, _ := json.Marshal(res)
	log.Info().RawJSON("result", b).Msg("simulator finished")
}

func send(ctx context.Context, cfg Config) (sim.Result, error) {
	raddr, err := net.ResolveUDPAddr("udp", cfg.Addr)
	if err != nil {
		return sim.Result{}, fmt.Errorf("resolve %s: %w", cfg.Addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return sim.Result{}, fmt.Errorf("dial %s: %w", raddr, err)
	}
	defer conn.Close()

	log.Info().
		Str("addr", raddr.String()).
		Float64("rate", cfg.Rate).
		Int("count", cfg.Count).
		Msg("sending telemetry")

	s := &sim.Sender{Gen: cfg.generator(), Impair: sim.NewImpairer(cfg.Impair, cfg.Seed)}
	return s.Run(ctx, conn, cfg.Count)
}

func writePCAP(cfg Config) (sim.Result, error) {
	dst, err := net.ResolveUDPAddr("udp4", cfg.Addr)
	if err != nil {
		return sim.Result{}, fmt.Errorf("resolve %s: %w", cfg.Addr, err)
	}
	f, err := os.Create(cfg.PCAPOut)
	if err != nil {
		return sim.Result{}, fmt.Errorf("create %s: %w", cfg.PCAPOut, err)
	}
	defer f.Close()

	src := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 50), Port: 50000}
	interval := time.Duration(float64(time.Second) / cfg.Rate)
	pw, err := sim.NewPCAPWriter(f, src, dst, time.Now().UTC(), interval)
	if err != nil {
		return sim.Result{}, err
	}

	gen := cfg.generator()
	impair := sim.NewImpairer(cfg.Impair, cfg.Seed)
	var res sim.Result
	write := func(datagrams [][]byte) error {
		for _, d := range datagrams {
			if _, err := pw.Write(d); err != nil {
				return err
			}
			res.Datagrams++
		}
		return nil
	}
	for ; res.Samples < cfg.Count; res.Samples++ {
		if err := write(impair.Apply(packet.Encode(gen.Next()))); err != nil {
			return res, err
		}
	}
	if err := write(impair.Flush()); err != nil {
		return res, err
	}
	res.Impaired = impair.Counts()

	log.Info().Str("file", cfg.PCAPOut).Int("frames", pw.Frames()).Msg("wrote capture")
	return res, f.Close()
}
