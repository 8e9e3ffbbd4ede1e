// Command wrc receives WRC telemetry over UDP (or replays a capture), checks
// the packet sequence and republishes samples as JSON, HTTP, gRPC and serial
// shift-light frames.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/wrc.report/internal/api"
	"github.com/banshee-data/wrc.report/internal/config"
	"github.com/banshee-data/wrc.report/internal/monitoring"
	"github.com/banshee-data/wrc.report/internal/serialmux"
	"github.com/banshee-data/wrc.report/internal/stream"
	"github.com/banshee-data/wrc.report/internal/version"
	"github.com/banshee-data/wrc.report/internal/wrc/network"
	"github.com/banshee-data/wrc.report/internal/wrc/packet"
	"github.com/banshee-data/wrc.report/internal/wrc/pipeline"
	"github.com/banshee-data/wrc.report/internal/wrc/sequence"
	"github.com/banshee-data/wrc.report/internal/wrc/stats"
)

type options struct {
	cfg *config.Config

	showVersion  bool
	pcapFile     string
	pcapPort     int
	pcapRealtime bool
	pcapSpeed    float64
}

// parseFlags parses args and merges them over the -config file. Only flags
// given explicitly override file values.
func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("wrc", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath     = fs.String("config", "", "Path to a JSON config file")
		listen         = fs.String("listen", config.DefaultListen, "UDP address to receive telemetry on")
		rcvBuf         = fs.Int("rcvbuf", config.DefaultRcvBuf, "UDP receive buffer size in bytes")
		policy         = fs.String("policy", "strict", "Handling of non-finite position, velocity and rpm values: strict or lenient")
		resetThreshold = fs.Uint64("reset-threshold", sequence.DefaultResetThreshold, "Packet id regression treated as a sender restart")
		dupWindow      = fs.Int("dup-window", sequence.DefaultWindowSize, "Recent packet ids remembered for duplicate detection (0 = unbounded)")
		dropStale      = fs.Bool("drop-stale", true, "Do not publish duplicate or reordered samples")
		logLevel       = fs.String("log-level", "info", "Log level: trace, debug, info, warn, error, disabled")
		verbose        = fs.Bool("v", false, "Verbose logging (same as -log-level debug)")
		logJSON        = fs.Bool("log-json", false, "Write logs as JSON lines")
		printJSON      = fs.Bool("print-json", false, "Print every sample as indented JSON on stdout")
		statsInterval  = fs.Duration("stats-interval", config.DefaultStatsInterval, "Packet statistics log interval (0 disables)")
		forward        = fs.String("forward", "", "Forward raw datagrams to this UDP address")
		httpListen     = fs.String("http", "", "HTTP API listen address (empty disables)")
		grpcListen     = fs.String("grpc", "", "gRPC stream listen address (empty disables)")
		serialPort     = fs.String("serial", "", "Serial device for a shift-light display (empty disables)")
		speedUnits     = fs.String("units", "kph", "Speed units for views: mps, mph, kmph, kph")
	)
	o := &options{}
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")
	fs.StringVar(&o.pcapFile, "pcap", "", "Replay a pcap/pcapng capture instead of listening")
	fs.IntVar(&o.pcapPort, "pcap-port", 0, "UDP destination port to replay (default: the -listen port)")
	fs.BoolVar(&o.pcapRealtime, "pcap-realtime", false, "Replay with the capture's original timing")
	fs.Float64Var(&o.pcapSpeed, "pcap-speed", 1, "Replay speed multiplier with -pcap-realtime")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	o.cfg = config.Empty()
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		o.cfg = cfg
	}

	cfg := o.cfg
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = listen
		case "rcvbuf":
			cfg.RcvBuf = rcvBuf
		case "policy":
			cfg.MalformedPolicy = policy
		case "reset-threshold":
			cfg.ResetThreshold = resetThreshold
		case "dup-window":
			cfg.DuplicateWindow = dupWindow
		case "drop-stale":
			cfg.DropStale = dropStale
		case "log-level":
			cfg.LogLevel = logLevel
		case "log-json":
			cfg.LogJSON = logJSON
		case "print-json":
			cfg.PrintJSON = printJSON
		case "stats-interval":
			s := statsInterval.String()
			cfg.StatsInterval = &s
		case "forward":
			cfg.ForwardAddr = forward
		case "http":
			cfg.HTTPListen = httpListen
		case "grpc":
			cfg.GRPCListen = grpcListen
		case "serial":
			cfg.SerialPort = serialPort
		case "units":
			cfg.SpeedUnits = speedUnits
		}
	})
	if *verbose {
		lvl := "debug"
		cfg.LogLevel = &lvl
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if o.pcapPort == 0 {
		_, port, err := net.SplitHostPort(cfg.GetListen())
		if err != nil {
			return nil, fmt.Errorf("invalid listen address %q: %w", cfg.GetListen(), err)
		}
		if o.pcapPort, err = strconv.Atoi(port); err != nil {
			return nil, fmt.Errorf("invalid listen port %q: %w", port, err)
		}
	}
	return o, nil
}

func run(ctx context.Context, o *options, stdout, stderr io.Writer) error {
	cfg := o.cfg
	if _, err := monitoring.Configure(monitoring.Options{
		App:   "wrc",
		Level: cfg.GetLogLevel(),
		JSON:  cfg.GetLogJSON(),
		Out:   stderr,
	}); err != nil {
		return err
	}
	monitoring.Logf("wrc %s starting", version.Get())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	packetStats := stats.NewPacketStats()
	tracker := sequence.NewTracker(cfg.GetSequence())

	var sinks []pipeline.Sink

	var history *api.History
	if cfg.GetHTTPListen() != "" {
		history = api.NewHistory(api.DefaultHistorySize)
		sinks = append(sinks, history)
	}

	var publisher *stream.Publisher
	if addr := cfg.GetGRPCListen(); addr != "" {
		sc := stream.DefaultConfig()
		sc.ListenAddr = addr
		sc.SpeedUnits = cfg.GetSpeedUnits()
		publisher = stream.NewPublisher(sc)
		sinks = append(sinks, publisher)
	}

	var light *serialmux.ShiftLight[serialmux.SerialPorter]
	if port := cfg.GetSerialPort(); port != "" {
		var err error
		light, err = serialmux.Open(serialmux.OpenPort, port, cfg.GetSerial(), serialmux.DefaultQueueSize)
		if err != nil {
			return err
		}
		defer light.Close()
		sinks = append(sinks, pipeline.SinkFunc(func(s pipeline.Sample) { light.Publish(s.Record) }))
	}

	var printJSON io.Writer
	if cfg.GetPrintJSON() {
		printJSON = stdout
	}
	pipe := pipeline.New(pipeline.Options{
		Decoder:    packet.Decoder{Policy: cfg.GetMalformedPolicy()},
		Tracker:    tracker,
		Stats:      packetStats,
		DropStale:  cfg.GetDropStale(),
		PrintJSON:  printJSON,
		SpeedUnits: cfg.GetSpeedUnits(),
	}, sinks...)

	var forwarder *network.PacketForwarder
	if addr := cfg.GetForwardAddr(); addr != "" {
		var err error
		forwarder, err = network.NewPacketForwarder(addr, packetStats, time.Minute)
		if err != nil {
			return err
		}
		defer forwarder.Close()
		log.Info().Str("addr", addr).Msg("forwarding datagrams")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		packetStats.Report(gctx, cfg.GetStatsInterval())
		return nil
	})

	if addr := cfg.GetHTTPListen(); addr != "" {
		var streams api.StreamSource
		if publisher != nil {
			streams = publisher
		}
		srv := api.NewServer(pipe, packetStats, streams, history)
		g.Go(func() error { return srv.ListenAndServe(gctx, addr) })
	}

	if publisher != nil {
		g.Go(func() error { return publisher.ListenAndServe(gctx) })
	}

	if light != nil {
		g.Go(func() error { return light.Run(gctx) })
		g.Go(func() error { return light.Monitor(gctx) })
	}

	if o.pcapFile != "" {
		if forwarder != nil {
			forwarder.Start(gctx)
		}
		g.Go(func() error {
			res, err := network.ReadPCAPFile(gctx, o.pcapFile, network.ReplayOptions{
				Port:     o.pcapPort,
				Realtime: o.pcapRealtime,
				Speed:    o.pcapSpeed,
			}, pipe, packetStats, forwarder)
			if err != nil {
				return err
			}
			log.Info().
				Str("file", o.pcapFile).
				Int("frames", res.Frames).
				Int("datagrams", res.Datagrams).
				Dur("elapsed", res.Elapsed).
				Msg("PCAP replay complete")
			cancel()
			return nil
		})
	} else {
		listener := network.NewUDPListener(network.UDPListenerConfig{
			Address:   cfg.GetListen(),
			RcvBuf:    cfg.GetRcvBuf(),
			Stats:     packetStats,
			Forwarder: forwarder,
			Handler:   pipe,
		})
		g.Go(func() error { return listener.Start(gctx) })
	}

	err := g.Wait()

	totals := packetStats.Totals()
	log.Info().
		Int64("packets", totals.Packets).
		Int64("decode_errors", totals.DecodeErrors()).
		Uint64("gaps", totals.Sequence.Gaps).
		Uint64("lost", totals.Sequence.Dropped).
		Uint64("duplicates", totals.Sequence.Duplicates).
		Uint64("reordered", totals.Sequence.Reordered).
		Uint64("resets", totals.Sequence.Resets).
		Msg("telemetry totals")

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func main() {
	o, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if o.showVersion {
		fmt.Println("wrc", version.Get())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, os.Stdout, os.Stderr); err != nil {
		log.Error().Err(err).Msg("wrc exited with error")
		stop()
		os.Exit(1)
	}
}
