package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/wrc.report/internal/monitoring"
	"github.com/banshee-data/wrc.report/internal/serialmux"
	"github.com/banshee-data/wrc.report/internal/units"
	"github.com/banshee-data/wrc.report/internal/wrc/packet"
	"github.com/banshee-data/wrc.report/internal/wrc/sequence"
)

// Defaults for the ingest daemon.
const (
	DefaultListen        = "0.0.0.0:6969"
	DefaultRcvBuf        = 4 << 20
	DefaultStatsInterval = 10 * time.Second
)

// Config is the root configuration of the ingest daemon. Every field is
// optional; the Get* methods supply defaults for fields the file omits, so
// partial configs are safe. Command-line flags override file values.
type Config struct {
	// Ingest
	Listen          *string `json:"listen,omitempty"`
	RcvBuf          *int    `json:"rcv_buf,omitempty"`
	MalformedPolicy *string `json:"malformed_policy,omitempty"` // "strict" or "lenient"
	ResetThreshold  *uint64 `json:"reset_threshold,omitempty"`
	DuplicateWindow *int    `json:"duplicate_window,omitempty"`
	DropStale       *bool   `json:"drop_stale,omitempty"`

	// Logging
	LogLevel      *string `json:"log_level,omitempty"`
	LogJSON       *bool   `json:"log_json,omitempty"`
	PrintJSON     *bool   `json:"print_json,omitempty"`
	StatsInterval *string `json:"stats_interval,omitempty"` // duration string like "10s"

	// Outputs; empty addresses disable the output.
	ForwardAddr *string                `json:"forward_addr,omitempty"`
	HTTPListen  *string                `json:"http_listen,omitempty"`
	GRPCListen  *string                `json:"grpc_listen,omitempty"`
	SerialPort  *string                `json:"serial_port,omitempty"`
	Serial      *serialmux.PortOptions `json:"serial,omitempty"`
	SpeedUnits  *string                `json:"speed_units,omitempty"`
}

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file.
// The file must have a .json extension and be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	for name, addr := range map[string]*string{
		"listen":       c.Listen,
		"forward_addr": c.ForwardAddr,
		"http_listen":  c.HTTPListen,
		"grpc_listen":  c.GRPCListen,
	} {
		if addr == nil || *addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(*addr); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, *addr, err)
		}
	}

	if c.RcvBuf != nil && *c.RcvBuf < 0 {
		return fmt.Errorf("rcv_buf must be non-negative, got %d", *c.RcvBuf)
	}

	if c.MalformedPolicy != nil {
		if _, err := packet.ParsePolicy(*c.MalformedPolicy); err != nil {
			return err
		}
	}

	if c.LogLevel != nil {
		if _, err := monitoring.ParseLevel(*c.LogLevel); err != nil {
			return err
		}
	}

	if c.StatsInterval != nil && *c.StatsInterval != "" {
		d, err := time.ParseDuration(*c.StatsInterval)
		if err != nil {
			return fmt.Errorf("invalid stats_interval '%s': %w", *c.StatsInterval, err)
		}
		if d < 0 {
			return fmt.Errorf("stats_interval must be non-negative, got %s", d)
		}
	}

	if c.SpeedUnits != nil && !units.IsValid(*c.SpeedUnits) {
		return fmt.Errorf("invalid speed_units %q: must be one of %v", *c.SpeedUnits, units.ValidUnits)
	}

	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("invalid serial options: %w", err)
		}
	}

	return nil
}

// GetListen returns the UDP bind address.
func (c *Config) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return DefaultListen
	}
	return *c.Listen
}

// GetRcvBuf returns the socket receive buffer size in bytes.
func (c *Config) GetRcvBuf() int {
	if c.RcvBuf == nil {
		return DefaultRcvBuf
	}
	return *c.RcvBuf
}

// GetMalformedPolicy returns the decoder policy for non-finite values.
func (c *Config) GetMalformedPolicy() packet.Policy {
	if c.MalformedPolicy == nil {
		return packet.PolicyStrict
	}
	p, err := packet.ParsePolicy(*c.MalformedPolicy)
	if err != nil {
		return packet.PolicyStrict // default on parse error
	}
	return p
}

// GetSequence returns the sequence monitor configuration.
func (c *Config) GetSequence() sequence.Config {
	cfg := sequence.DefaultConfig()
	if c.ResetThreshold != nil && *c.ResetThreshold > 0 {
		cfg.ResetThreshold = *c.ResetThreshold
	}
	if c.DuplicateWindow != nil {
		cfg.WindowSize = *c.DuplicateWindow
	}
	return cfg
}

// GetDropStale reports whether duplicate and reordered samples are withheld
// from output sinks.
func (c *Config) GetDropStale() bool {
	if c.DropStale == nil {
		return true
	}
	return *c.DropStale
}

// GetLogLevel returns the log level name.
func (c *Config) GetLogLevel() string {
	if c.LogLevel == nil || *c.LogLevel == "" {
		return "info"
	}
	return *c.LogLevel
}

// GetLogJSON reports whether logs are written as JSON lines.
func (c *Config) GetLogJSON() bool {
	return c.LogJSON != nil && *c.LogJSON
}

// GetPrintJSON reports whether every sample is printed as indented JSON.
func (c *Config) GetPrintJSON() bool {
	return c.PrintJSON != nil && *c.PrintJSON
}

// GetStatsInterval returns how often packet statistics are logged. Zero
// disables periodic statistics.
func (c *Config) GetStatsInterval() time.Duration {
	if c.StatsInterval == nil || *c.StatsInterval == "" {
		return DefaultStatsInterval
	}
	d, err := time.ParseDuration(*c.StatsInterval)
	if err != nil {
		return DefaultStatsInterval // default on parse error
	}
	return d
}

// GetForwardAddr returns the UDP address raw datagrams are forwarded to.
func (c *Config) GetForwardAddr() string { return deref(c.ForwardAddr) }

// GetHTTPListen returns the HTTP API listen address.
func (c *Config) GetHTTPListen() string { return deref(c.HTTPListen) }

// GetGRPCListen returns the gRPC stream listen address.
func (c *Config) GetGRPCListen() string { return deref(c.GRPCListen) }

// GetSerialPort returns the shift light serial device path.
func (c *Config) GetSerialPort() string { return deref(c.SerialPort) }

// GetSerial returns the normalized shift light serial options.
func (c *Config) GetSerial() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.Serial != nil {
		opts = *c.Serial
	}
	normalized, err := opts.Normalize()
	if err != nil {
		normalized, _ = serialmux.PortOptions{}.Normalize()
	}
	return normalized
}

// GetSpeedUnits returns the units speeds are presented in.
func (c *Config) GetSpeedUnits() string {
	if c.SpeedUnits == nil || *c.SpeedUnits == "" {
		return units.KPH
	}
	return *c.SpeedUnits
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
