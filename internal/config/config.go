// Package config manages mlagd daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dantte-lp/mlagd/internal/ctlproto"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete mlagd configuration.
type Config struct {
	Metrics       MetricsConfig `koanf:"metrics"`
	Log           LogConfig     `koanf:"log"`
	Mlag          MlagConfig    `koanf:"mlag"`
	Hal           HalConfig     `koanf:"hal"`
	Ports         []PortConfig  `koanf:"ports"`
	ControlSocket string        `koanf:"control_socket"`
}

// HalConfig selects and configures the hardware abstraction backend
// (internal/hal): "stub" for testing/dev, "ovs" for an Open vSwitch
// dataplane over OVSDB.
type HalConfig struct {
	// Backend is "stub" or "ovs".
	Backend string `koanf:"backend"`

	// OVSEndpoint is the ovsdb-server connection string (e.g.
	// "unix:/var/run/openvswitch/db.sock"), used when Backend == "ovs".
	OVSEndpoint string `koanf:"ovs_endpoint"`
	// OVSBridge is the integration bridge name MLAG ports live on.
	OVSBridge string `koanf:"ovs_bridge"`
	// OVSIplPort is the OVS port name representing the Inter-Peer Link.
	OVSIplPort string `koanf:"ovs_ipl_port"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// MlagConfig holds the node's domain identity and transport tunables
// (SPEC_FULL.md §2 node identity, §4.2 tunables).
type MlagConfig struct {
	// LocalPeer is this node's peer id within the MLAG domain (0 or 1 for
	// a two-chassis pair; the wire format allows up to MaxPeers).
	LocalPeer int `koanf:"local_peer"`

	// Peers lists the dial addresses of the other chassis in the domain,
	// indexed by peer id. A standalone node leaves this empty.
	Peers []string `koanf:"peers"`

	// IplPort is the interface name of the Inter-Peer Link used to carry
	// isolated/redirected traffic between chassis (§4.5).
	IplPort string `koanf:"ipl_port"`

	// GeneralControlAddr is the general control-channel listen/dial
	// address (TCP 51235 default).
	GeneralControlAddr string `koanf:"general_control_addr"`

	// MacSyncAddr is the FDB-sync channel listen/dial address (TCP 51236
	// default). Sends on this channel are serialized (§4.2).
	MacSyncAddr string `koanf:"mac_sync_addr"`

	// TunnelAddr is the IPL tunnel channel listen/dial address (TCP 51237
	// default).
	TunnelAddr string `koanf:"tunnel_addr"`

	// HeartbeatAddr is the UDP liveness heartbeat address (51234 default).
	HeartbeatAddr string `koanf:"heartbeat_addr"`

	// ReconnectInterval is CommWrapper's reconnect timer (default 1s).
	ReconnectInterval time.Duration `koanf:"reconnect_interval"`

	// FdbMaxSize bounds FdbMaster's learned-entry table (§3 pool sizing).
	FdbMaxSize int `koanf:"fdb_max_size"`

	// RouterMacMaxSize bounds the router-MAC table (§3 pool sizing).
	RouterMacMaxSize int `koanf:"router_mac_max_size"`

	// FlushPortVidPoolSize and FlushGlobalPoolSize size FlushCoordinator's
	// two flush-FSM pools (§3 pool sizing).
	FlushPortVidPoolSize int `koanf:"flush_port_vid_pool_size"`
	FlushGlobalPoolSize  int `koanf:"flush_global_pool_size"`

	// FlushAckTimeout bounds how long FlushCoordinator waits for peer
	// ACKs before giving up on a flush (§4.9).
	FlushAckTimeout time.Duration `koanf:"flush_ack_timeout"`
}

// PortConfig describes one MLAG port group from the configuration file.
// Each entry allocates a Port on daemon startup.
type PortConfig struct {
	// ID is the local aggregation/port identifier (ifindex or LAG id).
	ID uint32 `koanf:"id"`

	// Mode is the port's aggregation mode: "lacp" or "static".
	Mode string `koanf:"mode"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
//
// Port defaults follow SPEC_FULL.md §6's representative wire opcodes and
// §4.2's transport tunables: a dedicated TCP channel per traffic class
// (general control, FDB sync, IPL tunnel) plus a UDP heartbeat, with pool
// sizes derived from the original implementation's expected worst cases.
func DefaultConfig() *Config {
	return &Config{
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Mlag: MlagConfig{
			LocalPeer:            0,
			GeneralControlAddr:   ":51235",
			MacSyncAddr:          ":51236",
			TunnelAddr:           ":51237",
			HeartbeatAddr:        ":51234",
			ReconnectInterval:    1 * time.Second,
			FdbMaxSize:           32768,
			RouterMacMaxSize:     1024,
			FlushPortVidPoolSize: 10_000,
			FlushGlobalPoolSize:  8*(4094+128) + 1,
			FlushAckTimeout:      5 * time.Second,
		},
		Hal: HalConfig{
			Backend: "stub",
		},
		ControlSocket: ctlproto.DefaultSocketPath,
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for mlagd configuration.
// Variables are named MLAGD_<section>_<key>, e.g., MLAGD_MLAG_LOCAL_PEER.
const envPrefix = "MLAGD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (MLAGD_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	MLAGD_METRICS_ADDR          -> metrics.addr
//	MLAGD_LOG_LEVEL             -> log.level
//	MLAGD_MLAG_LOCAL_PEER       -> mlag.local_peer
//	MLAGD_MLAG_GENERAL_CONTROL_ADDR -> mlag.general_control_addr
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults first.
	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	// Load YAML file on top of defaults.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	// Load environment variable overrides on top of YAML.
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms MLAGD_MLAG_LOCAL_PEER -> mlag.local_peer: only
// the first underscore (after the section name) becomes koanf's "."
// delimiter, so multi-word keys keep their underscores.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"metrics.addr":                       defaults.Metrics.Addr,
		"metrics.path":                       defaults.Metrics.Path,
		"log.level":                          defaults.Log.Level,
		"log.format":                         defaults.Log.Format,
		"mlag.local_peer":                    defaults.Mlag.LocalPeer,
		"mlag.general_control_addr":          defaults.Mlag.GeneralControlAddr,
		"mlag.mac_sync_addr":                 defaults.Mlag.MacSyncAddr,
		"mlag.tunnel_addr":                   defaults.Mlag.TunnelAddr,
		"mlag.heartbeat_addr":                defaults.Mlag.HeartbeatAddr,
		"mlag.reconnect_interval":            defaults.Mlag.ReconnectInterval.String(),
		"mlag.fdb_max_size":                  defaults.Mlag.FdbMaxSize,
		"mlag.router_mac_max_size":           defaults.Mlag.RouterMacMaxSize,
		"mlag.flush_port_vid_pool_size":      defaults.Mlag.FlushPortVidPoolSize,
		"mlag.flush_global_pool_size":        defaults.Mlag.FlushGlobalPoolSize,
		"mlag.flush_ack_timeout":             defaults.Mlag.FlushAckTimeout.String(),
		"hal.backend":                        defaults.Hal.Backend,
		"control_socket":                     defaults.ControlSocket,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyGeneralControlAddr indicates the general control-channel
	// address is empty.
	ErrEmptyGeneralControlAddr = errors.New("mlag.general_control_addr must not be empty")

	// ErrEmptyMacSyncAddr indicates the FDB-sync channel address is empty.
	ErrEmptyMacSyncAddr = errors.New("mlag.mac_sync_addr must not be empty")

	// ErrInvalidLocalPeer indicates the local peer id is out of range.
	ErrInvalidLocalPeer = errors.New("mlag.local_peer must be >= 0")

	// ErrInvalidFdbMaxSize indicates the FDB table size bound is invalid.
	ErrInvalidFdbMaxSize = errors.New("mlag.fdb_max_size must be > 0")

	// ErrInvalidPortMode indicates a port's mode is neither lacp nor static.
	ErrInvalidPortMode = errors.New("port mode must be lacp or static")

	// ErrDuplicatePortID indicates two port entries share the same id.
	ErrDuplicatePortID = errors.New("duplicate port id")

	// ErrInvalidHalBackend indicates hal.backend is neither stub nor ovs.
	ErrInvalidHalBackend = errors.New("hal.backend must be stub or ovs")
)

// ValidHalBackends lists the recognized hal.backend strings.
var ValidHalBackends = map[string]bool{
	"stub": true,
	"ovs":  true,
}

// ValidPortModes lists the recognized port mode strings.
var ValidPortModes = map[string]bool{
	"lacp":   true,
	"static": true,
}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Mlag.GeneralControlAddr == "" {
		return ErrEmptyGeneralControlAddr
	}

	if cfg.Mlag.MacSyncAddr == "" {
		return ErrEmptyMacSyncAddr
	}

	if cfg.Mlag.LocalPeer < 0 {
		return ErrInvalidLocalPeer
	}

	if cfg.Mlag.FdbMaxSize <= 0 {
		return ErrInvalidFdbMaxSize
	}

	if cfg.Hal.Backend != "" && !ValidHalBackends[cfg.Hal.Backend] {
		return fmt.Errorf("hal.backend %q: %w", cfg.Hal.Backend, ErrInvalidHalBackend)
	}

	if err := validatePorts(cfg.Ports); err != nil {
		return err
	}

	return nil
}

// validatePorts checks each declarative port entry for correctness.
func validatePorts(ports []PortConfig) error {
	seen := make(map[uint32]struct{}, len(ports))

	for i, pc := range ports {
		if pc.Mode != "" && !ValidPortModes[pc.Mode] {
			return fmt.Errorf("ports[%d] mode %q: %w", i, pc.Mode, ErrInvalidPortMode)
		}

		if _, dup := seen[pc.ID]; dup {
			return fmt.Errorf("ports[%d] id %d: %w", i, pc.ID, ErrDuplicatePortID)
		}
		seen[pc.ID] = struct{}{}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
