// Package config loads a probe run's TOML configuration: the program-id
// allowlist and the list of sources to run, each with its transport-specific
// fields (spec.md §6).
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"shredlead/utils"
)

// Path config
const (
	LogPath    = "./logs/"
	ConfigPath = "./"
)

// Network config, shared by every polling/retry-based source.
const (
	DefaultRetryTimes    = 3
	DefaultRetryInterval = 50 * time.Millisecond
	DefaultTimeout       = 20 * time.Second
)

// Aggregator/pipeline defaults. The window and snapshot interval are
// overridable through the top-level window_secs/snapshot_interval_secs keys;
// the active-slot window is not configurable.
const (
	DefaultWindowSecs           = 60
	DefaultSnapshotIntervalSecs = 1
	DefaultActiveSlotWindow     = 32
)

var validSourceTypes = []string{"shred", "rpc", "geyser", "jito-grpc"}

// SourceConfig is one [[sources]] table entry. Which fields are read
// depends on Type: shred sources read MulticastAddr/Port/Interface/
// PinRecvCore/PinDecodeCore, the gRPC variants read Url/XToken, and rpc
// reads Url.
type SourceConfig struct {
	Name          string `mapstructure:"name"`
	Type          string `mapstructure:"type"`
	MulticastAddr string `mapstructure:"multicast_addr"`
	Port          uint16 `mapstructure:"port"`
	Interface     string `mapstructure:"interface"`
	Url           string `mapstructure:"url"`
	XToken        string `mapstructure:"x_token"`
	PinRecvCore   *int   `mapstructure:"pin_recv_core"`
	PinDecodeCore *int   `mapstructure:"pin_decode_core"`
}

// ProbeConfig is the top-level shape of config.toml.
type ProbeConfig struct {
	FilterPrograms       []string       `mapstructure:"filter_programs"`
	WindowSecs           int64          `mapstructure:"window_secs"`
	SnapshotIntervalSecs int64          `mapstructure:"snapshot_interval_secs"`
	SnapshotLogPath      string         `mapstructure:"snapshot_log_path"`
	ClickhouseEnabled    bool           `mapstructure:"clickhouse_enabled"`
	Sources              []SourceConfig `mapstructure:"sources"`
}

// Load reads config.toml from ConfigPath via viper and validates it.
func Load() (*ProbeConfig, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("toml")
	viper.AddConfigPath(ConfigPath)
	viper.SetDefault("window_secs", DefaultWindowSecs)
	viper.SetDefault("snapshot_interval_secs", DefaultSnapshotIntervalSecs)
	viper.SetDefault("snapshot_log_path", "./snapshots.jsonl")

	if err := viper.MergeInConfig(); err != nil {
		return nil, fmt.Errorf("config: read config.toml: %w", err)
	}
	viper.AutomaticEnv()

	var cfg ProbeConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every source has a recognized type, a non-empty and
// unique name, and the transport-specific fields its type requires (spec.md
// §7's ConfigError: "missing fields, … port=0 for shred, unreachable URL
// scheme" are all startup-fatal, not per-source init failures).
func (c *ProbeConfig) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("config: at least one [[sources]] entry is required")
	}
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("config: source with type %q is missing a name", s.Type)
		}
		if seen[s.Name] {
			return fmt.Errorf("config: duplicate source name %q", s.Name)
		}
		seen[s.Name] = true
		if !utils.HasString(validSourceTypes, s.Type) {
			return fmt.Errorf("config: source %q has unrecognized type %q", s.Name, s.Type)
		}
		switch s.Type {
		case "shred":
			if s.Port == 0 {
				return fmt.Errorf("config: shred source %q is missing port (or port=0)", s.Name)
			}
			if s.MulticastAddr == "" {
				return fmt.Errorf("config: shred source %q is missing multicast_addr", s.Name)
			}
		case "rpc", "geyser", "jito-grpc":
			if s.Url == "" {
				return fmt.Errorf("config: %s source %q is missing url", s.Type, s.Name)
			}
		}
	}
	return nil
}
