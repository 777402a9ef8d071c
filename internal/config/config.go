// Package config loads the configuration-surface table of spec.md §6
// (WHC batching/high-water marks, reliable-delivery timing, transport
// addresses, metrics exporter selection) from a layered YAML + environment
// source, generalizing the teacher's config.yaml + SQLite layering to a
// single spf13/viper instance with defaults, a file layer, and env
// overrides, plus fsnotify-driven hot reload for the file layer.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// v is the process-wide layered config instance: defaults, overlaid by
// the config file, overlaid by DDSCORE_* environment variables.
var v = viper.New()

// Settings is the typed view of the configuration surface, decoded from
// v once Load has run.
type Settings struct {
	DomainID          int           `mapstructure:"domain_id"`
	ParticipantName   string        `mapstructure:"participant_name"`

	WHCBatch             int           `mapstructure:"whc_batch"`
	WHCHighWaterMark     int           `mapstructure:"whc_highwater_mark"`
	WHCLowWaterMark      int           `mapstructure:"whc_lowwater_mark"`
	WHCInitHighWaterMark int           `mapstructure:"whc_init_highwater_mark"`
	WHCMaxBlockingTime   time.Duration `mapstructure:"whc_max_blocking_time"`

	AccelerateRexmitBlockSize int `mapstructure:"accelerate_rexmit_block_size"`

	NackDelay             time.Duration `mapstructure:"nack_delay"`
	AckNackDelay          time.Duration `mapstructure:"acknack_delay"`
	RetransmitMerging     string        `mapstructure:"retransmit_merging"`
	ResponsivenessTimeout time.Duration `mapstructure:"responsiveness_timeout"`
	GiveUpAfter           time.Duration `mapstructure:"give_up_after"`
	HeartbeatIntervalMin  time.Duration `mapstructure:"heartbeat_interval_min"`
	HeartbeatIntervalMax  time.Duration `mapstructure:"heartbeat_interval_max"`

	TransportInterface string `mapstructure:"transport_interface"`
	DiscoveryAddress   string `mapstructure:"discovery_multicast_address"`

	MetricsExporter     string `mapstructure:"metrics_exporter"`
	MetricsOTLPEndpoint string `mapstructure:"metrics_otlp_endpoint"`

	LogLevel string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("domain_id", 0)
	v.SetDefault("participant_name", "")

	v.SetDefault("whc_batch", 32)
	v.SetDefault("whc_highwater_mark", 1024)
	v.SetDefault("whc_lowwater_mark", 768)
	v.SetDefault("whc_init_highwater_mark", 1024)
	v.SetDefault("whc_max_blocking_time", "500ms")

	v.SetDefault("accelerate_rexmit_block_size", 64)

	v.SetDefault("nack_delay", "20ms")
	v.SetDefault("acknack_delay", "10ms")
	v.SetDefault("retransmit_merging", "adaptive")
	v.SetDefault("responsiveness_timeout", "5s")
	v.SetDefault("give_up_after", "30s")
	v.SetDefault("heartbeat_interval_min", "100ms")
	v.SetDefault("heartbeat_interval_max", "3s")

	v.SetDefault("transport_interface", "lo")
	v.SetDefault("discovery_multicast_address", "239.255.0.1:7400")

	v.SetDefault("metrics_exporter", "none")
	v.SetDefault("metrics_otlp_endpoint", "")

	v.SetDefault("log_level", "info")
}

var (
	mu       sync.RWMutex
	current  Settings
	onChange []func(Settings)
)

// Load reads configPath (if non-empty) as the file layer, applies
// DDSCORE_* environment overrides, decodes into Settings, and starts
// watching configPath for changes so later edits hot-reload without a
// daemon restart.
func Load(configPath string) (Settings, error) {
	setDefaults(v)

	v.SetEnvPrefix("DDSCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Settings{}, fmt.Errorf("config: read %s: %w", configPath, err)
			}
		}
	}

	s, err := decode()
	if err != nil {
		return Settings{}, err
	}

	mu.Lock()
	current = s
	mu.Unlock()

	if configPath != "" {
		v.OnConfigChange(func(fsnotify.Event) {
			reloaded, err := decode()
			if err != nil {
				return
			}
			mu.Lock()
			current = reloaded
			handlers := append([]func(Settings){}, onChange...)
			mu.Unlock()
			for _, h := range handlers {
				h(reloaded)
			}
		})
		v.WatchConfig()
	}

	return s, nil
}

func decode() (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("config: decode: %w", err)
	}
	return s, nil
}

// Current returns the most recently loaded Settings.
func Current() Settings {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// OnChange registers fn to run after each hot reload triggered by a
// config file write. fn runs on the fsnotify callback goroutine.
func OnChange(fn func(Settings)) {
	mu.Lock()
	defer mu.Unlock()
	onChange = append(onChange, fn)
}
