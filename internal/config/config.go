// Package config loads the engine configuration: struct defaults,
// overridden by an optional YAML file, overridden by FLOW_* environment
// variables (FLOW_SERVER_PORT=9090 → server.port).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Kafka    KafkaConfig    `koanf:"kafka"`
	Chain    ChainConfig    `koanf:"chain"`

	Graph     GraphConfig     `koanf:"graph"`
	Trace     TraceConfig     `koanf:"trace"`
	Detectors DetectorsConfig `koanf:"detectors"`
	Monitor   MonitorConfig   `koanf:"monitor"`
	Alerts    AlertsConfig    `koanf:"alerts"`
	Refdata   RefdataConfig   `koanf:"refdata"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	AuthToken       string        `koanf:"auth_token"` // Empty disables auth (dev mode)
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RateLimitPerMin int           `koanf:"rate_limit_per_min"`
	RateLimitBurst  int           `koanf:"rate_limit_burst"`
}

type DatabaseConfig struct {
	URL      string `koanf:"url"` // Empty runs the engine memory-only
	MaxConns int32  `koanf:"max_conns"`
}

type RedisConfig struct {
	Addr     string        `koanf:"addr"` // Empty disables the analysis cache
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	TTL      time.Duration `koanf:"ttl"`
}

type KafkaConfig struct {
	Brokers     string `koanf:"brokers"` // CSV; empty disables Kafka ingest
	GroupID     string `koanf:"group_id"`
	EventsTopic string `koanf:"events_topic"`
	AlertsTopic string `koanf:"alerts_topic"` // Empty disables alert publishing
}

type ChainConfig struct {
	RPCURL  string        `koanf:"rpc_url"` // Empty disables on-chain contract checks
	Timeout time.Duration `koanf:"timeout"` // Per-lookup deadline
}

// GraphConfig holds store tunables. The normalizers are fixed production
// constants; they are exposed here but must keep these defaults for
// behavioral parity across deployments.
type GraphConfig struct {
	MinAmount     float64 `koanf:"min_amount"`     // Events below this are not stored
	MaxSamples    int     `koanf:"max_samples"`    // Per-edge sample ring capacity
	StrengthNorm  float64 `koanf:"strength_norm"`  // strength = min(1, total/norm)
	FrequencyNorm float64 `koanf:"frequency_norm"` // frequencyScore = min(1, count/norm)
}

type TraceConfig struct {
	MaxDepth  int `koanf:"max_depth"`
	MaxChains int `koanf:"max_chains"`
}

type DetectorsConfig struct {
	Layering LayeringConfig `koanf:"layering"`
	Mixing   MixingConfig   `koanf:"mixing"`
	Timing   TimingConfig   `koanf:"timing"`
	Amounts  AmountsConfig  `koanf:"amounts"`
	Sources  SourcesConfig  `koanf:"sources"`
	Circular CircularConfig `koanf:"circular"`

	// Shadow thresholds run side by side in the monitor without
	// affecting production alerts. Nil-equivalent when disabled.
	ShadowEnabled bool           `koanf:"shadow_enabled"`
	Shadow        ShadowOverride `koanf:"shadow"`
}

type LayeringConfig struct {
	MinLayers      int     `koanf:"min_layers"`
	MinLayerAmount float64 `koanf:"min_layer_amount"`
}

type MixingConfig struct {
	MinIncoming int     `koanf:"min_incoming"`
	MaxCoV      float64 `koanf:"max_cov"`
}

type TimingConfig struct {
	Window     time.Duration `koanf:"window"`
	MinSources int           `koanf:"min_sources"`
}

type AmountsConfig struct {
	MinRecurrence int     `koanf:"min_recurrence"`
	MinFraction   float64 `koanf:"min_fraction"`
	RoundDecimals int32   `koanf:"round_decimals"`
}

type SourcesConfig struct {
	MinRepeats int     `koanf:"min_repeats"`
	MinTotal   float64 `koanf:"min_total"`
}

type CircularConfig struct {
	MinCycleLen int `koanf:"min_cycle_len"`
	Radius      int `koanf:"radius"` // Ego-graph hop bound for the cycle search
}

// ShadowOverride carries candidate detector thresholds under evaluation.
type ShadowOverride struct {
	Mixing  MixingConfig  `koanf:"mixing"`
	Timing  TimingConfig  `koanf:"timing"`
	Sources SourcesConfig `koanf:"sources"`
}

type MonitorConfig struct {
	Interval        time.Duration `koanf:"interval"`
	WalletTimeout   time.Duration `koanf:"wallet_timeout"`
	MaxConcurrent   int           `koanf:"max_concurrent"`
	QueueSize       int           `koanf:"queue_size"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type AlertsConfig struct {
	HistoryLimit   int           `koanf:"history_limit"`
	MinSeverity    string        `koanf:"min_severity"`
	WebhookTimeout time.Duration `koanf:"webhook_timeout"`
}

type RefdataConfig struct {
	Path string `koanf:"path"` // JSON directory file; empty uses the built-in seed
}

// Defaults returns the production-parity configuration.
func Defaults() *Config {
	return &Config{
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 20 * time.Second,
			RateLimitPerMin: 120,
			RateLimitBurst:  30,
		},
		Database: DatabaseConfig{MaxConns: 10},
		Redis:    RedisConfig{TTL: 5 * time.Minute},
		Chain:    ChainConfig{Timeout: 5 * time.Second},
		Kafka: KafkaConfig{
			GroupID:     "fundflow-engine",
			EventsTopic: "funding-events",
		},
		Graph: GraphConfig{
			MinAmount:     0.001,
			MaxSamples:    256,
			StrengthNorm:  10,
			FrequencyNorm: 10,
		},
		Trace: TraceConfig{MaxDepth: 5, MaxChains: 100},
		Detectors: DetectorsConfig{
			Layering: LayeringConfig{MinLayers: 3, MinLayerAmount: 0.1},
			Mixing:   MixingConfig{MinIncoming: 5, MaxCoV: 0.3},
			Timing:   TimingConfig{Window: 10 * time.Minute, MinSources: 3},
			Amounts:  AmountsConfig{MinRecurrence: 3, MinFraction: 0.8, RoundDecimals: 2},
			Sources:  SourcesConfig{MinRepeats: 2, MinTotal: 1.0},
			Circular: CircularConfig{MinCycleLen: 3, Radius: 5},
		},
		Monitor: MonitorConfig{
			Interval:        60 * time.Second,
			WalletTimeout:   10 * time.Second,
			MaxConcurrent:   4,
			QueueSize:       512,
			ShutdownTimeout: 15 * time.Second,
		},
		Alerts: AlertsConfig{
			HistoryLimit:   1000,
			MinSeverity:    "high",
			WebhookTimeout: 5 * time.Second,
		},
	}
}

// Load builds the effective configuration. The YAML path is optional;
// a missing file is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!strings.Contains(err.Error(), "no such file") {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("FLOW_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "FLOW_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}
