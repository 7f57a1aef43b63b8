package config

import (
	"fmt"
	"strings"
	"time"
)

// FetchConfig holds per-session pipeline and congestion-control settings
type FetchConfig struct {
	// InactivityTimeout is how long a session may go without data before it fails
	InactivityTimeout  time.Duration `yaml:"inactivity_timeout" toml:"inactivity_timeout"`
	InitialPipeline    int           `yaml:"initial_pipeline" toml:"initial_pipeline"`
	MinPipeline        int           `yaml:"min_pipeline" toml:"min_pipeline"`
	MaxPipeline        int           `yaml:"max_pipeline" toml:"max_pipeline"`
	SlowStartThreshold int           `yaml:"slow_start_threshold" toml:"slow_start_threshold"`
	SlowStartFactor    float64       `yaml:"slow_start_factor" toml:"slow_start_factor"`
	AdditiveIncrease   int           `yaml:"additive_increase" toml:"additive_increase"`
	ThresholdDecrease  float64       `yaml:"threshold_decrease" toml:"threshold_decrease"`
	InitialRTO         time.Duration `yaml:"initial_rto" toml:"initial_rto"`
	MinRTO             time.Duration `yaml:"min_rto" toml:"min_rto"`
	MaxRTO             time.Duration `yaml:"max_rto" toml:"max_rto"`
	RTOBackoff         float64       `yaml:"rto_backoff" toml:"rto_backoff"`
	RTTGain            float64       `yaml:"rtt_gain" toml:"rtt_gain"`
	RTTMultiplier      float64       `yaml:"rtt_multiplier" toml:"rtt_multiplier"`
}

// DefaultFetchConfig returns default configuration for fetch sessions
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		InactivityTimeout:  DefaultInactivityTimeout,
		InitialPipeline:    DefaultInitialPipeline,
		MinPipeline:        DefaultMinPipeline,
		MaxPipeline:        DefaultMaxPipeline,
		SlowStartThreshold: DefaultSlowStartThreshold,
		SlowStartFactor:    DefaultSlowStartFactor,
		AdditiveIncrease:   DefaultAdditiveIncrease,
		ThresholdDecrease:  DefaultThresholdDecrease,
		InitialRTO:         DefaultInitialRTO,
		MinRTO:             DefaultMinRTO,
		MaxRTO:             DefaultMaxRTO,
		RTOBackoff:         DefaultRTOBackoff,
		RTTGain:            DefaultRTTGain,
		RTTMultiplier:      DefaultRTTMultiplier,
	}
}

// Retry presets
const (
	RetryPresetDefault    = "default"
	RetryPresetUnreliable = "unreliable"
)

// RetryConfig holds configuration for restarting failed sessions
type RetryConfig struct {
	// CheckInterval is how often to look for sessions due for restart
	CheckInterval     time.Duration `yaml:"check_interval" toml:"check_interval"`
	InitialDelay      time.Duration `yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay" toml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" toml:"backoff_multiplier"`
	MaxRetries        int           `yaml:"max_retries" toml:"max_retries"`
	// Preset "unreliable" selects the lossy-link policy in place of the fields above
	Preset string `yaml:"preset,omitempty" toml:"preset,omitempty"`
}

// DefaultRetryConfig returns default configuration for retry operations
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		CheckInterval:     DefaultRetryCheckInterval,
		InitialDelay:      DefaultRetryInitialDelay,
		MaxDelay:          DefaultRetryMaxDelay,
		BackoffMultiplier: DefaultRetryBackoffMultiplier,
		MaxRetries:        DefaultMaxRetries,
	}
}

// ManagerConfig holds configuration for the fetch manager
type ManagerConfig struct {
	// MaxParallelFetches is how many sessions may be active at once
	MaxParallelFetches int `yaml:"max_parallel_fetches" toml:"max_parallel_fetches"`
	// FallbackHint replaces a session's forwarding hint after it fails
	FallbackHint string `yaml:"fallback_hint" toml:"fallback_hint"`
	// Hints maps producer names to forwarding hints
	Hints map[string]string `yaml:"hints,omitempty" toml:"hints,omitempty"`
}

// DefaultManagerConfig returns default configuration for the fetch manager
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxParallelFetches: DefaultMaxParallelFetches,
		FallbackHint:       DefaultBroadcastHint,
	}
}

// TransportConfig holds the producer connection settings
type TransportConfig struct {
	ProducerAddr string        `yaml:"producer_addr" toml:"producer_addr"`
	DialTimeout  time.Duration `yaml:"dial_timeout" toml:"dial_timeout"`
	ListenAddr   string        `yaml:"listen_addr" toml:"listen_addr"`
	RootDir      string        `yaml:"root_dir,omitempty" toml:"root_dir,omitempty"`
	SegmentSize  int           `yaml:"segment_size" toml:"segment_size"`
	// CacheTTL keeps served segments in memory; zero disables the cache
	CacheTTL time.Duration `yaml:"cache_ttl" toml:"cache_ttl"`
}

// DefaultTransportConfig returns default transport configuration
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ProducerAddr: DefaultProducerAddr,
		DialTimeout:  DefaultDialTimeout,
		ListenAddr:   DefaultListenAddr,
		RootDir:      ".",
		SegmentSize:  DefaultSegmentSize,
		CacheTTL:     DefaultSegmentCacheTTL,
	}
}

// MetricsConfig holds the metrics endpoint settings; an empty address disables it
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
}

// StreamConfig names one stream to fetch
type StreamConfig struct {
	Producer string `yaml:"producer" toml:"producer"`
	Stream   string `yaml:"stream" toml:"stream"`
	Hint     string `yaml:"hint,omitempty" toml:"hint,omitempty"`
	MinSeq   int64  `yaml:"min_seq" toml:"min_seq"`
	MaxSeq   int64  `yaml:"max_seq" toml:"max_seq"`
	Priority string `yaml:"priority,omitempty" toml:"priority,omitempty"`
}

// Config is the complete fetcher configuration
type Config struct {
	Fetch     FetchConfig     `yaml:"fetch" toml:"fetch"`
	Retry     RetryConfig     `yaml:"retry" toml:"retry"`
	Manager   ManagerConfig   `yaml:"manager" toml:"manager"`
	Transport TransportConfig `yaml:"transport" toml:"transport"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
	Log       LogConfig       `yaml:"log" toml:"log"`
	Streams   []StreamConfig  `yaml:"streams,omitempty" toml:"streams,omitempty"`
}

// Default returns a configuration with every section at its defaults
func Default() *Config {
	return &Config{
		Fetch:     DefaultFetchConfig(),
		Retry:     DefaultRetryConfig(),
		Manager:   DefaultManagerConfig(),
		Transport: DefaultTransportConfig(),
		Log:       LogConfig{Level: "info"},
	}
}

// Validate checks the settings that are not validated by the components themselves
func (c *Config) Validate() error {
	if c.Manager.MaxParallelFetches < 1 {
		return fmt.Errorf("manager.max_parallel_fetches must be at least 1")
	}
	if c.Retry.CheckInterval <= 0 {
		return fmt.Errorf("retry.check_interval must be positive")
	}
	if c.Fetch.InactivityTimeout <= 0 {
		return fmt.Errorf("fetch.inactivity_timeout must be positive")
	}
	if strings.TrimSpace(c.Transport.ProducerAddr) == "" {
		return fmt.Errorf("transport.producer_addr is required")
	}
	if c.Transport.SegmentSize <= 0 {
		return fmt.Errorf("transport.segment_size must be positive")
	}
	switch c.Retry.Preset {
	case "", RetryPresetDefault, RetryPresetUnreliable:
	default:
		return fmt.Errorf("retry.preset %q is not one of %s, %s", c.Retry.Preset, RetryPresetDefault, RetryPresetUnreliable)
	}
	if c.Transport.CacheTTL < 0 {
		return fmt.Errorf("transport.cache_ttl must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	for i, s := range c.Streams {
		if strings.TrimSpace(s.Producer) == "" || strings.TrimSpace(s.Stream) == "" {
			return fmt.Errorf("streams[%d]: producer and stream are required", i)
		}
		switch s.Priority {
		case "", "normal", "high":
		default:
			return fmt.Errorf("streams[%d]: priority %q is not one of normal, high", i, s.Priority)
		}
	}
	return nil
}
