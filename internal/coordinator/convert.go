package coordinator

import (
	"github.com/AltairaLabs/segfetch/internal/coordinator/config"
	"github.com/AltairaLabs/segfetch/internal/coordinator/retry"
	"github.com/AltairaLabs/segfetch/internal/fetch"
)

// CongestionConfig converts the fetch section of the configuration
func CongestionConfig(cfg config.FetchConfig) fetch.CongestionConfig {
	return fetch.CongestionConfig{
		InitialPipeline:   cfg.InitialPipeline,
		MinPipeline:       cfg.MinPipeline,
		MaxPipeline:       cfg.MaxPipeline,
		InitialThreshold:  cfg.SlowStartThreshold,
		SlowStartFactor:   cfg.SlowStartFactor,
		AdditiveIncrease:  cfg.AdditiveIncrease,
		ThresholdDecrease: cfg.ThresholdDecrease,
		InitialRTO:        cfg.InitialRTO,
		MinRTO:            cfg.MinRTO,
		MaxRTO:            cfg.MaxRTO,
		RTOBackoff:        cfg.RTOBackoff,
		RTTGain:           cfg.RTTGain,
		RTTMultiplier:     cfg.RTTMultiplier,
	}
}

// RetryPolicy converts the retry section of the configuration
func RetryPolicy(cfg config.RetryConfig) retry.Policy {
	if cfg.Preset == config.RetryPresetUnreliable {
		return retry.UnreliableNetworkPolicy()
	}
	return retry.Policy{
		MaxRetries:        cfg.MaxRetries,
		InitialDelay:      cfg.InitialDelay,
		MaxDelay:          cfg.MaxDelay,
		BackoffMultiplier: cfg.BackoffMultiplier,
	}
}
