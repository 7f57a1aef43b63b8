package fetch

import (
	"testing"
	"time"
)

func TestCongestion_SlowStartDoublesPerRound(t *testing.T) {
	c := newCongestion(DefaultCongestionConfig())
	if c.pipeline != 1 || !c.slowStart {
		t.Fatalf("Expected pipeline 1 in slow start, got %d (slowStart=%v)", c.pipeline, c.slowStart)
	}

	want := []int{2, 4, 8, 16, 32}
	for _, w := range want {
		for i := c.pipeline; i > 0; i-- {
			c.onSuccess(0, false)
		}
		if c.pipeline != w {
			t.Fatalf("Expected pipeline %d, got %d", w, c.pipeline)
		}
	}
	if c.slowStart {
		t.Error("Expected congestion avoidance once the threshold is reached")
	}

	for i := c.pipeline; i > 0; i-- {
		c.onSuccess(0, false)
	}
	if c.pipeline != 33 {
		t.Errorf("Expected additive increase to 33, got %d", c.pipeline)
	}
}

func TestCongestion_SlowStartCapsAtThreshold(t *testing.T) {
	cfg := DefaultCongestionConfig()
	cfg.InitialPipeline = 3
	cfg.InitialThreshold = 5
	c := newCongestion(cfg)

	for i := 0; i < 3; i++ {
		c.onSuccess(0, false)
	}
	if c.pipeline != 5 {
		t.Errorf("Expected pipeline to stop at threshold 5, got %d", c.pipeline)
	}
	if c.slowStart {
		t.Error("Expected slow start to end at the threshold")
	}
}

func TestCongestion_MaxPipeline(t *testing.T) {
	cfg := DefaultCongestionConfig()
	cfg.MaxPipeline = 4
	cfg.InitialThreshold = 100
	c := newCongestion(cfg)

	for i := 0; i < 100; i++ {
		c.onSuccess(0, false)
	}
	if c.pipeline != 4 {
		t.Errorf("Expected pipeline capped at 4, got %d", c.pipeline)
	}
}

func TestCongestion_Timeout(t *testing.T) {
	c := newCongestion(DefaultCongestionConfig())
	for i := 0; i < 7; i++ {
		c.onSuccess(0, false)
	}
	if c.pipeline != 8 {
		t.Fatalf("Expected pipeline 8 before timeout, got %d", c.pipeline)
	}
	rto := c.rto

	c.onTimeout()
	if c.threshold != 16 {
		t.Errorf("Expected threshold halved to 16, got %d", c.threshold)
	}
	if c.pipeline != 1 {
		t.Errorf("Expected pipeline reset to 1, got %d", c.pipeline)
	}
	if !c.slowStart {
		t.Error("Expected slow start after timeout")
	}
	if c.rto <= rto {
		t.Errorf("Expected RTO to grow past %v, got %v", rto, c.rto)
	}
}

func TestCongestion_ThresholdFloor(t *testing.T) {
	c := newCongestion(DefaultCongestionConfig())
	for i := 0; i < 20; i++ {
		c.onTimeout()
	}
	if c.threshold != 1 {
		t.Errorf("Expected threshold floor of 1, got %d", c.threshold)
	}
	if c.rto != c.cfg.MaxRTO {
		t.Errorf("Expected RTO capped at %v, got %v", c.cfg.MaxRTO, c.rto)
	}
}

func TestCongestion_RTOTracksLatency(t *testing.T) {
	c := newCongestion(DefaultCongestionConfig())
	for i := 0; i < 200; i++ {
		c.onSuccess(200*time.Millisecond, true)
	}
	// Converges toward RTTMultiplier * latency.
	if c.rto < 390*time.Millisecond || c.rto > 410*time.Millisecond {
		t.Errorf("Expected RTO near 400ms, got %v", c.rto)
	}

	for i := 0; i < 200; i++ {
		c.onSuccess(time.Millisecond, true)
	}
	if c.rto != c.cfg.MinRTO {
		t.Errorf("Expected RTO clamped to %v, got %v", c.cfg.MinRTO, c.rto)
	}
}

func TestCongestion_IgnoresUnsampledLatency(t *testing.T) {
	c := newCongestion(DefaultCongestionConfig())
	before := c.rto
	c.onSuccess(10*time.Second, false)
	if c.rto != before {
		t.Errorf("Expected RTO unchanged at %v, got %v", before, c.rto)
	}
}

func TestCongestion_Reset(t *testing.T) {
	c := newCongestion(DefaultCongestionConfig())
	for i := 0; i < 5; i++ {
		c.onTimeout()
	}
	c.reset()
	if c.pipeline != c.cfg.InitialPipeline || c.rto != c.cfg.InitialRTO || c.threshold != c.cfg.InitialThreshold {
		t.Errorf("Expected initial state after reset, got pipeline=%d rto=%v threshold=%d",
			c.pipeline, c.rto, c.threshold)
	}
}

func TestCongestionConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CongestionConfig)
	}{
		{"zero min pipeline", func(c *CongestionConfig) { c.MinPipeline = 0 }},
		{"initial below min", func(c *CongestionConfig) { c.MinPipeline = 2; c.InitialPipeline = 1 }},
		{"max below initial", func(c *CongestionConfig) { c.MaxPipeline = 0 }},
		{"max above limit", func(c *CongestionConfig) { c.MaxPipeline = MaxPipelineLimit + 1 }},
		{"zero threshold", func(c *CongestionConfig) { c.InitialThreshold = 0 }},
		{"flat slow start", func(c *CongestionConfig) { c.SlowStartFactor = 1 }},
		{"zero additive increase", func(c *CongestionConfig) { c.AdditiveIncrease = 0 }},
		{"threshold decrease of 1", func(c *CongestionConfig) { c.ThresholdDecrease = 1 }},
		{"zero min rto", func(c *CongestionConfig) { c.MinRTO = 0 }},
		{"initial rto above max", func(c *CongestionConfig) { c.InitialRTO = c.MaxRTO + 1 }},
		{"shrinking backoff", func(c *CongestionConfig) { c.RTOBackoff = 0.5 }},
		{"zero gain", func(c *CongestionConfig) { c.RTTGain = 0 }},
		{"small multiplier", func(c *CongestionConfig) { c.RTTMultiplier = 0.5 }},
	}

	if err := DefaultCongestionConfig().Validate(); err != nil {
		t.Fatalf("Expected defaults to be valid, got %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultCongestionConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
