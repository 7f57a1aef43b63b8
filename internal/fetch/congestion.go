package fetch

import (
	"math"
	"time"
)

// congestion is an AIMD controller driven per sequence number: slow start
// grows the pipeline multiplicatively per acknowledged round, congestion
// avoidance grows it additively, and a timeout collapses it.
type congestion struct {
	cfg        CongestionConfig
	pipeline   int
	rto        time.Duration
	slowStart  bool
	threshold  int
	roundCount int
}

func newCongestion(cfg CongestionConfig) congestion {
	c := congestion{cfg: cfg}
	c.reset()
	return c
}

// reset returns to the initial slow-start state.
func (c *congestion) reset() {
	c.pipeline = c.cfg.InitialPipeline
	c.rto = c.cfg.InitialRTO
	c.threshold = c.cfg.InitialThreshold
	c.slowStart = c.pipeline < c.threshold
	c.roundCount = 0
}

// onSuccess accounts for one response. rtt is used only when sample is set.
func (c *congestion) onSuccess(rtt time.Duration, sample bool) {
	c.roundCount++
	if c.roundCount >= c.pipeline {
		c.roundCount = 0
		if c.slowStart {
			grown := int(math.Ceil(float64(c.pipeline) * c.cfg.SlowStartFactor))
			if grown <= c.pipeline {
				grown = c.pipeline + 1
			}
			if grown >= c.threshold {
				grown = max(c.threshold, c.pipeline)
				c.slowStart = false
			}
			c.pipeline = grown
		} else {
			c.pipeline += c.cfg.AdditiveIncrease
		}
		c.pipeline = min(c.pipeline, c.cfg.MaxPipeline)
	}

	if sample && rtt > 0 {
		target := float64(rtt) * c.cfg.RTTMultiplier
		c.rto += time.Duration(c.cfg.RTTGain * (target - float64(c.rto)))
	}
	c.clampRTO()
}

// onTimeout applies multiplicative decrease and RTO backoff.
func (c *congestion) onTimeout() {
	c.threshold = max(1, int(float64(c.threshold)*c.cfg.ThresholdDecrease))
	c.pipeline = c.cfg.MinPipeline
	c.slowStart = true
	c.roundCount = 0
	c.rto = time.Duration(float64(c.rto) * c.cfg.RTOBackoff)
	c.clampRTO()
}

func (c *congestion) clampRTO() {
	if c.rto < c.cfg.MinRTO {
		c.rto = c.cfg.MinRTO
	}
	if c.rto > c.cfg.MaxRTO {
		c.rto = c.cfg.MaxRTO
	}
}
