package fetch

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/AltairaLabs/segfetch/internal/coordinator/config"
	"github.com/AltairaLabs/segfetch/internal/coordinator/retry"
)

// Unbounded as MaxSeq means the stream has no known last sequence number.
const Unbounded int64 = -1

// MaxSequence is the largest sequence number a session requests. It is the
// largest integer a protobuf double holds exactly.
const MaxSequence = 1 << 53

// MaxPipelineLimit caps CongestionConfig.MaxPipeline
const MaxPipelineLimit = 1 << 20

// Params identifies the stream a session fetches and tunes how it does so.
// Zero-valued Congestion, RetryPolicy and InactivityTimeout take their defaults.
type Params struct {
	Producer          string
	Stream            string
	ForwardingHint    string
	MinSeq            int64
	MaxSeq            int64
	InactivityTimeout time.Duration
	Congestion        CongestionConfig
	RetryPolicy       retry.Policy
}

// CongestionConfig holds the slow-start / congestion-avoidance parameters.
type CongestionConfig struct {
	InitialPipeline   int
	MinPipeline       int
	MaxPipeline       int
	InitialThreshold  int
	SlowStartFactor   float64 // capacity multiplier per acknowledged round in slow start
	AdditiveIncrease  int     // capacity added per acknowledged round in congestion avoidance
	ThresholdDecrease float64 // threshold multiplier on timeout
	InitialRTO        time.Duration
	MinRTO            time.Duration
	MaxRTO            time.Duration
	RTOBackoff        float64 // RTO multiplier on timeout
	RTTGain           float64 // EMA weight of a new latency sample
	RTTMultiplier     float64 // RTO target as a multiple of observed latency
}

// DefaultCongestionConfig returns the default congestion parameters
func DefaultCongestionConfig() CongestionConfig {
	return CongestionConfig{
		InitialPipeline:   config.DefaultInitialPipeline,
		MinPipeline:       config.DefaultMinPipeline,
		MaxPipeline:       config.DefaultMaxPipeline,
		InitialThreshold:  config.DefaultSlowStartThreshold,
		SlowStartFactor:   config.DefaultSlowStartFactor,
		AdditiveIncrease:  config.DefaultAdditiveIncrease,
		ThresholdDecrease: config.DefaultThresholdDecrease,
		InitialRTO:        config.DefaultInitialRTO,
		MinRTO:            config.DefaultMinRTO,
		MaxRTO:            config.DefaultMaxRTO,
		RTOBackoff:        config.DefaultRTOBackoff,
		RTTGain:           config.DefaultRTTGain,
		RTTMultiplier:     config.DefaultRTTMultiplier,
	}
}

// Validate checks that the parameters describe a usable controller
func (c CongestionConfig) Validate() error {
	switch {
	case c.MinPipeline < 1:
		return fmt.Errorf("MinPipeline must be at least 1")
	case c.InitialPipeline < c.MinPipeline:
		return fmt.Errorf("InitialPipeline cannot be less than MinPipeline")
	case c.MaxPipeline < c.InitialPipeline:
		return fmt.Errorf("MaxPipeline cannot be less than InitialPipeline")
	case c.MaxPipeline > MaxPipelineLimit:
		return fmt.Errorf("MaxPipeline cannot exceed %d", MaxPipelineLimit)
	case c.InitialThreshold < 1:
		return fmt.Errorf("InitialThreshold must be at least 1")
	case c.SlowStartFactor <= 1:
		return fmt.Errorf("SlowStartFactor must be greater than 1")
	case c.AdditiveIncrease < 1:
		return fmt.Errorf("AdditiveIncrease must be at least 1")
	case c.ThresholdDecrease <= 0 || c.ThresholdDecrease >= 1:
		return fmt.Errorf("ThresholdDecrease must be in (0, 1)")
	case c.MinRTO <= 0:
		return fmt.Errorf("MinRTO must be positive")
	case c.InitialRTO < c.MinRTO || c.InitialRTO > c.MaxRTO:
		return fmt.Errorf("InitialRTO must be within [MinRTO, MaxRTO]")
	case c.RTOBackoff < 1:
		return fmt.Errorf("RTOBackoff must be at least 1")
	case c.RTTGain <= 0 || c.RTTGain > 1:
		return fmt.Errorf("RTTGain must be in (0, 1]")
	case c.RTTMultiplier < 1:
		return fmt.Errorf("RTTMultiplier must be at least 1")
	}
	return nil
}

// Request is a single named request handed to the transport.
type Request struct {
	Producer       Name
	Stream         Name
	Seq            int64
	ForwardingHint Name
	Lifetime       time.Duration
}

// Transport is the unreliable request/response primitive.
// Send must not block; exactly one of onData or onTimeout is called, later,
// from any goroutine.
type Transport interface {
	Send(req Request, onData func(payload []byte), onTimeout func())
}

// Executor runs tasks one at a time in submission order.
type Executor interface {
	Execute(task func())
}

// SegmentFunc receives every delivered segment, in arrival order.
type SegmentFunc func(producer, stream Name, seq int64, payload []byte)

// FinishFunc is called once the whole range has been delivered.
type FinishFunc func(producer, stream Name)

// Callbacks are the session's upward notifications. All are optional.
// OnSegment and OnFinish serve the consumer; OnFailed and OnComplete serve the
// owning coordinator and carry the session ID rather than the session itself.
type Callbacks struct {
	OnSegment  SegmentFunc
	OnFinish   FinishFunc
	OnFailed   func(id ID)
	OnComplete func(id ID, producer, stream Name)
}

// Deps are the collaborators a session runs against.
type Deps struct {
	Transport Transport
	Executor  Executor
	Callbacks Callbacks
	Logger    *slog.Logger
	Observer  Observer
	Clock     func() time.Time
}
