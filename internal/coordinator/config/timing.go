package config

import "time"

// Default timing configurations used throughout the fetcher
const (
	// DefaultInactivityTimeout is how long a session may go without any data before it fails
	DefaultInactivityTimeout = 30 * time.Second

	// DefaultInitialRTO is the request lifetime before any latency has been observed
	DefaultInitialRTO = 1 * time.Second

	// DefaultMinRTO is the floor of the round-trip-timeout estimate
	DefaultMinRTO = 100 * time.Millisecond

	// DefaultMaxRTO is the ceiling of the round-trip-timeout estimate
	DefaultMaxRTO = 20 * time.Second

	// DefaultRetryCheckInterval is how often the manager looks for sessions due for restart
	DefaultRetryCheckInterval = 1 * time.Second

	// DefaultRetryInitialDelay is the pause after the first failure of a session
	DefaultRetryInitialDelay = 1 * time.Second

	// DefaultRetryMaxDelay caps the pause between restarts of a failing session
	DefaultRetryMaxDelay = 60 * time.Second

	// DefaultDialTimeout bounds establishing the producer connection
	DefaultDialTimeout = 5 * time.Second

	// DefaultSegmentCacheTTL is how long a producer keeps a served segment in memory
	DefaultSegmentCacheTTL = 30 * time.Second
)

// Default pipeline and congestion-control parameters
const (
	// DefaultInitialPipeline is the pipeline capacity a session starts with
	DefaultInitialPipeline = 1

	// DefaultMinPipeline is the capacity a session falls back to on timeout
	DefaultMinPipeline = 1

	// DefaultMaxPipeline caps the pipeline capacity
	DefaultMaxPipeline = 256

	// DefaultSlowStartThreshold is the capacity at which slow start ends
	DefaultSlowStartThreshold = 32

	// DefaultSlowStartFactor multiplies capacity per acknowledged round in slow start
	DefaultSlowStartFactor = 2.0

	// DefaultAdditiveIncrease is added to capacity per acknowledged round in congestion avoidance
	DefaultAdditiveIncrease = 1

	// DefaultThresholdDecrease multiplies the slow-start threshold on timeout
	DefaultThresholdDecrease = 0.5

	// DefaultRTOBackoff multiplies the timeout estimate on timeout
	DefaultRTOBackoff = 2.0

	// DefaultRTTGain is the weight of a new latency sample in the timeout estimate
	DefaultRTTGain = 0.125

	// DefaultRTTMultiplier is the timeout estimate target as a multiple of observed latency
	DefaultRTTMultiplier = 2.0

	// DefaultRetryBackoffMultiplier grows the retry pause per consecutive failure
	DefaultRetryBackoffMultiplier = 2.0

	// DefaultMaxRetries is how many consecutive failures a session survives before it is abandoned
	DefaultMaxRetries = 10

	// DefaultMaxParallelFetches is how many sessions may be active at once
	DefaultMaxParallelFetches = 3
)

// Default addresses and names
const (
	// DefaultProducerAddr is the producer gRPC address
	DefaultProducerAddr = "localhost:50060"

	// DefaultListenAddr is where the producer server listens
	DefaultListenAddr = ":50060"

	// DefaultBroadcastHint is the forwarding hint used after a session fails
	DefaultBroadcastHint = "/ndn/broadcast"

	// DefaultSegmentSize is the chunk size a directory producer serves
	DefaultSegmentSize = 8 * 1024

	// EnvPrefix prefixes every environment override
	EnvPrefix = "SEGFETCH_"
)
