// Package metrics exports fetch session events as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AltairaLabs/segfetch/internal/fetch"
)

const namespace = "segfetch"

// Collector implements fetch.Observer on top of Prometheus metric vectors,
// labelled by producer and stream.
type Collector struct {
	requests   *prometheus.CounterVec
	segments   *prometheus.CounterVec
	bytes      *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	timeouts   *prometheus.CounterVec
	failures   *prometheus.CounterVec
	restarts   *prometheus.CounterVec
	finished   *prometheus.CounterVec
	pipeline   *prometheus.GaugeVec
	rto        *prometheus.GaugeVec
}

var _ fetch.Observer = (*Collector)(nil)

// NewCollector creates the metric vectors and registers them with reg.
// A nil reg selects prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := []string{"producer", "stream"}

	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "requests_total",
			Help:      "Requests issued, by whether they resend a timed-out sequence number.",
		}, append(labels, "retransmit")),
		segments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "segments_total",
			Help:      "Segments delivered to the consumer.",
		}, labels),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "bytes_total",
			Help:      "Payload bytes delivered to the consumer.",
		}, labels),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "duplicate_responses_total",
			Help:      "Responses dropped as duplicate or unexpected.",
		}, labels),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "timeouts_total",
			Help:      "Requests that timed out.",
		}, labels),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "failures_total",
			Help:      "Sessions that exceeded the inactivity timeout.",
		}, labels),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "restarts_total",
			Help:      "Session (re)starts.",
		}, labels),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "finished_total",
			Help:      "Streams delivered completely.",
		}, labels),
		pipeline: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "pipeline_capacity",
			Help:      "Current pipeline capacity.",
		}, labels),
		rto: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "rto_seconds",
			Help:      "Current round-trip timeout estimate.",
		}, labels),
	}

	for _, col := range []prometheus.Collector{
		c.requests, c.segments, c.bytes, c.duplicates, c.timeouts,
		c.failures, c.restarts, c.finished, c.pipeline, c.rto,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RequestSent counts an issued request
func (c *Collector) RequestSent(producer, stream fetch.Name, retransmit bool) {
	label := "false"
	if retransmit {
		label = "true"
	}
	c.requests.WithLabelValues(producer.String(), stream.String(), label).Inc()
}

// SegmentDelivered counts a delivered segment and its size
func (c *Collector) SegmentDelivered(producer, stream fetch.Name, size int) {
	c.segments.WithLabelValues(producer.String(), stream.String()).Inc()
	c.bytes.WithLabelValues(producer.String(), stream.String()).Add(float64(size))
}

func (c *Collector) DuplicateDropped(producer, stream fetch.Name) {
	c.duplicates.WithLabelValues(producer.String(), stream.String()).Inc()
}

func (c *Collector) RequestTimedOut(producer, stream fetch.Name) {
	c.timeouts.WithLabelValues(producer.String(), stream.String()).Inc()
}

// WindowChanged records the controller state after a response or timeout
func (c *Collector) WindowChanged(producer, stream fetch.Name, pipeline int, rto time.Duration) {
	c.pipeline.WithLabelValues(producer.String(), stream.String()).Set(float64(pipeline))
	c.rto.WithLabelValues(producer.String(), stream.String()).Set(rto.Seconds())
}

func (c *Collector) SessionFailed(producer, stream fetch.Name) {
	c.failures.WithLabelValues(producer.String(), stream.String()).Inc()
}

func (c *Collector) SessionRestarted(producer, stream fetch.Name) {
	c.restarts.WithLabelValues(producer.String(), stream.String()).Inc()
}

// StreamFinished counts a completed stream and drops its gauges
func (c *Collector) StreamFinished(producer, stream fetch.Name) {
	c.finished.WithLabelValues(producer.String(), stream.String()).Inc()
	c.dropGauges(producer, stream)
}

// SessionClosed drops the gauges of a removed or abandoned session
func (c *Collector) SessionClosed(producer, stream fetch.Name) {
	c.dropGauges(producer, stream)
}

func (c *Collector) dropGauges(producer, stream fetch.Name) {
	c.pipeline.DeleteLabelValues(producer.String(), stream.String())
	c.rto.DeleteLabelValues(producer.String(), stream.String())
}
