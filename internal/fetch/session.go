// Package fetch implements the fetch session: retrieval of one sequence-numbered
// stream from a producer over an unreliable request/response transport, with
// its own pipelining, congestion control and failure escalation.
//
// A Session performs no locking of its own. Every method that touches session
// state runs as a task on the session's Executor; the exported event methods
// (Fill, Restart, SetForwardingHint, Escalate) only enqueue such tasks.
// Accessors other than ID, Producer, Stream and Retry must be called from
// the executor as well.
package fetch

import (
	"log/slog"
	"time"

	"code.hybscloud.com/atomix"

	"github.com/AltairaLabs/segfetch/internal/coordinator/config"
	"github.com/AltairaLabs/segfetch/internal/coordinator/retry"
)

// ID identifies a session within the process.
type ID uint32

var idCounter atomix.Uint32

func nextID() ID {
	return ID(idCounter.Add(1))
}

// Session fetches one (producer, stream, sequence range).
type Session struct {
	id       ID
	producer Name
	stream   Name
	hint     Name

	inactivity time.Duration
	policy     retry.Policy

	win window
	cc  congestion

	active       bool
	timedWait    bool
	finished     bool
	failures     int
	lastActivity time.Time
	retry        RetryState

	transport Transport
	exec      Executor
	callbacks Callbacks
	observer  Observer
	clock     func() time.Time
	logger    *slog.Logger
}

// Stats is a point-in-time view of a session's window and controller.
type Stats struct {
	Active      bool
	TimedWait   bool
	Finished    bool
	NextSeq     int64
	HighWater   int64
	OutOfOrder  int
	Outstanding int
	Lost        int
	Pipeline    int
	Threshold   int
	SlowStart   bool
	RTO         time.Duration
	Failures    int
}

// New validates params and builds an inactive session.
// It returns a *ConfigError when the parameters or dependencies are unusable.
func New(params Params, deps Deps) (*Session, error) {
	producer, err := ParseName(params.Producer)
	if err != nil {
		return nil, configError(ErrInvalidProducer, "%v", err)
	}
	stream, err := ParseName(params.Stream)
	if err != nil {
		return nil, configError(ErrInvalidStream, "%v", err)
	}
	var hint Name
	if params.ForwardingHint != "" {
		if hint, err = ParseName(params.ForwardingHint); err != nil {
			return nil, configError(ErrInvalidHint, "%v", err)
		}
	}

	if params.MinSeq < 0 {
		return nil, configError(ErrInvalidRange, "minimum sequence %d is negative", params.MinSeq)
	}
	if params.MinSeq > MaxSequence {
		return nil, configError(ErrInvalidRange, "minimum sequence %d exceeds %d", params.MinSeq, int64(MaxSequence))
	}
	if params.MaxSeq > MaxSequence {
		return nil, configError(ErrInvalidRange, "maximum sequence %d exceeds %d", params.MaxSeq, int64(MaxSequence))
	}
	if params.MaxSeq != Unbounded && params.MaxSeq < params.MinSeq {
		return nil, configError(ErrInvalidRange, "maximum sequence %d is below minimum %d", params.MaxSeq, params.MinSeq)
	}

	inactivity := params.InactivityTimeout
	if inactivity == 0 {
		inactivity = config.DefaultInactivityTimeout
	}
	if inactivity < 0 {
		return nil, configError(ErrInvalidTimeout, "%v is negative", inactivity)
	}

	cc := params.Congestion
	if cc == (CongestionConfig{}) {
		cc = DefaultCongestionConfig()
	}
	if err := cc.Validate(); err != nil {
		return nil, configError(ErrInvalidCongestion, "%v", err)
	}

	policy := params.RetryPolicy
	if policy == (retry.Policy{}) {
		policy = retry.DefaultPolicy()
	}
	if err := policy.Validate(); err != nil {
		return nil, configError(ErrInvalidRetry, "%v", err)
	}

	if deps.Transport == nil {
		return nil, &ConfigError{Kind: ErrMissingTransport}
	}
	if deps.Executor == nil {
		return nil, &ConfigError{Kind: ErrMissingExecutor}
	}

	s := &Session{
		id:         nextID(),
		producer:   producer,
		stream:     stream,
		hint:       hint,
		inactivity: inactivity,
		policy:     policy,
		win:        newWindow(params.MinSeq, params.MaxSeq),
		cc:         newCongestion(cc),
		transport:  deps.Transport,
		exec:       deps.Executor,
		callbacks:  deps.Callbacks,
		observer:   deps.Observer,
		clock:      deps.Clock,
		logger:     deps.Logger,
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(
		"session_id", s.id,
		"producer", s.producer.String(),
		"stream", s.stream.String(),
	)
	s.lastActivity = s.clock()
	s.retry.SetNextScheduledRetry(s.lastActivity)
	return s, nil
}

// ID returns the session identifier
func (s *Session) ID() ID { return s.id }

// Producer returns the producer name
func (s *Session) Producer() Name { return s.producer }

// Stream returns the stream name
func (s *Session) Stream() Name { return s.stream }

// Retry returns the retry pause / next scheduled retry pair.
// Safe to use from any goroutine.
func (s *Session) Retry() *RetryState { return &s.retry }

// ForwardingHint returns the hint attached to new requests
func (s *Session) ForwardingHint() Name { return s.hint }

// IsActive reports whether the session is issuing requests
func (s *Session) IsActive() bool { return s.active }

// IsTimedWait reports whether the session is backing off after a failure
func (s *Session) IsTimedWait() bool { return s.timedWait }

// IsFinished reports whether the whole range has been delivered
func (s *Session) IsFinished() bool { return s.finished }

// HighWater returns the highest sequence number delivered contiguously
// from the range minimum, or minimum-1 when none has been.
func (s *Session) HighWater() int64 { return s.win.highWater }

// Stats returns a snapshot of the session state
func (s *Session) Stats() Stats {
	return Stats{
		Active:      s.active,
		TimedWait:   s.timedWait,
		Finished:    s.finished,
		NextSeq:     s.win.next,
		HighWater:   s.win.highWater,
		OutOfOrder:  len(s.win.outOfOrder),
		Outstanding: len(s.win.outstanding),
		Lost:        len(s.win.lost),
		Pipeline:    s.cc.pipeline,
		Threshold:   s.cc.threshold,
		SlowStart:   s.cc.slowStart,
		RTO:         s.cc.rto,
		Failures:    s.failures,
	}
}

// Fill asks the session to issue requests up to its pipeline capacity.
func (s *Session) Fill() {
	s.exec.Execute(s.fillPipeline)
}

// Restart re-activates an inactive session and fills its pipeline.
func (s *Session) Restart() {
	s.exec.Execute(s.restart)
}

// Escalate forces the failure path as if the inactivity bound had been exceeded.
func (s *Session) Escalate() {
	s.exec.Execute(func() {
		if s.active {
			s.fail()
		}
	})
}

// Stop deactivates the session without counting a failure. Responses still
// in flight are delivered; nothing new is requested until Restart.
func (s *Session) Stop() {
	s.exec.Execute(func() {
		if s.active {
			s.active = false
			s.logger.Info("Fetch stopped", "high_water", s.win.highWater)
		}
		if !s.finished {
			s.observer.SessionClosed(s.producer, s.stream)
		}
	})
}

// SetForwardingHint changes the hint used for requests issued from now on.
// An empty hint clears it. Requests already in flight are not reissued.
func (s *Session) SetForwardingHint(hint Name) {
	s.exec.Execute(func() { s.setForwardingHint(hint) })
}

// SetForwardingHintNow is SetForwardingHint for callers already running on
// the session's executor.
func (s *Session) SetForwardingHintNow(hint Name) {
	s.setForwardingHint(hint)
}

// RestartNow is Restart for callers already running on the session's executor.
func (s *Session) RestartNow() {
	s.restart()
}

func (s *Session) setForwardingHint(hint Name) {
	if hint == s.hint {
		return
	}
	s.logger.Debug("Forwarding hint changed", "old_hint", s.hint.String(), "new_hint", hint.String())
	s.hint = hint
}
