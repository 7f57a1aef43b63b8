// Package coordinator owns the fetch sessions of a process: it creates them,
// decides which of them may be active at once and restarts failed ones once
// their retry pause has elapsed.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/AltairaLabs/segfetch/internal/coordinator/config"
	"github.com/AltairaLabs/segfetch/internal/coordinator/retry"
	"github.com/AltairaLabs/segfetch/internal/fetch"
)

// ErrStopped is returned by Enqueue once the manager has been stopped
var ErrStopped = errors.New(config.ErrManagerStopped)

// Priority decides where a new stream is placed in the scheduling order
type Priority int

const (
	// PriorityNormal appends the stream to the scheduling order
	PriorityNormal Priority = iota
	// PriorityHigh puts the stream in front of every queued stream
	PriorityHigh
)

// ParsePriority parses "normal", "high" or the empty string
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "normal"
}

// EnqueueRequest describes one stream to fetch
type EnqueueRequest struct {
	Producer       string
	Stream         string
	ForwardingHint string // empty: resolved from the hint mappings
	MinSeq         int64
	MaxSeq         int64
	Priority       Priority
	OnSegment      fetch.SegmentFunc
	OnFinish       fetch.FinishFunc
}

// AbandonFunc is called when a session exhausts its retries
type AbandonFunc func(producer, stream fetch.Name, failures int)

// Options configures a Manager
type Options struct {
	Fetch   config.FetchConfig
	Retry   config.RetryConfig
	Manager config.ManagerConfig

	Transport   fetch.Transport
	Executor    fetch.Executor
	Observer    fetch.Observer
	Logger      *slog.Logger
	Clock       func() time.Time
	OnAbandoned AbandonFunc
}

// OptionsFromConfig fills the configuration sections of Options from cfg
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Fetch:   cfg.Fetch,
		Retry:   cfg.Retry,
		Manager: cfg.Manager,
	}
}

// Manager owns fetch sessions by ID. Session callbacks carry only the ID and
// are resolved through the registry, so events for removed sessions are ignored.
//
// The scheduling pass and every session callback run on the shared executor;
// the registry itself is guarded by mu so Enqueue, Remove and the accessors
// may be called from any goroutine.
type Manager struct {
	mu       sync.RWMutex
	sessions map[fetch.ID]*fetch.Session
	order    []fetch.ID
	stopped  bool

	maxParallel   int
	fallbackHint  fetch.Name
	hints         *HintResolver
	policy        retry.Policy
	congestion    fetch.CongestionConfig
	inactivity    time.Duration
	checkInterval time.Duration

	transport   fetch.Transport
	exec        fetch.Executor
	observer    fetch.Observer
	clock       func() time.Time
	logger      *slog.Logger
	onAbandoned AbandonFunc
}

// NewManager validates opts and creates a manager with no sessions
func NewManager(opts Options) (*Manager, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if opts.Manager.MaxParallelFetches < 1 {
		return nil, fmt.Errorf("max parallel fetches must be at least 1, got %d", opts.Manager.MaxParallelFetches)
	}

	var fallback fetch.Name
	if opts.Manager.FallbackHint != "" {
		var err error
		if fallback, err = fetch.ParseName(opts.Manager.FallbackHint); err != nil {
			return nil, fmt.Errorf("invalid fallback hint: %w", err)
		}
	}
	hints, err := NewHintResolver(opts.Manager.Hints)
	if err != nil {
		return nil, err
	}

	policy := RetryPolicy(opts.Retry)
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	congestion := CongestionConfig(opts.Fetch)
	if err := congestion.Validate(); err != nil {
		return nil, fmt.Errorf("invalid congestion configuration: %w", err)
	}

	checkInterval := opts.Retry.CheckInterval
	if checkInterval <= 0 {
		checkInterval = config.DefaultRetryCheckInterval
	}

	m := &Manager{
		sessions:      make(map[fetch.ID]*fetch.Session),
		maxParallel:   opts.Manager.MaxParallelFetches,
		fallbackHint:  fallback,
		hints:         hints,
		policy:        policy,
		congestion:    congestion,
		inactivity:    opts.Fetch.InactivityTimeout,
		checkInterval: checkInterval,
		transport:     opts.Transport,
		exec:          opts.Executor,
		observer:      opts.Observer,
		clock:         opts.Clock,
		logger:        opts.Logger,
		onAbandoned:   opts.OnAbandoned,
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m, nil
}

// Hints returns the forwarding hint mappings used for new streams
func (m *Manager) Hints() *HintResolver {
	return m.hints
}

// Enqueue creates a session for req, places it in the scheduling order and
// triggers a scheduling pass.
func (m *Manager) Enqueue(ctx context.Context, req EnqueueRequest) (fetch.ID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	hint := req.ForwardingHint
	if hint == "" {
		if producer, err := fetch.ParseName(req.Producer); err == nil {
			if resolved, ok := m.hints.Resolve(producer); ok {
				hint = resolved.String()
			}
		}
	}

	s, err := fetch.New(fetch.Params{
		Producer:          req.Producer,
		Stream:            req.Stream,
		ForwardingHint:    hint,
		MinSeq:            req.MinSeq,
		MaxSeq:            req.MaxSeq,
		InactivityTimeout: m.inactivity,
		Congestion:        m.congestion,
		RetryPolicy:       m.policy,
	}, fetch.Deps{
		Transport: m.transport,
		Executor:  m.exec,
		Callbacks: fetch.Callbacks{
			OnSegment:  req.OnSegment,
			OnFinish:   req.OnFinish,
			OnFailed:   m.didFail,
			OnComplete: m.didComplete,
		},
		Logger:   m.logger,
		Observer: m.observer,
		Clock:    m.clock,
	})
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return 0, ErrStopped
	}
	m.sessions[s.ID()] = s
	if req.Priority == PriorityHigh {
		m.order = slices.Insert(m.order, 0, s.ID())
	} else {
		m.order = append(m.order, s.ID())
	}
	m.mu.Unlock()

	m.logger.Info(fmt.Sprintf(config.MsgStreamQueued, s.Producer(), s.Stream()),
		"session_id", s.ID(),
		"priority", req.Priority.String(),
		"forwarding_hint", hint,
	)
	m.ScheduleFetches()
	return s.ID(), nil
}

// ScheduleFetches queues a scheduling pass on the executor
func (m *Manager) ScheduleFetches() {
	m.exec.Execute(m.scheduleFetches)
}

// scheduleFetches restarts inactive sessions that are due, in scheduling
// order, until MaxParallelFetches sessions are active.
func (m *Manager) scheduleFetches() {
	sessions := m.Sessions()

	active := 0
	for _, s := range sessions {
		if s.IsActive() {
			active++
		}
	}

	now := m.clock()
	for _, s := range sessions {
		if active >= m.maxParallel {
			return
		}
		if s.IsActive() || s.IsFinished() || !s.Retry().Due(now) {
			continue
		}
		m.logger.Debug("Starting fetch",
			"session_id", s.ID(),
			"producer", s.Producer().String(),
			"stream", s.Stream().String(),
			"active", active,
		)
		s.RestartNow()
		if s.IsActive() {
			active++
		}
	}
}

// didFail runs on the executor when a session gives up on its producer.
func (m *Manager) didFail(id fetch.ID) {
	s := m.lookup(id)
	if s == nil {
		return
	}

	if !m.fallbackHint.IsEmpty() {
		s.SetForwardingHintNow(m.fallbackHint)
	}

	failures := s.Stats().Failures
	if !m.policy.ShouldRetry(failures) {
		m.remove(id)
		s.Stop()
		m.logger.Warn("Abandoning fetch after too many failures",
			"session_id", id,
			"producer", s.Producer().String(),
			"stream", s.Stream().String(),
			"failures", failures,
			"high_water", s.HighWater(),
		)
		if m.onAbandoned != nil {
			m.onAbandoned(s.Producer(), s.Stream(), failures)
		}
	} else {
		pause, next := s.Retry().Snapshot()
		m.logger.Info("Fetch will be retried",
			"session_id", id,
			"failures", failures,
			"retry_pause", pause,
			"next_retry", next,
		)
	}

	// The freed slot can go to another session right away.
	m.ScheduleFetches()
}

// didComplete runs on the executor once a session has delivered its whole range.
func (m *Manager) didComplete(id fetch.ID, producer, stream fetch.Name) {
	if !m.remove(id) {
		return
	}
	m.logger.Info("Fetch completed",
		"session_id", id,
		"producer", producer.String(),
		"stream", stream.String(),
	)
	m.ScheduleFetches()
}

// RetryNow makes every backing-off session due immediately. Each one first
// takes the forwarding hint its producer currently maps to, if any.
func (m *Manager) RetryNow() {
	m.exec.Execute(func() {
		now := m.clock()
		for _, s := range m.Sessions() {
			if !s.IsTimedWait() {
				continue
			}
			if hint, ok := m.hints.Resolve(s.Producer()); ok {
				s.SetForwardingHintNow(hint)
			}
			s.Retry().SetPause(0)
			s.Retry().SetNextScheduledRetry(now)
		}
		m.scheduleFetches()
	})
}

// Start runs the retry scheduler until ctx is canceled
func (m *Manager) Start(ctx context.Context) {
	retry.NewScheduler(m.checkInterval, m.ScheduleFetches, m.logger).Start(ctx)
}

// Stop rejects further streams. Existing sessions are left as they are.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

// Remove stops a session and drops it from the registry. Owner events still
// in flight for it are ignored.
func (m *Manager) Remove(id fetch.ID) error {
	s := m.lookup(id)
	if s == nil || !m.remove(id) {
		return fmt.Errorf(config.ErrSessionNotFound, id)
	}
	s.Stop()
	m.ScheduleFetches()
	return nil
}

// Session returns the session with the given ID
func (m *Manager) Session(id fetch.ID) (*fetch.Session, bool) {
	s := m.lookup(id)
	return s, s != nil
}

// Sessions returns the registered sessions in scheduling order
func (m *Manager) Sessions() []*fetch.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*fetch.Session, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sessions[id])
	}
	return out
}

// Len returns the number of registered sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) lookup(id fetch.ID) *fetch.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

func (m *Manager) remove(id fetch.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	if i := slices.Index(m.order, id); i >= 0 {
		m.order = slices.Delete(m.order, i, i+1)
	}
	return true
}
