package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/AltairaLabs/segfetch/internal/coordinator/config"
	"github.com/AltairaLabs/segfetch/internal/fetch"
	"github.com/AltairaLabs/segfetch/internal/taskqueue"
)

type sentRequest struct {
	req       fetch.Request
	onData    func([]byte)
	onTimeout func()
	answered  bool
}

// fakeTransport records requests; tests answer them explicitly.
type fakeTransport struct {
	mu   sync.Mutex
	sent []*sentRequest
}

func (f *fakeTransport) Send(req fetch.Request, onData func([]byte), onTimeout func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, &sentRequest{req: req, onData: onData, onTimeout: onTimeout})
}

// open returns the unanswered requests for producer
func (f *fakeTransport) open(producer string) []*sentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*sentRequest
	for _, r := range f.sent {
		if !r.answered && r.req.Producer.String() == producer {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeTransport) count(producer string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.sent {
		if r.req.Producer.String() == producer {
			n++
		}
	}
	return n
}

func (f *fakeTransport) last() *sentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) answer(t *testing.T, producer string, timeout bool) {
	t.Helper()
	open := f.open(producer)
	if len(open) == 0 {
		t.Fatalf("No unanswered request for %s", producer)
	}
	f.mu.Lock()
	r := open[0]
	r.answered = true
	f.mu.Unlock()
	if timeout {
		r.onTimeout()
	} else {
		r.onData([]byte("data"))
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	manager   *Manager
	queue     *taskqueue.Queue
	transport *fakeTransport
	clock     *fakeClock

	mu        sync.Mutex
	abandoned []string
	finished  []string
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &testEnv{
		queue:     taskqueue.New(0, logger),
		transport: &fakeTransport{},
		clock:     &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	env.queue.Start()
	t.Cleanup(env.queue.Stop)

	opts := OptionsFromConfig(config.Default())
	opts.Manager.MaxParallelFetches = 2
	opts.Fetch.InactivityTimeout = time.Second
	opts.Transport = env.transport
	opts.Executor = env.queue
	opts.Logger = logger
	opts.Clock = env.clock.Now
	opts.OnAbandoned = func(producer, _ fetch.Name, _ int) {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.abandoned = append(env.abandoned, producer.String())
	}
	if mutate != nil {
		mutate(&opts)
	}

	m, err := NewManager(opts)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	env.manager = m
	return env
}

// enqueue adds a single-segment stream for producer
func (e *testEnv) enqueue(t *testing.T, producer string, priority Priority) fetch.ID {
	t.Helper()
	id, err := e.manager.Enqueue(context.Background(), EnqueueRequest{
		Producer: producer,
		Stream:   "/stream",
		MinSeq:   0,
		MaxSeq:   0,
		Priority: priority,
		OnFinish: func(p, _ fetch.Name) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.finished = append(e.finished, p.String())
		},
	})
	if err != nil {
		t.Fatalf("Failed to enqueue %s: %v", producer, err)
	}
	return id
}

func (e *testEnv) settle(t *testing.T) {
	t.Helper()
	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := e.queue.Sync(ctx)
		cancel()
		if err != nil {
			t.Fatalf("Queue did not settle: %v", err)
		}
	}
}

func TestManager_LimitsParallelFetches(t *testing.T) {
	env := newTestEnv(t, nil)

	env.enqueue(t, "/p1", PriorityNormal)
	env.enqueue(t, "/p2", PriorityNormal)
	env.enqueue(t, "/p3", PriorityNormal)
	env.settle(t)

	if env.transport.count("/p1") != 1 || env.transport.count("/p2") != 1 {
		t.Errorf("Expected the first two streams to start")
	}
	if env.transport.count("/p3") != 0 {
		t.Errorf("Expected the third stream to wait, got %d requests", env.transport.count("/p3"))
	}

	env.transport.answer(t, "/p1", false)
	env.settle(t)

	if env.transport.count("/p3") != 1 {
		t.Errorf("Expected the third stream to start after a completion")
	}
	if env.manager.Len() != 2 {
		t.Errorf("Expected completed session to be removed, got %d sessions", env.manager.Len())
	}
	if len(env.finished) != 1 || env.finished[0] != "/p1" {
		t.Errorf("Expected /p1 to finish, got %v", env.finished)
	}
}

func TestManager_HighPriorityGoesFirst(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.Manager.MaxParallelFetches = 1 })

	env.enqueue(t, "/first", PriorityNormal)
	env.settle(t)
	env.enqueue(t, "/normal", PriorityNormal)
	env.enqueue(t, "/urgent", PriorityHigh)
	env.settle(t)

	sessions := env.manager.Sessions()
	if len(sessions) != 3 || sessions[0].Producer() != "/urgent" {
		t.Fatalf("Expected /urgent at the front of the order")
	}

	env.transport.answer(t, "/first", false)
	env.settle(t)

	if env.transport.count("/urgent") != 1 {
		t.Error("Expected the high-priority stream to start next")
	}
	if env.transport.count("/normal") != 0 {
		t.Error("Expected the normal stream to keep waiting")
	}
}

func TestManager_ResolvesForwardingHint(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Manager.Hints = map[string]string{"/org": "/hint/org"}
	})

	env.enqueue(t, "/org/device", PriorityNormal)
	env.settle(t)
	if got := env.transport.last().req.ForwardingHint; got != "/hint/org" {
		t.Errorf("Expected hint /hint/org, got %q", got)
	}

	_, err := env.manager.Enqueue(context.Background(), EnqueueRequest{
		Producer:       "/org/other",
		Stream:         "/stream",
		ForwardingHint: "/explicit",
	})
	if err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	env.settle(t)
	if got := env.transport.last().req.ForwardingHint; got != "/explicit" {
		t.Errorf("Expected explicit hint, got %q", got)
	}
}

func TestManager_FailureSwitchesToFallbackAndRetries(t *testing.T) {
	env := newTestEnv(t, nil)

	id := env.enqueue(t, "/p1", PriorityNormal)
	env.settle(t)

	env.clock.Advance(2 * time.Second)
	env.transport.answer(t, "/p1", true)
	env.settle(t)

	s, ok := env.manager.Session(id)
	if !ok {
		t.Fatal("Expected failed session to stay registered")
	}
	if s.ForwardingHint() != config.DefaultBroadcastHint {
		t.Errorf("Expected fallback hint %s, got %s", config.DefaultBroadcastHint, s.ForwardingHint())
	}
	if env.transport.count("/p1") != 1 {
		t.Fatal("Expected no restart before the retry pause elapses")
	}

	env.clock.Advance(config.DefaultRetryInitialDelay)
	env.manager.ScheduleFetches()
	env.settle(t)

	if env.transport.count("/p1") != 2 {
		t.Fatalf("Expected a restart once the pause elapsed, got %d requests", env.transport.count("/p1"))
	}
	last := env.transport.last()
	if last.req.Seq != 0 || last.req.ForwardingHint != config.DefaultBroadcastHint {
		t.Errorf("Expected seq 0 resent via fallback hint, got seq %d hint %s", last.req.Seq, last.req.ForwardingHint)
	}
}

func TestManager_RetryNowSkipsPauseAndTakesNewHint(t *testing.T) {
	env := newTestEnv(t, nil)

	id := env.enqueue(t, "/p1", PriorityNormal)
	env.settle(t)
	env.clock.Advance(2 * time.Second)
	env.transport.answer(t, "/p1", true)
	env.settle(t)

	env.manager.Hints().Set("/p1", "/relay/east")
	env.manager.RetryNow()
	env.settle(t)

	if env.transport.count("/p1") != 2 {
		t.Fatalf("Expected an immediate restart, got %d requests", env.transport.count("/p1"))
	}
	last := env.transport.last()
	if last.req.ForwardingHint != "/relay/east" {
		t.Errorf("Expected the remapped hint, got %s", last.req.ForwardingHint)
	}
	s, _ := env.manager.Session(id)
	if pause := s.Retry().Pause(); pause != 0 {
		t.Errorf("Expected retry pause to be cleared, got %v", pause)
	}
}

func TestManager_AbandonsAfterMaxRetries(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.Retry.MaxRetries = 0 })

	env.enqueue(t, "/p1", PriorityNormal)
	env.settle(t)

	env.clock.Advance(2 * time.Second)
	env.transport.answer(t, "/p1", true)
	env.settle(t)

	if env.manager.Len() != 0 {
		t.Errorf("Expected abandoned session to be removed, got %d", env.manager.Len())
	}
	if len(env.abandoned) != 1 || env.abandoned[0] != "/p1" {
		t.Errorf("Expected /p1 to be abandoned, got %v", env.abandoned)
	}
}

func TestManager_FailureFreesSlot(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.Manager.MaxParallelFetches = 1 })

	env.enqueue(t, "/p1", PriorityNormal)
	env.enqueue(t, "/p2", PriorityNormal)
	env.settle(t)

	env.clock.Advance(2 * time.Second)
	env.transport.answer(t, "/p1", true)
	env.settle(t)

	if env.transport.count("/p2") != 1 {
		t.Error("Expected the waiting stream to take the failed stream's slot")
	}
}

func TestManager_Remove(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.Manager.MaxParallelFetches = 1 })

	id := env.enqueue(t, "/p1", PriorityNormal)
	env.enqueue(t, "/p2", PriorityNormal)
	env.settle(t)

	if err := env.manager.Remove(id); err != nil {
		t.Fatalf("Failed to remove session: %v", err)
	}
	env.settle(t)

	if env.manager.Len() != 1 {
		t.Errorf("Expected 1 session, got %d", env.manager.Len())
	}
	if env.transport.count("/p2") != 1 {
		t.Error("Expected the waiting stream to start after removal")
	}

	// Late events for the removed session are ignored.
	env.transport.answer(t, "/p1", false)
	env.settle(t)
	if len(env.finished) != 1 {
		t.Errorf("Expected late data to reach only the consumer callback, got %v", env.finished)
	}

	if err := env.manager.Remove(id); err == nil {
		t.Error("Expected error removing an unknown session")
	}
}

func TestManager_EnqueueErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.manager.Enqueue(context.Background(), EnqueueRequest{Producer: "bad", Stream: "/s"})
	if !errors.Is(err, fetch.ErrInvalidProducer) {
		t.Errorf("Expected ErrInvalidProducer, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := env.manager.Enqueue(ctx, EnqueueRequest{Producer: "/p", Stream: "/s"}); err == nil {
		t.Error("Expected error with canceled context")
	}

	env.manager.Stop()
	_, err = env.manager.Enqueue(context.Background(), EnqueueRequest{Producer: "/p", Stream: "/s"})
	if !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
}

func TestManager_StartRunsScheduler(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.Retry.CheckInterval = 10 * time.Millisecond })

	env.enqueue(t, "/p1", PriorityNormal)
	env.settle(t)
	env.clock.Advance(2 * time.Second)
	env.transport.answer(t, "/p1", true)
	env.settle(t)
	env.clock.Advance(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		env.manager.Start(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for env.transport.count("/p1") < 2 {
		if time.Now().After(deadline) {
			t.Fatal("Expected the scheduler to restart the failed session")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done
}

func TestNewManager_Validation(t *testing.T) {
	base := func() Options {
		opts := OptionsFromConfig(config.Default())
		opts.Transport = &fakeTransport{}
		opts.Executor = taskqueue.New(0, nil)
		return opts
	}

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"no transport", func(o *Options) { o.Transport = nil }},
		{"no executor", func(o *Options) { o.Executor = nil }},
		{"zero parallel fetches", func(o *Options) { o.Manager.MaxParallelFetches = 0 }},
		{"bad fallback hint", func(o *Options) { o.Manager.FallbackHint = "broadcast" }},
		{"bad hint mapping", func(o *Options) { o.Manager.Hints = map[string]string{"/p": "hint"} }},
		{"bad retry policy", func(o *Options) { o.Retry.InitialDelay = 0 }},
		{"bad congestion", func(o *Options) { o.Fetch.MinPipeline = 0 }},
	}

	if _, err := NewManager(base()); err != nil {
		t.Fatalf("Expected defaults to be valid, got %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base()
			tt.mutate(&opts)
			if _, err := NewManager(opts); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		input   string
		want    Priority
		wantErr bool
	}{
		{"", PriorityNormal, false},
		{"normal", PriorityNormal, false},
		{"HIGH", PriorityHigh, false},
		{"urgent", PriorityNormal, true},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePriority(%q): expected error=%v, got %v", tt.input, tt.wantErr, err)
		}
		if got != tt.want {
			t.Errorf("ParsePriority(%q): expected %v, got %v", tt.input, tt.want, got)
		}
	}
}
