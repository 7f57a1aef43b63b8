package fetch

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

// inlineExecutor runs tasks on the caller's goroutine.
type inlineExecutor struct{}

func (inlineExecutor) Execute(task func()) { task() }

type sentRequest struct {
	req       Request
	onData    func([]byte)
	onTimeout func()
	answered  bool
}

// fakeTransport records requests; tests answer them explicitly.
type fakeTransport struct {
	sent []*sentRequest
}

func (f *fakeTransport) Send(req Request, onData func([]byte), onTimeout func()) {
	f.sent = append(f.sent, &sentRequest{req: req, onData: onData, onTimeout: onTimeout})
}

// pending returns the latest unanswered request for seq.
func (f *fakeTransport) pending(t *testing.T, seq int64) *sentRequest {
	t.Helper()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if r := f.sent[i]; r.req.Seq == seq && !r.answered {
			return r
		}
	}
	t.Fatalf("No unanswered request for seq %d", seq)
	return nil
}

func (f *fakeTransport) respond(t *testing.T, seq int64) {
	t.Helper()
	r := f.pending(t, seq)
	r.answered = true
	r.onData([]byte{byte(seq)})
}

func (f *fakeTransport) timeout(t *testing.T, seq int64) {
	t.Helper()
	r := f.pending(t, seq)
	r.answered = true
	r.onTimeout()
}

func (f *fakeTransport) seqs() []int64 {
	out := make([]int64, 0, len(f.sent))
	for _, r := range f.sent {
		out = append(out, r.req.Seq)
	}
	return out
}

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type recorder struct {
	segments  []int64
	finished  int
	failed    []ID
	completed []ID
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnSegment: func(_, _ Name, seq int64, _ []byte) { r.segments = append(r.segments, seq) },
		OnFinish:  func(_, _ Name) { r.finished++ },
		OnFailed:  func(id ID) { r.failed = append(r.failed, id) },
		OnComplete: func(id ID, _, _ Name) {
			r.completed = append(r.completed, id)
		},
	}
}

// recordingObserver counts the instrumentation events tests look at
type recordingObserver struct {
	nopObserver
	windowChanges int
	closed        int
}

func (o *recordingObserver) WindowChanged(Name, Name, int, time.Duration) { o.windowChanges++ }
func (o *recordingObserver) SessionClosed(Name, Name) { o.closed++ }

type harness struct {
	session   *Session
	transport *fakeTransport
	clock     *fakeClock
	rec       *recorder
	obs       *recordingObserver
}

func newHarness(t *testing.T, params Params) *harness {
	t.Helper()
	h := &harness{
		transport: &fakeTransport{},
		clock:     newFakeClock(),
		rec:       &recorder{},
		obs:       &recordingObserver{},
	}
	if params.Producer == "" {
		params.Producer = "/org/device-1"
	}
	if params.Stream == "" {
		params.Stream = "/sensors/temp"
	}
	s, err := New(params, Deps{
		Transport: h.transport,
		Executor:  inlineExecutor{},
		Callbacks: h.rec.callbacks(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:     h.clock.Now,
		Observer:  h.obs,
	})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	h.session = s
	return h
}

func congestionWithPipeline(n int) CongestionConfig {
	cc := DefaultCongestionConfig()
	cc.InitialPipeline = n
	return cc
}
