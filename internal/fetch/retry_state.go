package fetch

import (
	"sync"
	"time"
)

// RetryState holds the retry pause and next scheduled retry of a session.
// The coordinator reads and writes it from outside the session's executor,
// so it carries its own lock.
type RetryState struct {
	mu    sync.RWMutex
	pause time.Duration
	next  time.Time
}

// Pause returns the current retry pause
func (r *RetryState) Pause() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pause
}

// SetPause sets the retry pause
func (r *RetryState) SetPause(pause time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pause = pause
}

// NextScheduledRetry returns the time after which the session may be restarted
func (r *RetryState) NextScheduledRetry() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.next
}

// SetNextScheduledRetry sets the time after which the session may be restarted
func (r *RetryState) SetNextScheduledRetry(next time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next = next
}

// Schedule sets the pause and the next retry to now+pause in one step.
func (r *RetryState) Schedule(pause time.Duration, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pause = pause
	r.next = now.Add(pause)
}

// Snapshot returns the pause and next retry read under a single lock.
func (r *RetryState) Snapshot() (time.Duration, time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pause, r.next
}

// Due reports whether the next scheduled retry is not after now
func (r *RetryState) Due(now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.next.After(now)
}
