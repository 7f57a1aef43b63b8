package fetch

import (
	"sync"
	"testing"
	"time"
)

func TestRetryState_Schedule(t *testing.T) {
	var r RetryState
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	r.Schedule(3*time.Second, now)
	pause, next := r.Snapshot()
	if pause != 3*time.Second {
		t.Errorf("Expected pause 3s, got %v", pause)
	}
	if !next.Equal(now.Add(3 * time.Second)) {
		t.Errorf("Expected next retry at %v, got %v", now.Add(3*time.Second), next)
	}

	if r.Due(now) {
		t.Error("Expected retry not to be due before the pause elapses")
	}
	if !r.Due(now.Add(3 * time.Second)) {
		t.Error("Expected retry to be due once the pause elapses")
	}
}

func TestRetryState_Setters(t *testing.T) {
	var r RetryState
	now := time.Now()
	r.SetPause(time.Second)
	r.SetNextScheduledRetry(now)

	if r.Pause() != time.Second {
		t.Errorf("Expected pause 1s, got %v", r.Pause())
	}
	if !r.NextScheduledRetry().Equal(now) {
		t.Errorf("Expected next retry %v, got %v", now, r.NextScheduledRetry())
	}
}

func TestRetryState_ConcurrentAccess(t *testing.T) {
	var r RetryState
	now := time.Now()
	r.Schedule(0, now)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Schedule(time.Duration(j)*time.Millisecond, now)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				pause, next := r.Snapshot()
				if !next.Equal(now.Add(pause)) {
					t.Errorf("Expected consistent pair, got pause=%v next=%v", pause, next)
					return
				}
			}
		}()
	}
	wg.Wait()
}
