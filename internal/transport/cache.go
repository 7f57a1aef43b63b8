package transport

import (
	"context"
	"sync"
	"time"

	"github.com/AltairaLabs/segfetch/internal/fetch"
)

const cacheCleanupInterval = 1 * time.Minute

type segmentKey struct {
	producer fetch.Name
	stream   fetch.Name
	seq      int64
}

type cachedSegment struct {
	payload   []byte
	expiresAt time.Time
}

// CachingSource keeps recently served segments in memory with TTL-based
// expiration, so retransmitted requests are answered without reading the
// underlying source again. Misses and errors are not cached.
type CachingSource struct {
	source   Source
	ttl      time.Duration
	now      func() time.Time
	mu       sync.RWMutex
	segments map[segmentKey]cachedSegment
	done     chan struct{}
	once     sync.Once
}

// NewCachingSource wraps source with a segment cache.
// Starts a background cleanup goroutine that removes expired segments.
func NewCachingSource(source Source, ttl time.Duration) *CachingSource {
	c := &CachingSource{
		source:   source,
		ttl:      ttl,
		now:      time.Now,
		segments: make(map[segmentKey]cachedSegment),
		done:     make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Segment returns the cached payload or reads it from the wrapped source
func (c *CachingSource) Segment(ctx context.Context, producer, stream fetch.Name, seq int64) ([]byte, error) {
	key := segmentKey{producer, stream, seq}

	c.mu.RLock()
	cached, ok := c.segments[key]
	c.mu.RUnlock()
	if ok && c.now().Before(cached.expiresAt) {
		return cached.payload, nil
	}

	payload, err := c.source.Segment(ctx, producer, stream, seq)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.segments[key] = cachedSegment{payload: payload, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return payload, nil
}

// SegmentCount asks the wrapped source; counts are not cached
func (c *CachingSource) SegmentCount(ctx context.Context, producer, stream fetch.Name) (int64, error) {
	counter, ok := c.source.(Counter)
	if !ok {
		return 0, ErrCountUnavailable
	}
	return counter.SegmentCount(ctx, producer, stream)
}

// Size returns the number of cached segments, expired ones included
func (c *CachingSource) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.segments)
}

// Close stops the cleanup goroutine
func (c *CachingSource) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *CachingSource) cleanupLoop() {
	ticker := time.NewTicker(cacheCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.done:
			return
		}
	}
}

// cleanup removes expired segments
func (c *CachingSource) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, cached := range c.segments {
		if now.After(cached.expiresAt) {
			delete(c.segments, key)
		}
	}
}
