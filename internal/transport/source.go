package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/AltairaLabs/segfetch/internal/fetch"
)

var (
	// ErrSegmentNotFound is returned by a Source that has no such segment
	ErrSegmentNotFound = errors.New("segment not found")
	// ErrCountUnavailable is returned when a source cannot tell where a stream ends
	ErrCountUnavailable = errors.New("segment count unavailable")
)

// Source supplies the segments a producer serves
type Source interface {
	Segment(ctx context.Context, producer, stream fetch.Name, seq int64) ([]byte, error)
}

// Counter is implemented by sources that know how many segments a stream has
type Counter interface {
	SegmentCount(ctx context.Context, producer, stream fetch.Name) (int64, error)
}

type streamKey struct {
	producer fetch.Name
	stream   fetch.Name
}

// MemorySource serves segments held in memory
type MemorySource struct {
	mu      sync.RWMutex
	streams map[streamKey][][]byte
}

// NewMemorySource creates an empty in-memory source
func NewMemorySource() *MemorySource {
	return &MemorySource{streams: make(map[streamKey][][]byte)}
}

// Append adds segments to the end of a stream and returns the new segment count
func (m *MemorySource) Append(producer, stream fetch.Name, segments ...[]byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := streamKey{producer, stream}
	m.streams[key] = append(m.streams[key], segments...)
	return len(m.streams[key])
}

// Segment returns segment seq of the stream
func (m *MemorySource) Segment(_ context.Context, producer, stream fetch.Name, seq int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	segments := m.streams[streamKey{producer, stream}]
	if seq < 0 || seq >= int64(len(segments)) {
		return nil, ErrSegmentNotFound
	}
	return segments[seq], nil
}

// SegmentCount returns the current length of the stream
func (m *MemorySource) SegmentCount(_ context.Context, producer, stream fetch.Name) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	segments, ok := m.streams[streamKey{producer, stream}]
	if !ok {
		return 0, ErrSegmentNotFound
	}
	return int64(len(segments)), nil
}

// DirSource serves files under a root directory. The file for a stream is
// root/<producer>/<stream>; segment n is the n-th chunk of segmentSize bytes.
type DirSource struct {
	root        string
	segmentSize int
}

// NewDirSource creates a directory source
func NewDirSource(root string, segmentSize int) (*DirSource, error) {
	if segmentSize <= 0 {
		return nil, fmt.Errorf("segment size must be positive, got %d", segmentSize)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	return &DirSource{root: root, segmentSize: segmentSize}, nil
}

// Segment reads segment seq of the file backing the stream
func (d *DirSource) Segment(ctx context.Context, producer, stream fetch.Name, seq int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Offsets past the largest file size cannot hold a segment.
	if seq < 0 || seq > math.MaxInt64/int64(d.segmentSize) {
		return nil, ErrSegmentNotFound
	}
	path, err := d.path(producer, stream)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path) // #nosec G304 - path is confined to root by d.path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrSegmentNotFound
		}
		return nil, fmt.Errorf("failed to open stream file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, d.segmentSize)
	n, err := f.ReadAt(buf, seq*int64(d.segmentSize))
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, ErrSegmentNotFound
		}
		return nil, fmt.Errorf("failed to read segment %d: %w", seq, err)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read segment %d: %w", seq, err)
	}
	return buf[:n], nil
}

// SegmentCount returns how many segments the stream file holds
func (d *DirSource) SegmentCount(ctx context.Context, producer, stream fetch.Name) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	path, err := d.path(producer, stream)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrSegmentNotFound
		}
		return 0, err
	}
	size := int64(d.segmentSize)
	return (info.Size() + size - 1) / size, nil
}

func (d *DirSource) path(producer, stream fetch.Name) (string, error) {
	parts := []string{d.root}
	for _, c := range append(producer.Components(), stream.Components()...) {
		if c == "." || c == ".." {
			return "", fmt.Errorf("%w: name component %q", ErrSegmentNotFound, c)
		}
		parts = append(parts, c)
	}
	return filepath.Join(parts...), nil
}
