package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/AltairaLabs/segfetch/internal/fetch"
)

// orderedWriter writes segments to w in sequence order, holding back any
// that arrive ahead of a gap. Duplicates are ignored.
type orderedWriter struct {
	w       io.Writer
	next    int64
	pending map[int64][]byte
	written int64
	err     error
}

func newOrderedWriter(w io.Writer, minSeq int64) *orderedWriter {
	return &orderedWriter{
		w:       w,
		next:    minSeq,
		pending: make(map[int64][]byte),
	}
}

// Add accepts segment seq and flushes every segment that is now contiguous
func (o *orderedWriter) Add(seq int64, payload []byte) error {
	if o.err != nil {
		return o.err
	}
	if seq < o.next {
		return nil
	}
	if _, dup := o.pending[seq]; dup {
		return nil
	}
	o.pending[seq] = payload

	for {
		p, ok := o.pending[o.next]
		if !ok {
			return nil
		}
		delete(o.pending, o.next)
		n, err := o.w.Write(p)
		o.written += int64(n)
		if err != nil {
			o.err = fmt.Errorf("failed to write segment %d: %w", o.next, err)
			return o.err
		}
		o.next++
	}
}

// Buffered returns how many segments wait for a gap to fill
func (o *orderedWriter) Buffered() int {
	return len(o.pending)
}

// outputPath maps a stream to a file below dir. Both names are query-escaped,
// so the "," between them cannot occur inside either.
func outputPath(dir string, producer, stream fetch.Name) string {
	name := url.QueryEscape(producer.String()) + "," + url.QueryEscape(stream.String())
	return filepath.Join(dir, name)
}

// openOutput returns stdout when dir is empty, or a new file for the stream
func openOutput(dir string, producer, stream fetch.Name) (io.WriteCloser, error) {
	if dir == "" {
		return nopCloser{os.Stdout}, nil
	}
	// #nosec G304 - output directory is chosen by the operator
	f, err := os.Create(outputPath(dir, producer, stream))
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
