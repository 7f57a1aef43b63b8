package coordinator

import (
	"fmt"
	"strings"
	"sync"

	"github.com/AltairaLabs/segfetch/internal/fetch"
)

// HintResolver maps producer name prefixes to forwarding hints.
// The longest matching prefix wins.
type HintResolver struct {
	mu    sync.RWMutex
	hints map[fetch.Name]fetch.Name
}

// NewHintResolver builds a resolver from producer -> hint pairs
func NewHintResolver(hints map[string]string) (*HintResolver, error) {
	r := &HintResolver{hints: make(map[fetch.Name]fetch.Name, len(hints))}
	for producer, hint := range hints {
		p, err := fetch.ParseName(producer)
		if err != nil {
			return nil, fmt.Errorf("invalid hint mapping producer: %w", err)
		}
		h, err := fetch.ParseName(hint)
		if err != nil {
			return nil, fmt.Errorf("invalid hint mapping for %s: %w", producer, err)
		}
		r.hints[p] = h
	}
	return r, nil
}

// Set maps producer to hint, replacing any previous mapping
func (r *HintResolver) Set(producer, hint fetch.Name) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hints[producer] = hint
}

// Resolve returns the hint for producer, if any prefix of it is mapped
func (r *HintResolver) Resolve(producer fetch.Name) (fetch.Name, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	components := producer.Components()
	for n := len(components); n > 0; n-- {
		prefix := fetch.Name("/" + strings.Join(components[:n], "/"))
		if hint, ok := r.hints[prefix]; ok {
			return hint, true
		}
	}
	return "", false
}
