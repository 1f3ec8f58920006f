package filter

import (
	"fmt"
	"sync"
)

// Warnings collects validation warnings for a single request. Each request
// owns its collector; nothing here is process-wide, so concurrent requests
// cannot cross-contaminate.
type Warnings struct {
	mu    sync.Mutex
	items []string
}

// NewWarnings returns an empty per-request collector.
func NewWarnings() *Warnings {
	return &Warnings{}
}

// Addf records one warning.
func (w *Warnings) Addf(format string, args ...any) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = append(w.items, fmt.Sprintf(format, args...))
}

// Items returns the collected warnings in insertion order.
func (w *Warnings) Items() []string {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.items))
	copy(out, w.items)
	return out
}

// Len reports how many warnings have been collected.
func (w *Warnings) Len() int {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}
