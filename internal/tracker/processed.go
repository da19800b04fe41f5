package tracker

import (
	"sync"
	"time"
)

// ProcessedOutputs remembers output paths whose success notification has
// already been handled, for a short grace window, so duplicate worker
// notifications are absorbed instead of matched twice.
type ProcessedOutputs struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

// NewProcessedOutputs returns an empty set.
func NewProcessedOutputs() *ProcessedOutputs {
	return &ProcessedOutputs{paths: make(map[string]struct{})}
}

// Mark records path as handled. It returns false when the path was
// already present, meaning the caller holds a duplicate notification.
func (p *ProcessedOutputs) Mark(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.paths[path]; ok {
		return false
	}
	p.paths[path] = struct{}{}
	return true
}

// Unmark forgets path immediately. Used when a freshly marked path turns
// out to have no matching request, so a later identical line can still
// be matched.
func (p *ProcessedOutputs) Unmark(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.paths, path)
}

// Contains reports whether path is currently marked.
func (p *ProcessedOutputs) Contains(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.paths[path]
	return ok
}

// ForgetAfter removes path once the grace window elapses.
func (p *ProcessedOutputs) ForgetAfter(path string, grace time.Duration) {
	time.AfterFunc(grace, func() {
		p.Unmark(path)
	})
}

// Len returns the number of marked paths.
func (p *ProcessedOutputs) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.paths)
}
