// Package tracker maintains the in-memory table of in-flight conversion
// requests and the short-lived set of already-handled output paths.
package tracker

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrDuplicateRequest is returned when a key already has a live entry.
var ErrDuplicateRequest = errors.New("a request for this path is already pending")

// Request describes one audio file submitted for conversion and awaiting
// a worker response.
type Request struct {
	// Key is the exact path string sent to the worker; unique among live
	// entries and used as the table key.
	Key string
	// RequestID is an opaque identifier for caller-facing reporting.
	RequestID string
	// SubmittedAt is used for age-based eviction and elapsed-time reporting.
	SubmittedAt time.Time
	// DisplayName is the original file's base name, for human-facing events.
	DisplayName string
	// ExpectedOutputPath is a best-effort prediction of the output location,
	// for diagnostics only.
	ExpectedOutputPath string
	// OriginalInputPath is the caller's pre-normalization path.
	OriginalInputPath string
	// OriginalBaseName is the extension-less base name of the original
	// input; success notifications are correlated against it.
	OriginalBaseName string
	// CleanupTarget, when set, is a normalization temp file that must be
	// deleted once the request resolves.
	CleanupTarget string
}

// Age returns how long the request has been outstanding.
func (r Request) Age(now time.Time) time.Duration {
	return now.Sub(r.SubmittedAt)
}

// Tracker is the table of pending requests. It is a pure data structure:
// it never deletes files or notifies callers. Those side effects belong
// to whoever removes an entry.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]Request
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{entries: make(map[string]Request)}
}

// Register inserts a request, rejecting duplicates for the same key.
func (t *Tracker) Register(req Request) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[req.Key]; ok {
		return ErrDuplicateRequest
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now()
	}
	t.entries[req.Key] = req
	return nil
}

// Lookup returns the live entry for key, if any.
func (t *Tracker) Lookup(key string) (Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.entries[key]
	return req, ok
}

// Remove deletes the entry for key and returns it. Removing an absent
// key is not an error.
func (t *Tracker) Remove(key string) (Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}
	return req, ok
}

// Clear removes every entry and returns the removed set, oldest first.
func (t *Tracker) Clear() []Request {
	t.mu.Lock()
	removed := make([]Request, 0, len(t.entries))
	for _, req := range t.entries {
		removed = append(removed, req)
	}
	t.entries = make(map[string]Request)
	t.mu.Unlock()
	sortBySubmission(removed)
	return removed
}

// TakeByBaseName removes and returns the oldest live entry whose
// OriginalBaseName equals base. Matching and removal happen under one
// lock acquisition, so a concurrent Evict cannot resolve the same entry
// a second time. When two pending requests share a base name (a state
// the submission side is expected to avoid), the oldest wins.
func (t *Tracker) TakeByBaseName(base string) (Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var match Request
	found := false
	for _, req := range t.entries {
		if req.OriginalBaseName != base {
			continue
		}
		if !found || req.SubmittedAt.Before(match.SubmittedAt) {
			match = req
			found = true
		}
	}
	if found {
		delete(t.entries, match.Key)
	}
	return match, found
}

// Evict removes and returns every entry older than threshold.
func (t *Tracker) Evict(threshold time.Duration, now time.Time) []Request {
	t.mu.Lock()
	var evicted []Request
	for key, req := range t.entries {
		if req.Age(now) > threshold {
			evicted = append(evicted, req)
			delete(t.entries, key)
		}
	}
	t.mu.Unlock()
	sortBySubmission(evicted)
	return evicted
}

// List returns all live entries, oldest first.
func (t *Tracker) List() []Request {
	t.mu.Lock()
	out := make([]Request, 0, len(t.entries))
	for _, req := range t.entries {
		out = append(out, req)
	}
	t.mu.Unlock()
	sortBySubmission(out)
	return out
}

// Count returns the number of live entries.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func sortBySubmission(reqs []Request) {
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].SubmittedAt.Equal(reqs[j].SubmittedAt) {
			return reqs[i].Key < reqs[j].Key
		}
		return reqs[i].SubmittedAt.Before(reqs[j].SubmittedAt)
	})
}
