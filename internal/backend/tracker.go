package backend

import (
	"errors"
	"sync"
)

// Releaser frees a tracked device resource.
type Releaser interface {
	Release() error
}

// Tracker owns device resources and releases them deterministically in
// reverse allocation order when closed. Descriptors and streams have no
// automatic collection, so every allocation is registered with exactly one
// tracker and released exactly once.
//
// Construction code uses a local Tracker as a scope guard: allocate into it,
// and on success move the entries to a longer-lived tracker with MoveTo so
// scope exit no longer releases them.
type Tracker struct {
	mu        sync.Mutex
	resources []Releaser
	closed    bool
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Register adds a resource. It will be released when the tracker closes,
// after every resource registered later.
func (t *Tracker) Register(r Releaser) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		panic("backend: register on closed tracker")
	}
	t.resources = append(t.resources, r)
}

// MoveTo transfers every tracked resource to dst, preserving registration
// order. The receiver is left empty and still usable.
func (t *Tracker) MoveTo(dst *Tracker) {
	t.mu.Lock()
	moved := t.resources
	t.resources = nil
	t.mu.Unlock()

	dst.mu.Lock()
	defer dst.mu.Unlock()
	if dst.closed {
		panic("backend: move to closed tracker")
	}
	dst.resources = append(dst.resources, moved...)
}

// Close releases every tracked resource in reverse registration order.
// Release errors are accumulated and reported together; a failing release
// never prevents the remaining resources from being released. Close is
// idempotent: subsequent calls are no-ops returning nil.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	resources := t.resources
	t.resources = nil
	t.mu.Unlock()

	var errs []error
	for i := len(resources) - 1; i >= 0; i-- {
		if err := resources[i].Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len reports how many resources are currently tracked.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.resources)
}
