// Package concurrency holds the small synchronisation primitives the dispatcher
// relies on: the named action latch that keeps a session to one run at a time,
// a circuit breaker for the runner transport and a bounded goroutine limiter.
package concurrency

import (
	"sort"
	"sync"
)

// ActionWorkflowRunning is held from the moment a run is accepted until the
// runner reports that it finished or the submission failed
const ActionWorkflowRunning = "workflowRunning"

// ActiveActions is a set of named boolean latches. Unknown names read as
// inactive and a held action never expires on its own.
type ActiveActions struct {
	mu     sync.Mutex
	active map[string]bool
}

// NewActiveActions creates an empty action set
func NewActiveActions() *ActiveActions {
	return &ActiveActions{active: make(map[string]bool)}
}

// Acquire marks name active. It returns false without changing anything when
// name is already held, so check-and-set is a single step.
func (a *ActiveActions) Acquire(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active == nil {
		a.active = make(map[string]bool)
	}
	if a.active[name] {
		return false
	}
	a.active[name] = true
	return true
}

// Release clears name. Releasing an inactive action is a no-op.
func (a *ActiveActions) Release(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.active, name)
}

// IsActive reports whether name is currently held
func (a *ActiveActions) IsActive(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active[name]
}

// Active returns the held action names, sorted
func (a *ActiveActions) Active() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	names := make([]string, 0, len(a.active))
	for name := range a.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
