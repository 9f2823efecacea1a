// Package undo keeps a bounded stack of state snapshots.
//
// A History does not know what a snapshot contains; the caller captures state
// before a mutation, pushes it once the mutation actually changed something,
// and hands Undo a function that puts the popped state back. While that
// function runs the History is "restoring" and ignores pushes, so restore
// paths that reuse ordinary mutation code cannot record themselves.
package undo

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of snapshots kept when none is configured.
const DefaultCapacity = 20

// Snapshot is one recorded state and what produced it.
type Snapshot[S any] struct {
	Description string
	Timestamp   time.Time
	State       S
}

// History is a bounded LIFO of snapshots. It is safe for concurrent use.
type History[S any] struct {
	mu        sync.Mutex
	capacity  int
	stack     []Snapshot[S]
	restoring bool
	now       func() time.Time
}

// New returns a History holding at most capacity snapshots. A non-positive
// capacity selects DefaultCapacity.
func New[S any](capacity int) *History[S] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History[S]{capacity: capacity, now: time.Now}
}

// Capacity returns the maximum depth.
func (h *History[S]) Capacity() int {
	return h.capacity
}

// Push records state. The oldest snapshot is discarded once the stack is
// full. Pushes made while restoring are dropped; Push reports whether the
// snapshot was kept.
func (h *History[S]) Push(description string, state S) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.restoring {
		return false
	}
	h.stack = append(h.stack, Snapshot[S]{Description: description, Timestamp: h.now(), State: state})
	if over := len(h.stack) - h.capacity; over > 0 {
		h.stack = append(h.stack[:0:0], h.stack[over:]...)
	}
	return true
}

// Undo pops the newest snapshot and passes it to apply. It returns false when
// the stack is empty or an undo is already in progress.
func (h *History[S]) Undo(apply func(Snapshot[S])) (Snapshot[S], bool) {
	h.mu.Lock()
	if h.restoring || len(h.stack) == 0 {
		h.mu.Unlock()
		return Snapshot[S]{}, false
	}
	snap := h.stack[len(h.stack)-1]
	h.stack = h.stack[:len(h.stack)-1]
	h.restoring = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.restoring = false
		h.mu.Unlock()
	}()
	apply(snap)
	return snap, true
}

// Restoring reports whether an Undo is applying a snapshot.
func (h *History[S]) Restoring() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.restoring
}

// Len returns the number of snapshots held.
func (h *History[S]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.stack)
}

// Descriptions lists snapshot descriptions, newest first.
func (h *History[S]) Descriptions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.stack))
	for i := len(h.stack) - 1; i >= 0; i-- {
		out = append(out, h.stack[i].Description)
	}
	return out
}

// Clear drops every snapshot.
func (h *History[S]) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stack = nil
}
