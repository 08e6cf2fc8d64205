// Package snapshot implements the Config Snapshot Store: an immutable
// (Routes, Clusters) pair published atomically, with a one-shot
// ChangeToken that lets a reader detect it's holding a stale snapshot
// without ever observing a mutated one.
//
// Uses a lock-free pointer swap rather than a mutex-protected struct,
// since the store sits on the data plane's hot read path (no mutex
// acquired by GetConfig).
package snapshot

import (
	"sync/atomic"

	"github.com/gatewayd/gatewayd/internal/forwarding"
)

// ChangeToken transitions from "fresh" to "stale" exactly once, at the
// moment a newer snapshot is published. It carries no reference back to
// its snapshot — a watcher that observes the transition calls GetConfig
// again to obtain the new one, which avoids a token <-> snapshot cycle.
type ChangeToken struct {
	stale  atomic.Bool
	notify chan struct{}
}

func newChangeToken() *ChangeToken {
	return &ChangeToken{notify: make(chan struct{})}
}

// IsStale reports whether this token has already fired.
func (t *ChangeToken) IsStale() bool {
	return t.stale.Load()
}

// Stale returns a channel that is closed exactly once, when this token
// transitions to stale. Safe to call from multiple goroutines.
func (t *ChangeToken) Stale() <-chan struct{} {
	return t.notify
}

// fire marks the token stale and wakes every watcher. Idempotent: only the
// first call has any effect, matching the "transitions ... exactly once"
// invariant.
func (t *ChangeToken) fire() {
	if t.stale.CompareAndSwap(false, true) {
		close(t.notify)
	}
}

// ConfigSnapshot is an immutable pair (Routes, Clusters) plus its
// ChangeToken. Once published, a snapshot is never mutated — every field
// here is read-only from the moment GetConfig returns it.
type ConfigSnapshot struct {
	Routes   []forwarding.Route
	Clusters []forwarding.Cluster
	token    *ChangeToken
}

// Token returns this snapshot's ChangeToken.
func (s *ConfigSnapshot) Token() *ChangeToken {
	return s.token
}

// Empty is the store's initial snapshot: no routes, no clusters. Per
// SPEC_FULL.md, an empty published snapshot is valid — the data plane
// simply matches nothing.
func Empty() *ConfigSnapshot {
	return &ConfigSnapshot{
		Routes:   []forwarding.Route{},
		Clusters: []forwarding.Cluster{},
		token:    newChangeToken(),
	}
}

// New builds a fresh, unpublished ConfigSnapshot from routes and clusters.
func New(routes []forwarding.Route, clusters []forwarding.Cluster) *ConfigSnapshot {
	return &ConfigSnapshot{
		Routes:   routes,
		Clusters: clusters,
		token:    newChangeToken(),
	}
}

// Store holds the current ConfigSnapshot and performs atomic swaps. The
// zero value is not usable — construct with NewStore.
type Store struct {
	current atomic.Pointer[ConfigSnapshot]
}

// NewStore returns a Store whose initial snapshot is Empty().
func NewStore() *Store {
	s := &Store{}
	s.current.Store(Empty())
	return s
}

// GetConfig returns the current immutable snapshot. Callers may hold the
// returned pointer indefinitely — a request in flight against it completes
// against its destinations even after a newer snapshot is published.
func (s *Store) GetConfig() *ConfigSnapshot {
	return s.current.Load()
}

// Publish atomically replaces the current snapshot with newSnap, then
// marks the previous snapshot's ChangeToken stale. This ordering guarantees
// that a reader who fetched the old snapshot and subscribed to its token
// before the swap sees the swap as a stale transition, while a reader who
// calls GetConfig after the swap gets newSnap with a still-fresh token.
func (s *Store) Publish(newSnap *ConfigSnapshot) {
	old := s.current.Swap(newSnap)
	if old != nil {
		old.token.fire()
	}
}
