package connect

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// defaultAttemptTTL is how long a launched attempt may wait for its
	// callback before it is considered abandoned (window closed without a
	// message).
	defaultAttemptTTL = 5 * time.Minute

	// maxPendingPerUser caps concurrently launched windows per user. Hitting
	// the cap behaves like a blocked window: the caller falls back to the
	// direct link.
	maxPendingPerUser = 16
)

// Registry is the web deployment's Launcher. Each launch records the
// attempt under its state token; the callback handler resolves tokens back
// to attempts and delivers their completion messages. An entry whose
// deadline passes reports itself closed, which the reconciler picks up on
// its next poll.
type Registry struct {
	clock clockwork.Clock
	ttl   time.Duration

	mu      sync.Mutex
	byState map[string]*registryEntry
}

type registryEntry struct {
	attempt  *Attempt
	deadline time.Time
	closed   bool
}

var _ Launcher = (*Registry)(nil)

// RegistryOption adjusts a Registry.
type RegistryOption func(*Registry)

// WithRegistryClock substitutes the wall clock, for tests.
func WithRegistryClock(clock clockwork.Clock) RegistryOption {
	return func(r *Registry) { r.clock = clock }
}

// WithAttemptTTL overrides the abandonment deadline.
func WithAttemptTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) { r.ttl = ttl }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		clock:   clockwork.NewRealClock(),
		ttl:     defaultAttemptTTL,
		byState: make(map[string]*registryEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Launch registers the attempt and returns its handle. When the user
// already has too many pending windows it returns ErrLaunchBlocked, but the
// entry is registered regardless: the caller hands out the direct link as a
// fallback, and its state token must still resolve when the callback
// arrives. The deadline bounds blocked entries like any other.
func (r *Registry) Launch(_ context.Context, a *Attempt, _ Link) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := 0
	for _, e := range r.byState {
		if e.attempt.UserID() == a.UserID() && !e.closed {
			pending++
		}
	}

	r.byState[a.StateToken()] = &registryEntry{
		attempt:  a,
		deadline: r.clock.Now().Add(r.ttl),
	}
	h := &registryHandle{registry: r, stateToken: a.StateToken()}

	if pending >= maxPendingPerUser {
		return h, ErrLaunchBlocked
	}
	return h, nil
}

// Resolve returns the pending attempt for a state token. This is the
// identity check for callbacks: unknown or expired tokens resolve to
// nothing.
func (r *Registry) Resolve(stateToken string) (*Attempt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byState[stateToken]
	if !ok || e.closed || r.clock.Now().After(e.deadline) {
		return nil, false
	}
	return e.attempt, true
}

// Remove drops a finished attempt's entry.
func (r *Registry) Remove(stateToken string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byState, stateToken)
}

// Sweep discards entries whose attempts completed, keeping the registry
// bounded. Expired entries stay until their attempt's reconciler observes
// the closure.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for token, e := range r.byState {
		select {
		case <-e.attempt.Done():
			delete(r.byState, token)
			removed++
		default:
		}
	}
	return removed
}

type registryHandle struct {
	registry   *Registry
	stateToken string
}

// Closed reports whether the window is gone: explicitly closed, removed, or
// past its deadline with no callback.
func (h *registryHandle) Closed() bool {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()

	e, ok := h.registry.byState[h.stateToken]
	if !ok {
		return true
	}
	return e.closed || h.registry.clock.Now().After(e.deadline)
}

// Close dismisses the window.
func (h *registryHandle) Close() {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()

	if e, ok := h.registry.byState[h.stateToken]; ok {
		e.closed = true
	}
}
