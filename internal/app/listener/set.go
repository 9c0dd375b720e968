/*
Package listener implements the Active Listener Set: the keyed collection of real-time
subscription cancellation handles owned by the currently rendered view.

At most one live subscription exists per key. Attaching under a key that is already
live cancels the old subscription first. DetachAll drains the set and is called before
any new view attaches its own listeners and when the session loses its identity.

Cancellation stops future deliveries but cannot recall a callback that is already
running or queued; callbacks must check that their view is still mounted.
*/
package listener

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"dospill/internal/pkg/logx"
)

// Unsubscribe cancels one subscription. Implementations must be idempotent.
type Unsubscribe func()

// Factory opens a subscription and returns its cancellation handle.
// A Factory must not call back into the Set that invokes it.
type Factory func() (Unsubscribe, error)

// Set is the Active Listener Set. It is safe for concurrent use.
type Set struct {
	mu      sync.Mutex
	handles map[string]Unsubscribe
	logger  zerolog.Logger
}

// NewSet returns an empty set. owner tags log lines (typically the session id).
func NewSet(owner string) *Set {
	return &Set{
		handles: make(map[string]Unsubscribe),
		logger:  logx.Component("listener").With().Str("owner", owner).Logger(),
	}
}

// Attach installs the subscription produced by factory under key, cancelling any
// subscription already stored under that key. If factory fails, key is left empty.
func (s *Set) Attach(key string, factory Factory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.handles[key]; ok {
		delete(s.handles, key)
		old()
		s.logger.Debug().Str("key", key).Msg("Replaced live subscription")
	}

	unsubscribe, err := factory()
	if err != nil {
		return fmt.Errorf("attach %q: %w", key, err)
	}
	if unsubscribe == nil {
		return fmt.Errorf("attach %q: factory returned no cancellation handle", key)
	}

	s.handles[key] = unsubscribe
	return nil
}

// Detach cancels and removes the subscription under key. It reports whether one existed.
func (s *Set) Detach(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	unsubscribe, ok := s.handles[key]
	if !ok {
		return false
	}
	delete(s.handles, key)
	unsubscribe()
	return true
}

// DetachAll cancels every stored subscription and empties the set.
// It returns how many were cancelled; calling it on an empty set is a no-op.
func (s *Set) DetachAll() int {
	s.mu.Lock()
	handles := s.handles
	s.handles = make(map[string]Unsubscribe)
	s.mu.Unlock()

	for _, unsubscribe := range handles {
		unsubscribe()
	}

	if n := len(handles); n > 0 {
		s.logger.Debug().Int("count", n).Msg("Detached all subscriptions")
	}
	return len(handles)
}

// Len returns the number of live subscriptions.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Has reports whether key holds a live subscription.
func (s *Set) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[key]
	return ok
}

// Keys returns the live keys in sorted order.
func (s *Set) Keys() []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.handles))
	for k := range s.handles {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	sort.Strings(keys)
	return keys
}
