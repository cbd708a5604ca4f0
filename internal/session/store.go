package session

import (
	"errors"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// ErrNotFound is returned when no live session has the requested id.
var ErrNotFound = errors.New("session: not found")

// DefaultIdleTimeout ends a call that has been silent for this long.
const DefaultIdleTimeout = 30 * time.Minute

type entry struct {
	mu    sync.Mutex
	state *State
}

// Store tracks live calls. Sessions that see no traffic for the idle timeout
// are dropped. Turns of the same session are serialised; distinct sessions
// proceed independently.
type Store struct {
	mu    sync.Mutex
	items *cache.Cache
	now   func() time.Time

	// onChange receives +1 when a session starts and -1 when it ends.
	onChange func(delta int64)
}

// StoreOption configures a [Store].
type StoreOption func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithLifecycle registers fn to observe session starts (+1) and ends (-1),
// whether by Delete or by idle expiry.
func WithLifecycle(fn func(delta int64)) StoreOption {
	return func(s *Store) { s.onChange = fn }
}

// NewStore returns a Store whose sessions expire after idle without use. A
// non-positive idle selects [DefaultIdleTimeout].
func NewStore(idle time.Duration, opts ...StoreOption) *Store {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	s := &Store{
		items: cache.New(idle, idle/2),
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.onChange != nil {
		s.items.OnEvicted(func(string, any) { s.onChange(-1) })
	}
	return s
}

// Acquire locks the session id, creating it when absent, and returns its
// state together with the function that releases the lock. The caller may
// mutate the state until it calls release.
func (s *Store) Acquire(id string) (st *State, release func()) {
	s.mu.Lock()
	var e *entry
	if v, ok := s.items.Get(id); ok {
		e = v.(*entry)
	} else {
		e = &entry{state: New(id, s.now())}
		if s.onChange != nil {
			s.onChange(1)
		}
	}
	// refresh the idle timer on every turn
	s.items.Set(id, e, cache.DefaultExpiration)
	s.mu.Unlock()

	e.mu.Lock()
	return e.state, e.mu.Unlock
}

// Get returns a copy of the session state.
func (s *Store) Get(id string) (State, error) {
	v, ok := s.items.Get(id)
	if !ok {
		return State{}, ErrNotFound
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone(), nil
}

// Delete ends the session. Deleting an unknown id returns [ErrNotFound].
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items.Get(id); !ok {
		return ErrNotFound
	}
	s.items.Delete(id)
	return nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	return s.items.ItemCount()
}
