// Package store holds the canonical in-memory collections the console reads.
// All mutation flows through the feed reconciler or the deactivation write-back,
// both of which replace whole entity snapshots (last writer wins per id).
package store

import (
	"sort"
	"sync"

	"github.com/studio-ops/console/services/console-service/internal/model"
)

// Collection is an id-keyed set of entity snapshots. Every operation is total:
// upserting an existing id replaces all fields, deleting a missing id is a no-op.
type Collection[T any] struct {
	mu    sync.RWMutex
	items map[string]T
	id    func(T) string
}

func NewCollection[T any](id func(T) string) *Collection[T] {
	return &Collection[T]{
		items: map[string]T{},
		id:    id,
	}
}

// Load replaces the full collection. Used on initial load and resync.
func (c *Collection[T]) Load(entities []T) {
	next := make(map[string]T, len(entities))
	for _, e := range entities {
		next[c.id(e)] = e
	}
	c.mu.Lock()
	c.items = next
	c.mu.Unlock()
}

func (c *Collection[T]) Upsert(entity T) {
	c.mu.Lock()
	c.items[c.id(entity)] = entity
	c.mu.Unlock()
}

func (c *Collection[T]) Delete(id string) {
	c.mu.Lock()
	delete(c.items, id)
	c.mu.Unlock()
}

func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[id]
	return e, ok
}

// All returns a snapshot slice ordered by id so repeated reads are deterministic.
func (c *Collection[T]) All() []T {
	c.mu.RLock()
	ids := make([]string, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.items[id])
	}
	c.mu.RUnlock()
	return out
}

func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Store bundles the four synchronized collections. Version increments on every
// applied change so view layers can cheaply detect that recomputation is needed.
type Store struct {
	Members      *Collection[model.Member]
	Trainers     *Collection[model.Trainer]
	Services     *Collection[model.Service]
	Appointments *Collection[model.Appointment]

	mu       sync.Mutex
	version  uint64
	stale    bool
	onChange func()
}

func New() *Store {
	return &Store{
		Members:      NewCollection(func(m model.Member) string { return m.ID }),
		Trainers:     NewCollection(func(t model.Trainer) string { return t.ID }),
		Services:     NewCollection(func(s model.Service) string { return s.ID }),
		Appointments: NewCollection(func(a model.Appointment) string { return a.ID }),
	}
}

// OnChange registers a hook invoked after every applied change. At most one hook;
// it must not block.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// MarkChanged bumps the change version and fires the change hook.
func (s *Store) MarkChanged() {
	s.mu.Lock()
	s.version++
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// SetStale flags the store as behind the feed (set when the subscription drops,
// cleared when a full resync completes). Contents are never discarded while stale.
func (s *Store) SetStale(stale bool) {
	s.mu.Lock()
	s.stale = stale
	s.mu.Unlock()
}

func (s *Store) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}
