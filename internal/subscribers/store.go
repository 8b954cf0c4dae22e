// Package subscribers tracks which chats receive the daily challenge.
package subscribers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"leetbot/internal/metrics"
	"leetbot/internal/storage"
	"leetbot/pkg/logx"
)

// ErrStatic is returned when removing a chat that is configured as a
// permanent recipient.
var ErrStatic = errors.New("chat is a configured recipient")

// PersistError wraps a failed backend write. The in-memory set stays
// authoritative until the next successful save.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string { return "persist subscribers: " + e.Err.Error() }
func (e *PersistError) Unwrap() error { return e.Err }

type Option func(*Store)

func WithLogger(log logx.Logger) Option { return func(s *Store) { s.log = log } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Store) { s.metrics = m } }

// WithStatic seeds chats that are always subscribed (single-recipient
// deployments configure their target chat this way).
func WithStatic(ids ...int64) Option {
	return func(s *Store) {
		for _, id := range ids {
			s.static[id] = struct{}{}
		}
	}
}

// Store is the subscriber set.
//
// Members are the subscribed chats in set plus the static chats. Only set is
// persisted, so dropping a static chat from the configuration unsubscribes it.
//
// mu guards the set and is held only for in-memory work. Every mutation
// bumps version and copies a snapshot under mu; the backend write happens
// outside mu. saveMu orders backend writes and drops snapshots older than
// the one already persisted, so interleaved saves converge on the newest set.
type Store struct {
	log     logx.Logger
	backend storage.Backend
	metrics *metrics.Metrics

	mu      sync.Mutex
	set     map[int64]struct{}
	static  map[int64]struct{}
	version uint64

	saveMu    sync.Mutex
	persisted uint64
}

func New(backend storage.Backend, opts ...Option) *Store {
	if backend == nil {
		backend = storage.Memory{}
	}
	s := &Store{
		backend: backend,
		set:     map[int64]struct{}{},
		static:  map[int64]struct{}{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

// Load replaces the in-memory set with the stored one plus static chats.
// It never fails: missing data is an empty set, and unreadable or corrupt
// data is logged and treated as an empty set.
func (s *Store) Load(ctx context.Context) []int64 {
	ids, err := s.backend.Load(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrCorrupt) {
			s.log.Warn("subscriber data corrupt; starting empty", logx.Err(err))
		} else {
			s.log.Warn("subscriber load failed; starting empty", logx.Err(err))
		}
		ids = nil
	}

	s.mu.Lock()
	s.set = make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		s.set[id] = struct{}{}
	}
	snap := s.membersLocked()
	s.mu.Unlock()

	s.metrics.SetSubscribers(len(snap))
	s.log.Info("subscribers loaded", logx.Int("count", len(snap)), logx.Int("stored", len(ids)))
	return snap
}

// Add subscribes id and persists the set. added is false when id was
// already a member; the set is persisted either way.
func (s *Store) Add(ctx context.Context, id int64) (added bool, err error) {
	s.mu.Lock()
	if !s.containsLocked(id) {
		s.set[id] = struct{}{}
		s.version++
		added = true
	}
	v, snap, n := s.version, s.storedLocked(), s.lenLocked()
	s.mu.Unlock()

	s.metrics.SetSubscribers(n)
	return added, s.persist(ctx, v, snap)
}

// Remove unsubscribes id and persists the set.
func (s *Store) Remove(ctx context.Context, id int64) (removed bool, err error) {
	s.mu.Lock()
	if _, ok := s.static[id]; ok {
		s.mu.Unlock()
		return false, ErrStatic
	}
	if _, ok := s.set[id]; ok {
		delete(s.set, id)
		s.version++
		removed = true
	}
	v, snap, n := s.version, s.storedLocked(), s.lenLocked()
	s.mu.Unlock()

	s.metrics.SetSubscribers(n)
	return removed, s.persist(ctx, v, snap)
}

// Save persists the current set.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	v, snap := s.version, s.storedLocked()
	s.mu.Unlock()
	return s.persist(ctx, v, snap)
}

func (s *Store) Contains(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.containsLocked(id)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lenLocked()
}

// Snapshot returns the members at a single point in time, sorted.
func (s *Store) Snapshot() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.membersLocked()
}

func (s *Store) containsLocked(id int64) bool {
	if _, ok := s.static[id]; ok {
		return true
	}
	_, ok := s.set[id]
	return ok
}

func (s *Store) lenLocked() int {
	n := len(s.set)
	for id := range s.static {
		if _, ok := s.set[id]; !ok {
			n++
		}
	}
	return n
}

// membersLocked returns subscribed and static chats.
func (s *Store) membersLocked() []int64 {
	out := make([]int64, 0, len(s.set)+len(s.static))
	for id := range s.set {
		out = append(out, id)
	}
	for id := range s.static {
		if _, ok := s.set[id]; !ok {
			out = append(out, id)
		}
	}
	return sortIDs(out)
}

// storedLocked returns the chats written to the backend.
func (s *Store) storedLocked() []int64 {
	out := make([]int64, 0, len(s.set))
	for id := range s.set {
		out = append(out, id)
	}
	return sortIDs(out)
}

func sortIDs(ids []int64) []int64 {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Store) persist(ctx context.Context, v uint64, snap []int64) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if v < s.persisted {
		s.metrics.ObservePersist("skipped")
		s.log.Debug("subscriber save skipped (newer snapshot already stored)", logx.Uint64("version", v), logx.Uint64("persisted", s.persisted))
		return nil
	}
	if err := s.backend.Save(ctx, snap); err != nil {
		s.metrics.ObservePersist("error")
		s.log.Error("subscriber save failed", logx.Uint64("version", v), logx.Int("count", len(snap)), logx.Err(err))
		return &PersistError{Err: fmt.Errorf("version %d: %w", v, err)}
	}
	s.persisted = v
	s.metrics.ObservePersist("ok")
	s.log.Debug("subscribers saved", logx.Uint64("version", v), logx.Int("count", len(snap)))
	return nil
}

// Close releases the backend.
func (s *Store) Close() error { return s.backend.Close() }
