// Package cache is the identity-mapped entity store for one LMS session.
// Records are keyed by (kind, id); list results remember their order as a
// key sequence so cached listings replay byte-for-byte. Concurrent fetches
// for the same key are coalesced: late callers attach to the in-flight
// request instead of issuing their own.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ewhitmore/lmsx/internal/domain"
)

// Key addresses one entity record
type Key struct {
	Kind domain.Kind
	ID   int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Kind, k.ID)
}

// FetchFunc produces the records for a list key on cache miss
type FetchFunc func(ctx context.Context) ([]domain.Entity, error)

// Store holds normalized entity records for the lifetime of a connection.
// Eviction is manual: explicit invalidation or a full clear on disconnect.
type Store struct {
	logger *slog.Logger

	mu       sync.RWMutex
	entities map[Key]domain.Entity
	lists    map[string][]Key

	group singleflight.Group
}

// New creates an empty store
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:   logger,
		entities: make(map[Key]domain.Entity),
		lists:    make(map[string][]Key),
	}
}

// Get returns the cached record for a key, if present.
func (s *Store) Get(kind domain.Kind, id int64) (domain.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[Key{Kind: kind, ID: id}]
	return e, ok
}

// PutMany upserts a batch of records. An existing id is refreshed in place;
// pointers already handed out by the tree keep observing the same identity.
func (s *Store) PutMany(records []domain.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.entities[Key{Kind: rec.EntityKind(), ID: rec.EntityID()}] = rec
	}
}

// GetOrFetchList returns the cached record sequence for listKey, fetching
// and storing it on miss. Concurrent callers for the same listKey share a
// single fetch.
func (s *Store) GetOrFetchList(ctx context.Context, listKey string, fetch FetchFunc) ([]domain.Entity, error) {
	if cached, ok := s.resolveList(listKey); ok {
		s.logger.Debug("cache hit", "key", listKey)
		return cached, nil
	}

	result, err, shared := s.group.Do(listKey, func() (interface{}, error) {
		// Re-check under the flight: a racing caller may have filled the
		// list between our miss and winning the flight.
		if cached, ok := s.resolveList(listKey); ok {
			return cached, nil
		}

		records, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		s.storeList(listKey, records)
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("coalesced fetch", "key", listKey)
	}

	return result.([]domain.Entity), nil
}

// GetOrFetch returns one record, fetching on miss. Single-record fetches
// coalesce on the entity key.
func (s *Store) GetOrFetch(ctx context.Context, kind domain.Kind, id int64, fetch func(ctx context.Context) (domain.Entity, error)) (domain.Entity, error) {
	if e, ok := s.Get(kind, id); ok {
		return e, nil
	}

	key := Key{Kind: kind, ID: id}
	result, err, _ := s.group.Do(key.String(), func() (interface{}, error) {
		if e, ok := s.Get(kind, id); ok {
			return e, nil
		}
		e, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		s.PutMany([]domain.Entity{e})
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(domain.Entity), nil
}

// PutList stores a listing and its records in one shot, for callers whose
// single fetch yields several listings (a course's contents fill the
// section list and every per-section module list).
func (s *Store) PutList(listKey string, records []domain.Entity) {
	s.storeList(listKey, records)
}

// Invalidate evicts one record and every cached list that contains it, so
// the next listing re-fetches.
func (s *Store) Invalidate(kind domain.Kind, id int64) {
	key := Key{Kind: kind, ID: id}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entities, key)
	for listKey, keys := range s.lists {
		for _, k := range keys {
			if k == key {
				delete(s.lists, listKey)
				break
			}
		}
	}
}

// InvalidateList drops one cached listing; its records stay resident until
// individually invalidated or refreshed in place.
func (s *Store) InvalidateList(listKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, listKey)
}

// Clear wipes everything. Called on disconnect.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = make(map[Key]domain.Entity)
	s.lists = make(map[string][]Key)
	s.logger.Debug("cache cleared")
}

// Len reports the resident record count, for logs and tests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// resolveList replays a cached listing in its recorded order. A list whose
// record was individually evicted is treated as a miss.
func (s *Store) resolveList(listKey string) ([]domain.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys, ok := s.lists[listKey]
	if !ok {
		return nil, false
	}

	records := make([]domain.Entity, 0, len(keys))
	for _, key := range keys {
		e, ok := s.entities[key]
		if !ok {
			return nil, false
		}
		records = append(records, e)
	}
	return records, true
}

func (s *Store) storeList(listKey string, records []domain.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]Key, len(records))
	for i, rec := range records {
		key := Key{Kind: rec.EntityKind(), ID: rec.EntityID()}
		s.entities[key] = rec
		keys[i] = key
	}
	s.lists[listKey] = keys
}
