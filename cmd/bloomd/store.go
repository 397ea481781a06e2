// store.go implements the sharded in-memory keyspace of named filters.
//
// Sharding Strategy
// =================
//
// Keys are spread over 256 shards by xxhash.Sum64String(key) % 256. Each
// shard has its own RWMutex guarding only the key -> *Entry map, so two
// clients touching keys in different shards never contend.
//
// Two Lock Levels
// ===============
//
// A shard lock is held only while the map is read or written. The filter
// behind an entry is guarded by the entry's own mutex, which callers take
// through Entry.With. ScalableFilter is not safe for concurrent use, so
// every read and write of a filter happens inside With.
//
//	Store
//	 ├── shard[0]   RWMutex  map[string]*Entry
//	 ├── shard[1]   RWMutex  map[string]*Entry ──► Entry{Mutex, *ScalableFilter}
//	 └── ...
//
// Deleting a key removes it from its shard. A handler that already holds the
// *Entry may finish its operation on the detached filter. The result is then
// unreachable, as if it had run just before the delete.

package main

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"scalebloom.lopezb.com/internal/bloom"
)

const shardCount = 256

// Entry is one named filter.
type Entry struct {
	mu     sync.Mutex
	filter *bloom.ScalableFilter
}

// With runs fn with exclusive access to the entry's filter.
func (e *Entry) With(fn func(sf *bloom.ScalableFilter) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return fn(e.filter)
}

type Shard struct {
	mu   sync.RWMutex
	data map[string]*Entry
}

type Store struct {
	shards [shardCount]*Shard
}

func NewStore() *Store {
	s := &Store{}
	for i := range shardCount {
		s.shards[i] = &Shard{data: make(map[string]*Entry)}
	}

	return s
}

func (s *Store) getShard(key string) *Shard {
	return s.shards[xxhash.Sum64String(key)%shardCount]
}

// Get returns the entry for key, or nil.
func (s *Store) Get(key string) *Entry {
	shard := s.getShard(key)

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	return shard.data[key]
}

// GetOrCreate returns the entry for key, creating it with newFilter when
// missing. newFilter runs under the shard lock, at most once per call.
func (s *Store) GetOrCreate(key string, newFilter func() (*bloom.ScalableFilter, error)) (*Entry, error) {
	if e := s.Get(key); e != nil {
		return e, nil
	}

	shard := s.getShard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	// Another client may have created it between the two locks.
	if e, ok := shard.data[key]; ok {
		return e, nil
	}

	sf, err := newFilter()
	if err != nil {
		return nil, err
	}

	e := &Entry{filter: sf}
	shard.data[key] = e

	return e, nil
}

// Create stores sf under key. It returns false, leaving the store unchanged,
// if key already exists.
func (s *Store) Create(key string, sf *bloom.ScalableFilter) bool {
	shard := s.getShard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, ok := shard.data[key]; ok {
		return false
	}

	shard.data[key] = &Entry{filter: sf}
	return true
}

// Delete removes key and reports whether it existed.
func (s *Store) Delete(key string) bool {
	shard := s.getShard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, ok := shard.data[key]; !ok {
		return false
	}

	delete(shard.data, key)
	return true
}

// Len returns the number of keys.
func (s *Store) Len() int {
	n := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		n += len(shard.data)
		shard.mu.RUnlock()
	}

	return n
}

// Range calls fn for every entry. Each shard is snapshotted under its read
// lock and fn runs after the lock is released, so fn may lock the entry.
func (s *Store) Range(fn func(key string, e *Entry)) {
	type pair struct {
		key   string
		entry *Entry
	}

	var batch []pair

	for _, shard := range s.shards {
		batch = batch[:0]

		shard.mu.RLock()
		for k, e := range shard.data {
			batch = append(batch, pair{k, e})
		}
		shard.mu.RUnlock()

		for _, p := range batch {
			fn(p.key, p.entry)
		}
	}
}
