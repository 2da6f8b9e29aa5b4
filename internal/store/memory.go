package store

import (
	"bytes"
	"sort"
	"sync"
)

// memStore is an in-memory KVStore used by tests and the local-dev
// environment, mirroring the teacher's in-memory state fixture used in
// core/authority_penalty_test.go's memState.
type memStore struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMemoryFactory returns a Factory producing independent in-memory
// stores per user.
func NewMemoryFactory() Factory {
	return func(user string) (KVStore, error) {
		return &memStore{m: make(map[string][]byte)}, nil
	}
}

func (s *memStore) Set(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.m[string(key)] = cp
	return nil
}

func (s *memStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[string(key)]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (s *memStore) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, string(key))
	return nil
}

func (s *memStore) Has(key []byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.m[string(key)]
	return ok, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) Iterator(start, end []byte) Iterator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([][]byte, 0, len(s.m))
	for k := range s.m {
		kb := []byte(k)
		if start != nil && bytes.Compare(kb, start) < 0 {
			continue
		}
		if end != nil && bytes.Compare(kb, end) >= 0 {
			continue
		}
		keys = append(keys, kb)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	vals := make([][]byte, len(keys))
	for i, k := range keys {
		vals[i] = s.m[string(k)]
	}
	return &memIterator{keys: keys, vals: vals, idx: -1}
}

type memIterator struct {
	keys [][]byte
	vals [][]byte
	idx  int
}

func (it *memIterator) Next() bool {
	it.idx++
	return it.idx < len(it.keys)
}
func (it *memIterator) Key() []byte   { return it.keys[it.idx] }
func (it *memIterator) Value() []byte { return it.vals[it.idx] }
func (it *memIterator) Error() error  { return nil }
func (it *memIterator) Close() error  { return nil }
