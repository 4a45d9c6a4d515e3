// Package memstore implements storage.Adapter as an in-process, mutex
// protected map. It is the default adapter for tests and for the
// cmd/kademlia-tool demo, and never touches disk.
package memstore

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/opd-ai/kadcore/storage"
)

// Store is an in-memory storage.Adapter. The zero value is not usable;
// construct with New.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

var _ storage.Adapter = (*Store)(nil)

// Get implements storage.Adapter.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Put implements storage.Adapter.
func (s *Store) Put(ctx context.Context, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	s.data[string(key)] = v
	return nil
}

// Del implements storage.Adapter.
func (s *Store) Del(ctx context.Context, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
	return nil
}

// CreateReadStream implements storage.Adapter with a point-in-time,
// sorted-key snapshot of every entry whose key has the given prefix.
func (s *Store) CreateReadStream(ctx context.Context, prefix []byte) (storage.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.data {
		if len(prefix) == 0 || (len(k) >= len(prefix) && k[:len(prefix)] == string(prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	entries := make([]storage.Entry, 0, len(keys))
	for _, k := range keys {
		v := make([]byte, len(s.data[k]))
		copy(v, s.data[k])
		entries = append(entries, storage.Entry{Key: []byte(k), Value: v})
	}
	return &memStream{entries: entries}, nil
}

type memStream struct {
	entries []storage.Entry
	pos     int
}

func (m *memStream) Next() (storage.Entry, error) {
	if m.pos >= len(m.entries) {
		return storage.Entry{}, io.EOF
	}
	e := m.entries[m.pos]
	m.pos++
	return e, nil
}

func (m *memStream) Close() error { return nil }
