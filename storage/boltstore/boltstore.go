// Package boltstore implements storage.Adapter on top of go.etcd.io/bbolt,
// giving a dht.RoutingTable durable, single-process persistence. The
// adapter role and bucket layout are grounded on the storj-storj DHT's use
// of a boltdb-backed storage.KeyValueStore for exactly the same purpose
// (one physical bucket holding routing-table/bucket snapshots and peer
// records); bbolt is the maintained successor to that library.
package boltstore

import (
	"context"
	"fmt"
	"io"

	"go.etcd.io/bbolt"

	"github.com/opd-ai/kadcore/storage"
)

// defaultBucketName is the single bbolt bucket all records live in; the
// dht package's own key namespacing (ROUTING-TABLE, BUCKET-<i>, per-node
// records) already keeps keys disjoint, so a second layer of bbolt buckets
// would add nothing.
var defaultBucketName = []byte("kadcore")

// Store is a bbolt-backed storage.Adapter.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) a bbolt database at path and returns
// a Store backed by it. Callers must Close the Store when done.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(defaultBucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltstore: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ storage.Adapter = (*Store)(nil)

// Get implements storage.Adapter.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(defaultBucketName).Get(key)
		if v == nil {
			return storage.ErrNotFound
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Put implements storage.Adapter.
func (s *Store) Put(ctx context.Context, key, value []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(defaultBucketName).Put(key, value)
	})
	if err != nil {
		return fmt.Errorf("boltstore: put: %w", err)
	}
	return nil
}

// Del implements storage.Adapter.
func (s *Store) Del(ctx context.Context, key []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(defaultBucketName).Delete(key)
	})
	if err != nil {
		return fmt.Errorf("boltstore: del: %w", err)
	}
	return nil
}

// CreateReadStream implements storage.Adapter using a bbolt cursor seeked
// to prefix; the whole matching range is materialized up front because
// bbolt cursors are only valid for the lifetime of their transaction and
// the dht package's contract doesn't scope Stream to a context deadline.
func (s *Store) CreateReadStream(ctx context.Context, prefix []byte) (storage.Stream, error) {
	var entries []storage.Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(defaultBucketName).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			key := make([]byte, len(k))
			copy(key, k)
			val := make([]byte, len(v))
			copy(val, v)
			entries = append(entries, storage.Entry{Key: key, Value: val})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: stream: %w", err)
	}
	return &boltStream{entries: entries}, nil
}

func hasPrefix(k, prefix []byte) bool {
	if len(prefix) == 0 {
		return true
	}
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

type boltStream struct {
	entries []storage.Entry
	pos     int
}

func (b *boltStream) Next() (storage.Entry, error) {
	if b.pos >= len(b.entries) {
		return storage.Entry{}, io.EOF
	}
	e := b.entries[b.pos]
	b.pos++
	return e, nil
}

func (b *boltStream) Close() error { return nil }
