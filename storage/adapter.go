// Package storage defines the opaque key/value persistence contract used
// by the dht package's RoutingTable and Bucket, plus two implementations:
// memstore (an in-process map, used by default and in every test) and
// boltstore (a go.etcd.io/bbolt-backed adapter for a durable single-process
// node).
//
// The dht package treats stored values as opaque byte strings; it is the
// sole producer and consumer of the JSON-shaped payloads it writes under
// its own key namespaces (ROUTING-TABLE, BUCKET-<i>, and one entry per
// node id).
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist. Callers
// (notably dht.RoutingTable) treat a missing ROUTING-TABLE snapshot as an
// empty table, never as an error.
var ErrNotFound = errors.New("storage: key not found")

// Adapter is the storage collaborator the dht package depends on, as a
// proper interface satisfied by memstore.Store and boltstore.Store.
type Adapter interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key []byte) ([]byte, error)
	// Put upserts the value stored under key.
	Put(ctx context.Context, key, value []byte) error
	// Del removes key; deleting a missing key is not an error.
	Del(ctx context.Context, key []byte) error
	// CreateReadStream returns a Stream enumerating every key with the
	// given prefix. The dht package's core operations never call this
	// directly; it exists so the interface is honestly implementable by
	// both adapters for maintenance tooling (e.g. a routing-table dump
	// command).
	CreateReadStream(ctx context.Context, prefix []byte) (Stream, error)
}

// Entry is one key/value pair yielded by a Stream.
type Entry struct {
	Key   []byte
	Value []byte
}

// Stream enumerates key/value pairs in key order. Next returns
// io.EOF once exhausted.
type Stream interface {
	Next() (Entry, error)
	Close() error
}
