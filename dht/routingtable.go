package dht

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/kadcore/storage"
)

const routingTableKey = "ROUTING-TABLE"

// RoutingTable is a sparse mapping from bucket index to Bucket, plus the
// content-addressed Contact store. It lazily materializes: the first
// accessor call reads the ROUTING-TABLE snapshot and the BUCKETS index list
// and reconstructs a Bucket per index found in either. An absent or corrupt
// snapshot is treated as an empty table, never as an error.
type RoutingTable struct {
	selfID  ID
	k       int
	adapter storage.Adapter

	mu      sync.RWMutex
	loaded  bool
	buckets map[int]*Bucket
}

// NewRoutingTable creates a RoutingTable for selfID, persisted through
// adapter. k is the per-bucket capacity (DefaultK if <= 0).
func NewRoutingTable(selfID ID, k int, adapter storage.Adapter) *RoutingTable {
	if k <= 0 {
		k = DefaultK
	}
	return &RoutingTable{
		selfID:  selfID,
		k:       k,
		adapter: adapter,
		buckets: make(map[int]*Bucket),
	}
}

func (rt *RoutingTable) ensureLoaded(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.loaded {
		return nil
	}
	rt.loaded = true

	// Bucket.Save records every saved index under BUCKETS, while the
	// ROUTING-TABLE snapshot is only rewritten when a bucket is created or
	// the table is emptied; load the buckets listed there as well.
	if raw, err := rt.adapter.Get(ctx, []byte(bucketIndexListKey)); err == nil {
		var list []int
		if json.Unmarshal(raw, &list) == nil {
			for _, idx := range list {
				b := NewBucket(idx, rt.k, rt.adapter)
				if b.Load(ctx) == nil {
					rt.buckets[idx] = b
				}
			}
		}
	}

	raw, err := rt.adapter.Get(ctx, []byte(routingTableKey))
	if err != nil {
		// Absent snapshot: empty table. Not an error.
		return nil
	}
	var snap map[string][]string
	if err := json.Unmarshal(raw, &snap); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "RoutingTable.ensureLoaded",
			"error":    err.Error(),
		}).Warn("corrupt routing table snapshot, treating as empty")
		return nil
	}

	for idxStr := range snap {
		var idx int
		if _, err := fmt.Sscanf(idxStr, "%d", &idx); err != nil {
			continue
		}
		b := NewBucket(idx, rt.k, rt.adapter)
		if err := b.Load(ctx); err != nil {
			continue
		}
		rt.buckets[idx] = b
	}
	return nil
}

func (rt *RoutingTable) persistSnapshot(ctx context.Context) error {
	rt.mu.RLock()
	snap := make(map[string][]string, len(rt.buckets))
	for idx, b := range rt.buckets {
		if b.Len() == 0 {
			continue
		}
		ids := make([]string, 0, b.Len())
		for _, c := range b.List() {
			ids = append(ids, c.NodeID.Hex())
		}
		snap[fmt.Sprintf("%d", idx)] = ids
	}
	rt.mu.RUnlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("dht: marshal routing table snapshot: %w", err)
	}
	if err := rt.adapter.Put(ctx, []byte(routingTableKey), raw); err != nil {
		return fmt.Errorf("dht: save routing table snapshot: %w", err)
	}
	return nil
}

// Size returns the sum of every bucket's size.
func (rt *RoutingTable) Size(ctx context.Context) (int, error) {
	if err := rt.ensureLoaded(ctx); err != nil {
		return 0, err
	}
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	total := 0
	for _, b := range rt.buckets {
		total += b.Len()
	}
	return total, nil
}

// Indexes returns the set of populated bucket indices, ascending.
func (rt *RoutingTable) Indexes(ctx context.Context) ([]int, error) {
	if err := rt.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]int, 0, len(rt.buckets))
	for idx, b := range rt.buckets {
		if b.Len() > 0 {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out, nil
}

// Empty drops every in-memory bucket and persists an empty snapshot.
func (rt *RoutingTable) Empty(ctx context.Context) error {
	if err := rt.ensureLoaded(ctx); err != nil {
		return err
	}
	rt.mu.Lock()
	buckets := rt.buckets
	rt.buckets = make(map[int]*Bucket)
	rt.mu.Unlock()

	for _, b := range buckets {
		if err := b.Empty(ctx); err != nil {
			return err
		}
	}
	return rt.persistSnapshot(ctx)
}

// GetBucket returns the bucket at index i, creating and persisting an
// empty one if necessary.
func (rt *RoutingTable) GetBucket(ctx context.Context, i int) (*Bucket, error) {
	if i < 0 || i >= IDBits {
		return nil, fmt.Errorf("dht: bucket index %d out of [0,%d): %w", i, IDBits, ErrOutOfRange)
	}
	if err := rt.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	rt.mu.Lock()
	b, ok := rt.buckets[i]
	if ok {
		rt.mu.Unlock()
		return b, nil
	}
	b = NewBucket(i, rt.k, rt.adapter)
	rt.buckets[i] = b
	rt.mu.Unlock()

	if err := b.Save(ctx); err != nil {
		return nil, err
	}
	if err := rt.persistSnapshot(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// HasBucket succeeds iff bucket i exists and is non-empty.
func (rt *RoutingTable) HasBucket(ctx context.Context, i int) (bool, error) {
	if err := rt.ensureLoaded(ctx); err != nil {
		return false, err
	}
	rt.mu.RLock()
	b, ok := rt.buckets[i]
	rt.mu.RUnlock()
	return ok && b.Len() > 0, nil
}

// GetContact deserializes the Contact record keyed by id from the store,
// failing with ErrNotPresent if absent or undecodable.
func (rt *RoutingTable) GetContact(ctx context.Context, id ID) (*Contact, error) {
	raw, err := rt.adapter.Get(ctx, []byte(id.Hex()))
	if err != nil {
		return nil, fmt.Errorf("dht: get contact %s: %w", id, ErrNotPresent)
	}
	var rec contactRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("dht: decode contact %s: %w", id, ErrNotPresent)
	}
	c, err := rec.toContact()
	if err != nil {
		return nil, fmt.Errorf("dht: decode contact %s: %w", id, ErrNotPresent)
	}
	return c, nil
}

// SetContact upserts the Contact record keyed by its NodeID.
func (rt *RoutingTable) SetContact(ctx context.Context, c *Contact) error {
	raw, err := json.Marshal(newContactRecord(c))
	if err != nil {
		return fmt.Errorf("dht: marshal contact %s: %w", c.NodeID, err)
	}
	if err := rt.adapter.Put(ctx, []byte(c.NodeID.Hex()), raw); err != nil {
		return fmt.Errorf("dht: set contact %s: %w", c.NodeID, err)
	}
	return nil
}

// InTable succeeds iff some bucket contains contact's NodeID.
func (rt *RoutingTable) InTable(ctx context.Context, contact *Contact) (bool, error) {
	if err := rt.ensureLoaded(ctx); err != nil {
		return false, err
	}
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for _, b := range rt.buckets {
		if b.Has(contact.NodeID) {
			return true, nil
		}
	}
	return false, nil
}
