package dht

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/kadcore/storage"
)

// DefaultK is the maximum number of contacts a Bucket holds. The classic
// Kademlia paper's value of 20 is used, since this package isn't tied to
// any one deployment's bucket-size tuning; see DESIGN.md for the Open
// Question this resolves.
const DefaultK = 20

func bucketKey(index int) []byte {
	return []byte(fmt.Sprintf("BUCKET-%d", index))
}

const bucketIndexListKey = "BUCKETS"

// Bucket is a bounded, ordered sequence of up to K contact ids: stalest at
// position 0, freshest at the tail. Only node ids are held directly; the
// full Contact record is resolved through the storage adapter by
// LoadContacts before any operation that needs an address or LastSeen.
type Bucket struct {
	index   int
	k       int
	adapter storage.Adapter

	mu       sync.Mutex
	order    []ID
	contacts map[ID]*Contact // populated by LoadContacts
}

// NewBucket creates an empty, unsaved bucket for the given index.
func NewBucket(index int, k int, adapter storage.Adapter) *Bucket {
	if k <= 0 {
		k = DefaultK
	}
	return &Bucket{
		index:    index,
		k:        k,
		adapter:  adapter,
		contacts: make(map[ID]*Contact),
	}
}

// Index returns the bucket's position in the routing table.
func (b *Bucket) Index() int { return b.index }

// Len returns the number of node ids currently held.
func (b *Bucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// Has reports whether id is a member of this bucket.
func (b *Bucket) Has(id ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.indexOfLocked(id) >= 0
}

// IndexOf returns contact's position in the bucket's order, or -1.
func (b *Bucket) IndexOf(contact *Contact) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.indexOfLocked(contact.NodeID)
}

func (b *Bucket) indexOfLocked(id ID) int {
	for i, existing := range b.order {
		if existing.Equal(id) {
			return i
		}
	}
	return -1
}

// Add appends contact at the tail (last-seen-ascending position). It fails
// with ErrFull if the bucket already holds k ids, or ErrDuplicate if the
// id is already present. The caller (update_contact) is expected to have
// already decided which of those two cases applies; Add still checks both
// so it is never invoked with inconsistent preconditions.
func (b *Bucket) Add(contact *Contact) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.indexOfLocked(contact.NodeID) >= 0 {
		return ErrDuplicate
	}
	if len(b.order) >= b.k {
		return ErrFull
	}
	b.order = append(b.order, contact.NodeID)
	b.contacts[contact.NodeID] = contact
	return nil
}

// Remove deletes id from the bucket, returning ErrNotPresent if absent.
func (b *Bucket) Remove(id ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.indexOfLocked(id)
	if i < 0 {
		return ErrNotPresent
	}
	b.order = append(b.order[:i], b.order[i+1:]...)
	delete(b.contacts, id)
	return nil
}

// Get resolves the contact at position pos, returning ErrOutOfRange if
// pos >= the bucket's current size.
func (b *Bucket) Get(pos int) (*Contact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if pos < 0 || pos >= len(b.order) {
		return nil, ErrOutOfRange
	}
	id := b.order[pos]
	c, ok := b.contacts[id]
	if !ok {
		return nil, fmt.Errorf("dht: bucket %d position %d not loaded: %w", b.index, pos, ErrNotPresent)
	}
	return c, nil
}

// List returns a snapshot of every cached Contact currently in the
// bucket, in stalest-first order. Contacts not yet resolved by
// LoadContacts are omitted.
func (b *Bucket) List() []*Contact {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*Contact, 0, len(b.order))
	for _, id := range b.order {
		if c, ok := b.contacts[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// cacheContact populates (or updates) the local id->Contact cache without
// touching order. Used by LoadContacts and by callers that already hold a
// resolved Contact (e.g. update_contact after RoutingTable.SetContact).
func (b *Bucket) cacheContact(c *Contact) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contacts[c.NodeID] = c
}

type bucketSnapshot struct {
	Order []string `json:"order"`
}

func idToHex(id ID) string  { return id.Hex() }
func idFromHex(s string) (ID, error) {
	var id ID
	if len(s) != IDBytes*2 {
		return id, fmt.Errorf("dht: malformed id hex %q", s)
	}
	_, err := fmt.Sscanf(s, "%x", &id)
	return id, err
}

// Save persists the bucket's order under key BUCKET-<i>, and ensures i is
// present in the BUCKETS index list. Write-through: both writes complete
// before Save returns.
func (b *Bucket) Save(ctx context.Context) error {
	b.mu.Lock()
	snap := bucketSnapshot{Order: make([]string, len(b.order))}
	for i, id := range b.order {
		snap.Order[i] = idToHex(id)
	}
	index := b.index
	b.mu.Unlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("dht: marshal bucket %d: %w", index, err)
	}
	if err := b.adapter.Put(ctx, bucketKey(index), raw); err != nil {
		return fmt.Errorf("dht: save bucket %d: %w", index, err)
	}
	if err := b.ensureIndexed(ctx); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"function": "Bucket.Save",
		"index":    index,
		"size":     len(snap.Order),
	}).Debug("bucket persisted")
	return nil
}

func (b *Bucket) ensureIndexed(ctx context.Context) error {
	raw, err := b.adapter.Get(ctx, []byte(bucketIndexListKey))
	var indexes []int
	if err == nil {
		if jsonErr := json.Unmarshal(raw, &indexes); jsonErr != nil {
			indexes = nil
		}
	} else if err != storage.ErrNotFound {
		return fmt.Errorf("dht: read bucket index list: %w", err)
	}

	for _, i := range indexes {
		if i == b.index {
			return nil
		}
	}
	indexes = append(indexes, b.index)
	raw, err = json.Marshal(indexes)
	if err != nil {
		return fmt.Errorf("dht: marshal bucket index list: %w", err)
	}
	if err := b.adapter.Put(ctx, []byte(bucketIndexListKey), raw); err != nil {
		return fmt.Errorf("dht: save bucket index list: %w", err)
	}
	return nil
}

// Load replaces the bucket's order from its BUCKET-<i> record, silently
// doing nothing if absent or undecodable: an absent snapshot means an
// empty bucket, not an error.
func (b *Bucket) Load(ctx context.Context) error {
	raw, err := b.adapter.Get(ctx, bucketKey(b.index))
	if err != nil {
		return nil // absent snapshot: empty bucket
	}
	var snap bucketSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Bucket.Load",
			"index":    b.index,
			"error":    err.Error(),
		}).Warn("corrupt bucket snapshot, treating as empty")
		return nil
	}

	order := make([]ID, 0, len(snap.Order))
	for _, hexID := range snap.Order {
		id, err := idFromHex(hexID)
		if err != nil {
			continue
		}
		order = append(order, id)
	}

	b.mu.Lock()
	b.order = order
	b.mu.Unlock()
	return nil
}

// LoadContacts populates the local id->Contact cache by reading every node
// id in Order through the adapter. A single missing contact record is
// fatal to the whole batch: if a node id appears in the bucket's order,
// its Contact record must exist in the store, and a miss means that
// invariant has already been violated.
func (b *Bucket) LoadContacts(ctx context.Context) error {
	b.mu.Lock()
	order := make([]ID, len(b.order))
	copy(order, b.order)
	b.mu.Unlock()

	for _, id := range order {
		raw, err := b.adapter.Get(ctx, []byte(id.Hex()))
		if err != nil {
			return fmt.Errorf("dht: load contact %s for bucket %d: %w", id, b.index, err)
		}
		var rec contactRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("dht: decode contact %s: %w", id, err)
		}
		c, err := rec.toContact()
		if err != nil {
			return fmt.Errorf("dht: decode contact %s: %w", id, err)
		}
		b.cacheContact(c)
	}
	return nil
}

// Empty loads the bucket, deletes every contained Contact record, and
// finally deletes the BUCKET-<i> record itself.
func (b *Bucket) Empty(ctx context.Context) error {
	if err := b.Load(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	order := make([]ID, len(b.order))
	copy(order, b.order)
	b.mu.Unlock()

	for _, id := range order {
		if err := b.adapter.Del(ctx, []byte(id.Hex())); err != nil {
			return fmt.Errorf("dht: delete contact %s: %w", id, err)
		}
	}
	if err := b.adapter.Del(ctx, bucketKey(b.index)); err != nil {
		return fmt.Errorf("dht: delete bucket %d snapshot: %w", b.index, err)
	}

	b.mu.Lock()
	b.order = nil
	b.contacts = make(map[ID]*Contact)
	b.mu.Unlock()
	return nil
}
