package dht

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// UpdateContact enforces Kademlia's LRU-with-liveness-probe eviction
// policy for an observed contact:
//
//  1. Stamp LastSeen and persist the Contact record.
//  2. Resolve the owning bucket index and load it.
//  3. Already present: remove, re-add (lands at the tail since LastSeen
//     was just bumped), save, emit Shift.
//  4. Absent, bucket not full: add at the tail, save, emit Add.
//  5. Absent, bucket full: PING the stalest (head) contact. If it
//     responds, the bucket is reloaded (it may have changed during the
//     RTT) and the current head is moved to the tail with a fresh
//     LastSeen; the new contact is discarded with no event. If it fails, the current stalest entry is
//     dropped (emit Drop) and the new contact takes its place (emit Add).
func (r *Router) UpdateContact(ctx context.Context, contact *Contact) error {
	contact.SeenWithTimeProvider(r.tp)
	if err := r.table.SetContact(ctx, contact); err != nil {
		return err
	}

	index := BucketIndex(r.self.NodeID, contact.NodeID)
	if index < 0 || index >= IDBits {
		return fmt.Errorf("dht: bucket index %d out of range for contact %s", index, contact.NodeID)
	}

	lock := r.bucketLock(index)
	lock.Lock()

	bucket, err := r.table.GetBucket(ctx, index)
	if err != nil {
		lock.Unlock()
		return err
	}
	if err := bucket.Load(ctx); err != nil {
		lock.Unlock()
		return err
	}
	if err := bucket.LoadContacts(ctx); err != nil {
		lock.Unlock()
		return err
	}
	bucket.cacheContact(contact)

	log := logrus.WithFields(logrus.Fields{
		"function": "Router.UpdateContact",
		"contact":  contact.NodeID.String(),
		"bucket":   index,
	})

	if bucket.Has(contact.NodeID) {
		defer lock.Unlock()
		return r.shiftContact(ctx, bucket, contact, log)
	}

	if bucket.Len() < r.k {
		defer lock.Unlock()
		return r.addContact(ctx, bucket, contact, log)
	}

	// The full-bucket probe needs to issue a PING and wait out its RTT; it
	// releases the bucket lock for that wait so unrelated updates against
	// this bucket don't queue up behind one slow probe, and so concurrent
	// probes racing for the same stale head can collapse through
	// probeGroup instead of each serializing on the lock to ping in turn.
	lock.Unlock()
	return r.probeAndReplace(ctx, index, contact, log)
}

func (r *Router) shiftContact(ctx context.Context, bucket *Bucket, contact *Contact, log *logrus.Entry) error {
	if err := bucket.Remove(contact.NodeID); err != nil {
		return err
	}
	if err := bucket.Add(contact); err != nil {
		return err
	}
	if err := r.table.SetContact(ctx, contact); err != nil {
		return err
	}
	if err := bucket.Save(ctx); err != nil {
		return err
	}
	pos := bucket.IndexOf(contact)
	log.Debug("contact shifted to tail")
	r.events.OnShift(contact, bucket.Index(), pos)
	return nil
}

func (r *Router) addContact(ctx context.Context, bucket *Bucket, contact *Contact, log *logrus.Entry) error {
	if err := bucket.Add(contact); err != nil {
		return err
	}
	if err := r.table.SetContact(ctx, contact); err != nil {
		return err
	}
	if err := bucket.Save(ctx); err != nil {
		return err
	}
	pos := bucket.IndexOf(contact)
	log.Debug("contact added")
	r.events.OnAdd(contact, bucket.Index(), pos)
	r.metrics.SetBucketSize(bucket.Index(), bucket.Len())
	return nil
}

// probeAndReplace implements the full-bucket head-probe: the stalest
// entry is challenged before it is ever evicted for a newer contact. It
// re-acquires the bucket's lock itself; callers must not hold it.
func (r *Router) probeAndReplace(ctx context.Context, index int, newContact *Contact, log *logrus.Entry) error {
	lock := r.bucketLock(index)

	lock.Lock()
	bucket, err := r.table.GetBucket(ctx, index)
	if err != nil {
		lock.Unlock()
		return err
	}
	head, err := bucket.Get(0)
	if err != nil {
		lock.Unlock()
		return err
	}
	lock.Unlock()

	// Several UpdateContact calls can reach this point for the same
	// bucket concurrently, each holding a different newContact, after the
	// same stale head was observed. probeGroup collapses their PINGs into
	// one RPC keyed by (bucket, head) instead of each paying the same
	// RTT; every caller mutates the bucket under its own lock acquisition
	// below using the shared result.
	probeKey := fmt.Sprintf("%d:%s", index, head.NodeID.Hex())
	_, pingErr, _ := r.probeGroup.Do(probeKey, func() (interface{}, error) {
		_, err := r.transport.Send(ctx, head, &Message{Method: Ping, Sender: r.self})
		return nil, err
	})

	lock.Lock()
	defer lock.Unlock()

	// The head may have changed during the RTT; reload before evicting.
	bucket, err = r.table.GetBucket(ctx, index)
	if err != nil {
		return err
	}
	if err := bucket.Load(ctx); err != nil {
		return err
	}
	if err := bucket.LoadContacts(ctx); err != nil {
		return err
	}

	if pingErr == nil {
		log.WithField("head", head.NodeID.String()).Debug("stale head responded to ping, moving it to the tail")
		current, err := bucket.Get(0)
		if err != nil {
			return err
		}
		if err := bucket.Remove(current.NodeID); err != nil {
			return err
		}
		current.SeenWithTimeProvider(r.tp)
		current.Status = StatusGood
		if err := bucket.Add(current); err != nil {
			return err
		}
		if err := r.table.SetContact(ctx, current); err != nil {
			return err
		}
		if err := bucket.Save(ctx); err != nil {
			return err
		}
		// No event for the discarded new contact.
		return nil
	}

	log.WithField("head", head.NodeID.String()).Debug("stale head failed to respond, evicting")
	current, err := bucket.Get(0)
	if err != nil {
		return err
	}
	if err := bucket.Remove(current.NodeID); err != nil {
		return err
	}
	current.Status = StatusBad
	r.events.OnDrop(current)
	r.metrics.IncEviction()

	if err := bucket.Add(newContact); err != nil {
		return err
	}
	if err := r.table.SetContact(ctx, newContact); err != nil {
		return err
	}
	if err := bucket.Save(ctx); err != nil {
		return err
	}
	pos := bucket.IndexOf(newContact)
	r.events.OnAdd(newContact, bucket.Index(), pos)
	r.metrics.SetBucketSize(bucket.Index(), bucket.Len())
	return nil
}
