package dht

import (
	"context"

	"github.com/sirupsen/logrus"
)

// RemoveContact resolves c's bucket index, removes it, saves the bucket,
// and emits Drop.
func (r *Router) RemoveContact(ctx context.Context, c *Contact) error {
	index := BucketIndex(r.self.NodeID, c.NodeID)

	lock := r.bucketLock(index)
	lock.Lock()
	defer lock.Unlock()

	bucket, err := r.table.GetBucket(ctx, index)
	if err != nil {
		return err
	}
	if err := bucket.Load(ctx); err != nil {
		return err
	}

	if err := bucket.Remove(c.NodeID); err != nil {
		if err == ErrNotPresent {
			return nil
		}
		return err
	}
	if err := bucket.Save(ctx); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Router.RemoveContact",
		"contact":  c.NodeID.String(),
		"bucket":   index,
	}).Debug("contact removed")
	r.events.OnDrop(c)
	r.metrics.IncEviction()
	r.metrics.SetBucketSize(index, bucket.Len())
	return nil
}

// RefreshBucket issues a FIND_NODE lookup keyed by a random identifier
// that naturally falls into bucket i. Like every Lookup key, that
// identifier is hashed through CreateID, so the lookup converges on
// CreateID(identifier), which in general lies outside bucket i.
func (r *Router) RefreshBucket(ctx context.Context, i int) (*LookupResult, error) {
	target := RandomIDInBucket(r.self.NodeID, i)
	return r.Lookup(ctx, LookupNode, target[:])
}

// RefreshBucketsBeyondClosest runs RefreshBucket for every populated
// bucket index strictly greater than the minimum populated index.
// Errors from individual refreshes are logged and otherwise ignored,
// since a refresh is best-effort maintenance, not a correctness
// requirement of any single lookup.
func (r *Router) RefreshBucketsBeyondClosest(ctx context.Context) error {
	indexes, err := r.table.Indexes(ctx)
	if err != nil {
		return err
	}
	if len(indexes) == 0 {
		return nil
	}
	minIndex := indexes[0]
	for _, idx := range indexes {
		if idx <= minIndex {
			continue
		}
		if _, err := r.RefreshBucket(ctx, idx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Router.RefreshBucketsBeyondClosest",
				"bucket":   idx,
				"error":    err.Error(),
			}).Warn("bucket refresh failed")
		}
	}
	return nil
}
