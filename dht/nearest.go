package dht

import "context"

// GetNearestContacts returns up to limit Contacts near hashed, excluding
// excludeID if non-nil. It uses an approximate-nearest-K algorithm: visit
// the natural bucket i0 for hashed, then spiral outward (i0+1, i0+2, ...,
// B-1, then i0-1, i0-2, ..., 0), sorting each visited bucket's own
// contents by XOR distance to hashed before appending, and stopping once
// limit entries are collected.
//
// This is approximate, not exact: there is no global sort. The natural
// bucket's contacts come first and are the closest, and the buckets below
// i0 follow in ascending distance, but contacts drawn from different
// buckets above i0 are not ordered by distance relative to each other.
func (rt *RoutingTable) GetNearestContacts(ctx context.Context, hashed ID, limit int, excludeID *ID) ([]*Contact, error) {
	if err := rt.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	i0 := 0
	if !hashed.Equal(rt.selfID) {
		i0 = BucketIndex(rt.selfID, hashed)
	}

	visitOrder := make([]int, 0, IDBits)
	visitOrder = append(visitOrder, i0)
	for i := i0 + 1; i < IDBits; i++ {
		visitOrder = append(visitOrder, i)
	}
	for i := i0 - 1; i >= 0; i-- {
		visitOrder = append(visitOrder, i)
	}

	collected := make([]*Contact, 0, limit)
	for _, idx := range visitOrder {
		if len(collected) >= limit {
			break
		}
		has, err := rt.HasBucket(ctx, idx)
		if err != nil {
			return nil, err
		}
		if !has {
			continue
		}
		b, err := rt.GetBucket(ctx, idx)
		if err != nil {
			return nil, err
		}
		if err := b.LoadContacts(ctx); err != nil {
			return nil, err
		}

		bucketContacts := b.List()
		sortByDistance(bucketContacts, hashed)

		for _, c := range bucketContacts {
			if len(collected) >= limit {
				break
			}
			if excludeID != nil && c.NodeID.Equal(*excludeID) {
				continue
			}
			collected = append(collected, c)
		}
	}
	return collected, nil
}

// sortByDistance sorts contacts by ascending XOR distance to target,
// in place, using a simple insertion sort: bucket lists are bounded by K
// (≤ a few dozen in practice), so the asymptotics of a fancier sort buy
// nothing here.
func sortByDistance(contacts []*Contact, target ID) {
	for i := 1; i < len(contacts); i++ {
		j := i
		for j > 0 && Less(Distance(contacts[j].NodeID, target), Distance(contacts[j-1].NodeID, target)) {
			contacts[j], contacts[j-1] = contacts[j-1], contacts[j]
			j--
		}
	}
}
