// Package dht implements the routing and iterative lookup core of a
// Kademlia-style distributed hash table: a distance-partitioned routing
// table of k-buckets, and the ALPHA-parallel FIND_NODE / FIND_VALUE
// resolver that walks it to locate the K closest peers to an identifier or
// a value stored under a key.
//
// # Architecture
//
// Four components build on each other, leaf first:
//
//   - ID: pure identifier arithmetic (XOR distance, bucket index, ordering)
//   - Bucket: a bounded, ordered list of up to K contact ids
//   - RoutingTable: a sparse map of bucket index to Bucket, backed by a
//     storage.Adapter
//   - Router: the iterative lookup state machine, the only component that
//     talks to the Transport
//
// # Identifiers
//
// An ID is a fixed-width, big-endian byte string. IDBits controls its
// width; the default of 256 bits matches a SHA-256 key hash:
//
//	id := dht.CreateID([]byte("some-key"))
//	d := dht.Distance(selfID, id)
//	i := dht.BucketIndex(selfID, id)
//
// # Routing table and lookup
//
// A Router owns a RoutingTable and drives lookups against a Transport:
//
//	table := dht.NewRoutingTable(self.NodeID, dht.DefaultK, adapter)
//	router := dht.NewRouter(self, transport, table)
//	result, err := router.Lookup(ctx, dht.LookupNode, targetKey)
//
// Event callbacks (OnAdd, OnDrop, OnShift) can be attached with the
// WithEventHandler option to observe bucket churn as it happens.
package dht

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"math/rand"
)

// IDBits is the bit width of every identifier in this package. Kademlia's
// original paper uses 160 (SHA-1); this implementation uses 256 to match
// a SHA-256 key hash or a Curve25519 public key directly. Shrinking to
// 160 only requires changing this constant and IDBytes.
const IDBits = 256

// IDBytes is the byte width of an ID, derived from IDBits.
const IDBytes = IDBits / 8

// ID is a fixed-width unsigned identifier, compared as a big-endian
// unsigned integer and XORed for the Kademlia distance metric.
type ID [IDBytes]byte

// ZeroID is the additive identity of the XOR group, and the identifier
// that can never legally belong to a peer (callers must not pass it to
// BucketIndex as the "other" argument alongside itself).
var ZeroID ID

// CreateID hashes an arbitrary byte key down to an ID using SHA-256,
// truncated to IDBytes (which must not exceed SHA-256's 32-byte output;
// there is no zero extension). This is the create_id(key)
// primitive: both FIND_VALUE keys and arbitrary lookup targets are first
// passed through it.
func CreateID(key []byte) ID {
	sum := sha256.Sum256(key)
	var id ID
	copy(id[:], sum[:IDBytes])
	return id
}

// String renders the identifier as lowercase hex, truncated to a short
// prefix for log lines; use Hex for the full representation.
func (id ID) String() string {
	return id.Hex()[:16]
}

// Hex renders the full identifier as lowercase hex.
func (id ID) Hex() string {
	return fmt.Sprintf("%x", id[:])
}

// Equal reports whether two identifiers are byte-for-byte identical.
// Constant-time comparison is not required here (identifiers are not
// secret), but subtle.ConstantTimeCompare keeps the comparison branch-free
// for the common case of comparing against a zero value.
func (id ID) Equal(other ID) bool {
	return subtle.ConstantTimeCompare(id[:], other[:]) == 1
}

// Distance computes the Kademlia XOR metric between two identifiers. The
// result is itself a valid ID.
func Distance(a, b ID) ID {
	var d ID
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Compare performs an unsigned, big-endian lexicographic comparison of two
// distances (or identifiers), returning -1, 0, or 1. This is a total order.
func Compare(a, b ID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Less reports whether distance a is strictly smaller than distance b.
func Less(a, b ID) bool {
	return Compare(a, b) < 0
}

// BucketIndex returns the k-bucket index that otherID falls into from the
// perspective of selfID: the array-order position of the most significant
// bit at which the two identifiers differ. Identical leading bits push the
// index toward IDBits-1 (the closest bucket); a difference in the very
// first bit lands in bucket 0.
//
// Calling BucketIndex(id, id) is undefined (callers must never place the
// local node in its own routing table); this implementation returns
// IDBits-1 rather than panicking, since a partial snapshot read racing
// with a concurrent mutation is more likely than a genuine logic error,
// and callers are never meant to rely on this case anyway.
func BucketIndex(selfID, otherID ID) int {
	d := Distance(selfID, otherID)
	for i := 0; i < IDBytes; i++ {
		if d[i] == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if (d[i]>>(7-bit))&1 == 1 {
				return i*8 + bit
			}
		}
	}
	return IDBits - 1
}

// RandomIDInBucket returns an ID whose XOR distance from selfID has its
// most significant set bit at position i, i.e. an identifier that
// BucketIndex(selfID, result) == i. Used to pick a refresh target for an
// under-populated bucket.
func RandomIDInBucket(selfID ID, i int) ID {
	if i < 0 {
		i = 0
	}
	if i > IDBits-1 {
		i = IDBits - 1
	}
	msbPos := i

	var d ID
	byteIdx := msbPos / 8
	bitIdx := msbPos % 8

	// Set the required bit, then fill everything below it randomly and
	// leave everything above it zero so the distance's MSB lands exactly
	// at msbPos.
	d[byteIdx] = 1 << (7 - bitIdx)
	for b := bitIdx + 1; b < 8; b++ {
		if rand.Intn(2) == 1 {
			d[byteIdx] |= 1 << (7 - b)
		}
	}
	for j := byteIdx + 1; j < IDBytes; j++ {
		d[j] = byte(rand.Intn(256))
	}

	return Distance(selfID, d)
}
