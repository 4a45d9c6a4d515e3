package dht

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateIDDeterministic(t *testing.T) {
	a := CreateID([]byte("hello"))
	b := CreateID([]byte("hello"))
	assert.True(t, a.Equal(b))

	c := CreateID([]byte("world"))
	assert.False(t, a.Equal(c))
}

func TestDistanceSelfIsZero(t *testing.T) {
	id := CreateID([]byte("node-a"))
	d := Distance(id, id)
	assert.True(t, d.Equal(ZeroID))
}

func TestDistanceCommutative(t *testing.T) {
	a := CreateID([]byte("node-a"))
	b := CreateID([]byte("node-b"))
	assert.True(t, Distance(a, b).Equal(Distance(b, a)))
}

func TestCompareTotalOrder(t *testing.T) {
	var a, b ID
	a[0] = 0x01
	b[0] = 0x02
	assert.Equal(t, -1, Compare(a, b))
	assert.Equal(t, 1, Compare(b, a))
	assert.Equal(t, 0, Compare(a, a))
	assert.True(t, Less(a, b))
	assert.False(t, Less(b, a))
}

func TestBucketIndexIdenticalPrefixPushesIndexUp(t *testing.T) {
	var self ID
	for i := range self {
		self[i] = 0xAA
	}

	near := self
	near[IDBytes-1] ^= 0x01 // differs only in the very last bit: index IDBits-1
	far := self
	far[0] ^= 0x80 // differs at the very first bit: index 0

	iNear := BucketIndex(self, near)
	iFar := BucketIndex(self, far)
	assert.Equal(t, IDBits-1, iNear)
	assert.Equal(t, 0, iFar)
}

func TestRandomIDInBucketRoundTrips(t *testing.T) {
	self := CreateID([]byte("self"))
	for _, i := range []int{0, 1, 50, IDBits - 2, IDBits - 1} {
		target := RandomIDInBucket(self, i)
		got := BucketIndex(self, target)
		require.Equal(t, i, got, "bucket %d", i)
	}
}

func TestIDHexRoundTrip(t *testing.T) {
	id := CreateID([]byte("round-trip"))
	got, err := idFromHex(idToHex(id))
	require.NoError(t, err)
	assert.True(t, id.Equal(got))
}
