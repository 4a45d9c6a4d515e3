package dht

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContactEqualityIgnoresAddressAndLastSeen(t *testing.T) {
	id := CreateID([]byte("peer"))
	a := NewContact(id, fakeAddr("addr-a"))
	b := NewContact(id, fakeAddr("addr-b"))
	b.LastSeen = b.LastSeen.Add(time.Hour)
	assert.True(t, a.Equal(b))
}

func TestContactSeenAdvancesLastSeen(t *testing.T) {
	tp := newFakeTimeProvider()
	c := NewContactWithTimeProvider(CreateID([]byte("peer")), nil, tp)
	before := c.LastSeen
	tp.Advance(time.Minute)
	c.SeenWithTimeProvider(tp)
	assert.True(t, c.LastSeen.After(before))
}

func TestContactDistanceMatchesPackageLevelDistance(t *testing.T) {
	a := NewContact(CreateID([]byte("a")), nil)
	b := NewContact(CreateID([]byte("b")), nil)
	assert.True(t, a.Distance(b).Equal(Distance(a.NodeID, b.NodeID)))
}
