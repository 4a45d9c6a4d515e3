package dht

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupNotConnectedOnEmptyTable(t *testing.T) {
	router, _ := newTestRouter("self", 20)
	_, err := router.Lookup(context.Background(), LookupNode, []byte("target"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestLookupNodeTerminatesWhenNoNewContactsDiscovered(t *testing.T) {
	ctx := context.Background()
	router, transport := newTestRouter("self", 20)

	peer := NewContact(CreateID([]byte("peer")), fakeAddr("peer"))
	require.NoError(t, router.UpdateContact(ctx, peer))
	transport.on(peer.NodeID, func(ctx context.Context, c *Contact, msg *Message) (*Response, error) {
		return &Response{}, nil // no new nodes offered
	})

	result, err := router.Lookup(ctx, LookupNode, []byte("target"))
	require.NoError(t, err)
	require.Len(t, result.Contacts, 1)
	assert.True(t, result.Contacts[0].Equal(peer))
}

func TestLookupNodeMergesDiscoveredContacts(t *testing.T) {
	ctx := context.Background()
	router, transport := newTestRouter("self", 20)

	a := NewContact(CreateID([]byte("a")), fakeAddr("a"))
	b := NewContact(CreateID([]byte("b")), fakeAddr("b"))
	require.NoError(t, router.UpdateContact(ctx, a))

	transport.on(a.NodeID, func(ctx context.Context, c *Contact, msg *Message) (*Response, error) {
		return &Response{Nodes: []*Contact{b}}, nil
	})
	transport.on(b.NodeID, func(ctx context.Context, c *Contact, msg *Message) (*Response, error) {
		return &Response{}, nil
	})

	result, err := router.Lookup(ctx, LookupNode, []byte("target"))
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, c := range result.Contacts {
		ids[c.NodeID.Hex()] = true
	}
	assert.True(t, ids[a.NodeID.Hex()])
	assert.True(t, ids[b.NodeID.Hex()])
}

func TestLookupFailsWhenEveryQueryFails(t *testing.T) {
	ctx := context.Background()
	router, transport := newTestRouter("self", 20)

	peer := NewContact(CreateID([]byte("peer")), fakeAddr("peer"))
	require.NoError(t, router.UpdateContact(ctx, peer))
	transport.on(peer.NodeID, alwaysFail)

	_, err := router.Lookup(ctx, LookupNode, []byte("target"))
	assert.ErrorIs(t, err, ErrLookupFailed)
}

func TestLookupFailedQueryEvictsContact(t *testing.T) {
	ctx := context.Background()
	router, transport := newTestRouter("self", 20)

	good := NewContact(CreateID([]byte("good")), fakeAddr("good"))
	bad := NewContact(CreateID([]byte("bad")), fakeAddr("bad"))
	other := NewContact(CreateID([]byte("other")), fakeAddr("other"))
	require.NoError(t, router.UpdateContact(ctx, good))

	// good offers bad and other, which form the next batch: bad fails and
	// other answers, so that batch as a whole does not fail the lookup.
	transport.on(good.NodeID, func(ctx context.Context, c *Contact, msg *Message) (*Response, error) {
		return &Response{Nodes: []*Contact{bad, other}}, nil
	})
	transport.on(bad.NodeID, alwaysFail)
	transport.on(other.NodeID, alwaysPong)

	result, err := router.Lookup(ctx, LookupNode, []byte("target"))
	require.NoError(t, err)
	for _, c := range result.Contacts {
		assert.False(t, c.NodeID.Equal(bad.NodeID), "a failed query's contact must not survive into the result")
	}
}

func TestLookupValueFound(t *testing.T) {
	ctx := context.Background()
	router, transport := newTestRouter("self", 20)

	peer := NewContact(CreateID([]byte("peer")), fakeAddr("peer"))
	require.NoError(t, router.UpdateContact(ctx, peer))

	key := []byte("some-key")
	transport.on(peer.NodeID, func(ctx context.Context, c *Contact, msg *Message) (*Response, error) {
		return &Response{Item: &Item{Key: key, Value: []byte("some-value"), Publisher: peer.NodeID}}, nil
	})

	result, err := router.Lookup(ctx, LookupValue, key)
	require.NoError(t, err)
	assert.Equal(t, LookupValue, result.Type)
	assert.Equal(t, []byte("some-value"), result.Value)
}

func TestLookupValueValidationFailureEvictsResponder(t *testing.T) {
	ctx := context.Background()
	rejecting := rejectingValidator{}
	router, transport := newTestRouter("self", 20, WithValidator(rejecting))

	peer := NewContact(CreateID([]byte("peer")), fakeAddr("peer"))
	require.NoError(t, router.UpdateContact(ctx, peer))

	key := []byte("some-key")
	transport.on(peer.NodeID, func(ctx context.Context, c *Contact, msg *Message) (*Response, error) {
		return &Response{Item: &Item{Key: key, Value: []byte("bad-value")}}, nil
	})

	result, err := router.Lookup(ctx, LookupValue, key)
	require.NoError(t, err)
	assert.Equal(t, LookupNode, result.Type, "a rejected value never latches foundValue")
	assert.Empty(t, result.Contacts, "the only candidate was evicted for failing validation")

	index := BucketIndex(router.Self().NodeID, peer.NodeID)
	b, err := router.Table().GetBucket(ctx, index)
	require.NoError(t, err)
	require.NoError(t, b.Load(ctx))
	assert.False(t, b.Has(peer.NodeID))
}

type rejectingValidator struct{}

var errRejected = errors.New("value rejected")

func (rejectingValidator) Validate(ctx context.Context, key, value []byte) error {
	return errRejected
}
