package dht

import "errors"

// Sentinel errors for this package's sharp-edged cases. Checked with
// errors.Is; never matched by string comparison.
var (
	// ErrFull is returned by Bucket.Add when the bucket already holds K
	// contacts.
	ErrFull = errors.New("dht: bucket full")
	// ErrDuplicate is returned by Bucket.Add when the node id is already
	// present.
	ErrDuplicate = errors.New("dht: duplicate contact")
	// ErrNotPresent is returned by Bucket.Remove and RoutingTable.GetContact
	// when the identifier in question isn't known.
	ErrNotPresent = errors.New("dht: contact not present")
	// ErrOutOfRange is returned by Bucket.Get when pos >= the bucket's
	// current size.
	ErrOutOfRange = errors.New("dht: position out of range")
	// ErrNotConnected is returned by Router.Lookup when the routing table
	// yields an empty initial shortlist.
	ErrNotConnected = errors.New("dht: not connected to any peer")
	// ErrLookupFailed is returned by Router.Lookup when every query in a
	// batch fails.
	ErrLookupFailed = errors.New("dht: lookup failed, no peers responded")
)
