package dht

import (
	"context"
	"net"
	"time"
)

// Method identifies which of the four Kademlia RPCs a Message carries.
// The wire encoding of these RPCs is out of scope for this package; Method
// only needs to be distinguishable by the transport collaborator and by
// whatever handles inbound RPCs (see cmd/kademlia-tool's peer handler).
type Method uint8

const (
	Ping Method = iota
	Store
	FindNode
	FindValue
)

// String renders the method the way log lines and the wire protocol's
// historical naming both use.
func (m Method) String() string {
	switch m {
	case Ping:
		return "PING"
	case Store:
		return "STORE"
	case FindNode:
		return "FIND_NODE"
	case FindValue:
		return "FIND_VALUE"
	default:
		return "UNKNOWN"
	}
}

// Item is a stored record as returned by a FIND_VALUE response or carried
// by a STORE request: key, value, publisher, and the timestamp it was
// last republished.
type Item struct {
	Key       []byte
	Value     []byte
	Publisher ID
	Timestamp time.Time
}

// Message is an outbound RPC request.
type Message struct {
	Method Method
	Sender *Contact
	Key    []byte // target key for FIND_NODE / FIND_VALUE
	Item   *Item  // payload for STORE
}

// Response is the result of a successfully delivered RPC. Nodes is
// populated by FIND_NODE and by FIND_VALUE responses that don't carry the
// value; Item is populated by a FIND_VALUE response that does.
type Response struct {
	Nodes []*Contact
	Item  *Item
}

// Transport is the RPC collaborator a Router depends on to reach other
// peers. Implementations own their own identity (Self) and must be able
// to materialize a full Contact from a bare (ID, address) pair received
// over the wire (NewContact), since a deserialized peer descriptor needs
// its full capability set, not just the fields this package cares about.
//
// Wire encoding, sockets, and RPC timeout policy are explicitly out of
// scope for this module; see package transport for an in-process
// implementation used by tests and the demo CLI.
type Transport interface {
	// Send issues an RPC to c and blocks until a response arrives, ctx is
	// done, or a transport-level error occurs (including timeout).
	Send(ctx context.Context, c *Contact, msg *Message) (*Response, error)
	// Self returns the local node's own contact descriptor.
	Self() *Contact
	// NewContact constructs a Contact for a peer whose address arrived
	// over the wire.
	NewContact(id ID, addr net.Addr) *Contact
}
