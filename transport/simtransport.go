// Package transport provides concrete implementations of the dht.Transport
// collaborator. Wire encoding, sockets, and timeout policy for a real
// deployment are explicitly out of scope for this module; the
// only implementation here is SimTransport, an in-process router used by
// tests and cmd/kademlia-tool to exercise multi-node lookups without any
// real sockets.
package transport

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/kadcore/dht"
)

// SimAddr is a bare string address used by SimTransport peers, since the
// in-process network has no real sockets to bind.
type SimAddr string

func (a SimAddr) Network() string { return "sim" }
func (a SimAddr) String() string  { return string(a) }

// Handler processes an inbound RPC and produces a Response. A SimTransport
// delivers every Send call from a peer directly into that peer's Handler,
// in the same process; there is no wire encoding to get wrong.
type Handler func(ctx context.Context, from *dht.Contact, msg *dht.Message) (*dht.Response, error)

// Network is the shared in-process registry a group of SimTransports
// register with, so Send(contact, ...) can be routed to the right peer's
// Handler by contact id.
type Network struct {
	mu    sync.Mutex
	peers map[dht.ID]*SimTransport
}

// NewNetwork creates an empty in-process network.
func NewNetwork() *Network {
	return &Network{peers: make(map[dht.ID]*SimTransport)}
}

// SimTransport is an in-process dht.Transport implementation. Latency and
// DropRate let tests exercise the Router's timeout/failure-eviction paths
// without real network flakiness. A DropRate of 0 or 1 is deterministic;
// a rate in between draws from a time-seeded random source.
type SimTransport struct {
	self    *dht.Contact
	network *Network
	handler Handler

	// Latency is added before every Send resolves.
	Latency time.Duration
	// DropRate is the probability, in [0,1], that Send fails with a
	// simulated timeout instead of reaching the peer's Handler.
	DropRate float64

	rng *rand.Rand
}

var _ dht.Transport = (*SimTransport)(nil)

// NewTransport registers a new SimTransport for self on network, dispatching
// inbound RPCs to handler.
func (n *Network) NewTransport(self *dht.Contact, handler Handler) *SimTransport {
	t := &SimTransport{
		self:    self,
		network: n,
		handler: handler,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	n.mu.Lock()
	n.peers[self.NodeID] = t
	n.mu.Unlock()
	return t
}

// Remove unregisters id from the network, simulating a peer going
// offline: subsequent Sends to it fail as if unreachable.
func (n *Network) Remove(id dht.ID) {
	n.mu.Lock()
	delete(n.peers, id)
	n.mu.Unlock()
}

// Self implements dht.Transport.
func (t *SimTransport) Self() *dht.Contact { return t.self }

// NewContact implements dht.Transport. A SimTransport doesn't need any
// extra per-contact capability beyond the bare (id, addr) pair.
func (t *SimTransport) NewContact(id dht.ID, addr net.Addr) *dht.Contact {
	return dht.NewContact(id, addr)
}

// Send implements dht.Transport by routing directly to the destination
// SimTransport's Handler, applying configured latency and drop rate.
func (t *SimTransport) Send(ctx context.Context, c *dht.Contact, msg *dht.Message) (*dht.Response, error) {
	corrID := uuid.New().String()
	log := logrus.WithFields(logrus.Fields{
		"function":    "SimTransport.Send",
		"correlation": corrID,
		"method":      msg.Method.String(),
		"from":        t.self.NodeID.String(),
		"to":          c.NodeID.String(),
	})

	if t.DropRate > 0 && t.rng.Float64() < t.DropRate {
		log.Debug("simulated packet drop")
		return nil, fmt.Errorf("simtransport: simulated drop sending %s to %s", msg.Method, c.NodeID)
	}

	if t.Latency > 0 {
		select {
		case <-time.After(t.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t.network.mu.Lock()
	peer, ok := t.network.peers[c.NodeID]
	t.network.mu.Unlock()
	if !ok {
		log.Debug("destination not registered on network")
		return nil, fmt.Errorf("simtransport: %s unreachable", c.NodeID)
	}

	log.Debug("delivering RPC")
	resp, err := peer.handler(ctx, t.self, msg)
	if err != nil {
		log.WithError(err).Debug("peer handler returned error")
		return nil, err
	}
	return resp, nil
}
