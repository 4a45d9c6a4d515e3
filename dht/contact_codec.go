package dht

import (
	"net"
	"time"
)

// contactRecord is the JSON-shaped payload the RoutingTable is the sole
// producer and consumer of when it persists and reloads a Contact.
type contactRecord struct {
	NodeID   string    `json:"node_id"`
	Network  string    `json:"network"`
	Address  string    `json:"address"`
	LastSeen time.Time `json:"last_seen"`
	Status   Status    `json:"status"`
}

// genericAddr is a net.Addr reconstructed from a stored (network, address)
// pair. It carries no transport-specific capability; callers that need
// more (e.g. a live connection) resolve the node id through
// Transport.NewContact instead, since the transport owns the
// full capability set for a deserialized peer.
type genericAddr struct {
	network string
	address string
}

func (a genericAddr) Network() string { return a.network }
func (a genericAddr) String() string  { return a.address }

func newContactRecord(c *Contact) contactRecord {
	network, address := "", ""
	if c.Address != nil {
		network = c.Address.Network()
		address = c.Address.String()
	}
	return contactRecord{
		NodeID:   c.NodeID.Hex(),
		Network:  network,
		Address:  address,
		LastSeen: c.LastSeen,
		Status:   c.Status,
	}
}

func (r contactRecord) toContact() (*Contact, error) {
	id, err := idFromHex(r.NodeID)
	if err != nil {
		return nil, err
	}
	var addr net.Addr
	if r.Address != "" {
		addr = genericAddr{network: r.Network, address: r.Address}
	}
	return &Contact{
		NodeID:   id,
		Address:  addr,
		LastSeen: r.LastSeen,
		Status:   r.Status,
	}, nil
}
