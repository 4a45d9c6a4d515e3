package dht

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/kadcore/storage/memstore"
)

// fakeTimeProvider gives tests a controllable clock, advanced explicitly
// between UpdateContact calls so LastSeen ordering is deterministic.
type fakeTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeTimeProvider() *fakeTimeProvider {
	return &fakeTimeProvider{now: time.Unix(1700000000, 0)}
}

func (f *fakeTimeProvider) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTimeProvider) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// fakeAddr is a bare net.Addr for contacts that never actually dial out.
type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

// fakeResponder decides how a fakeTransport answers one Send call.
type fakeResponder func(ctx context.Context, c *Contact, msg *Message) (*Response, error)

// fakeTransport is an in-memory dht.Transport double: every Send is routed
// through a caller-supplied responder keyed by the destination's NodeID, so
// tests can script exactly which peers answer and which don't.
type fakeTransport struct {
	self *Contact

	mu         sync.Mutex
	responders map[ID]fakeResponder
	sent       []*Message
}

func newFakeTransport(self *Contact) *fakeTransport {
	return &fakeTransport{self: self, responders: make(map[ID]fakeResponder)}
}

func (t *fakeTransport) on(id ID, r fakeResponder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responders[id] = r
}

func (t *fakeTransport) Self() *Contact { return t.self }

func (t *fakeTransport) NewContact(id ID, addr net.Addr) *Contact {
	return NewContact(id, addr)
}

func (t *fakeTransport) Send(ctx context.Context, c *Contact, msg *Message) (*Response, error) {
	t.mu.Lock()
	t.sent = append(t.sent, msg)
	r, ok := t.responders[c.NodeID]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fakeTransport: no responder registered for %s", c.NodeID)
	}
	return r(ctx, c, msg)
}

var _ Transport = (*fakeTransport)(nil)

func alwaysPong(ctx context.Context, c *Contact, msg *Message) (*Response, error) {
	return &Response{}, nil
}

func alwaysFail(ctx context.Context, c *Contact, msg *Message) (*Response, error) {
	return nil, fmt.Errorf("fakeTransport: simulated failure")
}

// newTestRouter builds a Router with k=capacity, backed by a fresh
// memstore table and a fresh fakeTransport owned by the returned Router's
// own identity, plus the options supplied.
func newTestRouter(selfSeed string, capacity int, opts ...RouterOption) (*Router, *fakeTransport) {
	self := NewContact(CreateID([]byte(selfSeed)), fakeAddr(selfSeed))
	transport := newFakeTransport(self)
	table := NewRoutingTable(self.NodeID, capacity, memstore.New())
	allOpts := append([]RouterOption{WithK(capacity)}, opts...)
	return NewRouter(self, transport, table, allOpts...), transport
}
