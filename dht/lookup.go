package dht

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// LookupType selects which RPC an iterative lookup issues: FIND_NODE to
// locate the K closest peers to an identifier, or FIND_VALUE to locate a
// value stored under a key (falling back to FIND_NODE semantics at any
// peer that doesn't have it).
type LookupType uint8

const (
	LookupNode LookupType = iota
	LookupValue
)

// LookupResult is what a successful Lookup returns. For LookupNode,
// Contacts holds up to K contacts, closest-first. For LookupValue, Value
// holds the located value and StoredAt names the contact a replication
// STORE was fired at (nil if no eligible contact existed).
type LookupResult struct {
	Type     LookupType
	Contacts []*Contact
	Value    []byte
	StoredAt *Contact
}

// lookupState is the transient, per-call state an iterative lookup
// carries. It is created by Lookup and discarded when Lookup resolves or
// fails.
type lookupState struct {
	typ       LookupType
	key       []byte
	hashed    ID
	shortlist []*Contact
	contacted map[ID]bool

	closestNode         *Contact
	closestDistance     ID
	previousClosestNode *Contact

	foundValue           bool
	value                []byte
	item                 *Item
	contactsWithoutValue []*Contact
}

func (s *lookupState) inShortlist(id ID) int {
	for i, c := range s.shortlist {
		if c.NodeID.Equal(id) {
			return i
		}
	}
	return -1
}

func (s *lookupState) mergeShortlist(nodes []*Contact) {
	for _, n := range nodes {
		if n.NodeID.Equal(s.hashed) {
			// never meaningful to chase an exact hash match as a peer id,
			// but harmless either way; no special casing needed beyond
			// the usual dedup.
		}
		if s.inShortlist(n.NodeID) < 0 {
			s.shortlist = append(s.shortlist, n)
		}
	}
}

func (s *lookupState) removeFromShortlist(id ID) {
	i := s.inShortlist(id)
	if i < 0 {
		return
	}
	s.shortlist = append(s.shortlist[:i], s.shortlist[i+1:]...)
}

func contactsEqual(a, b *Contact) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.NodeID.Equal(b.NodeID)
}

// Lookup runs the ALPHA-parallel iterative resolver: expanding shells of
// FIND_NODE or FIND_VALUE queries that converge on the nodes closest to a
// target identifier. ctx governs the whole call; an individual RPC's
// cancellation is the transport's concern (see Transport.Send), not this
// method's.
func (r *Router) Lookup(ctx context.Context, typ LookupType, key []byte) (*LookupResult, error) {
	start := time.Now()
	result, err := r.lookup(ctx, typ, key)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.metrics.ObserveLookup(typeName(typ), outcome, time.Since(start).Seconds())
	return result, err
}

func (r *Router) lookup(ctx context.Context, typ LookupType, key []byte) (*LookupResult, error) {
	hashed := CreateID(key)

	initial, err := r.table.GetNearestContacts(ctx, hashed, r.alpha, &r.self.NodeID)
	if err != nil {
		return nil, err
	}
	if len(initial) == 0 {
		return nil, ErrNotConnected
	}

	state := &lookupState{
		typ:       typ,
		key:       key,
		hashed:    hashed,
		shortlist: initial,
		contacted: make(map[ID]bool),
	}
	state.closestNode = initial[0]
	state.closestDistance = Distance(hashed, initial[0].NodeID)

	log := logrus.WithFields(logrus.Fields{
		"function": "Router.Lookup",
		"type":     typeName(typ),
		"target":   hashed.String(),
	})

	batch := initial
	for {
		outcomes := r.dispatchBatch(ctx, state, batch)

		successCount := 0
		for _, o := range outcomes {
			state.contacted[o.contact.NodeID] = true
			if o.err != nil {
				log.WithFields(logrus.Fields{
					"contact": o.contact.NodeID.String(),
					"error":   o.err.Error(),
				}).Debug("query failed, evicting")
				state.removeFromShortlist(o.contact.NodeID)
				if rmErr := r.RemoveContact(ctx, o.contact); rmErr != nil {
					log.WithError(rmErr).Debug("remove_contact failed")
				}
				continue
			}
			if r.processResponse(ctx, state, o.contact, o.resp, log) {
				successCount++
			}
		}

		if successCount == 0 {
			return nil, ErrLookupFailed
		}
		if state.foundValue {
			return r.handleValueReturned(ctx, state)
		}

		if contactsEqual(state.closestNode, state.previousClosestNode) || len(state.shortlist) >= r.k {
			return finalizeNodeResult(state, r.k), nil
		}

		next := nextUncontactedBatch(state, r.alpha)
		if len(next) == 0 {
			return finalizeNodeResult(state, r.k), nil
		}
		batch = next
	}
}

func typeName(t LookupType) string {
	if t == LookupValue {
		return "VALUE"
	}
	return "NODE"
}

func nextUncontactedBatch(state *lookupState, alpha int) []*Contact {
	var next []*Contact
	for _, c := range state.shortlist {
		if state.contacted[c.NodeID] {
			continue
		}
		next = append(next, c)
		if len(next) >= alpha {
			break
		}
	}
	return next
}

func finalizeNodeResult(state *lookupState, k int) *LookupResult {
	out := make([]*Contact, len(state.shortlist))
	copy(out, state.shortlist)
	sort.Slice(out, func(i, j int) bool {
		return Less(Distance(out[i].NodeID, state.hashed), Distance(out[j].NodeID, state.hashed))
	})
	if len(out) > k {
		out = out[:k]
	}
	return &LookupResult{Type: LookupNode, Contacts: out}
}

type queryOutcome struct {
	contact *Contact
	resp    *Response
	err     error
}

// dispatchBatch issues one FIND_type RPC per contact in batch,
// concurrency-bounded by ALPHA via errgroup.Group.SetLimit, and joins on
// all-settled semantics: every query's outcome (success or failure) is
// collected, and no individual failure cancels the others or the group
// itself: in-flight siblings must still get a chance to contribute to
// the shortlist even when one of the batch errors out.
func (r *Router) dispatchBatch(ctx context.Context, state *lookupState, batch []*Contact) []queryOutcome {
	outcomes := make([]queryOutcome, len(batch))

	g, gctx := errgroup.WithContext(context.Background())
	g.SetLimit(r.alpha)
	_ = gctx // each query uses the caller's ctx, not errgroup's derived one,
	// specifically so that one query's failure never cancels its siblings.

	var mu sync.Mutex
	for i, c := range batch {
		i, c := i, c
		g.Go(func() error {
			msg := &Message{Method: findMethod(state.typ), Sender: r.self, Key: state.key}
			resp, err := r.transport.Send(ctx, c, msg)
			mu.Lock()
			outcomes[i] = queryOutcome{contact: c, resp: resp, err: err}
			mu.Unlock()
			return nil // never propagate: see comment above
		})
	}
	_ = g.Wait()
	return outcomes
}

func findMethod(typ LookupType) Method {
	if typ == LookupValue {
		return FindValue
	}
	return FindNode
}

// processResponse folds one successful query outcome into the lookup
// state: refresh the responder's routing-table entry, track the closest
// node seen so far, and merge the response's contribution (peers or
// value) into the shortlist.
func (r *Router) processResponse(ctx context.Context, state *lookupState, responder *Contact, resp *Response, log *logrus.Entry) {
	if err := r.UpdateContact(ctx, responder); err != nil {
		log.WithError(err).Debug("update_contact failed for responder")
	}

	if d := Distance(state.hashed, responder.NodeID); Less(d, state.closestDistance) {
		state.previousClosestNode = state.closestNode
		state.closestNode = responder
		state.closestDistance = d
	}

	switch state.typ {
	case LookupNode:
		state.mergeShortlist(resp.Nodes)

	case LookupValue:
		if resp.Item == nil {
			state.contactsWithoutValue = append(state.contactsWithoutValue, responder)
			state.mergeShortlist(resp.Nodes)
			return true
		}
		if err := r.validator.Validate(ctx, state.key, resp.Item.Value); err != nil {
			log.WithFields(logrus.Fields{
				"contact": responder.NodeID.String(),
				"error":   err.Error(),
			}).Warn("value validation failed, evicting responder")
			state.removeFromShortlist(responder.NodeID)
			if rmErr := r.RemoveContact(ctx, responder); rmErr != nil {
				log.WithError(rmErr).Debug("remove_contact failed")
			}
			return false
		}
		state.foundValue = true
		state.value = resp.Item.Value
		state.item = resp.Item
	}
	return true
}

// handleValueReturned implements the value-returned tail of a FIND_VALUE
// lookup: once a validated value is in hand, replicate it to the
// contact-without-value nearest to the LOCAL node, not nearest to the
// lookup key: an intentionally preserved quirk, not a bug, since it
// concentrates replication near the querying node rather than near the
// key.
func (r *Router) handleValueReturned(ctx context.Context, state *lookupState) (*LookupResult, error) {
	result := &LookupResult{Type: LookupValue, Value: state.value}

	target := r.pickStoreTarget(state.contactsWithoutValue)
	if target == nil || state.item == nil {
		return result, nil
	}
	result.StoredAt = target

	// Fire-and-forget: the STORE's outcome never affects the lookup
	// result, so it runs detached from ctx's cancellation.
	go func() {
		_, err := r.transport.Send(context.Background(), target, &Message{
			Method: Store,
			Sender: r.self,
			Item:   state.item,
		})
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Router.handleValueReturned",
				"target":   target.NodeID.String(),
				"error":    err.Error(),
			}).Debug("replication store failed")
		}
	}()

	return result, nil
}

func (r *Router) pickStoreTarget(candidates []*Contact) *Contact {
	var best *Contact
	var bestDist ID
	for _, c := range candidates {
		d := Distance(r.self.NodeID, c.NodeID)
		if best == nil || Less(d, bestDist) {
			best = c
			bestDist = d
		}
	}
	return best
}
