package dht

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/opd-ai/kadcore/validate"
)

// DefaultAlpha is the concurrency parameter for iterative lookups.
const DefaultAlpha = 3

// MetricsRecorder receives optional instrumentation callbacks from a
// Router. A nil MetricsRecorder on the Router disables instrumentation
// entirely; see package metrics for a Prometheus-backed implementation.
type MetricsRecorder interface {
	ObserveLookup(lookupType, outcome string, seconds float64)
	SetBucketSize(index, size int)
	IncEviction()
}

// nopMetricsRecorder implements MetricsRecorder with no-ops.
type nopMetricsRecorder struct{}

func (nopMetricsRecorder) ObserveLookup(string, string, float64) {}
func (nopMetricsRecorder) SetBucketSize(int, int)                {}
func (nopMetricsRecorder) IncEviction()                          {}

// Router is the iterative-lookup state machine: the only component in
// this package that talks to a Transport. It owns a RoutingTable and
// drives Lookup, UpdateContact, and the bucket-refresh maintenance
// operations that keep the routing table healthy over time.
type Router struct {
	self      *Contact
	transport Transport
	table     *RoutingTable
	validator validate.Validator
	events    EventHandler
	tp        TimeProvider
	metrics   MetricsRecorder

	alpha int
	k     int

	// bucketLocks serializes UpdateContact's load->mutate->save sequence
	// per bucket: a per-bucket exclusion is sufficient and cheaper than a
	// table-wide lock, since unrelated buckets never touch the same
	// state. Locks are created lazily and never removed, since the bucket
	// index space is small and fixed (IDBits entries at most).
	bucketLocksMu sync.Mutex
	bucketLocks   map[int]*sync.Mutex

	// probeGroup collapses concurrent full-bucket head PINGs landing on
	// the same bucket into a single RPC; see probeAndReplace.
	probeGroup singleflight.Group
}

// RouterOption configures optional Router fields at construction time.
type RouterOption func(*Router)

// WithValidator sets the value validator used by FIND_VALUE lookups. If
// never set, validate.AcceptAll is used: if absent, all values are
// accepted.
func WithValidator(v validate.Validator) RouterOption {
	return func(r *Router) { r.validator = v }
}

// WithEventHandler sets the lifecycle callback for bucket churn.
func WithEventHandler(h EventHandler) RouterOption {
	return func(r *Router) { r.events = h }
}

// WithTimeProvider overrides the clock used for LastSeen stamping, for
// deterministic tests.
func WithTimeProvider(tp TimeProvider) RouterOption {
	return func(r *Router) { r.tp = tp }
}

// WithAlpha overrides the lookup concurrency parameter (default
// DefaultAlpha).
func WithAlpha(alpha int) RouterOption {
	return func(r *Router) { r.alpha = alpha }
}

// WithK overrides the per-bucket capacity (default DefaultK).
func WithK(k int) RouterOption {
	return func(r *Router) { r.k = k }
}

// WithMetrics wires a MetricsRecorder into the Router. Without this
// option, a Router records no metrics at all.
func WithMetrics(m MetricsRecorder) RouterOption {
	return func(r *Router) {
		if m == nil {
			m = nopMetricsRecorder{}
		}
		r.metrics = m
	}
}

// NewRouter creates a Router for the local node self, issuing RPCs through
// t and keeping its contacts in table.
func NewRouter(self *Contact, t Transport, table *RoutingTable, opts ...RouterOption) *Router {
	r := &Router{
		self:        self,
		transport:   t,
		table:       table,
		validator:   validate.AcceptAll{},
		events:      NopEventHandler{},
		tp:          DefaultTimeProvider,
		metrics:     nopMetricsRecorder{},
		alpha:       DefaultAlpha,
		k:           DefaultK,
		bucketLocks: make(map[int]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Self returns the local node's contact descriptor.
func (r *Router) Self() *Contact { return r.self }

// Table returns the router's routing table.
func (r *Router) Table() *RoutingTable { return r.table }

func (r *Router) bucketLock(index int) *sync.Mutex {
	r.bucketLocksMu.Lock()
	defer r.bucketLocksMu.Unlock()
	m, ok := r.bucketLocks[index]
	if !ok {
		m = &sync.Mutex{}
		r.bucketLocks[index] = m
	}
	return m
}
