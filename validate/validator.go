// Package validate defines the application-facing value-validation
// predicate the dht package depends on: every value a FIND_VALUE response
// returns is checked here before a lookup will latch onto it. The actual
// validation logic (signature checks, schema checks, freshness checks) is
// the application's concern; this package only names the interface and a
// permissive default.
package validate

import "context"

// Validator checks whether a value returned for key is acceptable. A
// Validate error causes the dht package to treat the responder as a query
// failure, evicting it from the routing table.
type Validator interface {
	Validate(ctx context.Context, key, value []byte) error
}

// AcceptAll is a Validator that accepts every value. It is the default used
// when a Router is constructed without an explicit Validator: if absent,
// all values are accepted.
type AcceptAll struct{}

// Validate implements Validator.
func (AcceptAll) Validate(ctx context.Context, key, value []byte) error { return nil }
