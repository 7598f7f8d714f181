// Package ledger defines the core types of the credex mutual-credit ledger:
// accounts, credexes (directed IOUs), the daily Day chain, loop anchors
// produced by netting, and the reduced cycle-index records used for cycle
// search.
//
// The package is pure domain: no storage, no transport. Every amount is a
// shopspring decimal expressed in internal units (CXX) unless a field says
// otherwise. Conversions between a credex's native denomination and CXX go
// through the multiplier frozen on the instance.
package ledger
