// Package store is the durable ledger store, backed by SQLite.
//
// It persists the full audit ledger (accounts, credexes, the day chain,
// loop anchors) alongside the reduced cycle index (search anchors and their
// member mirrors) used only for cycle discovery. The two are kept
// consistent inside the same transactions.
//
// The one non-trivial query shape the netting engine needs (all directed
// paths from a node back to itself over edges of one owing-category) is
// served by loading the category's anchors (AnchorsInCategory) and running
// the search in memory; the store only guarantees the edge set is
// transactionally consistent.
package store
