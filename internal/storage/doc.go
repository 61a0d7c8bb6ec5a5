// Package storage persists the tracker state: which items are tracked and the
// last chapter observed for each.
//
// Drivers:
//   - "file": one JSON document, replaced atomically (temp file + rename)
//   - "sqlite": two tables updated in a single transaction
//   - "memory": process-local, for tests and dry runs
//
// Every driver serializes Update calls so read-modify-write cycles never
// interleave inside one process.
package storage
