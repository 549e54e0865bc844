// Package storage keeps an optional journal of every result line the queue
// produces.
//
// Drivers:
//   - file: append-only JSON Lines, dependency free
//   - sqlite: a single-table SQLite database (modernc.org/sqlite, no cgo)
package storage
