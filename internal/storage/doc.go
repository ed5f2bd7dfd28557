// Package storage is the durable task store.
//
// All reads and writes are scoped by owner; one owner's task set is its own
// consistency domain and no call can touch another owner's rows.
//
// Two drivers:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process store (tests, ephemeral runs)
package storage
