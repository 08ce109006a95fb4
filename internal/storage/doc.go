// Package storage persists users, the event catalog and the notification
// ledger.
//
// Drivers:
//   - "sqlite": single-file database (default), WAL mode, embedded schema
//   - "mongo": MongoDB collections with unique indexes
//   - "memory": process-local maps, for tests and dry runs
package storage
