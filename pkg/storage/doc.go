// Package storage is the Task Repository (C2): opaque, durable CRUD
// for tasks keyed by task id, plus a minimal read-only package lookup
// standing in for the external deployment store. All writes commit
// immediately; no cross-task transactions are required.
package storage
