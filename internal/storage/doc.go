// Package storage defines the persistence records and backend contracts
// shared by the event store, the trace store and the segment store.
//
// Backends translate their driver errors into the sentinels declared here.
// Every conditional write a backend offers is atomic per key: the event log
// rejects a whole batch when any (stream id, number) already exists, and the
// trace and segment stores only move a record out of the pending state once.
//
// Implementations live in subpackages: memory for tests and embedding,
// sqlite for a durable single-node store, and redis for traces and segments
// shared across processes.
package storage
