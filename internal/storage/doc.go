// Package storage is the durable source of truth for scheduled
// publications.
//
// It persists:
//   - Tasks (pending publications, including recurring series)
//   - The append-only delivery archive
//   - Pending deletion jobs
//   - The trusted chat list
//
// The dispatcher's in-memory queue is only a cache over this store.
package storage
