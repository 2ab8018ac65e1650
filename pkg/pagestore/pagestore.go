// Package pagestore provides PageStore implementations for ArcaneDB's
// buffer pool (spec §4.9): an in-memory backend for tests and a
// SQLite-backed backend for durable storage, plus an atomically-written
// manifest recording the page-id allocator's high-water mark and a schema
// fingerprint.
package pagestore

import "errors"

// ErrClosed is returned by any operation on a store after Close has run.
var ErrClosed = errors.New("pagestore: closed")
