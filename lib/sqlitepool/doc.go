// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides a fixed-size SQLite connection pool with
// Threadline's standard pragmas.
//
// The outbox (durable offline queue) and the history cache (local
// conversation state) both live in a single SQLite database file on
// the client device. This package wraps sqlitex.Pool so that every
// consumer opens the database identically: WAL journaling for
// concurrent readers, NORMAL synchronous mode (the outbox tolerates
// losing the last transaction on power failure: an unacknowledged
// stanza is re-sent anyway), and a busy timeout so writers queue
// instead of failing.
//
// Use Config.OnConnect for schema creation; it runs once per pooled
// connection after the standard pragmas are applied.
package sqlitepool
