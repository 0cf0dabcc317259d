// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

// Package outbox is the durable queue of outbound stanzas awaiting
// server acknowledgment. Every user action is written here before any
// transport send is attempted, so the UI never blocks on connectivity
// and nothing is lost across a crash or restart.
//
// Entries are replayed in original enqueue order whenever the sync
// session reaches Connected. Each payload carries a BLAKE3 checksum
// written at enqueue time and verified on load; an entry that fails
// verification is dropped with a log line rather than replayed as a
// corrupt stanza.
package outbox
