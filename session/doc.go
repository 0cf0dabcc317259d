// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

// Package session drives one conversation's synchronization with the
// server. A Session owns one transport connection, the conversation's
// entry in the entity store, and the replay of its durable outbox.
//
// User actions apply to the store optimistically and land in the
// outbox before any transport send is attempted; the caller never
// blocks on connectivity. While connected, queued stanzas flush in
// enqueue order, one at a time, each waiting for its acknowledgment.
// Inbound envelopes are classified and folded into the store through
// idempotent upserts, so replays after a reconnect are harmless.
//
// Connection loss moves the session to Reconnecting and retries with
// jittered exponential backoff, indefinitely, until Close. Transport
// and protocol failures never escape the session: the presentation
// layer sees only connection state changes and per-message error
// statuses.
package session
