// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

// Package history is the durable cache of conversation messages. It
// lets a conversation render immediately on startup, before the first
// network round-trip, and is refreshed whenever an authoritative
// message list arrives over REST or the realtime channel.
//
// Only messages are cached. Sub-entities (sentences, tool calls,
// memory traces) are streaming state: they are rebuilt from the server
// on the next attach and are not worth persisting.
package history
