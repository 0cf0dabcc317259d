// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref defines validated identifier types for the entities that
// flow through the sync engine: conversations, messages, and outbound
// stanzas.
//
// Identifiers are prefixed strings ("conv_...", "msg_...", "stz_...").
// The prefix makes an ID self-describing in logs and on the wire, and
// validation at the parse boundary means the rest of the codebase can
// treat a typed ID as well-formed. All types implement
// encoding.TextMarshaler and TextUnmarshaler so they serialize as plain
// strings in both CBOR and JSON.
//
// Locally minted message IDs (optimistic writes that have not yet been
// confirmed by the server) use the "local_" prefix so that sync
// reconciliation can distinguish them from canonical server IDs.
package ref
