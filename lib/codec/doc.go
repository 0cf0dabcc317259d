// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Threadline's standard CBOR encoding
// configuration.
//
// Threadline uses two serialization formats with a clear boundary:
//
//   - JSON for the REST boundary (conversation and message CRUD
//     against the server's HTTP API).
//   - CBOR for the realtime wire protocol (envelope frames on the
//     per-conversation transport connection) and for durable local
//     payloads (queued stanzas in the outbox database).
//
// This package holds the shared CBOR encoding and decoding modes so
// that every package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC
// 8949 §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Deterministic bytes matter here because the
// outbox checksums queued payloads, and the same stanza must always
// produce the same bytes.
//
// Inbound envelopes are untagged maps, so decoding to any-typed
// targets is common; the decoder is configured to produce
// map[string]any rather than CBOR's default map[any]any, which is what
// the duck-typed classifier in package protocol expects.
//
// Typed identifiers (ref.ConversationID, ref.MessageID, ref.StanzaID)
// implement encoding.TextMarshaler/TextUnmarshaler and serialize as
// CBOR text strings via the TextMarshaler/TextUnmarshaler mode
// options.
package codec
