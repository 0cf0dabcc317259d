// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the realtime wire protocol between a
// Threadline client and the conversation service.
//
// Payloads are CBOR-encoded maps with no explicit type tag. The kind
// of an inbound envelope is inferred from the shape of its fields by
// [Classify], an ordered chain of field-presence guards: several kinds
// share fields, so rule order is load-bearing and the first matching
// rule wins. Classify is a total function: a payload matching no rule
// classifies as [KindError] and is surfaced to the caller as a
// [*ClassifyError], never silently dropped.
//
// [Decode] combines classification with decoding into the typed
// struct for the kind. Outbound stanzas (user messages, generation
// requests, stop controls, sync batches) are plain structs encoded
// with [Encode]; each carries a stanzaId so the server's
// Acknowledgement can reference it.
//
// All types use `cbor` struct tags: this protocol is never serialized
// as JSON. The REST boundary (package rest) has its own JSON-tagged
// record types.
package protocol
