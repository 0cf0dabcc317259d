// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries binary envelopes between the client and
// the sync server. A Conn is one bidirectional, message-oriented
// connection scoped to a single conversation; the sync session owns
// exactly one at a time and replaces it on reconnect.
//
// The wire framing is a 4-byte big-endian payload length, one flags
// byte, then the payload. Flag bit 0 marks a zstd-compressed payload;
// senders compress opportunistically and receivers handle both forms,
// so compression support can differ across client versions without
// negotiation.
//
// TCPDialer is the production implementation. MemoryPair provides an
// in-process connection for session tests, and MemoryDialer hands
// those out in place of real dials.
package transport
