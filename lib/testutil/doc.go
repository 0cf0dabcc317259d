// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Threadline
// packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls. Session
// tests rely on these heavily: state-change subscriptions and mock
// transports communicate over channels, and a missed send must fail
// the test rather than hang it.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation. Use it instead of time.Now() when tests need unique
// conversation IDs or message bodies.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no Threadline-internal dependencies.
package testutil
