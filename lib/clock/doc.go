// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for
// testability.
//
// Production code accepts a Clock parameter instead of calling
// time.Now, time.After, or time.Sleep directly. In production, Real()
// provides the standard library behavior. In tests, Fake() provides a
// deterministic clock that advances only when Advance is called.
//
// The sync session's two timed operations, reconnection backoff and
// the acknowledgment wait during queue flush, both run on an injected
// Clock, so their tests never sleep on the wall clock.
//
// # FakeClock synchronization
//
// When a goroutine calls After or Sleep on a FakeClock, it registers a
// pending waiter. Use WaitForWaiters to block until a specific number
// of waiters are registered before calling Advance. This eliminates
// the race between timer registration and time advancement that
// plagues tests using time.Sleep for synchronization:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	session := NewSession(Config{Clock: c, ...})
//	// ... session goroutine enters backoff ...
//	c.WaitForWaiters(1)
//	c.Advance(time.Second) // fire the backoff timer deterministically
package clock
