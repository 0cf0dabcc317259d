// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"math/rand"
	"time"
)

// backoff produces the reconnection delay sequence: the initial delay
// doubles per consecutive failure up to the ceiling, and each delay is
// jittered across its upper half so a fleet of clients losing the same
// server does not reconnect in lockstep. The ceiling bounds the
// spacing of attempts, never their count.
type backoff struct {
	initial time.Duration
	ceiling time.Duration
	// jitter is the randomness source, replaceable in tests. Takes
	// and returns a duration in (0, d].
	jitter func(d time.Duration) time.Duration

	attempt int
}

func newBackoff(initial, ceiling time.Duration) *backoff {
	return &backoff{
		initial: initial,
		ceiling: ceiling,
		jitter: func(d time.Duration) time.Duration {
			return time.Duration(rand.Int63n(int64(d))) + 1
		},
	}
}

// next returns the delay before the upcoming attempt and advances the
// sequence.
func (b *backoff) next() time.Duration {
	base := b.initial << b.attempt
	if base > b.ceiling || base <= 0 {
		base = b.ceiling
	} else {
		b.attempt++
	}
	half := base / 2
	if half <= 0 {
		return base
	}
	return half + b.jitter(half)
}

// reset restores the sequence after a successful connection.
func (b *backoff) reset() {
	b.attempt = 0
}
