// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package session

// State is the session's connection state.
type State int

const (
	// StateDisconnected is the initial state, before Run.
	StateDisconnected State = iota
	// StateConnecting is the first connection attempt.
	StateConnecting
	// StateConnected means the transport is up and the outbox is
	// flushing or drained.
	StateConnected
	// StateReconnecting follows a transport loss; the session is
	// waiting out a backoff delay or re-dialing.
	StateReconnecting
	// StateClosed is terminal, entered only by explicit Close.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
