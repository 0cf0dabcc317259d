// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"

	"github.com/threadline-dev/threadline/lib/ref"
)

// ErrClosed is returned by Send and Receive after the connection has
// been closed, locally or by the peer.
var ErrClosed = errors.New("transport: connection closed")

// Conn is one message-oriented connection to the sync server, scoped
// to a single conversation.
type Conn interface {
	// Send transmits one envelope. Blocks until the envelope is
	// written or ctx is cancelled.
	Send(ctx context.Context, payload []byte) error

	// Receive blocks until the next envelope arrives, the connection
	// drops, or ctx is cancelled. A dropped connection returns
	// ErrClosed or the underlying read error; either way the caller
	// treats the connection as dead.
	Receive(ctx context.Context) ([]byte, error)

	// Close tears down the connection. Safe to call more than once.
	Close() error
}

// Dialer opens connections to the sync server. The sync session holds
// a Dialer rather than a concrete transport so tests can substitute an
// in-process connection.
type Dialer interface {
	// Dial opens a connection for the given conversation at the given
	// address.
	Dial(ctx context.Context, address string, conversationID ref.ConversationID) (Conn, error)
}
