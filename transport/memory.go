// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/threadline-dev/threadline/lib/ref"
)

// Compile-time interface checks.
var (
	_ Conn   = (*MemoryConn)(nil)
	_ Dialer = (*MemoryDialer)(nil)
)

// MemoryConn is an in-process Conn for tests. Envelopes pass through
// buffered channels; no framing or compression is involved.
type MemoryConn struct {
	send chan []byte
	recv chan []byte

	closeOnce sync.Once
	closed    chan struct{}
	peer      *MemoryConn
}

// MemoryPair returns two connected ends. Envelopes sent on one end are
// received on the other. Closing either end closes both.
func MemoryPair() (*MemoryConn, *MemoryConn) {
	a2b := make(chan []byte, 64)
	b2a := make(chan []byte, 64)
	a := &MemoryConn{send: a2b, recv: b2a, closed: make(chan struct{})}
	b := &MemoryConn{send: b2a, recv: a2b, closed: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

// Send queues one envelope for the peer.
func (c *MemoryConn) Send(ctx context.Context, payload []byte) error {
	out := append([]byte(nil), payload...)
	select {
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case c.send <- out:
		return nil
	}
}

// Receive returns the next envelope from the peer.
func (c *MemoryConn) Receive(ctx context.Context) ([]byte, error) {
	// Drain envelopes already queued before reporting closure, so a
	// test that sends then closes still delivers everything.
	select {
	case payload := <-c.recv:
		return payload, nil
	default:
	}
	select {
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case payload := <-c.recv:
		return payload, nil
	}
}

// Close tears down both ends.
func (c *MemoryConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.peer != nil {
			c.peer.closeOnce.Do(func() { close(c.peer.closed) })
		}
	})
	return nil
}

// MemoryDialer hands out the server ends of in-process connections.
// Each Dial consumes the next scripted connection; a Dial beyond the
// scripted count fails, which tests use to simulate an unreachable
// server.
type MemoryDialer struct {
	mu    sync.Mutex
	conns []*MemoryConn
	dials int
}

// NewMemoryDialer creates a dialer that will hand out the given
// connections in order.
func NewMemoryDialer(conns ...*MemoryConn) *MemoryDialer {
	return &MemoryDialer{conns: conns}
}

// Add appends another connection for a future Dial.
func (d *MemoryDialer) Add(conn *MemoryConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = append(d.conns, conn)
}

// Dials reports how many times Dial has been called.
func (d *MemoryDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Dial returns the next scripted connection.
func (d *MemoryDialer) Dial(ctx context.Context, address string, conversationID ref.ConversationID) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, fmt.Errorf("transport: dialing %s: no connection available", address)
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}
