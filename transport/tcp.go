// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/threadline-dev/threadline/lib/netutil"
	"github.com/threadline-dev/threadline/lib/ref"
)

// Compile-time interface checks.
var (
	_ Conn   = (*TCPConn)(nil)
	_ Dialer = (*TCPDialer)(nil)
)

// TCPDialer opens framed TCP connections to the sync server.
type TCPDialer struct {
	// Timeout bounds connection establishment. Zero means only the
	// context deadline applies.
	Timeout time.Duration
}

// Dial connects to the server and sends the attach frame naming the
// conversation. The server routes all subsequent frames on this
// connection to that conversation's stream.
func (d *TCPDialer) Dial(ctx context.Context, address string, conversationID ref.ConversationID) (Conn, error) {
	netConn, err := (&net.Dialer{Timeout: d.Timeout}).DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %s: %w", address, err)
	}
	conn := newTCPConn(netConn)
	if err := conn.Send(ctx, []byte(conversationID.String())); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: attaching %s: %w", conversationID, err)
	}
	return conn, nil
}

// TCPConn is a framed connection over TCP.
type TCPConn struct {
	conn net.Conn

	readMu  sync.Mutex
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

func newTCPConn(conn net.Conn) *TCPConn {
	return &TCPConn{conn: conn, closed: make(chan struct{})}
}

// Send writes one envelope frame.
func (c *TCPConn) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	stop := c.interruptOnCancel(ctx, c.conn.SetWriteDeadline)
	defer stop()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := writeFrame(c.conn, payload); err != nil {
		return c.translate(ctx, err)
	}
	return nil
}

// Receive reads the next envelope frame.
func (c *TCPConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}
	stop := c.interruptOnCancel(ctx, c.conn.SetReadDeadline)
	defer stop()

	c.readMu.Lock()
	defer c.readMu.Unlock()
	payload, err := readFrame(c.conn)
	if err != nil {
		return nil, c.translate(ctx, err)
	}
	return payload, nil
}

// Close tears down the connection.
func (c *TCPConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// interruptOnCancel unblocks a pending read or write when ctx is
// cancelled or the connection is closed, by forcing a deadline in the
// past. The returned stop function clears the watcher and resets the
// deadline.
func (c *TCPConn) interruptOnCancel(ctx context.Context, setDeadline func(time.Time) error) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			setDeadline(time.Unix(0, 0))
		case <-c.closed:
			setDeadline(time.Unix(0, 0))
		case <-done:
		}
	}()
	return func() {
		close(done)
		setDeadline(time.Time{})
	}
}

// translate maps low-level I/O errors to the context error when the
// caller cancelled, and to ErrClosed when the connection went away.
// Peer disconnects surface as EOF, ECONNRESET, or EPIPE depending on
// which side raced the close; all of them mean the same thing to the
// reconnect loop.
func (c *TCPConn) translate(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	if netutil.IsExpectedCloseError(err) {
		return ErrClosed
	}
	return err
}
