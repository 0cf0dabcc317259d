// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package outbox

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/threadline-dev/threadline/lib/ref"
	"github.com/threadline-dev/threadline/lib/sqlitepool"
	"github.com/threadline-dev/threadline/lib/testutil"
)

const testConv = ref.ConversationID("conv_test")

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "outbox.db"),
		PoolSize: 1,
	})
	if err != nil {
		t.Fatalf("opening pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	q, err := Open(context.Background(), Config{Pool: pool})
	if err != nil {
		t.Fatalf("opening queue: %v", err)
	}
	return q
}

func enqueue(t *testing.T, q *Queue, stanzaID, payload string) {
	t.Helper()
	_, err := q.Enqueue(context.Background(), Entry{
		StanzaID:       ref.StanzaID(stanzaID),
		ConversationID: testConv,
		Kind:           "userMessage",
		Payload:        []byte(payload),
		EnqueuedAt:     time.UnixMilli(1000),
	})
	if err != nil {
		t.Fatalf("enqueue %s: %v", stanzaID, err)
	}
}

func TestEnqueueOrderSurvivesReload(t *testing.T) {
	q := openTestQueue(t)
	enqueue(t, q, "stz_1", "first")
	enqueue(t, q, "stz_2", "second")
	enqueue(t, q, "stz_3", "third")

	pending, err := q.Pending(context.Background(), testConv)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("got %d entries", len(pending))
	}
	for i, want := range []string{"first", "second", "third"} {
		if string(pending[i].Payload) != want {
			t.Errorf("entry %d payload = %q, want %q", i, pending[i].Payload, want)
		}
	}
}

func TestPendingScopedToConversation(t *testing.T) {
	q := openTestQueue(t)
	convA := ref.ConversationID(testutil.UniqueID("conv"))
	convB := ref.ConversationID(testutil.UniqueID("conv"))

	for i, conv := range []ref.ConversationID{convA, convB, convA} {
		_, err := q.Enqueue(context.Background(), Entry{
			StanzaID:       ref.StanzaID(testutil.UniqueID("stz")),
			ConversationID: conv,
			Kind:           "userMessage",
			Payload:        []byte{byte(i)},
			EnqueuedAt:     time.UnixMilli(1000),
		})
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	pending, err := q.Pending(context.Background(), convA)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("got %d entries for %s, want 2", len(pending), convA)
	}
	for _, e := range pending {
		if e.ConversationID != convA {
			t.Errorf("entry %s belongs to %s", e.StanzaID, e.ConversationID)
		}
	}
	if n, _ := q.Len(context.Background(), convB); n != 1 {
		t.Fatalf("Len(%s) = %d, want 1", convB, n)
	}
}

func TestAckRemovesEntry(t *testing.T) {
	q := openTestQueue(t)
	enqueue(t, q, "stz_1", "payload")

	entry, ok, err := q.Ack(context.Background(), "stz_1")
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if !ok {
		t.Fatal("ack reported stanza missing")
	}
	if string(entry.Payload) != "payload" {
		t.Errorf("acked payload = %q", entry.Payload)
	}

	n, err := q.Len(context.Background(), testConv)
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if n != 0 {
		t.Fatalf("Len = %d after ack", n)
	}

	// Acking again is a no-op, not an error: the same acknowledgment
	// can arrive twice after a reconnect.
	if _, ok, err := q.Ack(context.Background(), "stz_1"); err != nil || ok {
		t.Fatalf("second ack: ok=%v err=%v", ok, err)
	}
}

func TestMarkConflictExcludesFromReplay(t *testing.T) {
	q := openTestQueue(t)
	enqueue(t, q, "stz_1", "good")
	enqueue(t, q, "stz_2", "conflicted")

	if err := q.MarkConflict(context.Background(), "stz_2"); err != nil {
		t.Fatalf("mark conflict: %v", err)
	}
	pending, err := q.Pending(context.Background(), testConv)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].StanzaID != "stz_1" {
		t.Fatalf("pending = %+v", pending)
	}
	n, _ := q.Len(context.Background(), testConv)
	if n != 1 {
		t.Fatalf("Len = %d", n)
	}
}

func TestRecordAttempt(t *testing.T) {
	q := openTestQueue(t)
	enqueue(t, q, "stz_1", "payload")
	if err := q.RecordAttempt(context.Background(), "stz_1"); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if err := q.RecordAttempt(context.Background(), "stz_1"); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	pending, _ := q.Pending(context.Background(), testConv)
	if len(pending) != 1 || pending[0].Attempts != 2 {
		t.Fatalf("pending = %+v", pending)
	}
}

func TestCorruptPayloadDropped(t *testing.T) {
	q := openTestQueue(t)
	enqueue(t, q, "stz_1", "intact")
	enqueue(t, q, "stz_2", "doomed")

	// Flip a payload byte behind the queue's back.
	conn, err := q.pool.Take(context.Background())
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	err = sqlitex.Execute(conn,
		`UPDATE outbox SET payload = ? WHERE stanza_id = ?`,
		&sqlitex.ExecOptions{Args: []any{[]byte("tampered"), "stz_2"}})
	q.pool.Put(conn)
	if err != nil {
		t.Fatalf("tamper: %v", err)
	}

	pending, err := q.Pending(context.Background(), testConv)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].StanzaID != "stz_1" {
		t.Fatalf("pending = %+v", pending)
	}

	// The corrupt entry is gone for good.
	n, _ := q.Len(context.Background(), testConv)
	if n != 1 {
		t.Fatalf("Len = %d", n)
	}
}

func TestEnqueueValidation(t *testing.T) {
	q := openTestQueue(t)
	if _, err := q.Enqueue(context.Background(), Entry{ConversationID: testConv, Payload: []byte("x")}); err == nil {
		t.Fatal("expected error for missing stanza ID")
	}
	if _, err := q.Enqueue(context.Background(), Entry{StanzaID: "stz_1", ConversationID: testConv}); err == nil {
		t.Fatal("expected error for empty payload")
	}
}
