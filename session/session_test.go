// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/threadline-dev/threadline/conversation"
	"github.com/threadline-dev/threadline/history"
	"github.com/threadline-dev/threadline/lib/clock"
	"github.com/threadline-dev/threadline/lib/codec"
	"github.com/threadline-dev/threadline/lib/ref"
	"github.com/threadline-dev/threadline/lib/sqlitepool"
	"github.com/threadline-dev/threadline/lib/testutil"
	"github.com/threadline-dev/threadline/outbox"
	"github.com/threadline-dev/threadline/transport"
)

const testConv = ref.ConversationID("conv_test")

type testHarness struct {
	session *Session
	store   *conversation.Store
	queue   *outbox.Queue
	history *history.Cache
	dialer  *transport.MemoryDialer
	clock   clock.Clock
}

func newHarness(t *testing.T, clk clock.Clock, conns ...*transport.MemoryConn) *testHarness {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "session.db"),
		PoolSize: 1,
	})
	if err != nil {
		t.Fatalf("opening pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	queue, err := outbox.Open(context.Background(), outbox.Config{Pool: pool})
	if err != nil {
		t.Fatalf("opening outbox: %v", err)
	}
	cache, err := history.Open(context.Background(), history.Config{Pool: pool})
	if err != nil {
		t.Fatalf("opening history: %v", err)
	}

	store := conversation.New()
	dialer := transport.NewMemoryDialer(conns...)
	sess, err := New(Config{
		ConversationID: testConv,
		Address:        "test:1",
		Dialer:         dialer,
		Store:          store,
		Outbox:         queue,
		History:        cache,
		Clock:          clk,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		BackoffInitial: time.Second,
		BackoffCeiling: 30 * time.Second,
		AckTimeout:     10 * time.Second,
		ClientVersion:  "test",
	})
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return &testHarness{
		session: sess,
		store:   store,
		queue:   queue,
		history: cache,
		dialer:  dialer,
		clock:   clk,
	}
}

// receiveFields reads the next envelope from the server end and
// decodes it to a field map.
func receiveFields(t *testing.T, server *transport.MemoryConn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	payload, err := server.Receive(ctx)
	if err != nil {
		t.Fatalf("server receive: %v", err)
	}
	var fields map[string]any
	if err := codec.Unmarshal(payload, &fields); err != nil {
		t.Fatalf("decoding client stanza: %v", err)
	}
	return fields
}

func sendEnvelope(t *testing.T, server *transport.MemoryConn, fields map[string]any) {
	t.Helper()
	payload, err := codec.Marshal(fields)
	if err != nil {
		t.Fatalf("encoding envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Send(ctx, payload); err != nil {
		t.Fatalf("server send: %v", err)
	}
}

func acknowledge(t *testing.T, server *transport.MemoryConn, fields map[string]any) {
	t.Helper()
	stanzaID, ok := fields["stanzaId"].(string)
	if !ok {
		t.Fatalf("stanza without stanzaId: %v", fields)
	}
	sendEnvelope(t, server, map[string]any{
		"acknowledgedStanzaId": stanzaID,
		"success":              true,
	})
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
	if _, err := New(Config{ConversationID: testConv, Address: "a"}); err == nil {
		t.Fatal("expected error for missing dialer")
	}
}

func TestOfflineReplayOrder(t *testing.T) {
	client, server := transport.MemoryPair()
	h := newHarness(t, clock.Real(), client)
	ctx := context.Background()

	// Queue three messages before any connection exists.
	for _, text := range []string{"first", "second", "third"} {
		if _, err := h.session.SendText(ctx, text); err != nil {
			t.Fatalf("send %q: %v", text, err)
		}
	}
	n, _ := h.queue.Len(ctx, testConv)
	if n != 3 {
		t.Fatalf("queue length = %d before connect", n)
	}

	go h.session.Run(ctx)

	// The configuration stanza attaches the conversation first.
	config := receiveFields(t, server)
	if config["conversationId"] != string(testConv) {
		t.Fatalf("configuration = %v", config)
	}

	// Replay arrives in enqueue order, each stanza gated on the
	// previous acknowledgment.
	for _, want := range []string{"first", "second", "third"} {
		fields := receiveFields(t, server)
		if fields["content"] != want {
			t.Fatalf("replayed content = %v, want %q", fields["content"], want)
		}
		acknowledge(t, server, fields)
	}

	waitFor(t, "queue drain", func() bool {
		n, err := h.queue.Len(ctx, testConv)
		return err == nil && n == 0
	})
}

func TestOrphanedLocalSyncOnConnect(t *testing.T) {
	client, server := transport.MemoryPair()
	h := newHarness(t, clock.Real(), client)
	ctx := context.Background()

	// A local message with no queued stanza, as left behind by a crash
	// between the history write and the outbox write.
	orphan := ref.NewLocalMessageID()
	h.store.AddMessage(conversation.Message{
		ID:             orphan,
		ConversationID: testConv,
		Role:           conversation.RoleUser,
		Content:        "written but never queued",
		Status:         conversation.StatusPending,
		SyncStatus:     conversation.SyncLocal,
		CreatedAt:      time.UnixMilli(1000),
	})

	go h.session.Run(ctx)
	receiveFields(t, server) // configuration

	sync := receiveFields(t, server)
	msgs, ok := sync["messages"].([]any)
	if !ok || len(msgs) != 1 {
		t.Fatalf("sync request = %v", sync)
	}
	entry, _ := msgs[0].(map[string]any)
	if entry["localId"] != string(orphan) || entry["content"] != "written but never queued" {
		t.Fatalf("sync entry = %v", entry)
	}

	sendEnvelope(t, server, map[string]any{
		"syncedMessages": []any{
			map[string]any{
				"localId":  string(orphan),
				"serverId": "msg_srv9",
				"status":   "synced",
			},
		},
	})
	waitFor(t, "rename", func() bool {
		_, ok := h.store.Message("msg_srv9")
		return ok
	})
}

func TestAcknowledgementReconciliation(t *testing.T) {
	client, server := transport.MemoryPair()
	h := newHarness(t, clock.Real(), client)
	ctx := context.Background()

	go h.session.Run(ctx)
	receiveFields(t, server) // configuration

	id, err := h.session.SendText(ctx, "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if m, _ := h.store.Message(id); m.SyncStatus != conversation.SyncLocal {
		t.Fatalf("SyncStatus before ack = %q", m.SyncStatus)
	}

	fields := receiveFields(t, server)
	acknowledge(t, server, fields)

	waitFor(t, "sync status", func() bool {
		m, ok := h.store.Message(id)
		return ok && m.SyncStatus == conversation.SyncSynced
	})
	n, _ := h.queue.Len(ctx, testConv)
	if n != 0 {
		t.Fatalf("queue length = %d after ack", n)
	}
}

func TestTerminalRejectionMarksMessageError(t *testing.T) {
	client, server := transport.MemoryPair()
	h := newHarness(t, clock.Real(), client)
	ctx := context.Background()

	go h.session.Run(ctx)
	receiveFields(t, server)

	id, err := h.session.SendText(ctx, "rejected")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	fields := receiveFields(t, server)
	sendEnvelope(t, server, map[string]any{
		"acknowledgedStanzaId": fields["stanzaId"],
		"success":              false,
		"reason":               "invalid message",
	})

	waitFor(t, "error status", func() bool {
		m, ok := h.store.Message(id)
		return ok && m.Status == conversation.StatusError && m.SyncStatus == conversation.SyncConflict
	})
	// Parked, not replayable.
	n, _ := h.queue.Len(ctx, testConv)
	if n != 0 {
		t.Fatalf("queue length = %d after terminal rejection", n)
	}
}

func TestReconnectBackoff(t *testing.T) {
	fake := clock.Fake(time.Unix(1000, 0))
	h := newHarness(t, fake) // no scripted connections: every dial fails
	ctx := context.Background()

	go h.session.Run(ctx)

	waitFor(t, "first dial", func() bool { return h.dialer.Dials() == 1 })
	waitFor(t, "backoff waiter", func() bool { return fake.PendingCount() == 1 })
	if h.session.State() != StateReconnecting {
		t.Fatalf("state = %v", h.session.State())
	}

	// First delay is at most the initial 1s. Advancing by it fires
	// the waiter and triggers the second dial.
	fake.Advance(time.Second)
	waitFor(t, "second dial", func() bool { return h.dialer.Dials() == 2 })

	// Second delay doubles: at most 2s.
	waitFor(t, "backoff waiter", func() bool { return fake.PendingCount() == 1 })
	fake.Advance(2 * time.Second)
	waitFor(t, "third dial", func() bool { return h.dialer.Dials() == 3 })
}

func TestStateTransitions(t *testing.T) {
	client, server := transport.MemoryPair()
	h := newHarness(t, clock.Real(), client)
	states, cancel := h.session.Subscribe()
	defer cancel()

	ctx := context.Background()
	go h.session.Run(ctx)

	if got := testutil.RequireReceive(t, states, 5*time.Second, "connecting state"); got != StateConnecting {
		t.Fatalf("state = %v, want connecting", got)
	}
	if got := testutil.RequireReceive(t, states, 5*time.Second, "connected state"); got != StateConnected {
		t.Fatalf("state = %v, want connected", got)
	}
	receiveFields(t, server)

	// Dropping the connection moves to reconnecting.
	server.Close()
	if got := testutil.RequireReceive(t, states, 5*time.Second, "reconnecting state"); got != StateReconnecting {
		t.Fatalf("state = %v, want reconnecting", got)
	}

	h.session.Close()
	if got := testutil.RequireReceive(t, states, 5*time.Second, "closed state"); got != StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
	if h.session.State() != StateClosed {
		t.Fatalf("State() = %v after close", h.session.State())
	}
}

func TestSendTextLinksToBranchTip(t *testing.T) {
	h := newHarness(t, clock.Real())
	ctx := context.Background()

	first, err := h.session.SendText(ctx, "one")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	second, err := h.session.SendText(ctx, "two")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	m, _ := h.store.Message(second)
	if m.PreviousID != first {
		t.Fatalf("PreviousID = %q, want %q", m.PreviousID, first)
	}
	branch := h.store.Branch(testConv)
	if len(branch) != 2 || branch[0].ID != first || branch[1].ID != second {
		t.Fatalf("branch = %+v", branch)
	}

	// Optimistic writes also land in the durable cache.
	cached, err := h.history.Messages(ctx, testConv)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(cached) != 2 {
		t.Fatalf("cached = %+v", cached)
	}
}

func TestEditForksNewRoot(t *testing.T) {
	h := newHarness(t, clock.Real())
	ctx := context.Background()

	original, err := h.session.SendText(ctx, "original")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	fork, err := h.session.EditMessage(ctx, original, "edited")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}

	m, _ := h.store.Message(fork)
	if m.PreviousID != "" {
		t.Fatalf("fork PreviousID = %q, want root", m.PreviousID)
	}
	if m.Content != "edited" {
		t.Fatalf("fork Content = %q", m.Content)
	}
	if _, err := h.session.EditMessage(ctx, "msg_unknown", "x"); err == nil {
		t.Fatal("edit of unknown message should fail")
	}
}

func TestBackoffSequence(t *testing.T) {
	b := newBackoff(time.Second, 8*time.Second)
	b.jitter = func(d time.Duration) time.Duration { return d } // deterministic maximum

	wants := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		8 * time.Second, 8 * time.Second,
	}
	for i, want := range wants {
		if got := b.next(); got != want {
			t.Fatalf("delay %d = %v, want %v", i, got, want)
		}
	}
	b.reset()
	if got := b.next(); got != time.Second {
		t.Fatalf("delay after reset = %v", got)
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	b := newBackoff(time.Second, 30*time.Second)
	for i := 0; i < 50; i++ {
		d := b.next()
		if d <= 0 || d > 30*time.Second {
			t.Fatalf("delay %v out of bounds", d)
		}
	}
}
