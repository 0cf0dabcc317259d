// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/threadline-dev/threadline/lib/ref"
	"github.com/threadline-dev/threadline/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS outbox (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	stanza_id       TEXT    NOT NULL UNIQUE,
	conversation_id TEXT    NOT NULL,
	message_id      TEXT,
	kind            TEXT    NOT NULL,
	payload         BLOB    NOT NULL,
	checksum        BLOB    NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	conflict        INTEGER NOT NULL DEFAULT 0,
	enqueued_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS outbox_conversation ON outbox (conversation_id, seq);
`

// Entry is one queued stanza.
type Entry struct {
	Seq            int64
	StanzaID       ref.StanzaID
	ConversationID ref.ConversationID
	// MessageID is the local message the stanza creates or targets,
	// empty for stanzas with no message of their own (control stop,
	// configuration).
	MessageID  ref.MessageID
	Kind       string
	Payload    []byte
	Attempts   int
	EnqueuedAt time.Time
}

// Config holds the parameters for opening an outbox queue.
type Config struct {
	// Pool is the shared database pool. Required.
	Pool *sqlitepool.Pool

	// Logger receives operational messages. Defaults to slog.Default.
	Logger *slog.Logger
}

// Queue is the durable outbox. Safe for concurrent use; ordering
// within a conversation follows the enqueue sequence.
type Queue struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Open prepares the outbox schema on the given pool.
func Open(ctx context.Context, cfg Config) (*Queue, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("outbox: Pool is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := cfg.Pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("outbox: opening: %w", err)
	}
	defer cfg.Pool.Put(conn)
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return nil, fmt.Errorf("outbox: creating schema: %w", err)
	}
	return &Queue{pool: cfg.Pool, logger: logger}, nil
}

// Enqueue appends a stanza to the queue. The entry's Seq is assigned
// by the database and returned.
func (q *Queue) Enqueue(ctx context.Context, e Entry) (int64, error) {
	if e.StanzaID == "" {
		return 0, fmt.Errorf("outbox: enqueue: stanza ID is required")
	}
	if len(e.Payload) == 0 {
		return 0, fmt.Errorf("outbox: enqueue %s: empty payload", e.StanzaID)
	}
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: enqueue %s: %w", e.StanzaID, err)
	}
	defer q.pool.Put(conn)

	sum := blake3.Sum256(e.Payload)
	err = sqlitex.Execute(conn,
		`INSERT INTO outbox
			(stanza_id, conversation_id, message_id, kind, payload, checksum, enqueued_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			string(e.StanzaID),
			string(e.ConversationID),
			string(e.MessageID),
			e.Kind,
			e.Payload,
			sum[:],
			e.EnqueuedAt.UnixMilli(),
		}})
	if err != nil {
		return 0, fmt.Errorf("outbox: enqueue %s: %w", e.StanzaID, err)
	}
	return conn.LastInsertRowID(), nil
}

// Pending returns the conversation's queued stanzas in enqueue order,
// excluding entries parked as conflicts. Entries whose payload fails
// checksum verification are deleted and skipped.
func (q *Queue) Pending(ctx context.Context, conversationID ref.ConversationID) ([]Entry, error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("outbox: pending: %w", err)
	}
	defer q.pool.Put(conn)

	var entries []Entry
	var corrupt []ref.StanzaID
	err = sqlitex.Execute(conn,
		`SELECT seq, stanza_id, conversation_id, message_id, kind, payload, checksum, attempts, enqueued_at
			FROM outbox WHERE conversation_id = ? AND conflict = 0 ORDER BY seq`,
		&sqlitex.ExecOptions{
			Args: []any{string(conversationID)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entry, ok := scanEntry(stmt)
				if !ok {
					corrupt = append(corrupt, entry.StanzaID)
					return nil
				}
				entries = append(entries, entry)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("outbox: pending: %w", err)
	}

	for _, id := range corrupt {
		q.logger.Warn("dropping corrupt outbox entry", "stanza_id", id)
		if err := deleteStanza(conn, id); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// Ack removes an acknowledged stanza and returns it. The second result
// reports whether the stanza was queued.
func (q *Queue) Ack(ctx context.Context, stanzaID ref.StanzaID) (Entry, bool, error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return Entry{}, false, fmt.Errorf("outbox: ack %s: %w", stanzaID, err)
	}
	defer q.pool.Put(conn)

	var entry Entry
	found := false
	err = sqlitex.Execute(conn,
		`SELECT seq, stanza_id, conversation_id, message_id, kind, payload, checksum, attempts, enqueued_at
			FROM outbox WHERE stanza_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{string(stanzaID)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entry, _ = scanEntry(stmt)
				found = true
				return nil
			},
		})
	if err != nil {
		return Entry{}, false, fmt.Errorf("outbox: ack %s: %w", stanzaID, err)
	}
	if !found {
		return Entry{}, false, nil
	}
	if err := deleteStanza(conn, stanzaID); err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// MarkConflict parks a stanza so replay skips it. Conflicted entries
// are kept for inspection rather than deleted.
func (q *Queue) MarkConflict(ctx context.Context, stanzaID ref.StanzaID) error {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("outbox: mark conflict %s: %w", stanzaID, err)
	}
	defer q.pool.Put(conn)
	err = sqlitex.Execute(conn,
		`UPDATE outbox SET conflict = 1 WHERE stanza_id = ?`,
		&sqlitex.ExecOptions{Args: []any{string(stanzaID)}})
	if err != nil {
		return fmt.Errorf("outbox: mark conflict %s: %w", stanzaID, err)
	}
	return nil
}

// RecordAttempt increments a stanza's send attempt counter.
func (q *Queue) RecordAttempt(ctx context.Context, stanzaID ref.StanzaID) error {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("outbox: record attempt %s: %w", stanzaID, err)
	}
	defer q.pool.Put(conn)
	err = sqlitex.Execute(conn,
		`UPDATE outbox SET attempts = attempts + 1 WHERE stanza_id = ?`,
		&sqlitex.ExecOptions{Args: []any{string(stanzaID)}})
	if err != nil {
		return fmt.Errorf("outbox: record attempt %s: %w", stanzaID, err)
	}
	return nil
}

// Len reports the number of replayable stanzas queued for a
// conversation.
func (q *Queue) Len(ctx context.Context, conversationID ref.ConversationID) (int, error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: len: %w", err)
	}
	defer q.pool.Put(conn)

	count := 0
	err = sqlitex.Execute(conn,
		`SELECT COUNT(*) FROM outbox WHERE conversation_id = ? AND conflict = 0`,
		&sqlitex.ExecOptions{
			Args: []any{string(conversationID)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("outbox: len: %w", err)
	}
	return count, nil
}

func deleteStanza(conn *sqlite.Conn, stanzaID ref.StanzaID) error {
	err := sqlitex.Execute(conn,
		`DELETE FROM outbox WHERE stanza_id = ?`,
		&sqlitex.ExecOptions{Args: []any{string(stanzaID)}})
	if err != nil {
		return fmt.Errorf("outbox: delete %s: %w", stanzaID, err)
	}
	return nil
}

// scanEntry reads one row. The second result reports whether the
// payload matched its stored checksum.
func scanEntry(stmt *sqlite.Stmt) (Entry, bool) {
	entry := Entry{
		Seq:            stmt.ColumnInt64(0),
		StanzaID:       ref.StanzaID(stmt.ColumnText(1)),
		ConversationID: ref.ConversationID(stmt.ColumnText(2)),
		MessageID:      ref.MessageID(stmt.ColumnText(3)),
		Kind:           stmt.ColumnText(4),
		Attempts:       stmt.ColumnInt(7),
		EnqueuedAt:     time.UnixMilli(stmt.ColumnInt64(8)),
	}
	entry.Payload = make([]byte, stmt.ColumnLen(5))
	stmt.ColumnBytes(5, entry.Payload)
	stored := make([]byte, stmt.ColumnLen(6))
	stmt.ColumnBytes(6, stored)

	sum := blake3.Sum256(entry.Payload)
	if len(stored) != len(sum) {
		return entry, false
	}
	for i := range sum {
		if stored[i] != sum[i] {
			return entry, false
		}
	}
	return entry, true
}
