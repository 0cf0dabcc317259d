// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/threadline-dev/threadline/conversation"
	"github.com/threadline-dev/threadline/lib/ref"
	"github.com/threadline-dev/threadline/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	status          TEXT NOT NULL,
	sync_status     TEXT NOT NULL,
	previous_id     TEXT,
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_conversation ON messages (conversation_id, created_at);
`

// Config holds the parameters for opening a history cache.
type Config struct {
	// Pool is the shared database pool. Required.
	Pool *sqlitepool.Pool

	// Logger receives operational messages. Defaults to slog.Default.
	Logger *slog.Logger
}

// Cache is the durable message store for offline display.
type Cache struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Open prepares the history schema on the given pool.
func Open(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("history: Pool is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := cfg.Pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: opening: %w", err)
	}
	defer cfg.Pool.Put(conn)
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return nil, fmt.Errorf("history: creating schema: %w", err)
	}
	return &Cache{pool: cfg.Pool, logger: logger}, nil
}

// UpsertMessage writes one message, replacing any existing row with
// the same ID.
func (c *Cache) UpsertMessage(ctx context.Context, m conversation.Message) error {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("history: upsert %s: %w", m.ID, err)
	}
	defer c.pool.Put(conn)
	return c.upsert(conn, m)
}

// UpsertMessages writes a batch of messages in one transaction.
func (c *Cache) UpsertMessages(ctx context.Context, messages []conversation.Message) (err error) {
	if len(messages) == 0 {
		return nil
	}
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("history: upsert batch: %w", err)
	}
	defer c.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("history: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for _, m := range messages {
		if err := c.upsert(conn, m); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) upsert(conn *sqlite.Conn, m conversation.Message) error {
	err := sqlitex.Execute(conn,
		`INSERT INTO messages (id, conversation_id, role, content, status, sync_status, previous_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				content = excluded.content,
				status = excluded.status,
				sync_status = excluded.sync_status,
				previous_id = excluded.previous_id,
				created_at = excluded.created_at`,
		&sqlitex.ExecOptions{Args: []any{
			string(m.ID),
			string(m.ConversationID),
			string(m.Role),
			m.Content,
			string(m.Status),
			string(m.SyncStatus),
			string(m.PreviousID),
			m.CreatedAt.UnixMilli(),
		}})
	if err != nil {
		return fmt.Errorf("history: upsert %s: %w", m.ID, err)
	}
	return nil
}

// Messages returns a conversation's cached messages in ascending
// createdAt order.
func (c *Cache) Messages(ctx context.Context, conversationID ref.ConversationID) ([]conversation.Message, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: messages: %w", err)
	}
	defer c.pool.Put(conn)

	var out []conversation.Message
	err = sqlitex.Execute(conn,
		`SELECT id, conversation_id, role, content, status, sync_status, previous_id, created_at
			FROM messages WHERE conversation_id = ? ORDER BY created_at, id`,
		&sqlitex.ExecOptions{
			Args: []any{string(conversationID)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, conversation.Message{
					ID:             ref.MessageID(stmt.ColumnText(0)),
					ConversationID: ref.ConversationID(stmt.ColumnText(1)),
					Role:           conversation.Role(stmt.ColumnText(2)),
					Content:        stmt.ColumnText(3),
					Status:         conversation.MessageStatus(stmt.ColumnText(4)),
					SyncStatus:     conversation.SyncStatus(stmt.ColumnText(5)),
					PreviousID:     ref.MessageID(stmt.ColumnText(6)),
					CreatedAt:      time.UnixMilli(stmt.ColumnInt64(7)),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history: messages: %w", err)
	}
	return out, nil
}

// RenameMessage rekeys a cached message from a local optimistic ID to
// the server-assigned canonical ID and repoints previous_id links.
func (c *Cache) RenameMessage(ctx context.Context, oldID, newID ref.MessageID) (err error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("history: rename %s: %w", oldID, err)
	}
	defer c.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("history: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn,
		`UPDATE messages SET id = ?, sync_status = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{
			string(newID), string(conversation.SyncSynced), string(oldID),
		}})
	if err != nil {
		return fmt.Errorf("history: rename %s: %w", oldID, err)
	}
	err = sqlitex.Execute(conn,
		`UPDATE messages SET previous_id = ? WHERE previous_id = ?`,
		&sqlitex.ExecOptions{Args: []any{string(newID), string(oldID)}})
	if err != nil {
		return fmt.Errorf("history: rename %s links: %w", oldID, err)
	}
	return nil
}

// DeleteConversation removes every cached message for a conversation.
func (c *Cache) DeleteConversation(ctx context.Context, conversationID ref.ConversationID) error {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("history: delete %s: %w", conversationID, err)
	}
	defer c.pool.Put(conn)
	err = sqlitex.Execute(conn,
		`DELETE FROM messages WHERE conversation_id = ?`,
		&sqlitex.ExecOptions{Args: []any{string(conversationID)}})
	if err != nil {
		return fmt.Errorf("history: delete %s: %w", conversationID, err)
	}
	return nil
}
