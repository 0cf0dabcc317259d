// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"time"

	"github.com/threadline-dev/threadline/lib/ref"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageStatus tracks a message through its lifecycle.
type MessageStatus string

const (
	// StatusPending is a local optimistic write not yet confirmed by
	// the server.
	StatusPending MessageStatus = "pending"
	// StatusStreaming is an assistant message whose sentences are
	// still arriving.
	StatusStreaming MessageStatus = "streaming"
	StatusComplete  MessageStatus = "complete"
	StatusError     MessageStatus = "error"
)

// SyncStatus tracks whether the server has confirmed a message.
type SyncStatus string

const (
	// SyncLocal marks a message that exists only on this device.
	SyncLocal SyncStatus = "local"
	// SyncSynced marks a message the server has acknowledged under a
	// canonical ID.
	SyncSynced SyncStatus = "synced"
	// SyncConflict marks a message the server rejected during
	// reconciliation.
	SyncConflict SyncStatus = "conflict"
)

// ToolStatus tracks a tool invocation through its lifecycle.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolExecuting ToolStatus = "executing"
	ToolSuccess   ToolStatus = "success"
	ToolError     ToolStatus = "error"
)

// Message is one node of the conversation DAG. A message with an empty
// PreviousID is a root: either the conversation's first message or a
// fork created by editing an earlier one. Several messages may share
// the same PreviousID; they are siblings, and the newest sibling is
// the currently preferred continuation.
type Message struct {
	ID             ref.MessageID
	ConversationID ref.ConversationID
	Role           Role
	Content        string
	Status         MessageStatus
	SyncStatus     SyncStatus
	CreatedAt      time.Time
	PreviousID     ref.MessageID

	// Ordered reference lists into the store's sub-entity maps.
	SentenceIDs    []string
	ToolCallIDs    []string
	MemoryTraceIDs []string

	// seq is the store-assigned insertion sequence, used to break
	// createdAt ties when selecting the branch tip.
	seq uint64
}

// Sentence is one streamed fragment of an assistant message. A
// streaming message's displayed text is the ordered concatenation of
// its complete sentences.
type Sentence struct {
	ID         string
	MessageID  ref.MessageID
	Content    string
	Sequence   int32
	AudioRefID string
	IsComplete bool
}

// ToolCall is one tool invocation made while generating a message.
type ToolCall struct {
	ID        string
	MessageID ref.MessageID
	ToolName  string
	Arguments map[string]any
	Status    ToolStatus
	StartedAt time.Time
	EndedAt   time.Time
	Result    any
	Error     string
}

// MemoryTrace is a memory citation supporting a message, displayed in
// descending relevance order.
type MemoryTrace struct {
	ID        string
	MemoryID  string
	MessageID ref.MessageID
	Content   string
	Relevance float32
}

// AudioRef is playback metadata for synthesized or recorded audio
// attached to a sentence or a user message. The audio bytes themselves
// are handled by the playback layer; the store only tracks identity
// and duration.
type AudioRef struct {
	ID         string
	SentenceID string
	Format     string
	DurationMs int32
}

func cloneMessage(m *Message) Message {
	out := *m
	out.SentenceIDs = append([]string(nil), m.SentenceIDs...)
	out.ToolCallIDs = append([]string(nil), m.ToolCallIDs...)
	out.MemoryTraceIDs = append([]string(nil), m.MemoryTraceIDs...)
	return out
}
