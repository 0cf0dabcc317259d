// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"time"

	"github.com/threadline-dev/threadline/conversation"
	"github.com/threadline-dev/threadline/lib/ref"
	"github.com/threadline-dev/threadline/outbox"
	"github.com/threadline-dev/threadline/protocol"
)

// Stanza kinds recorded in the outbox for diagnostics.
const (
	kindUserMessage       = "userMessage"
	kindGenerationRequest = "generationRequest"
	kindControlStop       = "controlStop"
)

// SendText appends a user text message optimistically and queues its
// stanza. Returns the local message ID; the server assigns the
// canonical ID during reconciliation. Never blocks on connectivity.
func (s *Session) SendText(ctx context.Context, text string) (ref.MessageID, error) {
	if text == "" {
		return "", fmt.Errorf("session: send text: empty message")
	}
	id := ref.NewLocalMessageID()
	now := s.clock.Now()
	m := conversation.Message{
		ID:             id,
		ConversationID: s.conversationID,
		Role:           conversation.RoleUser,
		Content:        text,
		Status:         conversation.StatusPending,
		SyncStatus:     conversation.SyncLocal,
		CreatedAt:      now,
		PreviousID:     s.tip(),
	}
	s.store.AddMessage(m)
	s.persist(ctx, m)

	stanzaID := ref.NewStanzaID()
	payload, err := protocol.Encode(protocol.UserMessage{
		StanzaID:       stanzaID,
		ID:             id,
		ConversationID: s.conversationID,
		PreviousID:     m.PreviousID,
		Content:        text,
		Timestamp:      now.UnixMilli(),
	})
	if err != nil {
		return "", &SendError{Kind: kindUserMessage, StanzaID: stanzaID, Err: err}
	}
	if err := s.enqueue(ctx, stanzaID, id, kindUserMessage, payload, now); err != nil {
		return "", err
	}
	return id, nil
}

// SendVoice appends a pending voice message. Its content stays empty
// until the final transcription arrives, at which point the message
// text is filled in and the stanza is queued. Only one voice message
// may be pending at a time.
func (s *Session) SendVoice(ctx context.Context) (ref.MessageID, error) {
	s.voiceMu.Lock()
	defer s.voiceMu.Unlock()
	if s.pendingVoice != "" {
		return "", fmt.Errorf("session: send voice: transcription already pending for %s", s.pendingVoice)
	}
	id := ref.NewLocalMessageID()
	m := conversation.Message{
		ID:             id,
		ConversationID: s.conversationID,
		Role:           conversation.RoleUser,
		Status:         conversation.StatusPending,
		SyncStatus:     conversation.SyncLocal,
		CreatedAt:      s.clock.Now(),
		PreviousID:     s.tip(),
	}
	s.store.AddMessage(m)
	s.persist(ctx, m)
	s.pendingVoice = id
	return id, nil
}

// EditMessage forks a new root-level message carrying the edited
// content and queues a regeneration request against the original.
// The fork starts a fresh branch; the superseded branch remains in
// the store but drops out of the active branch once the server
// confirms the fork.
func (s *Session) EditMessage(ctx context.Context, target ref.MessageID, newContent string) (ref.MessageID, error) {
	if _, ok := s.store.Message(target); !ok {
		return "", fmt.Errorf("session: edit: unknown message %s", target)
	}
	id := ref.NewLocalMessageID()
	now := s.clock.Now()
	m := conversation.Message{
		ID:             id,
		ConversationID: s.conversationID,
		Role:           conversation.RoleUser,
		Content:        newContent,
		Status:         conversation.StatusPending,
		SyncStatus:     conversation.SyncLocal,
		CreatedAt:      now,
	}
	s.store.AddMessage(m)
	s.persist(ctx, m)

	stanzaID := ref.NewStanzaID()
	payload, err := protocol.Encode(protocol.GenerationRequest{
		StanzaID:       stanzaID,
		ConversationID: s.conversationID,
		MessageID:      target,
		PreviousID:     id,
		RequestType:    protocol.RequestTypeEdit,
		NewContent:     newContent,
	})
	if err != nil {
		return "", &SendError{Kind: kindGenerationRequest, StanzaID: stanzaID, Err: err}
	}
	if err := s.enqueue(ctx, stanzaID, id, kindGenerationRequest, payload, now); err != nil {
		return "", err
	}
	return id, nil
}

// RegenerateMessage asks the server for an alternative to an existing
// assistant message. The new sibling arrives as a streamed answer and
// becomes the branch tip.
func (s *Session) RegenerateMessage(ctx context.Context, target ref.MessageID) error {
	if _, ok := s.store.Message(target); !ok {
		return fmt.Errorf("session: regenerate: unknown message %s", target)
	}
	stanzaID := ref.NewStanzaID()
	payload, err := protocol.Encode(protocol.GenerationRequest{
		StanzaID:       stanzaID,
		ConversationID: s.conversationID,
		MessageID:      target,
		RequestType:    protocol.RequestTypeRegenerate,
	})
	if err != nil {
		return &SendError{Kind: kindGenerationRequest, StanzaID: stanzaID, Err: err}
	}
	return s.enqueue(ctx, stanzaID, "", kindGenerationRequest, payload, s.clock.Now())
}

// StopStreaming halts generation of a streaming message. The local
// status flips to Complete immediately; the stop is advisory, and
// sentences the server already queued still arrive and are applied
// harmlessly.
func (s *Session) StopStreaming(ctx context.Context, target ref.MessageID) error {
	s.store.UpdateMessageStatus(target, conversation.StatusComplete)
	stanzaID := ref.NewStanzaID()
	payload, err := protocol.Encode(protocol.ControlStop{
		StanzaID:       stanzaID,
		ConversationID: s.conversationID,
		TargetID:       target,
		StopType:       protocol.StopTypeGeneration,
	})
	if err != nil {
		return &SendError{Kind: kindControlStop, StanzaID: stanzaID, Err: err}
	}
	return s.enqueue(ctx, stanzaID, "", kindControlStop, payload, s.clock.Now())
}

// SwitchBranch re-synchronizes the conversation against a chosen
// branch tip: the authoritative message list for that tip is fetched
// over REST and merged non-destructively, so streamed sub-entities
// survive the reload.
func (s *Session) SwitchBranch(ctx context.Context, tip ref.MessageID) error {
	if s.resyncTip == nil {
		return fmt.Errorf("session: switch branch: no resync endpoint configured")
	}
	messages, err := s.resyncTip(ctx, s.conversationID, tip)
	if err != nil {
		return fmt.Errorf("session: switch branch: %w", err)
	}
	s.ApplyServerMessages(ctx, messages)
	return nil
}

// ApplyServerMessages folds an authoritative message list into the
// store and the durable cache. Always a merge, never a reset: this is
// the entry point for REST bootstrap and background refreshes of a
// visible conversation.
func (s *Session) ApplyServerMessages(ctx context.Context, messages []conversation.Message) {
	s.store.MergeMessages(s.conversationID, messages)
	if s.history != nil {
		if err := s.history.UpsertMessages(ctx, messages); err != nil {
			s.logger.Warn("persisting merged messages", "error", err)
		}
	}
}

// tip returns the current active-branch tip, or empty for the first
// message of a conversation.
func (s *Session) tip() ref.MessageID {
	branch := s.store.Branch(s.conversationID)
	if len(branch) == 0 {
		return ""
	}
	return branch[len(branch)-1].ID
}

func (s *Session) enqueue(ctx context.Context, stanzaID ref.StanzaID, messageID ref.MessageID, kind string, payload []byte, now time.Time) error {
	_, err := s.queue.Enqueue(ctx, outbox.Entry{
		StanzaID:       stanzaID,
		ConversationID: s.conversationID,
		MessageID:      messageID,
		Kind:           kind,
		Payload:        payload,
		EnqueuedAt:     now,
	})
	if err != nil {
		// Queue writes can fail on a busy database; the caller may
		// retry the whole send.
		return &SendError{Kind: kind, StanzaID: stanzaID, Transient: true, Err: err}
	}
	s.kickFlush()
	return nil
}

func (s *Session) persist(ctx context.Context, m conversation.Message) {
	if s.history == nil {
		return
	}
	if err := s.history.UpsertMessage(ctx, m); err != nil {
		s.logger.Warn("persisting message", "message", m.ID, "error", err)
	}
}
