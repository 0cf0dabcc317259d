// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/threadline-dev/threadline/conversation"
	"github.com/threadline-dev/threadline/lib/ref"
	"github.com/threadline-dev/threadline/protocol"
)

// applyInbound classifies one envelope and folds it into the store.
// Returns the acknowledgment when the envelope was one, so the serve
// loop can advance the outbox flush. Every application path is an
// idempotent upsert keyed by entity ID: the same envelope arriving
// twice after a reconnect is a no-op the second time.
func (s *Session) applyInbound(ctx context.Context, payload []byte) *protocol.Acknowledgement {
	env, err := protocol.Decode(payload)
	if err != nil {
		var classifyErr *protocol.ClassifyError
		if errors.As(err, &classifyErr) {
			// Protocol error: log and move on, the session survives.
			s.logger.Warn("unclassifiable envelope", "fields", classifyErr.Fields)
			return nil
		}
		s.logger.Warn("dropping malformed envelope", "error", err)
		return nil
	}

	switch msg := env.Message.(type) {
	case *protocol.SyncResponse:
		s.applySyncResponse(ctx, msg)
	case *protocol.AssistantMessage:
		s.applyAssistantMessage(msg)
	case *protocol.Acknowledgement:
		s.applyAcknowledgement(ctx, msg)
		return msg
	case *protocol.StartAnswer:
		s.applyStartAnswer(msg)
	case *protocol.AssistantSentence:
		s.applySentence(msg)
	case *protocol.ToolUseRequest:
		s.applyToolUseRequest(msg)
	case *protocol.ToolUseResult:
		s.applyToolUseResult(msg)
	case *protocol.ReasoningStep:
		// Reasoning traces are not modeled client-side; they only
		// matter for server-side debugging sessions.
		s.logger.Debug("reasoning step", "message", msg.MessageID, "sequence", msg.Sequence)
	case *protocol.AudioChunk:
		s.applyAudioChunk(msg)
	case *protocol.Transcription:
		s.applyTranscription(ctx, msg)
	case *protocol.MemoryTrace:
		s.applyMemoryTrace(msg)
	case *protocol.ErrorMessage:
		s.applyError(msg)
	}
	return nil
}

// applySyncResponse reconciles locally-created messages against the
// server's canonical IDs. A rename repoints every sub-entity reference
// so nothing is orphaned; a conflict parks the message for the UI to
// surface.
func (s *Session) applySyncResponse(ctx context.Context, msg *protocol.SyncResponse) {
	for _, synced := range msg.SyncedMessages {
		switch synced.Status {
		case "synced", "duplicate":
			if synced.ServerID != "" && synced.ServerID != synced.LocalID {
				s.renameMessage(ctx, synced.LocalID, synced.ServerID)
			} else {
				s.store.SetSyncStatus(synced.LocalID, conversation.SyncSynced)
			}
		case "conflict", "error":
			s.logger.Warn("message rejected during sync",
				"message", synced.LocalID, "status", synced.Status)
			s.store.SetSyncStatus(synced.LocalID, conversation.SyncConflict)
		default:
			s.logger.Warn("unknown sync status",
				"message", synced.LocalID, "status", synced.Status)
		}
	}
}

func (s *Session) renameMessage(ctx context.Context, localID, serverID ref.MessageID) {
	if !s.store.RenameMessage(localID, serverID) {
		// Already renamed by an earlier copy of this response.
		s.store.SetSyncStatus(serverID, conversation.SyncSynced)
		return
	}
	if s.history != nil {
		if err := s.history.RenameMessage(ctx, localID, serverID); err != nil {
			s.logger.Warn("renaming cached message",
				"local", localID, "server", serverID, "error", err)
		}
	}
}

func (s *Session) applyAssistantMessage(msg *protocol.AssistantMessage) {
	s.store.AddMessage(conversation.Message{
		ID:             msg.ID,
		ConversationID: s.conversationID,
		Role:           conversation.RoleAssistant,
		Content:        msg.Contents,
		Status:         conversation.StatusComplete,
		SyncStatus:     conversation.SyncSynced,
		CreatedAt:      time.UnixMilli(msg.Timestamp),
		PreviousID:     msg.PreviousID,
	})
}

// applyAcknowledgement settles one queued stanza. Success removes it
// and flips its message to Synced. A transient rejection keeps it
// queued for a later flush; a terminal rejection parks it and marks
// the message as failed for inline display.
func (s *Session) applyAcknowledgement(ctx context.Context, ack *protocol.Acknowledgement) {
	if !ack.Success {
		if ack.Transient {
			s.logger.Warn("stanza rejected, will retry",
				"stanza_id", ack.StanzaID, "reason", ack.Reason)
			return
		}
		s.logger.Warn("stanza rejected permanently",
			"stanza_id", ack.StanzaID, "reason", ack.Reason)
		s.failStanza(ctx, ack.StanzaID)
		return
	}
	entry, ok, err := s.queue.Ack(ctx, ack.StanzaID)
	if err != nil {
		s.logger.Warn("settling acknowledgment", "stanza_id", ack.StanzaID, "error", err)
		return
	}
	if !ok {
		// Duplicate acknowledgment after a reconnect.
		return
	}
	if entry.MessageID != "" {
		s.store.SetSyncStatus(entry.MessageID, conversation.SyncSynced)
		if m, ok := s.store.Message(entry.MessageID); ok && m.Status == conversation.StatusPending {
			s.store.UpdateMessageStatus(entry.MessageID, conversation.StatusComplete)
		}
	}
}

// failStanza parks a terminally-rejected stanza and marks its message
// with an Error status.
func (s *Session) failStanza(ctx context.Context, stanzaID ref.StanzaID) {
	pending, err := s.queue.Pending(ctx, s.conversationID)
	if err != nil {
		s.logger.Warn("loading queue for rejection", "error", err)
		return
	}
	for _, entry := range pending {
		if entry.StanzaID != stanzaID {
			continue
		}
		if err := s.queue.MarkConflict(ctx, stanzaID); err != nil {
			s.logger.Warn("parking rejected stanza", "stanza_id", stanzaID, "error", err)
		}
		if entry.MessageID != "" {
			s.store.UpdateMessageStatus(entry.MessageID, conversation.StatusError)
			s.store.SetSyncStatus(entry.MessageID, conversation.SyncConflict)
		}
		return
	}
}

func (s *Session) applyStartAnswer(msg *protocol.StartAnswer) {
	s.store.AddMessage(conversation.Message{
		ID:             msg.ID,
		ConversationID: s.conversationID,
		Role:           conversation.RoleAssistant,
		Status:         conversation.StatusStreaming,
		SyncStatus:     conversation.SyncSynced,
		CreatedAt:      s.clock.Now(),
		PreviousID:     msg.PreviousID,
	})
}

// applySentence attaches one streamed sentence to its message. The
// owning message is named by messageId when present, otherwise by
// previousId, which carries the answer's message ID on older servers.
func (s *Session) applySentence(msg *protocol.AssistantSentence) {
	messageID := msg.MessageID
	if messageID == "" {
		messageID = msg.PreviousID
	}
	s.store.AddSentence(conversation.Sentence{
		ID:         sentenceID(msg, messageID),
		MessageID:  messageID,
		Content:    msg.Text,
		Sequence:   msg.Sequence,
		IsComplete: true,
	})
	if seq := msg.Sequence; seq > s.lastSequence.Load() {
		s.lastSequence.Store(seq)
	}
	if msg.IsFinal {
		s.store.UpdateMessageStatus(messageID, conversation.StatusComplete)
	}
}

// sentenceID returns the sentence's wire ID, or a synthetic stable ID
// when the server omits one, so re-delivery stays idempotent.
func sentenceID(msg *protocol.AssistantSentence, messageID ref.MessageID) string {
	if msg.ID != "" {
		return msg.ID
	}
	return fmt.Sprintf("%s/%d", messageID, msg.Sequence)
}

func (s *Session) applyToolUseRequest(msg *protocol.ToolUseRequest) {
	s.store.AddToolCall(conversation.ToolCall{
		ID:        msg.ID,
		MessageID: msg.MessageID,
		ToolName:  msg.ToolName,
		Arguments: msg.Parameters,
		Status:    conversation.ToolExecuting,
		StartedAt: s.clock.Now(),
	})
}

func (s *Session) applyToolUseResult(msg *protocol.ToolUseResult) {
	updated := s.store.UpdateToolCall(msg.RequestID, func(tc *conversation.ToolCall) {
		if msg.Success {
			tc.Status = conversation.ToolSuccess
			tc.Result = msg.Result
		} else {
			tc.Status = conversation.ToolError
			tc.Error = msg.ErrorMessage
		}
		tc.EndedAt = s.clock.Now()
	})
	if !updated {
		s.logger.Warn("result for unknown tool call", "request_id", msg.RequestID)
	}
}

func (s *Session) applyAudioChunk(msg *protocol.AudioChunk) {
	s.store.AddAudioRef(conversation.AudioRef{
		ID:         fmt.Sprintf("%s/%d", msg.SentenceID, msg.Sequence),
		SentenceID: msg.SentenceID,
		Format:     msg.Format,
		DurationMs: msg.DurationMs,
	})
}

// applyTranscription fills in the pending voice message's text. A
// final transcription also builds and queues the message's stanza,
// which could not be encoded before the text existed.
func (s *Session) applyTranscription(ctx context.Context, msg *protocol.Transcription) {
	s.voiceMu.Lock()
	pending := s.pendingVoice
	if msg.Final {
		s.pendingVoice = ""
	}
	s.voiceMu.Unlock()
	if pending == "" {
		s.logger.Debug("transcription with no pending voice message")
		return
	}

	s.store.UpdateMessageContent(pending, msg.Text)
	if !msg.Final {
		return
	}

	m, ok := s.store.Message(pending)
	if !ok {
		return
	}
	s.persist(ctx, m)
	stanzaID := ref.NewStanzaID()
	payload, err := protocol.Encode(protocol.UserMessage{
		StanzaID:       stanzaID,
		ID:             pending,
		ConversationID: s.conversationID,
		PreviousID:     m.PreviousID,
		Content:        msg.Text,
		Timestamp:      m.CreatedAt.UnixMilli(),
	})
	if err != nil {
		s.logger.Warn("encoding transcribed message", "error", err)
		return
	}
	if err := s.enqueue(ctx, stanzaID, pending, kindUserMessage, payload, s.clock.Now()); err != nil {
		s.logger.Warn("queueing transcribed message", "error", err)
	}
}

func (s *Session) applyMemoryTrace(msg *protocol.MemoryTrace) {
	id := msg.ID
	if id == "" {
		id = msg.MemoryID + "/" + msg.MessageID.String()
	}
	s.store.AddMemoryTrace(conversation.MemoryTrace{
		ID:        id,
		MemoryID:  msg.MemoryID,
		MessageID: msg.MessageID,
		Content:   msg.Content,
		Relevance: msg.Relevance,
	})
}

func (s *Session) applyError(msg *protocol.ErrorMessage) {
	s.logger.Warn("server error",
		"code", msg.Code,
		"message", msg.Message,
		"severity", msg.Severity,
		"recoverable", msg.Recoverable,
	)
	if msg.OriginatingID != "" {
		s.store.UpdateMessageStatus(msg.OriginatingID, conversation.StatusError)
	}
}
