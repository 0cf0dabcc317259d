// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"github.com/threadline-dev/threadline/lib/ref"
)

// AnswerType describes the requested format of a streamed answer.
type AnswerType string

const (
	AnswerTypeText      AnswerType = "text"
	AnswerTypeVoice     AnswerType = "voice"
	AnswerTypeTextVoice AnswerType = "text+voice"
)

// StopType indicates what a ControlStop halts.
type StopType string

const (
	StopTypeGeneration StopType = "generation"
	StopTypeSpeech     StopType = "speech"
	StopTypeAll        StopType = "all"
)

// RequestType indicates the variation requested by a GenerationRequest.
type RequestType string

const (
	RequestTypeRegenerate RequestType = "regenerate"
	RequestTypeEdit       RequestType = "edit"
	RequestTypeContinue   RequestType = "continue"
)

// Severity levels for error messages.
type Severity int32

const (
	SeverityInfo     Severity = 0
	SeverityWarning  Severity = 1
	SeverityError    Severity = 2
	SeverityCritical Severity = 3
)

// Error codes carried by ErrorMessage.
const (
	ErrCodeMalformedData        = 101
	ErrCodeUnknownType          = 102
	ErrCodeConversationNotFound = 201
	ErrCodeInvalidState         = 202
	ErrCodeToolNotFound         = 301
	ErrCodeToolTimeout          = 304
	ErrCodeInternalError        = 501
	ErrCodeServiceUnavailable   = 503
	ErrCodeQueueOverflow        = 504
)

// SyncResponse (inbound) reconciles a batch of locally-queued messages
// against server-assigned IDs.
type SyncResponse struct {
	SyncedMessages []SyncedMessage `cbor:"syncedMessages"`
	SyncedAt       int64           `cbor:"syncedAt,omitempty"`
}

// SyncedMessage is one entry of a SyncResponse. Status is "synced",
// "duplicate", "conflict", or "error".
type SyncedMessage struct {
	LocalID  ref.MessageID `cbor:"localId"`
	ServerID ref.MessageID `cbor:"serverId,omitempty"`
	Status   string        `cbor:"status"`
}

// AssistantMessage (inbound) is a complete assistant message. Sent as
// a broadcast echo when another device appends to the conversation, or
// when a response is generated without streaming.
type AssistantMessage struct {
	ID             ref.MessageID      `cbor:"id"`
	ConversationID ref.ConversationID `cbor:"conversationId"`
	PreviousID     ref.MessageID      `cbor:"previousId,omitempty"`
	Role           string             `cbor:"role,omitempty"`
	Contents       string             `cbor:"contents"`
	Timestamp      int64              `cbor:"timestamp,omitempty"`
}

// Acknowledgement (inbound) confirms receipt of an outbound stanza.
// Success false means the stanza was rejected; Transient distinguishes
// retryable rejections (queue overflow) from terminal ones (invalid
// message).
type Acknowledgement struct {
	ConversationID ref.ConversationID `cbor:"conversationId,omitempty"`
	StanzaID       ref.StanzaID       `cbor:"acknowledgedStanzaId"`
	Success        bool               `cbor:"success"`
	Transient      bool               `cbor:"transient,omitempty"`
	Reason         string             `cbor:"reason,omitempty"`
}

// StartAnswer (inbound) opens a streaming assistant response. The ID
// is the message the subsequent sentences belong to; PreviousID links
// it into the branch being answered.
type StartAnswer struct {
	ID                   ref.MessageID      `cbor:"id"`
	ConversationID       ref.ConversationID `cbor:"conversationId"`
	PreviousID           ref.MessageID      `cbor:"previousId"`
	AnswerType           AnswerType         `cbor:"answerType,omitempty"`
	PlannedSentenceCount int32              `cbor:"plannedSentenceCount,omitempty"`
}

// AssistantSentence (inbound) delivers one streamed sentence.
// PreviousID references the StartAnswer's message ID; MessageID, when
// present, carries the same value explicitly.
type AssistantSentence struct {
	ID             string             `cbor:"id,omitempty"`
	MessageID      ref.MessageID      `cbor:"messageId,omitempty"`
	PreviousID     ref.MessageID      `cbor:"previousId"`
	ConversationID ref.ConversationID `cbor:"conversationId"`
	Sequence       int32              `cbor:"sequence"`
	Text           string             `cbor:"text"`
	IsFinal        bool               `cbor:"isFinal,omitempty"`
}

// Where a requested tool runs. Server-side tools report their results
// through the same ToolUseResult stanza; client-side tools expect the
// client to execute and answer.
const (
	ExecutionSiteServer = "server"
	ExecutionSiteClient = "client"
)

// ToolUseRequest (inbound) announces a tool invocation made while
// generating MessageID.
type ToolUseRequest struct {
	ID             string             `cbor:"id"`
	MessageID      ref.MessageID      `cbor:"messageId"`
	ConversationID ref.ConversationID `cbor:"conversationId,omitempty"`
	ToolName       string             `cbor:"toolName"`
	Parameters     map[string]any     `cbor:"parameters"`
	ExecutionSite  string             `cbor:"executionSite,omitempty"`
	TimeoutMs      int32              `cbor:"timeoutMs,omitempty"`
}

// ToolUseResult (inbound) delivers the outcome of a ToolUseRequest.
type ToolUseResult struct {
	ID             string             `cbor:"id,omitempty"`
	RequestID      string             `cbor:"requestId"`
	ConversationID ref.ConversationID `cbor:"conversationId,omitempty"`
	Success        bool               `cbor:"success"`
	Result         any                `cbor:"result,omitempty"`
	ErrorCode      string             `cbor:"errorCode,omitempty"`
	ErrorMessage   string             `cbor:"errorMessage,omitempty"`
}

// ReasoningStep (inbound) delivers one internal reasoning trace entry.
// Carries "content", never "text"; that distinction is what keeps it
// apart from AssistantSentence in classification.
type ReasoningStep struct {
	ID             string             `cbor:"id,omitempty"`
	MessageID      ref.MessageID      `cbor:"messageId"`
	ConversationID ref.ConversationID `cbor:"conversationId,omitempty"`
	Sequence       int32              `cbor:"sequence"`
	Content        string             `cbor:"content"`
}

// AudioChunk (inbound) carries synthesized audio for a streamed
// sentence. The payload is opaque to the sync engine: it is recorded
// as an AudioRef and handed to the playback layer.
type AudioChunk struct {
	ConversationID ref.ConversationID `cbor:"conversationId,omitempty"`
	SentenceID     string             `cbor:"sentenceId,omitempty"`
	Format         string             `cbor:"format"`
	Sequence       int32              `cbor:"sequence"`
	DurationMs     int32              `cbor:"durationMs"`
	Data           []byte             `cbor:"data,omitempty"`
	IsLast         bool               `cbor:"isLast,omitempty"`
}

// Transcription (inbound) delivers speech-to-text output for a voice
// message. Final is strictly boolean on the wire; interim results
// arrive with Final false and are superseded in place.
type Transcription struct {
	ID             string             `cbor:"id,omitempty"`
	ConversationID ref.ConversationID `cbor:"conversationId,omitempty"`
	PreviousID     ref.MessageID      `cbor:"previousId,omitempty"`
	Text           string             `cbor:"text"`
	Final          bool               `cbor:"final"`
	Confidence     float32            `cbor:"confidence,omitempty"`
	Language       string             `cbor:"language,omitempty"`
}

// MemoryTrace (inbound) records a memory citation supporting
// MessageID, with a 0..1 relevance score.
type MemoryTrace struct {
	ID             string             `cbor:"id,omitempty"`
	MemoryID       string             `cbor:"memoryId"`
	MessageID      ref.MessageID      `cbor:"messageId"`
	ConversationID ref.ConversationID `cbor:"conversationId,omitempty"`
	Content        string             `cbor:"content"`
	Relevance      float32            `cbor:"relevance"`
}

// ErrorMessage (inbound) conveys errors and exceptional conditions.
// OriginatingID, when set, names the message the error pertains to.
type ErrorMessage struct {
	ID             string             `cbor:"id,omitempty"`
	ConversationID ref.ConversationID `cbor:"conversationId,omitempty"`
	Code           int32              `cbor:"code"`
	Message        string             `cbor:"message"`
	Severity       Severity           `cbor:"severity,omitempty"`
	Recoverable    bool               `cbor:"recoverable,omitempty"`
	OriginatingID  ref.MessageID      `cbor:"originatingId,omitempty"`
}

// UserMessage (outbound) carries a user's text input. ID is the
// client-minted local message ID; the server assigns the canonical ID
// in its SyncResponse or Acknowledgement.
type UserMessage struct {
	StanzaID       ref.StanzaID       `cbor:"stanzaId"`
	ID             ref.MessageID      `cbor:"id"`
	ConversationID ref.ConversationID `cbor:"conversationId"`
	PreviousID     ref.MessageID      `cbor:"previousId,omitempty"`
	Content        string             `cbor:"content"`
	Timestamp      int64              `cbor:"timestamp,omitempty"`
}

// GenerationRequest (outbound) asks the server to produce or vary an
// assistant response.
type GenerationRequest struct {
	StanzaID       ref.StanzaID       `cbor:"stanzaId"`
	ConversationID ref.ConversationID `cbor:"conversationId"`
	MessageID      ref.MessageID      `cbor:"messageId"`
	PreviousID     ref.MessageID      `cbor:"previousId,omitempty"`
	RequestType    RequestType        `cbor:"requestType"`
	NewContent     string             `cbor:"newContent,omitempty"`
}

// ControlStop (outbound) halts the assistant's current action.
// Advisory: sentences already queued by the server may still arrive
// and are applied harmlessly.
type ControlStop struct {
	StanzaID       ref.StanzaID       `cbor:"stanzaId"`
	ConversationID ref.ConversationID `cbor:"conversationId"`
	TargetID       ref.MessageID      `cbor:"targetId,omitempty"`
	StopType       StopType           `cbor:"stopType,omitempty"`
	Reason         string             `cbor:"reason,omitempty"`
}

// SyncRequest (outbound) submits locally-created messages for
// reconciliation after a period offline.
type SyncRequest struct {
	StanzaID       ref.StanzaID       `cbor:"stanzaId"`
	ConversationID ref.ConversationID `cbor:"conversationId"`
	Messages       []SyncMessage      `cbor:"messages"`
}

// SyncMessage is one locally-created message inside a SyncRequest.
type SyncMessage struct {
	LocalID    ref.MessageID `cbor:"localId"`
	PreviousID ref.MessageID `cbor:"previousId,omitempty"`
	Role       string        `cbor:"role"`
	Content    string        `cbor:"content"`
	CreatedAt  int64         `cbor:"createdAt"`
}

// Configuration (outbound) initializes the connection after dialing:
// which conversation to attach, the last server sequence the client
// has seen (for resume), and the client version for diagnostics.
type Configuration struct {
	ConversationID   ref.ConversationID `cbor:"conversationId"`
	LastSequenceSeen int32              `cbor:"lastSequenceSeen,omitempty"`
	ClientVersion    string             `cbor:"clientVersion,omitempty"`
}
