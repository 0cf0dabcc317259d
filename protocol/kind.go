// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

// Kind identifies the inferred type of an inbound envelope.
type Kind int

const (
	// KindUnknown is the zero value. Classify never returns it; an
	// unclassifiable payload is KindError.
	KindUnknown Kind = iota
	// KindSyncResponse reconciles a batch of locally-queued messages
	// against server-assigned IDs.
	KindSyncResponse
	// KindAssistantMessage is a complete assistant message (broadcast
	// echo, non-streaming).
	KindAssistantMessage
	// KindAcknowledgement confirms receipt of an outbound stanza.
	KindAcknowledgement
	// KindStartAnswer opens a streaming assistant response.
	KindStartAnswer
	// KindAssistantSentence delivers one streamed sentence.
	KindAssistantSentence
	// KindToolUseRequest announces a tool invocation.
	KindToolUseRequest
	// KindToolUseResult delivers a tool invocation's outcome.
	KindToolUseResult
	// KindReasoningStep delivers one internal reasoning trace entry.
	KindReasoningStep
	// KindAudioChunk carries synthesized audio metadata for a sentence.
	KindAudioChunk
	// KindTranscription delivers speech-to-text output for a voice
	// message.
	KindTranscription
	// KindMemoryTrace records a memory citation supporting a message.
	KindMemoryTrace
	// KindError is an error notification, either an explicit error
	// payload from the server or a payload that matched no
	// classification rule.
	KindError
)

// String returns the kind's wire-protocol name.
func (k Kind) String() string {
	switch k {
	case KindSyncResponse:
		return "SyncResponse"
	case KindAssistantMessage:
		return "AssistantMessage"
	case KindAcknowledgement:
		return "Acknowledgement"
	case KindStartAnswer:
		return "StartAnswer"
	case KindAssistantSentence:
		return "AssistantSentence"
	case KindToolUseRequest:
		return "ToolUseRequest"
	case KindToolUseResult:
		return "ToolUseResult"
	case KindReasoningStep:
		return "ReasoningStep"
	case KindAudioChunk:
		return "AudioChunk"
	case KindTranscription:
		return "Transcription"
	case KindMemoryTrace:
		return "MemoryTrace"
	case KindError:
		return "ErrorMessage"
	default:
		return "Unknown"
	}
}
