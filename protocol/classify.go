// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"fmt"
	"slices"
	"strings"
)

// Classify assigns an inbound payload one of the protocol kinds from
// the shape of its fields. The rules are ordered by strict precedence;
// several kinds share fields, and the first matching rule wins:
//
//  1. syncedMessages                                   → SyncResponse
//  2. id + contents                                    → AssistantMessage
//  3. acknowledgedStanzaId                             → Acknowledgement
//  4. id + conversationId + previousId +
//     (answerType | plannedSentenceCount)              → StartAnswer
//  5. conversationId + sequence + text + previousId    → AssistantSentence
//  6. id + messageId + toolName + parameters           → ToolUseRequest
//  7. requestId + success                              → ToolUseResult
//  8. messageId + sequence + content, without text     → ReasoningStep
//  9. format + sequence + durationMs                   → AudioChunk
//  10. text + boolean final                            → Transcription
//  11. memoryId + messageId + content + relevance      → MemoryTrace
//  12. anything else                                   → ErrorMessage
//
// Rules 4-8 each require three or four fields to minimize accidental
// overlap; rule 8 excludes "text" so a sentence never misclassifies as
// a reasoning step. Rule 10 requires "final" to be strictly boolean
// because tool results also carry free-form fields. Classify is total:
// every input maps to exactly one kind.
func Classify(fields map[string]any) Kind {
	has := func(names ...string) bool {
		for _, name := range names {
			if _, ok := fields[name]; !ok {
				return false
			}
		}
		return true
	}

	switch {
	case has("syncedMessages"):
		return KindSyncResponse
	case has("id", "contents"):
		return KindAssistantMessage
	case has("acknowledgedStanzaId"):
		return KindAcknowledgement
	case has("id", "conversationId", "previousId") && (has("answerType") || has("plannedSentenceCount")):
		return KindStartAnswer
	case has("conversationId", "sequence", "text", "previousId"):
		return KindAssistantSentence
	case has("id", "messageId", "toolName", "parameters"):
		return KindToolUseRequest
	case has("requestId", "success"):
		return KindToolUseResult
	case has("messageId", "sequence", "content") && !has("text"):
		return KindReasoningStep
	case has("format", "sequence", "durationMs"):
		return KindAudioChunk
	case has("text") && isBool(fields["final"]):
		return KindTranscription
	case has("memoryId", "messageId", "content", "relevance"):
		return KindMemoryTrace
	default:
		return KindError
	}
}

func isBool(v any) bool {
	_, ok := v.(bool)
	return ok
}

// ClassifyError reports a payload that matched no classification rule.
// The session logs it and continues: a malformed envelope is a
// protocol error, not a transport failure.
type ClassifyError struct {
	// Fields are the top-level field names observed in the payload,
	// sorted for stable log output.
	Fields []string
}

func (e *ClassifyError) Error() string {
	return fmt.Sprintf("protocol: unclassifiable payload with fields [%s]",
		strings.Join(e.Fields, ", "))
}

// newClassifyError collects the payload's field names. Values are
// deliberately omitted: payloads can carry user content, which stays
// out of error strings and logs.
func newClassifyError(fields map[string]any) *ClassifyError {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.Sort(names)
	return &ClassifyError{Fields: names}
}
