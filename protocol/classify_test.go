// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"slices"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
		want   Kind
	}{
		{
			name:   "sync response",
			fields: map[string]any{"syncedMessages": []any{}},
			want:   KindSyncResponse,
		},
		{
			name: "sync response wins over everything",
			fields: map[string]any{
				"syncedMessages":       []any{},
				"id":                   "msg_1",
				"contents":             "hello",
				"acknowledgedStanzaId": "stz_1",
			},
			want: KindSyncResponse,
		},
		{
			name:   "assistant message",
			fields: map[string]any{"id": "msg_1", "contents": "hello"},
			want:   KindAssistantMessage,
		},
		{
			name: "assistant message wins over acknowledgement",
			fields: map[string]any{
				"id":                   "msg_1",
				"contents":             "hello",
				"acknowledgedStanzaId": "stz_1",
			},
			want: KindAssistantMessage,
		},
		{
			name:   "acknowledgement",
			fields: map[string]any{"acknowledgedStanzaId": "stz_1", "success": true},
			want:   KindAcknowledgement,
		},
		{
			name: "start answer via answerType",
			fields: map[string]any{
				"id":             "msg_2",
				"conversationId": "conv_1",
				"previousId":     "msg_1",
				"answerType":     "text",
			},
			want: KindStartAnswer,
		},
		{
			name: "start answer via plannedSentenceCount",
			fields: map[string]any{
				"id":                   "msg_2",
				"conversationId":       "conv_1",
				"previousId":           "msg_1",
				"plannedSentenceCount": int64(3),
			},
			want: KindStartAnswer,
		},
		{
			name: "id conversationId previousId alone is not a start answer",
			fields: map[string]any{
				"id":             "msg_2",
				"conversationId": "conv_1",
				"previousId":     "msg_1",
			},
			want: KindError,
		},
		{
			name: "assistant sentence",
			fields: map[string]any{
				"conversationId": "conv_1",
				"previousId":     "msg_2",
				"sequence":       int64(0),
				"text":           "First sentence.",
			},
			want: KindAssistantSentence,
		},
		{
			name: "start answer wins over sentence-shaped payload",
			fields: map[string]any{
				"id":             "msg_2",
				"conversationId": "conv_1",
				"previousId":     "msg_1",
				"answerType":     "text",
				"sequence":       int64(0),
				"text":           "x",
			},
			want: KindStartAnswer,
		},
		{
			name: "tool use request",
			fields: map[string]any{
				"id":         "tool_1",
				"messageId":  "msg_2",
				"toolName":   "weather",
				"parameters": map[string]any{"city": "Oslo"},
			},
			want: KindToolUseRequest,
		},
		{
			name:   "tool use result",
			fields: map[string]any{"requestId": "tool_1", "success": true},
			want:   KindToolUseResult,
		},
		{
			name: "reasoning step",
			fields: map[string]any{
				"messageId": "msg_2",
				"sequence":  int64(1),
				"content":   "considering the forecast",
			},
			want: KindReasoningStep,
		},
		{
			name: "reasoning shape with text is not a reasoning step",
			fields: map[string]any{
				"messageId": "msg_2",
				"sequence":  int64(1),
				"content":   "x",
				"text":      "y",
			},
			want: KindError,
		},
		{
			name: "audio chunk",
			fields: map[string]any{
				"format":     "opus",
				"sequence":   int64(0),
				"durationMs": int64(420),
			},
			want: KindAudioChunk,
		},
		{
			name:   "transcription",
			fields: map[string]any{"text": "turn on the lights", "final": true},
			want:   KindTranscription,
		},
		{
			name:   "interim transcription",
			fields: map[string]any{"text": "turn on the", "final": false},
			want:   KindTranscription,
		},
		{
			name:   "non-boolean final is not a transcription",
			fields: map[string]any{"text": "x", "final": "true"},
			want:   KindError,
		},
		{
			name:   "text without final is not a transcription",
			fields: map[string]any{"text": "x"},
			want:   KindError,
		},
		{
			name: "memory trace",
			fields: map[string]any{
				"memoryId":  "mem_1",
				"messageId": "msg_2",
				"content":   "user prefers metric units",
				"relevance": 0.92,
			},
			want: KindMemoryTrace,
		},
		{
			name: "explicit error payload",
			fields: map[string]any{
				"code":    int64(501),
				"message": "internal error",
			},
			want: KindError,
		},
		{
			name:   "empty payload",
			fields: map[string]any{},
			want:   KindError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.fields)
			if got != tt.want {
				t.Fatalf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Classification must depend only on field presence (and, for "final",
// the value's type), never on field values. The same shape with
// different values lands on the same kind.
func TestClassifyIgnoresValues(t *testing.T) {
	a := map[string]any{"id": "msg_1", "contents": "hello"}
	b := map[string]any{"id": int64(42), "contents": nil}
	if Classify(a) != Classify(b) {
		t.Fatalf("classification varied with field values: %v vs %v", Classify(a), Classify(b))
	}
}

func TestClassifyErrorFieldsSorted(t *testing.T) {
	err := newClassifyError(map[string]any{
		"zeta":  1,
		"alpha": 2,
		"mid":   3,
	})
	want := []string{"alpha", "mid", "zeta"}
	if !slices.Equal(err.Fields, want) {
		t.Fatalf("Fields = %v, want %v", err.Fields, want)
	}
}

func TestClassifyErrorOmitsValues(t *testing.T) {
	err := newClassifyError(map[string]any{"secret": "hunter2"})
	var classifyErr *ClassifyError
	if !errors.As(error(err), &classifyErr) {
		t.Fatalf("newClassifyError did not produce a *ClassifyError")
	}
	if msg := err.Error(); msg != "protocol: unclassifiable payload with fields [secret]" {
		t.Fatalf("Error() = %q", msg)
	}
}
