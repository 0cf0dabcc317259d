// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"testing"

	"github.com/threadline-dev/threadline/lib/codec"
	"github.com/threadline-dev/threadline/lib/ref"
)

func mustEncode(t *testing.T, v any) []byte {
	t.Helper()
	data, err := codec.Marshal(v)
	if err != nil {
		t.Fatalf("encoding test payload: %v", err)
	}
	return data
}

func TestDecodeStartAnswer(t *testing.T) {
	data := mustEncode(t, map[string]any{
		"id":                   "msg_a2",
		"conversationId":       "conv_1",
		"previousId":           "msg_a1",
		"answerType":           "text",
		"plannedSentenceCount": 3,
	})
	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Kind != KindStartAnswer {
		t.Fatalf("Kind = %v, want %v", env.Kind, KindStartAnswer)
	}
	start, ok := env.Message.(*StartAnswer)
	if !ok {
		t.Fatalf("Message is %T, want *StartAnswer", env.Message)
	}
	if start.ID != ref.MessageID("msg_a2") {
		t.Errorf("ID = %q", start.ID)
	}
	if start.ConversationID != ref.ConversationID("conv_1") {
		t.Errorf("ConversationID = %q", start.ConversationID)
	}
	if start.AnswerType != AnswerTypeText {
		t.Errorf("AnswerType = %q", start.AnswerType)
	}
	if start.PlannedSentenceCount != 3 {
		t.Errorf("PlannedSentenceCount = %d", start.PlannedSentenceCount)
	}
}

func TestDecodeToolUseRequest(t *testing.T) {
	data := mustEncode(t, map[string]any{
		"id":            "tool_1",
		"messageId":     "msg_a2",
		"toolName":      "weather",
		"parameters":    map[string]any{"city": "Oslo"},
		"executionSite": "server",
		"timeoutMs":     5000,
	})
	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	req, ok := env.Message.(*ToolUseRequest)
	if !ok {
		t.Fatalf("Message is %T, want *ToolUseRequest", env.Message)
	}
	if req.ToolName != "weather" {
		t.Errorf("ToolName = %q", req.ToolName)
	}
	if req.ExecutionSite != ExecutionSiteServer {
		t.Errorf("ExecutionSite = %q", req.ExecutionSite)
	}
	if req.TimeoutMs != 5000 {
		t.Errorf("TimeoutMs = %d", req.TimeoutMs)
	}
	if city, _ := req.Parameters["city"].(string); city != "Oslo" {
		t.Errorf("Parameters = %v", req.Parameters)
	}
}

func TestDecodeAcknowledgement(t *testing.T) {
	data := mustEncode(t, map[string]any{
		"acknowledgedStanzaId": "stz_7",
		"success":              true,
	})
	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ack, ok := env.Message.(*Acknowledgement)
	if !ok {
		t.Fatalf("Message is %T, want *Acknowledgement", env.Message)
	}
	if ack.StanzaID != ref.StanzaID("stz_7") {
		t.Errorf("StanzaID = %q", ack.StanzaID)
	}
	if !ack.Success {
		t.Error("Success = false")
	}
}

func TestDecodeSyncResponse(t *testing.T) {
	data := mustEncode(t, map[string]any{
		"syncedMessages": []any{
			map[string]any{"localId": "local_x", "serverId": "msg_9", "status": "synced"},
			map[string]any{"localId": "local_y", "status": "conflict"},
		},
	})
	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	sync, ok := env.Message.(*SyncResponse)
	if !ok {
		t.Fatalf("Message is %T, want *SyncResponse", env.Message)
	}
	if len(sync.SyncedMessages) != 2 {
		t.Fatalf("got %d synced messages", len(sync.SyncedMessages))
	}
	first := sync.SyncedMessages[0]
	if first.LocalID != ref.MessageID("local_x") || first.ServerID != ref.MessageID("msg_9") {
		t.Errorf("first entry = %+v", first)
	}
	if sync.SyncedMessages[1].Status != "conflict" {
		t.Errorf("second status = %q", sync.SyncedMessages[1].Status)
	}
}

func TestDecodeServerError(t *testing.T) {
	data := mustEncode(t, map[string]any{
		"code":        501,
		"message":     "internal error",
		"severity":    2,
		"recoverable": false,
	})
	env, err := Decode(data)
	if err != nil {
		t.Fatalf("well-formed error payload should decode cleanly, got %v", err)
	}
	if env.Kind != KindError {
		t.Fatalf("Kind = %v, want %v", env.Kind, KindError)
	}
	errMsg, ok := env.Message.(*ErrorMessage)
	if !ok {
		t.Fatalf("Message is %T, want *ErrorMessage", env.Message)
	}
	if errMsg.Code != ErrCodeInternalError {
		t.Errorf("Code = %d", errMsg.Code)
	}
	if errMsg.Severity != SeverityError {
		t.Errorf("Severity = %d", errMsg.Severity)
	}
}

func TestDecodeUnclassifiable(t *testing.T) {
	data := mustEncode(t, map[string]any{"wat": true, "also": "nope"})
	env, err := Decode(data)
	if err == nil {
		t.Fatal("expected a classification error")
	}
	var classifyErr *ClassifyError
	if !errors.As(err, &classifyErr) {
		t.Fatalf("error is %T, want *ClassifyError", err)
	}
	if env == nil || env.Kind != KindUnknown {
		t.Fatalf("envelope = %+v, want KindUnknown", env)
	}
	want := []string{"also", "wat"}
	if len(classifyErr.Fields) != 2 || classifyErr.Fields[0] != want[0] || classifyErr.Fields[1] != want[1] {
		t.Fatalf("Fields = %v, want %v", classifyErr.Fields, want)
	}
}

func TestDecodeMalformedBytes(t *testing.T) {
	if _, err := Decode([]byte{0xff, 0x00, 0x01}); err == nil {
		t.Fatal("expected a decode error for junk bytes")
	}
}

func TestEncodeDecodeUnknownFieldsIgnored(t *testing.T) {
	data := mustEncode(t, map[string]any{
		"acknowledgedStanzaId": "stz_1",
		"success":              true,
		"futureField":          "ignored",
	})
	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Kind != KindAcknowledgement {
		t.Fatalf("Kind = %v", env.Kind)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	msg := &UserMessage{
		StanzaID:       ref.StanzaID("stz_1"),
		ID:             ref.MessageID("local_1"),
		ConversationID: ref.ConversationID("conv_1"),
		Content:        "hello",
		Timestamp:      1700000000,
	}
	a, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(a) != string(b) {
		t.Fatal("identical stanza encoded to different bytes")
	}
}
