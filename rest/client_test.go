// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/threadline-dev/threadline/conversation"
	"github.com/threadline-dev/threadline/lib/secret"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestNewClient(t *testing.T) {
	t.Run("valid URL", func(t *testing.T) {
		client, err := NewClient(ClientConfig{BaseURL: "http://localhost:8080"})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		if client == nil {
			t.Fatal("NewClient returned nil")
		}
	})

	t.Run("empty URL", func(t *testing.T) {
		if _, err := NewClient(ClientConfig{}); err == nil {
			t.Fatal("expected error for empty URL")
		}
	})

	t.Run("invalid URL", func(t *testing.T) {
		if _, err := NewClient(ClientConfig{BaseURL: "://invalid"}); err == nil {
			t.Fatal("expected error for invalid URL")
		}
	})
}

func TestListConversations(t *testing.T) {
	client := testClient(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/api/v1/conversations" || request.Method != http.MethodGet {
			t.Errorf("unexpected request: %s %s", request.Method, request.URL.Path)
		}
		json.NewEncoder(writer).Encode(map[string]any{
			"conversations": []map[string]any{
				{"id": "conv_1", "title": "Weather", "createdAt": 1000, "updatedAt": 2000},
				{"id": "conv_2", "title": "Travel", "createdAt": 1500, "updatedAt": 1500},
			},
		})
	})

	conversations, err := client.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(conversations) != 2 || conversations[0].ID != "conv_1" || conversations[1].Title != "Travel" {
		t.Fatalf("conversations = %+v", conversations)
	}
}

func TestCreateConversation(t *testing.T) {
	client := testClient(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPost {
			t.Errorf("method = %s", request.Method)
		}
		var body map[string]any
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if body["title"] != "New chat" {
			t.Errorf("title = %v", body["title"])
		}
		json.NewEncoder(writer).Encode(map[string]any{
			"id": "conv_new", "title": "New chat", "createdAt": 3000, "updatedAt": 3000,
		})
	})

	conv, err := client.CreateConversation(context.Background(), "New chat")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if conv.ID != "conv_new" {
		t.Fatalf("conversation = %+v", conv)
	}
}

func TestMessagesDecoding(t *testing.T) {
	client := testClient(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/api/v1/conversations/conv_1/messages" {
			t.Errorf("path = %s", request.URL.Path)
		}
		json.NewEncoder(writer).Encode(map[string]any{
			"messages": []map[string]any{
				{"id": "msg_1", "role": "user", "content": "hi", "createdAt": 1000},
				{"id": "msg_2", "role": "assistant", "content": "hello", "previousId": "msg_1", "createdAt": 2000},
			},
		})
	})

	messages, err := client.Messages(context.Background(), "conv_1")
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("messages = %+v", messages)
	}
	second := messages[1]
	if second.Role != conversation.RoleAssistant || second.PreviousID != "msg_1" {
		t.Fatalf("second = %+v", second)
	}
	if second.Status != conversation.StatusComplete || second.SyncStatus != conversation.SyncSynced {
		t.Fatalf("server message not settled: %+v", second)
	}
	if second.CreatedAt.UnixMilli() != 2000 {
		t.Fatalf("CreatedAt = %v", second.CreatedAt)
	}
	if second.ConversationID != "conv_1" {
		t.Fatalf("ConversationID = %q", second.ConversationID)
	}
}

func TestBranchMessagesQuery(t *testing.T) {
	client := testClient(t, func(writer http.ResponseWriter, request *http.Request) {
		if got := request.URL.Query().Get("tip"); got != "msg_9" {
			t.Errorf("tip = %q", got)
		}
		json.NewEncoder(writer).Encode(map[string]any{
			"messages": []map[string]any{
				{"id": "msg_9", "role": "user", "content": "tip", "createdAt": 1000},
			},
		})
	})

	messages, err := client.BranchMessages(context.Background(), "conv_1", "msg_9")
	if err != nil {
		t.Fatalf("BranchMessages failed: %v", err)
	}
	if len(messages) != 1 || messages[0].ID != "msg_9" {
		t.Fatalf("messages = %+v", messages)
	}
}

func TestCreateMessage(t *testing.T) {
	client := testClient(t, func(writer http.ResponseWriter, request *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if body["content"] != "hi" || body["previousId"] != "msg_1" {
			t.Errorf("body = %v", body)
		}
		json.NewEncoder(writer).Encode(map[string]any{
			"id": "msg_2", "role": "user", "content": "hi", "previousId": "msg_1", "createdAt": 5000,
		})
	})

	m, err := client.CreateMessage(context.Background(), "conv_1", "hi", "msg_1")
	if err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	if m.ID != "msg_2" || m.PreviousID != "msg_1" {
		t.Fatalf("message = %+v", m)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	client := testClient(t, func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusNotFound)
		json.NewEncoder(writer).Encode(map[string]any{
			"code": "NOT_FOUND", "message": "no such conversation",
		})
	})

	_, err := client.Messages(context.Background(), "conv_missing")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T: %v", err, err)
	}
	if apiErr.Code != ErrCodeNotFound || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("apiErr = %+v", apiErr)
	}
	if !IsAPIError(err, ErrCodeNotFound) {
		t.Error("IsAPIError did not match")
	}
}

func TestNonJSONErrorBody(t *testing.T) {
	client := testClient(t, func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusBadGateway)
		writer.Write([]byte("upstream unavailable"))
	})

	_, err := client.ListConversations(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Fatalf("non-JSON body decoded as APIError: %+v", apiErr)
	}
}

func TestBearerToken(t *testing.T) {
	token, err := secret.NewFromBytes([]byte("tl-token"))
	if err != nil {
		t.Fatalf("creating token: %v", err)
	}
	t.Cleanup(func() { token.Close() })

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if got := request.Header.Get("Authorization"); got != "Bearer tl-token" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(writer).Encode(map[string]any{"conversations": []any{}})
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{BaseURL: server.URL, AccessToken: token})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, err := client.ListConversations(context.Background()); err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
}
