// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/threadline-dev/threadline/conversation"
	"github.com/threadline-dev/threadline/lib/netutil"
	"github.com/threadline-dev/threadline/lib/ref"
	"github.com/threadline-dev/threadline/lib/secret"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the base URL of the sync server's HTTP API
	// (e.g., "http://localhost:8080"). Required.
	BaseURL string
	// AccessToken is sent as a bearer token on every request.
	// Optional; nil sends no Authorization header.
	AccessToken *secret.Buffer
	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Client talks to the sync server's JSON API. It is safe for
// concurrent use.
type Client struct {
	baseURL     string
	accessToken *secret.Buffer
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient validates the configuration and creates a client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("rest: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("rest: invalid BaseURL %q: %w", config.BaseURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		accessToken: config.AccessToken,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's connection pool. Call this after a network disruption to
// force subsequent requests onto fresh TCP connections instead of a
// poisoned pooled one.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// Conversation is one conversation as the server lists it.
type Conversation struct {
	ID        ref.ConversationID `json:"id"`
	Title     string             `json:"title"`
	CreatedAt int64              `json:"createdAt"`
	UpdatedAt int64              `json:"updatedAt"`
}

// wireMessage is the API's message shape. Timestamps are epoch
// milliseconds on the wire.
type wireMessage struct {
	ID         ref.MessageID `json:"id"`
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	PreviousID ref.MessageID `json:"previousId,omitempty"`
	CreatedAt  int64         `json:"createdAt"`
}

// ListConversations returns every conversation visible to the caller,
// newest first.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v1/conversations", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("rest: listing conversations: %w", err)
	}
	var response struct {
		Conversations []Conversation `json:"conversations"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("rest: parsing conversation list: %w", err)
	}
	return response.Conversations, nil
}

// CreateConversation creates a conversation and returns it with its
// server-assigned ID.
func (c *Client) CreateConversation(ctx context.Context, title string) (*Conversation, error) {
	request := map[string]any{"title": title}
	body, err := c.doRequest(ctx, http.MethodPost, "/api/v1/conversations", request, nil)
	if err != nil {
		return nil, fmt.Errorf("rest: creating conversation: %w", err)
	}
	var conv Conversation
	if err := json.Unmarshal(body, &conv); err != nil {
		return nil, fmt.Errorf("rest: parsing created conversation: %w", err)
	}
	return &conv, nil
}

// DeleteConversation removes a conversation and all its messages.
func (c *Client) DeleteConversation(ctx context.Context, conversationID ref.ConversationID) error {
	path := "/api/v1/conversations/" + url.PathEscape(conversationID.String())
	if _, err := c.doRequest(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("rest: deleting conversation %s: %w", conversationID, err)
	}
	return nil
}

// Messages returns the full message DAG of a conversation, every
// branch included, in creation order. The caller folds the result into
// the store with MergeMessages so locally streamed state survives.
func (c *Client) Messages(ctx context.Context, conversationID ref.ConversationID) ([]conversation.Message, error) {
	path := "/api/v1/conversations/" + url.PathEscape(conversationID.String()) + "/messages"
	body, err := c.doRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("rest: loading messages for %s: %w", conversationID, err)
	}
	return decodeMessages(body, conversationID)
}

// BranchMessages returns the messages of the branch ending at the
// given tip, root first. Feed this to session.Config.ResyncTip.
func (c *Client) BranchMessages(ctx context.Context, conversationID ref.ConversationID, tip ref.MessageID) ([]conversation.Message, error) {
	path := "/api/v1/conversations/" + url.PathEscape(conversationID.String()) + "/messages"
	query := url.Values{"tip": {tip.String()}}
	body, err := c.doRequest(ctx, http.MethodGet, path, nil, query)
	if err != nil {
		return nil, fmt.Errorf("rest: loading branch %s of %s: %w", tip, conversationID, err)
	}
	return decodeMessages(body, conversationID)
}

// CreateMessage appends a user message over the HTTP boundary and
// returns it with its canonical ID. The streaming path is preferred
// when a session is connected; this exists for one-shot tooling.
func (c *Client) CreateMessage(ctx context.Context, conversationID ref.ConversationID, content string, previousID ref.MessageID) (*conversation.Message, error) {
	path := "/api/v1/conversations/" + url.PathEscape(conversationID.String()) + "/messages"
	request := map[string]any{
		"content": content,
		"role":    string(conversation.RoleUser),
	}
	if previousID != "" {
		request["previousId"] = previousID.String()
	}
	body, err := c.doRequest(ctx, http.MethodPost, path, request, nil)
	if err != nil {
		return nil, fmt.Errorf("rest: creating message in %s: %w", conversationID, err)
	}
	var wire wireMessage
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("rest: parsing created message: %w", err)
	}
	m := toMessage(wire, conversationID)
	return &m, nil
}

func decodeMessages(body []byte, conversationID ref.ConversationID) ([]conversation.Message, error) {
	var response struct {
		Messages []wireMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("rest: parsing message list: %w", err)
	}
	messages := make([]conversation.Message, 0, len(response.Messages))
	for _, wire := range response.Messages {
		messages = append(messages, toMessage(wire, conversationID))
	}
	return messages, nil
}

// toMessage converts one wire message to the store's shape. Anything
// the API returns is settled server state: complete and synced.
func toMessage(wire wireMessage, conversationID ref.ConversationID) conversation.Message {
	role := conversation.Role(wire.Role)
	if role == "" {
		role = conversation.RoleUser
	}
	return conversation.Message{
		ID:             wire.ID,
		ConversationID: conversationID,
		Role:           role,
		Content:        wire.Content,
		Status:         conversation.StatusComplete,
		SyncStatus:     conversation.SyncSynced,
		CreatedAt:      time.UnixMilli(wire.CreatedAt),
		PreviousID:     wire.PreviousID,
	}
}

// doRequest performs one JSON request. Non-2xx responses decode into
// *APIError; the raw body is returned alongside the error so callers
// that need extra response fields can still read them.
func (c *Client) doRequest(ctx context.Context, method, path string, requestBody any, query url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != nil {
		request.Header.Set("Authorization", "Bearer "+c.accessToken.String())
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("request to %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	var apiErr APIError
	if jsonErr := json.Unmarshal(responseBody, &apiErr); jsonErr != nil || apiErr.Code == "" {
		// Non-JSON error body. Fail loud with the raw text.
		return nil, fmt.Errorf("unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	apiErr.StatusCode = response.StatusCode
	return responseBody, &apiErr
}
