// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Identifier prefixes. A canonical ID is "<prefix>_<opaque>" where the
// opaque part is at least one character of [A-Za-z0-9-] material.
const (
	prefixConversation = "conv"
	prefixMessage      = "msg"
	prefixLocalMessage = "local"
	prefixStanza       = "stz"
)

// ConversationID identifies a conversation. The zero value is invalid.
type ConversationID string

// MessageID identifies a message. Server-assigned IDs carry the "msg_"
// prefix; client-minted optimistic IDs carry "local_". Both forms are
// valid MessageIDs; reconciliation renames local IDs to canonical ones
// when the server confirms them.
type MessageID string

// StanzaID identifies one outbound queueable action awaiting
// acknowledgment. Minted by the client, never by the server.
type StanzaID string

// ParseConversationID validates a raw string as a conversation ID.
func ParseConversationID(raw string) (ConversationID, error) {
	if err := validate(raw, prefixConversation); err != nil {
		return "", fmt.Errorf("ref: conversation ID: %w", err)
	}
	return ConversationID(raw), nil
}

// ParseMessageID validates a raw string as a message ID. Both canonical
// ("msg_") and local ("local_") forms are accepted.
func ParseMessageID(raw string) (MessageID, error) {
	errCanonical := validate(raw, prefixMessage)
	if errCanonical == nil {
		return MessageID(raw), nil
	}
	if err := validate(raw, prefixLocalMessage); err != nil {
		return "", fmt.Errorf("ref: message ID: %w", errCanonical)
	}
	return MessageID(raw), nil
}

// ParseStanzaID validates a raw string as a stanza ID.
func ParseStanzaID(raw string) (StanzaID, error) {
	if err := validate(raw, prefixStanza); err != nil {
		return "", fmt.Errorf("ref: stanza ID: %w", err)
	}
	return StanzaID(raw), nil
}

// NewLocalMessageID mints a fresh optimistic message ID. The ID is
// unique per process lifetime and across restarts (UUIDv4 material).
func NewLocalMessageID() MessageID {
	return MessageID(prefixLocalMessage + "_" + uuid.NewString())
}

// NewStanzaID mints a fresh stanza ID for an outbound action.
func NewStanzaID() StanzaID {
	return StanzaID(prefixStanza + "_" + uuid.NewString())
}

// IsLocal reports whether the message ID is a client-minted optimistic
// ID that has not yet been replaced by a server-canonical one.
func (m MessageID) IsLocal() bool {
	return strings.HasPrefix(string(m), prefixLocalMessage+"_")
}

func (c ConversationID) String() string { return string(c) }
func (m MessageID) String() string      { return string(m) }
func (s StanzaID) String() string       { return string(s) }

func (c ConversationID) IsZero() bool { return c == "" }
func (m MessageID) IsZero() bool      { return m == "" }
func (s StanzaID) IsZero() bool       { return s == "" }

// MarshalText implements encoding.TextMarshaler.
func (c ConversationID) MarshalText() ([]byte, error) { return []byte(c), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ConversationID) UnmarshalText(data []byte) error {
	parsed, err := ParseConversationID(string(data))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (m MessageID) MarshalText() ([]byte, error) { return []byte(m), nil }

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// decodes to the zero ID: a root message carries no previousId, and
// some servers send it as "" rather than omitting the field.
func (m *MessageID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*m = ""
		return nil
	}
	parsed, err := ParseMessageID(string(data))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s StanzaID) MarshalText() ([]byte, error) { return []byte(s), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *StanzaID) UnmarshalText(data []byte) error {
	parsed, err := ParseStanzaID(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// validate checks the "<prefix>_<opaque>" form. The opaque part must be
// non-empty and limited to URL-safe characters so IDs can appear in
// transport paths without escaping.
func validate(raw, prefix string) error {
	rest, ok := strings.CutPrefix(raw, prefix+"_")
	if !ok {
		return fmt.Errorf("%q does not have the %q prefix", raw, prefix+"_")
	}
	if rest == "" {
		return fmt.Errorf("%q has an empty identifier part", raw)
	}
	for _, r := range rest {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return fmt.Errorf("%q contains invalid character %q", raw, r)
		}
	}
	return nil
}
