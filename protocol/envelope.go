// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"fmt"

	"github.com/threadline-dev/threadline/lib/codec"
)

// Envelope is a decoded inbound payload: the classification verdict,
// the raw field map, and the typed message for every kind other than
// KindUnknown.
type Envelope struct {
	Kind    Kind
	Fields  map[string]any
	Message any
}

// Decode classifies and decodes one inbound CBOR payload. Payloads
// that fall through every classification rule but carry a well-formed
// error body ("code" and "message") decode as ErrorMessage; anything
// else unclassifiable returns the envelope alongside a *ClassifyError
// so the caller can log the field shape and move on.
func Decode(data []byte) (*Envelope, error) {
	var fields map[string]any
	if err := codec.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("protocol: decoding envelope: %w", err)
	}
	env := &Envelope{Kind: Classify(fields), Fields: fields}

	var msg any
	switch env.Kind {
	case KindSyncResponse:
		msg = &SyncResponse{}
	case KindAssistantMessage:
		msg = &AssistantMessage{}
	case KindAcknowledgement:
		msg = &Acknowledgement{}
	case KindStartAnswer:
		msg = &StartAnswer{}
	case KindAssistantSentence:
		msg = &AssistantSentence{}
	case KindToolUseRequest:
		msg = &ToolUseRequest{}
	case KindToolUseResult:
		msg = &ToolUseResult{}
	case KindReasoningStep:
		msg = &ReasoningStep{}
	case KindAudioChunk:
		msg = &AudioChunk{}
	case KindTranscription:
		msg = &Transcription{}
	case KindMemoryTrace:
		msg = &MemoryTrace{}
	case KindError:
		if _, hasCode := fields["code"]; hasCode {
			if _, hasMessage := fields["message"]; hasMessage {
				msg = &ErrorMessage{}
				break
			}
		}
		env.Kind = KindUnknown
		return env, newClassifyError(fields)
	}
	if msg == nil {
		return env, newClassifyError(fields)
	}
	if err := codec.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("protocol: decoding %s: %w", env.Kind, err)
	}
	env.Message = msg
	return env, nil
}

// Encode serializes an outbound stanza with the deterministic wire
// encoding.
func Encode(stanza any) ([]byte, error) {
	data, err := codec.Marshal(stanza)
	if err != nil {
		return nil, fmt.Errorf("protocol: encoding stanza: %w", err)
	}
	return data, nil
}
