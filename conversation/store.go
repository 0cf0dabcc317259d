// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/threadline-dev/threadline/lib/ref"
)

// Store is the normalized entity store for conversation state. All
// mutation happens through upserts keyed by entity ID, so re-applying
// an envelope that already arrived (a reconnect replay, for example)
// leaves the store unchanged.
//
// Mutations come from the sync session's event loop; reads may come
// from a presentation goroutine, so the store carries its own lock.
// All query methods return copies.
type Store struct {
	mu           sync.RWMutex
	messages     map[ref.MessageID]*Message
	sentences    map[string]*Sentence
	toolCalls    map[string]*ToolCall
	memoryTraces map[string]*MemoryTrace
	audioRefs    map[string]*AudioRef
	nextSeq      uint64
}

// New returns an empty store.
func New() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.messages = make(map[ref.MessageID]*Message)
	s.sentences = make(map[string]*Sentence)
	s.toolCalls = make(map[string]*ToolCall)
	s.memoryTraces = make(map[string]*MemoryTrace)
	s.audioRefs = make(map[string]*AudioRef)
}

// AddMessage upserts a message. An existing message keeps its
// reference lists and insertion sequence; scalar fields are taken from
// the incoming value.
func (s *Store) AddMessage(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertMessage(&m)
}

func (s *Store) upsertMessage(m *Message) {
	existing, ok := s.messages[m.ID]
	if !ok {
		stored := cloneMessage(m)
		s.nextSeq++
		stored.seq = s.nextSeq
		s.messages[m.ID] = &stored
		return
	}
	existing.Role = m.Role
	existing.Content = m.Content
	existing.Status = m.Status
	existing.CreatedAt = m.CreatedAt
	existing.PreviousID = m.PreviousID
	for _, id := range m.SentenceIDs {
		if !slices.Contains(existing.SentenceIDs, id) {
			existing.SentenceIDs = append(existing.SentenceIDs, id)
		}
	}
	for _, id := range m.ToolCallIDs {
		if !slices.Contains(existing.ToolCallIDs, id) {
			existing.ToolCallIDs = append(existing.ToolCallIDs, id)
		}
	}
	for _, id := range m.MemoryTraceIDs {
		if !slices.Contains(existing.MemoryTraceIDs, id) {
			existing.MemoryTraceIDs = append(existing.MemoryTraceIDs, id)
		}
	}
}

// UpdateMessageStatus sets a message's lifecycle status. Reports
// whether the message exists.
func (s *Store) UpdateMessageStatus(id ref.MessageID, status MessageStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return false
	}
	m.Status = status
	return true
}

// UpdateMessageContent replaces a message's content, leaving status
// and reference lists untouched. Used when a transcription resolves
// the text of a pending voice message. Reports whether the message
// exists.
func (s *Store) UpdateMessageContent(id ref.MessageID, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return false
	}
	m.Content = content
	return true
}

// SetSyncStatus sets a message's synchronization status. Reports
// whether the message exists.
func (s *Store) SetSyncStatus(id ref.MessageID, status SyncStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return false
	}
	m.SyncStatus = status
	return true
}

// AddSentence upserts a sentence and attaches it to its owning
// message's reference list.
func (s *Store) AddSentence(sent Sentence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := sent
	s.sentences[sent.ID] = &stored
	if m, ok := s.messages[sent.MessageID]; ok {
		if !slices.Contains(m.SentenceIDs, sent.ID) {
			m.SentenceIDs = append(m.SentenceIDs, sent.ID)
		}
	}
}

// UpdateSentence applies mutate to the sentence with the given ID.
// Reports whether the sentence exists.
func (s *Store) UpdateSentence(id string, mutate func(*Sentence)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sent, ok := s.sentences[id]
	if !ok {
		return false
	}
	mutate(sent)
	return true
}

// AddToolCall upserts a tool call and attaches it to its owning
// message's reference list.
func (s *Store) AddToolCall(tc ToolCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := tc
	s.toolCalls[tc.ID] = &stored
	if m, ok := s.messages[tc.MessageID]; ok {
		if !slices.Contains(m.ToolCallIDs, tc.ID) {
			m.ToolCallIDs = append(m.ToolCallIDs, tc.ID)
		}
	}
}

// UpdateToolCall applies mutate to the tool call with the given ID.
// Reports whether the tool call exists.
func (s *Store) UpdateToolCall(id string, mutate func(*ToolCall)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tc, ok := s.toolCalls[id]
	if !ok {
		return false
	}
	mutate(tc)
	return true
}

// AddMemoryTrace upserts a memory trace and attaches it to its owning
// message's reference list.
func (s *Store) AddMemoryTrace(mt MemoryTrace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := mt
	s.memoryTraces[mt.ID] = &stored
	if m, ok := s.messages[mt.MessageID]; ok {
		if !slices.Contains(m.MemoryTraceIDs, mt.ID) {
			m.MemoryTraceIDs = append(m.MemoryTraceIDs, mt.ID)
		}
	}
}

// AddAudioRef upserts an audio reference and links it from its
// sentence when the sentence is present.
func (s *Store) AddAudioRef(ar AudioRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := ar
	s.audioRefs[ar.ID] = &stored
	if sent, ok := s.sentences[ar.SentenceID]; ok {
		sent.AudioRefID = ar.ID
	}
}

// LoadConversation destructively resets the store to exactly the given
// messages, with empty sub-entity maps. Reserved for switching the
// active conversation; a refresh of a conversation already on screen
// must go through MergeMessages instead, or concurrently streamed
// sentences and tool calls would be lost.
func (s *Store) LoadConversation(conversationID ref.ConversationID, messages []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	for i := range messages {
		m := messages[i]
		m.ConversationID = conversationID
		s.upsertMessage(&m)
	}
}

// MergeMessages non-destructively folds an authoritative message list
// into the store. Messages already present keep their reference lists
// (union with the incoming lists, which a server payload leaves empty)
// and their insertion sequence; only scalar fields are taken from the
// incoming value. Sub-entity maps are never shrunk by a merge.
func (s *Store) MergeMessages(conversationID ref.ConversationID, messages []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range messages {
		m := messages[i]
		m.ConversationID = conversationID
		s.upsertMessage(&m)
	}
}

// RenameMessage rekeys a message from a local optimistic ID to the
// server-assigned canonical ID, repointing every reference to the old
// ID: sibling previousId links, and the messageId on sentences, tool
// calls, and memory traces. The renamed message is marked Synced.
// Reports whether the old ID was present.
func (s *Store) RenameMessage(oldID, newID ref.MessageID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[oldID]
	if !ok {
		return false
	}
	delete(s.messages, oldID)
	m.ID = newID
	m.SyncStatus = SyncSynced
	s.messages[newID] = m
	for _, other := range s.messages {
		if other.PreviousID == oldID {
			other.PreviousID = newID
		}
	}
	for _, sent := range s.sentences {
		if sent.MessageID == oldID {
			sent.MessageID = newID
		}
	}
	for _, tc := range s.toolCalls {
		if tc.MessageID == oldID {
			tc.MessageID = newID
		}
	}
	for _, mt := range s.memoryTraces {
		if mt.MessageID == oldID {
			mt.MessageID = newID
		}
	}
	return true
}

// Message returns a copy of the message with the given ID.
func (s *Store) Message(id ref.MessageID) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return Message{}, false
	}
	return cloneMessage(m), true
}

// Messages returns every message in the conversation in insertion
// order, siblings included.
func (s *Store) Messages(conversationID ref.ConversationID) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationMessages(conversationID)
}

func (s *Store) conversationMessages(conversationID ref.ConversationID) []Message {
	var out []Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, cloneMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Branch returns the conversation's active branch in root-to-tip
// order.
func (s *Store) Branch(conversationID ref.ConversationID) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ActiveBranch(s.conversationMessages(conversationID), conversationID)
}

// Sentences returns a message's sentences in sequence order.
func (s *Store) Sentences(messageID ref.MessageID) []Sentence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil
	}
	out := make([]Sentence, 0, len(m.SentenceIDs))
	for _, id := range m.SentenceIDs {
		if sent, ok := s.sentences[id]; ok {
			out = append(out, *sent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// ToolCalls returns a message's tool calls in reference-list order.
func (s *Store) ToolCalls(messageID ref.MessageID) []ToolCall {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil
	}
	out := make([]ToolCall, 0, len(m.ToolCallIDs))
	for _, id := range m.ToolCallIDs {
		if tc, ok := s.toolCalls[id]; ok {
			out = append(out, *tc)
		}
	}
	return out
}

// MemoryTraces returns a message's memory citations in descending
// relevance order.
func (s *Store) MemoryTraces(messageID ref.MessageID) []MemoryTrace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil
	}
	out := make([]MemoryTrace, 0, len(m.MemoryTraceIDs))
	for _, id := range m.MemoryTraceIDs {
		if mt, ok := s.memoryTraces[id]; ok {
			out = append(out, *mt)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	return out
}

// AudioRef returns the audio reference with the given ID.
func (s *Store) AudioRef(id string) (AudioRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ar, ok := s.audioRefs[id]
	if !ok {
		return AudioRef{}, false
	}
	return *ar, true
}

// MessageText returns a message's displayed text: the ordered
// concatenation of its complete sentences while streaming, or the
// message content once no sentences are attached.
func (s *Store) MessageText(id ref.MessageID) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return ""
	}
	if len(m.SentenceIDs) == 0 {
		return m.Content
	}
	sentences := make([]*Sentence, 0, len(m.SentenceIDs))
	for _, sid := range m.SentenceIDs {
		if sent, ok := s.sentences[sid]; ok && sent.IsComplete {
			sentences = append(sentences, sent)
		}
	}
	sort.Slice(sentences, func(i, j int) bool { return sentences[i].Sequence < sentences[j].Sequence })
	parts := make([]string, len(sentences))
	for i, sent := range sentences {
		parts[i] = sent.Content
	}
	return strings.Join(parts, " ")
}

// SentenceCount reports the total number of sentences in the store,
// across all messages.
func (s *Store) SentenceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sentences)
}

// ToolCallCount reports the total number of tool calls in the store.
func (s *Store) ToolCallCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.toolCalls)
}
