// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"sort"

	"github.com/threadline-dev/threadline/lib/ref"
)

// ActiveBranch resolves the displayed root-to-tip message sequence for
// one conversation. It is pure: no store access, no side effects, and
// the input slice is not modified.
//
// When any message links to another via previousId, the branch is the
// walk backward from the tip: the newest leaf (a message no other
// message names as its previousId), ties broken toward the later
// position in the input slice, which callers supply in insertion
// order. Chain order beats timestamp order, so a clock-skewed child
// still renders after its parent. Siblings off the chosen path, the
// superseded alternatives left behind by edit or regenerate, are
// excluded entirely.
//
// A conversation with no previousId links anywhere (legacy history
// without branch metadata) falls back to a plain ascending createdAt
// sort.
func ActiveBranch(messages []Message, conversationID ref.ConversationID) []Message {
	var scoped []Message
	for _, m := range messages {
		if m.ConversationID == conversationID {
			scoped = append(scoped, m)
		}
	}
	if len(scoped) == 0 {
		return nil
	}

	byID := make(map[ref.MessageID]int, len(scoped))
	for i, m := range scoped {
		byID[m.ID] = i
	}
	linked := false
	hasChild := make(map[ref.MessageID]bool, len(scoped))
	for _, m := range scoped {
		if m.PreviousID == "" {
			continue
		}
		if _, ok := byID[m.PreviousID]; ok {
			linked = true
			hasChild[m.PreviousID] = true
		}
	}

	if !linked {
		out := append([]Message(nil), scoped...)
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
		return out
	}

	tip := -1
	for i, m := range scoped {
		if hasChild[m.ID] {
			continue
		}
		if tip < 0 || newer(m, scoped[tip], i > tip) {
			tip = i
		}
	}
	if tip < 0 {
		// Every message has a child, which only happens with a cycle
		// in corrupt data. Fall back to the overall newest message.
		for i, m := range scoped {
			if tip < 0 || newer(m, scoped[tip], i > tip) {
				tip = i
			}
		}
	}

	var branch []Message
	visited := make(map[ref.MessageID]bool, len(scoped))
	for i := tip; i >= 0; {
		m := scoped[i]
		if visited[m.ID] {
			break
		}
		visited[m.ID] = true
		branch = append(branch, m)
		if m.PreviousID == "" {
			break
		}
		prev, ok := byID[m.PreviousID]
		if !ok {
			break
		}
		i = prev
	}

	for i, j := 0, len(branch)-1; i < j; i, j = i+1, j-1 {
		branch[i], branch[j] = branch[j], branch[i]
	}
	return branch
}

// newer reports whether a should win the tip selection over b.
// laterInsertion breaks exact createdAt ties in favor of the message
// added to the store more recently.
func newer(a, b Message, laterInsertion bool) bool {
	if a.CreatedAt.After(b.CreatedAt) {
		return true
	}
	if a.CreatedAt.Equal(b.CreatedAt) {
		return laterInsertion
	}
	return false
}
