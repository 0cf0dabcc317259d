// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

// Package conversation holds the normalized client-side model of a
// branchable conversation: messages linked into a DAG by previousId,
// plus the sub-entities (sentences, tool calls, memory traces, audio
// references) that stream in while a message is being generated.
//
// The Store owns five maps keyed by entity ID. Messages hold ordered
// reference lists into the other four maps, never embedded copies:
// that is what lets a background refresh of the authoritative message
// list merge without erasing sub-entities added by concurrent
// streaming. MergeMessages is the non-destructive path and the only
// correct way to re-synchronize a conversation that is on screen;
// LoadConversation is a full reset reserved for switching to a
// different conversation.
//
// ActiveBranch derives the displayed root-to-tip message sequence from
// the DAG. It is a pure function, recomputed on demand and never
// stored. Sibling branches created by edit or regenerate are excluded
// from the result entirely.
package conversation
