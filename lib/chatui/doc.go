// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

// Package chatui is the interactive terminal UI for one conversation.
// It renders the active branch in a scrollable viewport, takes input
// through a textarea, and shows the sync session's connection state in
// the status bar. The model polls the entity store on a short tick:
// streamed sentences mutate the store from the session's goroutine,
// and re-rendering the resolved branch each tick keeps the view
// consistent without a store-level subscription mechanism.
package chatui
