// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

// Package rest is the JSON client for the sync server's HTTP API. The
// streaming transport carries the live envelope traffic; this client
// covers everything else: conversation CRUD, the initial message list
// loaded before a session attaches, and the branch resync used when
// the user switches to a different tip.
package rest
