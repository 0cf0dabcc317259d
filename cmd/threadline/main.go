// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

// threadline is the command-line client for the conversation sync
// service. It attaches one conversation, replays anything queued while
// offline, and tails the active branch to standard output. With
// --message it also sends one user message after attaching.
//
// Conversation management (list, create) goes over the HTTP API and
// needs no session:
//
//	threadline --config threadline.yaml --list
//	threadline --config threadline.yaml --create "Trip planning"
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/threadline-dev/threadline/conversation"
	"github.com/threadline-dev/threadline/history"
	"github.com/threadline-dev/threadline/lib/config"
	"github.com/threadline-dev/threadline/lib/ref"
	"github.com/threadline-dev/threadline/lib/secret"
	"github.com/threadline-dev/threadline/lib/sqlitepool"
	"github.com/threadline-dev/threadline/lib/version"
	"github.com/threadline-dev/threadline/outbox"
	"github.com/threadline-dev/threadline/rest"
	"github.com/threadline-dev/threadline/session"
	"github.com/threadline-dev/threadline/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath     string
		conversationID string
		serverOverride string
		message        string
		listMode       bool
		createTitle    string
		verbose        bool
	)

	flagSet := pflag.NewFlagSet("threadline", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to threadline.yaml (default: $THREADLINE_CONFIG)")
	flagSet.StringVar(&conversationID, "conversation", "", "conversation ID to attach")
	flagSet.StringVar(&serverOverride, "server", "", "override the stream address from the config file")
	flagSet.StringVar(&message, "message", "", "send this user message after attaching")
	flagSet.BoolVar(&listMode, "list", false, "list conversations and exit")
	flagSet.StringVar(&createTitle, "create", "", "create a conversation with this title and exit")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("threadline")
		return nil
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if serverOverride != "" {
		cfg.Server.StreamAddress = serverOverride
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	restClient, err := newRESTClient(cfg, logger)
	if err != nil {
		return err
	}

	switch {
	case listMode:
		return listConversations(ctx, restClient)
	case createTitle != "":
		return createConversation(ctx, restClient, createTitle)
	}

	if conversationID == "" {
		return fmt.Errorf("--conversation is required (use --list to see available IDs)")
	}
	return tail(ctx, cfg, logger, restClient, ref.ConversationID(conversationID), message)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func newRESTClient(cfg *config.Config, logger *slog.Logger) (*rest.Client, error) {
	clientConfig := rest.ClientConfig{
		BaseURL: cfg.Server.BaseURL,
		Logger:  logger,
	}
	if cfg.Server.AuthToken != "" {
		token, err := secret.NewFromBytes([]byte(cfg.Server.AuthToken))
		if err != nil {
			return nil, fmt.Errorf("loading auth token: %w", err)
		}
		clientConfig.AccessToken = token
	}
	return rest.NewClient(clientConfig)
}

func listConversations(ctx context.Context, client *rest.Client) error {
	conversations, err := client.ListConversations(ctx)
	if err != nil {
		return err
	}
	for _, conv := range conversations {
		fmt.Printf("%s\t%s\n", conv.ID, conv.Title)
	}
	return nil
}

func createConversation(ctx context.Context, client *rest.Client, title string) error {
	conv, err := client.CreateConversation(ctx, title)
	if err != nil {
		return err
	}
	fmt.Println(conv.ID)
	return nil
}

// tail attaches the conversation, optionally sends one message, and
// prints active-branch updates until interrupted.
func tail(ctx context.Context, cfg *config.Config, logger *slog.Logger, restClient *rest.Client, conversationID ref.ConversationID, message string) error {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Storage.DatabasePath,
		PoolSize: cfg.Storage.PoolSize,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer pool.Close()

	queue, err := outbox.Open(ctx, outbox.Config{Pool: pool, Logger: logger})
	if err != nil {
		return fmt.Errorf("opening outbox: %w", err)
	}
	cache, err := history.Open(ctx, history.Config{Pool: pool, Logger: logger})
	if err != nil {
		return fmt.Errorf("opening history cache: %w", err)
	}

	store := conversation.New()
	if cached, err := cache.Messages(ctx, conversationID); err != nil {
		logger.Warn("loading cached history", "error", err)
	} else {
		store.LoadConversation(conversationID, cached)
	}
	// The server's view, merged over the cache. Offline is fine: the
	// cached history still renders and queued sends replay later.
	if messages, err := restClient.Messages(ctx, conversationID); err != nil {
		logger.Warn("loading server history", "error", err)
	} else {
		store.MergeMessages(conversationID, messages)
	}

	sess, err := session.New(session.Config{
		ConversationID: conversationID,
		Address:        cfg.Server.StreamAddress,
		Dialer:         &transport.TCPDialer{},
		Store:          store,
		Outbox:         queue,
		History:        cache,
		ResyncTip:      restClient.BranchMessages,
		Logger:         logger,
		BackoffInitial: cfg.Session.BackoffInitial,
		BackoffCeiling: cfg.Session.BackoffCeiling,
		AckTimeout:     cfg.Session.AckTimeout,
		ClientVersion:  version.Short(),
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	if message != "" {
		if _, err := sess.SendText(ctx, message); err != nil {
			return fmt.Errorf("sending message: %w", err)
		}
	}

	printBranch(store, conversationID, printState{})
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	var last printState
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-done:
			return err
		case <-ticker.C:
			last = printBranch(store, conversationID, last)
		}
	}
}

// printState tracks what has been printed so the tail only emits new
// or still-streaming lines.
type printState struct {
	printed map[ref.MessageID]string
}

// printBranch prints active-branch messages that are new or whose text
// changed since the previous call (streaming answers grow in place, so
// a changed line is re-printed).
func printBranch(store *conversation.Store, conversationID ref.ConversationID, last printState) printState {
	next := printState{printed: make(map[ref.MessageID]string)}
	for _, m := range store.Branch(conversationID) {
		text := store.MessageText(m.ID)
		next.printed[m.ID] = text
		if prev, ok := last.printed[m.ID]; ok && prev == text {
			continue
		}
		marker := " "
		switch m.Status {
		case conversation.StatusStreaming:
			marker = "~"
		case conversation.StatusError:
			marker = "!"
		}
		fmt.Printf("%s [%s] %s\n", marker, m.Role, text)
	}
	return next
}
