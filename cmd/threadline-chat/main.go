// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

// threadline-chat is the interactive terminal UI for one conversation.
// It attaches the conversation's sync session, renders the active
// branch, and sends user messages from a textarea. Messages typed
// while offline queue durably and replay on reconnect; the status bar
// shows the connection state throughout.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/threadline-dev/threadline/conversation"
	"github.com/threadline-dev/threadline/history"
	"github.com/threadline-dev/threadline/lib/chatui"
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
		createTitle    string
		logOutput      string
	)

	flagSet := pflag.NewFlagSet("threadline-chat", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to threadline.yaml (default: $THREADLINE_CONFIG)")
	flagSet.StringVar(&conversationID, "conversation", "", "conversation ID to open")
	flagSet.StringVar(&createTitle, "new", "", "create a conversation with this title and open it")
	flagSet.StringVar(&logOutput, "log-output", "", "write JSON log records to this file (stderr is owned by the TUI)")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("threadline-chat")
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
	logger, closeLog, err := newLogger(logOutput)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	restClient, err := newRESTClient(cfg, logger)
	if err != nil {
		return err
	}

	switch {
	case createTitle != "":
		conv, err := restClient.CreateConversation(ctx, createTitle)
		if err != nil {
			return fmt.Errorf("creating conversation: %w", err)
		}
		conversationID = conv.ID.String()
	case conversationID == "":
		return fmt.Errorf("--conversation or --new is required")
	}
	conv := ref.ConversationID(conversationID)

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
	if cached, err := cache.Messages(ctx, conv); err != nil {
		logger.Warn("loading cached history", "error", err)
	} else {
		store.LoadConversation(conv, cached)
	}
	if messages, err := restClient.Messages(ctx, conv); err != nil {
		// Offline start: the cached history still renders and queued
		// sends replay once the session connects.
		logger.Warn("loading server history", "error", err)
	} else {
		store.MergeMessages(conv, messages)
	}

	sess, err := session.New(session.Config{
		ConversationID: conv,
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
	go sess.Run(ctx)

	model := chatui.NewModel(sess, store, conv)
	defer model.Close()
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err = program.Run()
	return err
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// newLogger builds the slog logger. The TUI owns the terminal, so
// without --log-output records are discarded.
func newLogger(path string) (*slog.Logger, func(), error) {
	if path == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log output: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(file, nil))
	return logger, func() { file.Close() }, nil
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
