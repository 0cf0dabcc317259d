// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/threadline-dev/threadline/conversation"
	"github.com/threadline-dev/threadline/history"
	"github.com/threadline-dev/threadline/lib/clock"
	"github.com/threadline-dev/threadline/lib/ref"
	"github.com/threadline-dev/threadline/outbox"
	"github.com/threadline-dev/threadline/protocol"
	"github.com/threadline-dev/threadline/transport"
)

// Config holds the dependencies and tuning for one session.
type Config struct {
	// ConversationID is the conversation this session owns. Exactly
	// one session may hold a conversation open at a time; ownership is
	// the caller's responsibility. Required.
	ConversationID ref.ConversationID

	// Address is the sync server's transport address. Required.
	Address string

	// Dialer opens transport connections. Required.
	Dialer transport.Dialer

	// Store is the shared entity store. Required.
	Store *conversation.Store

	// Outbox is the durable stanza queue. Required.
	Outbox *outbox.Queue

	// History is the durable message cache. Optional; when nil,
	// messages are not persisted across restarts.
	History *history.Cache

	// ResyncTip fetches the authoritative message list for a branch
	// tip over the REST boundary. Required for SwitchBranch; optional
	// otherwise.
	ResyncTip func(ctx context.Context, conversationID ref.ConversationID, tip ref.MessageID) ([]conversation.Message, error)

	// Clock provides time for backoff and acknowledgment waits.
	// Defaults to the real clock.
	Clock clock.Clock

	// Logger receives operational messages. Defaults to slog.Default.
	Logger *slog.Logger

	// BackoffInitial is the first reconnection delay. Defaults to 1s.
	BackoffInitial time.Duration

	// BackoffCeiling caps the reconnection delay. Defaults to 30s.
	BackoffCeiling time.Duration

	// AckTimeout bounds the wait for one stanza's acknowledgment
	// during outbox flush. On expiry the stanza stays queued and the
	// flush pauses until the next send or reconnect. Defaults to 10s.
	AckTimeout time.Duration

	// ClientVersion is reported to the server on attach.
	ClientVersion string
}

// errSessionClosed signals a deliberate teardown to the run loop.
var errSessionClosed = errors.New("session: closed")

// Session synchronizes one conversation. Create with New, drive with
// Run, and tear down with Close.
type Session struct {
	conversationID ref.ConversationID
	address        string
	dialer         transport.Dialer
	store          *conversation.Store
	queue          *outbox.Queue
	history        *history.Cache
	resyncTip      func(context.Context, ref.ConversationID, ref.MessageID) ([]conversation.Message, error)
	clock          clock.Clock
	logger         *slog.Logger
	backoff        *backoff
	ackTimeout     time.Duration
	clientVersion  string

	state       atomic.Int32
	subMu       sync.Mutex
	subscribers map[int]chan State
	nextSubID   int

	// kick wakes the run loop to flush newly-enqueued stanzas.
	kick chan struct{}

	closeOnce sync.Once
	closeCh   chan struct{}
	started   atomic.Bool
	done      chan struct{}

	// pendingVoice is the local message awaiting a final
	// transcription before its stanza can be built.
	voiceMu      sync.Mutex
	pendingVoice ref.MessageID

	lastSequence atomic.Int32
}

// New validates the configuration and creates a session in the
// Disconnected state.
func New(cfg Config) (*Session, error) {
	if cfg.ConversationID == "" {
		return nil, fmt.Errorf("session: ConversationID is required")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("session: Address is required")
	}
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("session: Dialer is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("session: Store is required")
	}
	if cfg.Outbox == nil {
		return nil, fmt.Errorf("session: Outbox is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = time.Second
	}
	if cfg.BackoffCeiling < cfg.BackoffInitial {
		cfg.BackoffCeiling = 30 * time.Second
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 10 * time.Second
	}
	return &Session{
		conversationID: cfg.ConversationID,
		address:        cfg.Address,
		dialer:         cfg.Dialer,
		store:          cfg.Store,
		queue:          cfg.Outbox,
		history:        cfg.History,
		resyncTip:      cfg.ResyncTip,
		clock:          cfg.Clock,
		logger:         cfg.Logger.With("conversation", cfg.ConversationID),
		backoff:        newBackoff(cfg.BackoffInitial, cfg.BackoffCeiling),
		ackTimeout:     cfg.AckTimeout,
		clientVersion:  cfg.ClientVersion,
		subscribers:    make(map[int]chan State),
		kick:           make(chan struct{}, 1),
		closeCh:        make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Subscribe returns a channel of connection state changes and a
// cancel function. A slow subscriber misses intermediate states
// rather than blocking the session.
func (s *Session) Subscribe() (<-chan State, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan State, 8)
	s.subscribers[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *Session) setState(state State) {
	if State(s.state.Swap(int32(state))) == state {
		return
	}
	s.logger.Debug("session state", "state", state)
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- state:
		default:
		}
	}
}

// Run drives the session until Close or ctx cancellation. It owns the
// connect/serve/backoff cycle; all store mutation from the network
// happens on this goroutine.
func (s *Session) Run(ctx context.Context) error {
	s.started.Store(true)
	defer close(s.done)
	defer s.setState(StateClosed)

	s.setState(StateConnecting)
	for {
		conn, err := s.connect(ctx)
		if err != nil {
			if errors.Is(err, errSessionClosed) || ctx.Err() != nil {
				return nil
			}
			s.setState(StateReconnecting)
			if err := s.waitBackoff(ctx); err != nil {
				return nil
			}
			continue
		}

		s.backoff.reset()
		s.setState(StateConnected)
		err = s.serve(ctx, conn)
		conn.Close()
		if errors.Is(err, errSessionClosed) || ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("connection lost", "error", err)
		s.setState(StateReconnecting)
		if err := s.waitBackoff(ctx); err != nil {
			return nil
		}
	}
}

// connect dials the server and sends the configuration stanza that
// attaches this conversation, reporting the last stream sequence seen
// so the server can resume rather than replay.
func (s *Session) connect(ctx context.Context) (transport.Conn, error) {
	select {
	case <-s.closeCh:
		return nil, errSessionClosed
	default:
	}
	conn, err := s.dialer.Dial(ctx, s.address, s.conversationID)
	if err != nil {
		return nil, err
	}
	payload, err := protocol.Encode(protocol.Configuration{
		ConversationID:   s.conversationID,
		LastSequenceSeen: s.lastSequence.Load(),
		ClientVersion:    s.clientVersion,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.Send(ctx, payload); err != nil {
		conn.Close()
		return nil, err
	}
	if err := s.syncOrphanedLocal(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// syncOrphanedLocal submits locally-created messages that have no
// pending outbox stanza, batched into one sync request. This covers a
// crash between persisting a message and enqueueing its stanza; the
// server answers with a sync response that reconciles the local IDs.
func (s *Session) syncOrphanedLocal(ctx context.Context, conn transport.Conn) error {
	entries, err := s.queue.Pending(ctx, s.conversationID)
	if err != nil {
		return err
	}
	queued := make(map[ref.MessageID]bool, len(entries))
	for _, e := range entries {
		if e.MessageID != "" {
			queued[e.MessageID] = true
		}
	}
	var batch []protocol.SyncMessage
	for _, m := range s.store.Messages(s.conversationID) {
		if m.SyncStatus != conversation.SyncLocal || m.Role != conversation.RoleUser {
			continue
		}
		// Empty content means a voice message still awaiting its
		// transcription; its stanza is queued when that lands.
		if m.Content == "" || queued[m.ID] {
			continue
		}
		batch = append(batch, protocol.SyncMessage{
			LocalID:    m.ID,
			PreviousID: m.PreviousID,
			Role:       string(m.Role),
			Content:    m.Content,
			CreatedAt:  m.CreatedAt.UnixMilli(),
		})
	}
	if len(batch) == 0 {
		return nil
	}
	payload, err := protocol.Encode(protocol.SyncRequest{
		StanzaID:       ref.NewStanzaID(),
		ConversationID: s.conversationID,
		Messages:       batch,
	})
	if err != nil {
		return err
	}
	s.logger.Info("submitting orphaned local messages", "count", len(batch))
	return conn.Send(ctx, payload)
}

func (s *Session) waitBackoff(ctx context.Context) error {
	delay := s.backoff.next()
	s.logger.Info("reconnect backoff", "delay", delay)
	select {
	case <-s.clock.After(delay):
		return nil
	case <-s.closeCh:
		return errSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// serve processes one connection's lifetime: flush the outbox in
// enqueue order and fold inbound envelopes into the store. Returns
// when the connection drops, the session closes, or ctx is cancelled.
func (s *Session) serve(ctx context.Context, conn transport.Conn) error {
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	inbound := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			payload, err := conn.Receive(readCtx)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case inbound <- payload:
			case <-readCtx.Done():
				return
			}
		}
	}()

	flush := &flusher{session: s, conn: conn}
	if err := flush.start(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-s.closeCh:
			return errSessionClosed
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-s.kick:
			if err := flush.reload(ctx); err != nil {
				return err
			}
		case <-flush.ackWait:
			flush.timeout()
		case payload := <-inbound:
			ack := s.applyInbound(ctx, payload)
			if ack != nil {
				if err := flush.acknowledged(ctx, ack); err != nil {
					return err
				}
			}
		}
	}
}

// flusher walks the pending outbox entries for one connection,
// sending each stanza and waiting for its acknowledgment before the
// next. An acknowledgment timeout pauses the flush with the stanza
// still queued; the next enqueue or reconnect resumes it.
type flusher struct {
	session  *Session
	conn     transport.Conn
	pending  []outbox.Entry
	awaiting ref.StanzaID
	ackWait  <-chan time.Time
}

func (f *flusher) start(ctx context.Context) error {
	return f.reload(ctx)
}

// reload refreshes the pending list and resumes sending if no stanza
// is in flight.
func (f *flusher) reload(ctx context.Context) error {
	if f.awaiting != "" {
		return nil
	}
	entries, err := f.session.queue.Pending(ctx, f.session.conversationID)
	if err != nil {
		return err
	}
	f.pending = entries
	return f.sendNext(ctx)
}

func (f *flusher) sendNext(ctx context.Context) error {
	if len(f.pending) == 0 {
		f.awaiting = ""
		f.ackWait = nil
		return nil
	}
	entry := f.pending[0]
	f.session.logger.Debug("sending stanza",
		"stanza_id", entry.StanzaID,
		"kind", entry.Kind,
		"attempts", entry.Attempts,
	)
	if err := f.session.queue.RecordAttempt(ctx, entry.StanzaID); err != nil {
		return err
	}
	if err := f.conn.Send(ctx, entry.Payload); err != nil {
		return err
	}
	f.awaiting = entry.StanzaID
	f.ackWait = f.session.clock.After(f.session.ackTimeout)
	return nil
}

// acknowledged advances the flush when the in-flight stanza is the
// one acknowledged. Acknowledgments for other stanzas (duplicates
// after a reconnect) have already been applied to the queue and need
// no flush action.
func (f *flusher) acknowledged(ctx context.Context, ack *protocol.Acknowledgement) error {
	if f.awaiting == "" || ack.StanzaID != f.awaiting {
		return nil
	}
	f.awaiting = ""
	f.ackWait = nil
	if !ack.Success && ack.Transient {
		// The head stanza stays queued for the next flush; pause so
		// an overloaded server is not hammered.
		return nil
	}
	f.pending = f.pending[1:]
	return f.sendNext(ctx)
}

func (f *flusher) timeout() {
	f.session.logger.Warn("acknowledgment timeout, pausing flush",
		"stanza_id", f.awaiting)
	f.awaiting = ""
	f.ackWait = nil
	f.pending = nil
}

// Close tears down the session. Blocks until the run loop has exited
// when Run was started.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.closeCh) })
	if s.started.Load() {
		<-s.done
	} else {
		s.setState(StateClosed)
	}
	return nil
}

func (s *Session) kickFlush() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}
