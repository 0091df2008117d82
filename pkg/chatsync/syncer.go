// chatsync - a poll-based chat message synchronization engine.
// Copyright (C) 2025 Convo Labs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chatsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/ptr"

	"github.com/convoapp/chatsync/pkg/chatapi"
)

// Transport is the collaborator surface the engine consumes. It is
// satisfied by *chatapi.Client; tests substitute scripted doubles.
// Implementations make a single attempt per call and classify failures
// into chatapi.PermissionError / chatapi.TransientError.
type Transport interface {
	ListMessages(ctx context.Context, groupID string, params chatapi.ListParams) (*chatapi.MessagePage, error)
	SendMessage(ctx context.Context, req chatapi.SendRequest) (*chatapi.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	MarkMessageRead(ctx context.Context, messageID string) (time.Time, error)
	LookupProfiles(ctx context.Context, ids []string) ([]chatapi.Profile, error)
}

// Syncer keeps a local ordered view of one conversation consistent with
// the remote message store: initial load, backward pagination, poll-based
// forward merging, and optimistic send/delete with reconciliation.
//
// One Syncer owns one conversation. Its store, profile cache and poll
// scheduler are instance state — two open conversations never share
// cursors, cache entries or timers. Dispose with Close.
type Syncer struct {
	api     Transport
	cfg     Config
	clk     clock
	log     zerolog.Logger
	groupID string
	userID  string

	mu       sync.Mutex
	store    *messageStore
	profiles *profileCache
	poller   *poller
	state    ConnState
	hasMore  bool
	loading  bool // LoadInitial guard: concurrent calls are dropped, not queued
	paging   bool // LoadMore guard
	closed   bool

	onMessages func([]Message)
	onState    func(ConnState)
}

// NewSyncer creates a synchronizer for one conversation on behalf of one
// user. Zero Config fields take the package defaults.
func NewSyncer(api Transport, groupID, userID string, cfg Config) *Syncer {
	return newSyncerWithClock(api, groupID, userID, cfg, systemClock{})
}

func newSyncerWithClock(api Transport, groupID, userID string, cfg Config, clk clock) *Syncer {
	cfg = cfg.withDefaults()
	log := cfg.Logger.With().Str("group_id", groupID).Logger()
	return &Syncer{
		api:      api,
		cfg:      cfg,
		clk:      clk,
		log:      log,
		groupID:  groupID,
		userID:   userID,
		store:    newMessageStore(),
		profiles: newProfileCache(cfg.ProfileCacheCapacity, cfg.ProfileCacheTTL, clk),
		state:    StateConnected,
	}
}

// OnMessages registers the view callback, invoked with a fresh ordered
// snapshot after every visible change. Register before LoadInitial.
func (s *Syncer) OnMessages(fn func([]Message)) {
	s.mu.Lock()
	s.onMessages = fn
	s.mu.Unlock()
}

// OnStateChange registers the connection-state observer. Register before
// LoadInitial.
func (s *Syncer) OnStateChange(fn func(ConnState)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// Messages returns an ordered snapshot of the current view.
func (s *Syncer) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.snapshot()
}

// State returns the current connection state.
func (s *Syncer) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HasMore reports whether older history pages are known to exist.
func (s *Syncer) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// LoadInitial populates the store with the newest page and starts the
// poll scheduler. A call while one is already in flight is dropped.
//
// Errors are absorbed into the connection state rather than returned:
// a permission failure leaves the state forbidden (polling never starts),
// and transient failures are retried up to MaxAttempts times with the
// same backoff schedule as the poller before giving up with state error.
// Callers re-trigger via Refresh; there is no indefinite silent retry.
func (s *Syncer) LoadInitial(ctx context.Context) {
	s.mu.Lock()
	if s.loading || s.closed {
		s.mu.Unlock()
		return
	}
	s.loading = true
	// Snapshot the config while holding the lock: SetPollInterval may
	// rewrite it concurrently (config file hot-reload during a retrying
	// initial load).
	cfg := s.cfg
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	for attempt := 0; ; attempt++ {
		page, err := s.api.ListMessages(ctx, s.groupID, chatapi.ListParams{
			Direction: chatapi.DirectionOlder,
			Limit:     cfg.PageSize,
		})
		if err == nil {
			s.finishInitialLoad(ctx, page)
			return
		}
		if chatapi.IsPermission(err) {
			perr := chatapi.AsPermission(err)
			s.log.Error().Err(err).Str("code", string(perr.Code)).
				Msg("Initial load rejected, conversation is forbidden")
			s.setState(StateForbidden)
			return
		}
		if attempt+1 >= cfg.MaxAttempts {
			s.log.Error().Err(err).Int("attempts", attempt+1).
				Msg("Initial load failed, giving up until refresh")
			s.setState(StateError)
			return
		}
		delay := backoffDelay(cfg.PollInterval, cfg.MaxPollDelay, attempt)
		s.log.Warn().Err(err).Dur("retry_in", delay).Msg("Initial load failed, retrying")
		if !s.sleep(ctx, delay) {
			return
		}
	}
}

func (s *Syncer) finishInitialLoad(ctx context.Context, page *chatapi.MessagePage) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.store.replaceAll(page.Records)
	s.hasMore = page.HasMore
	if s.poller != nil {
		s.poller.stop()
	}
	s.poller = newPoller(s.cfg, s.clk, s.log, s.pollTick, s.setState)
	s.poller.start()
	count := s.store.len()
	s.mu.Unlock()

	s.log.Info().Int("messages", count).Bool("has_more", page.HasMore).
		Msg("Initial load complete, polling started")
	s.setState(StateConnected)
	s.resolveAndNotify(ctx)
}

// LoadMore prepends one page of older history. No-op when no more pages
// are known, a page is already being loaded, or the store is empty.
func (s *Syncer) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	boundary, populated := s.store.backwardBoundary()
	if s.closed || s.paging || !s.hasMore || !populated {
		s.mu.Unlock()
		return nil
	}
	s.paging = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.paging = false
		s.mu.Unlock()
	}()

	page, err := s.api.ListMessages(ctx, s.groupID, chatapi.ListParams{
		Cursor:    chatapi.EncodeCursor(boundary),
		Direction: chatapi.DirectionOlder,
		Limit:     s.cfg.PageSize,
	})
	if err != nil {
		return fmt.Errorf("failed to load older messages: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.store.prependOlder(page.Records)
	s.hasMore = page.HasMore
	s.mu.Unlock()

	s.resolveAndNotify(ctx)
	return nil
}

// Send inserts an optimistic placeholder immediately — regardless of
// network state — then reconciles it against the send outcome. The return
// value reports eventual server acceptance; on failure the placeholder
// stays in place marked failed, awaiting an explicit RetrySend.
func (s *Syncer) Send(ctx context.Context, text string, attachmentIDs []string) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	now := s.clk.Now().UTC()
	optimistic := Message{
		Message: chatapi.Message{
			ID:            newOptimisticID(),
			GroupID:       s.groupID,
			SenderID:      s.userID,
			Text:          ptr.Ptr(text),
			AttachmentIDs: attachmentIDs,
			CreatedAt:     now,
			ChangedAt:     now,
		},
		IsSender:   true,
		SendStatus: SendStatusSending,
	}
	s.store.insertOptimistic(optimistic)
	s.mu.Unlock()
	s.notifyMessages()

	return s.deliver(ctx, optimistic.ID, chatapi.SendRequest{
		GroupID:       s.groupID,
		Text:          text,
		AttachmentIDs: attachmentIDs,
	})
}

// RetrySend re-attempts a failed optimistic message. Resending is never
// automatic; this is the explicit affordance. Returns false if the id is
// not a failed placeholder.
func (s *Syncer) RetrySend(ctx context.Context, optimisticID string) bool {
	s.mu.Lock()
	if s.closed || !IsOptimisticID(optimisticID) {
		s.mu.Unlock()
		return false
	}
	entry, ok := s.store.byID[optimisticID]
	if !ok || entry.SendStatus != SendStatusFailed {
		s.mu.Unlock()
		return false
	}
	entry.SendStatus = SendStatusSending
	req := chatapi.SendRequest{
		GroupID:       s.groupID,
		AttachmentIDs: entry.AttachmentIDs,
	}
	if entry.Text != nil {
		req.Text = *entry.Text
	}
	s.mu.Unlock()
	s.notifyMessages()

	return s.deliver(ctx, optimisticID, req)
}

// deliver performs the send call and exactly one reconciliation for it.
func (s *Syncer) deliver(ctx context.Context, optimisticID string, req chatapi.SendRequest) bool {
	record, err := s.api.SendMessage(ctx, req)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return err == nil
	}
	s.store.reconcileOptimistic(optimisticID, record)
	s.mu.Unlock()
	s.notifyMessages()

	if err != nil {
		s.log.Warn().Err(err).Str("optimistic_id", optimisticID).Msg("Send failed, placeholder marked failed")
		return false
	}
	return true
}

// Delete soft-deletes one of the current user's messages: the tombstone
// is applied optimistically and rolled back if the server call fails.
// Returns false — without any network call — when the message is unknown,
// not owned by the current user, or still an unconfirmed placeholder.
func (s *Syncer) Delete(ctx context.Context, messageID string) bool {
	if IsOptimisticID(messageID) {
		return false
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	snap, ok := s.store.applyDelete(messageID, s.userID, s.clk.Now().UTC())
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.notifyMessages()

	if err := s.api.DeleteMessage(ctx, messageID); err != nil {
		s.log.Warn().Err(err).Str("message_id", messageID).Msg("Delete failed, rolling back tombstone")
		s.mu.Lock()
		if !s.closed {
			s.store.rollbackDelete(messageID, snap)
		}
		s.mu.Unlock()
		s.notifyMessages()
		return false
	}
	return true
}

// MarkRead records a read receipt for a message someone else sent.
// No-op (false) when the message is unknown, already read, or the current
// user's own.
func (s *Syncer) MarkRead(ctx context.Context, messageID string) bool {
	s.mu.Lock()
	entry, ok := s.store.byID[messageID]
	if s.closed || !ok || entry.ReadAt != nil || entry.SenderID == s.userID {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	readAt, err := s.api.MarkMessageRead(ctx, messageID)
	if err != nil {
		s.log.Warn().Err(err).Str("message_id", messageID).Msg("Failed to mark message read")
		return false
	}

	s.mu.Lock()
	applied := false
	if !s.closed {
		applied = s.store.markRead(messageID, s.userID, readAt)
	}
	s.mu.Unlock()
	if applied {
		s.notifyMessages()
	}
	return applied
}

// Refresh clears local state and re-runs the initial load. This is also
// the explicit restart path after a forbidden state, e.g. when the user's
// access has been restored.
func (s *Syncer) Refresh(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.poller != nil {
		s.poller.stop()
		s.poller = nil
	}
	s.store = newMessageStore()
	s.hasMore = false
	s.mu.Unlock()
	s.notifyMessages()
	s.LoadInitial(ctx)
}

// Close disposes the syncer: the pending poll timer is cancelled and any
// in-flight request's completion becomes a no-op against this instance.
func (s *Syncer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	poller := s.poller
	s.poller = nil
	s.mu.Unlock()
	if poller != nil {
		poller.stop()
	}
	s.log.Debug().Msg("Syncer closed")
}

// SetPollInterval reconfigures the healthy-state poll delay at runtime
// (e.g. from a live-reloaded config file). The scheduler's in-flight
// guard makes this safe at any moment.
func (s *Syncer) SetPollInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.cfg.PollInterval = d
	poller := s.poller
	s.mu.Unlock()
	if poller != nil {
		poller.setBaseInterval(d)
	}
}

// pollTick is one forward poll: fetch strictly newer than the last-seen
// server boundary and merge. Returning the transport error as-is lets the
// scheduler's transition function classify it.
func (s *Syncer) pollTick(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	boundary, populated := s.store.forwardBoundary()
	s.mu.Unlock()

	params := chatapi.ListParams{
		Direction: chatapi.DirectionNewer,
		Limit:     s.cfg.PageSize,
	}
	if populated {
		params.Cursor = chatapi.EncodeCursor(boundary)
	}
	page, err := s.api.ListMessages(ctx, s.groupID, params)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	added := s.store.mergeNewer(page.Records)
	s.mu.Unlock()

	if added > 0 {
		s.log.Debug().Int("new_messages", added).Msg("Poll merged new messages")
		s.resolveAndNotify(ctx)
	}
	return nil
}

// resolveAndNotify fills in sender profiles for the current view (batched
// through the cache) and emits a snapshot.
func (s *Syncer) resolveAndNotify(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ids := s.store.senderIDs()
	s.mu.Unlock()

	resolved := s.profiles.resolveMany(ctx, s.api, s.log, ids)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.store.attachProfiles(resolved, s.userID)
	s.mu.Unlock()
	s.notifyMessages()
}

func (s *Syncer) notifyMessages() {
	s.mu.Lock()
	fn := s.onMessages
	var snapshot []Message
	if fn != nil && !s.closed {
		snapshot = s.store.snapshot()
	}
	s.mu.Unlock()
	if fn != nil && snapshot != nil {
		fn(snapshot)
	}
}

// setState records a connection-state transition and, when it actually
// changes something, informs the observer. Forbidden is sticky: once set,
// only Refresh (which rebuilds the poller) moves the state again.
func (s *Syncer) setState(state ConnState) {
	s.mu.Lock()
	if s.closed || s.state == state {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = state
	fn := s.onState
	s.mu.Unlock()

	s.log.Info().Str("from", string(prev)).Str("to", string(state)).Msg("Connection state changed")
	if fn != nil {
		fn(state)
	}
}

// sleep waits through the clock, honoring cancellation. Returns false if
// the context ended first.
func (s *Syncer) sleep(ctx context.Context, d time.Duration) bool {
	done := make(chan struct{})
	timer := s.clk.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
		return true
	case <-ctx.Done():
		timer.Stop()
		return false
	}
}
