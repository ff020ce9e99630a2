// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/expertdesk/internal/api"
	"github.com/jeranaias/expertdesk/internal/model"
	"github.com/jeranaias/expertdesk/internal/storage"
	"github.com/jeranaias/expertdesk/internal/util"
)

const (
	// LoadCooldown short-circuits repeat loads landing right after a
	// completed one, unless forced.
	LoadCooldown = time.Second

	// ReuseWindow is how long a freshly created conversation satisfies
	// further create calls for the same service.
	ReuseWindow = 10 * time.Second

	snapshotTimeout = 5 * time.Second
)

// =============================================================================
// ERRORS
// =============================================================================

// ConversationCreateError means the backend did not return a usable
// conversation id. The conversation does not exist locally.
type ConversationCreateError struct {
	Reason string
	Err    error
}

func (e *ConversationCreateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("conversation creation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("conversation creation failed: %s", e.Reason)
}

func (e *ConversationCreateError) Unwrap() error { return e.Err }

// ErrConversationNotFound is returned for operations addressing an id the
// collection does not hold.
var ErrConversationNotFound = errors.New("conversation not found")

// =============================================================================
// STORE
// =============================================================================

// CreateOptions carries per-creation overrides.
type CreateOptions struct {
	Title                string
	Language             string
	UserID               string
	Domain               string
	UseRAG               bool
	UseDeepseekReasoning bool
}

type loadCall struct {
	done chan struct{}
	ok   bool
	err  error
}

type recentCreate struct {
	id int64
	at time.Time
}

// Store owns the conversation collection. All exported methods are safe
// for concurrent use; returned conversations are deep copies.
type Store struct {
	client *api.Client
	cache  *storage.Cache // nil disables persistence
	log    *zap.Logger
	clock  util.Clock

	mu            sync.Mutex
	conversations []*model.Conversation
	selectedID    int64
	netLoaded     bool

	loadMu   sync.Mutex
	loading  *loadCall
	lastLoad time.Time

	// createMu is held across the whole creation, network call included:
	// creation is serialized process-wide, and a queued caller lands in
	// the reuse window of whoever went first.
	createMu    sync.Mutex
	lastCreated map[model.ServiceID]recentCreate

	snapshots *storage.Debouncer
}

// New creates a store. cache may be nil to run without persistence.
func New(client *api.Client, cache *storage.Cache, log *zap.Logger) *Store {
	s := &Store{
		client:      client,
		cache:       cache,
		log:         log,
		clock:       util.SystemClock{},
		lastCreated: make(map[model.ServiceID]recentCreate),
	}
	s.snapshots = storage.NewDebouncer(storage.DefaultSnapshotWindow, s.writeSnapshot)
	return s
}

// WithClock substitutes the time source. For tests.
func (s *Store) WithClock(clock util.Clock) *Store {
	s.clock = clock
	s.snapshots = storage.NewDebouncer(storage.DefaultSnapshotWindow, s.writeSnapshot).WithClock(clock)
	return s
}

// Close flushes any pending snapshot and stops the write scheduler.
func (s *Store) Close() {
	s.snapshots.Flush()
	s.snapshots.Stop()
}

// =============================================================================
// HYDRATION
// =============================================================================

// Hydrate fills the collection from the local cache so history shows
// before the first network load completes. A load that already happened
// wins; hydration never overwrites it.
func (s *Store) Hydrate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	cached, err := s.cache.LoadConversations(ctx)
	if err != nil {
		s.log.Warn("cache hydration failed", zap.Error(err))
		return
	}
	selected, err := s.cache.SelectedConversation(ctx)
	if err != nil {
		s.log.Warn("cached selection unreadable", zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.netLoaded || len(s.conversations) > 0 {
		return
	}
	for i := range cached {
		conv := cached[i]
		s.conversations = append(s.conversations, &conv)
	}
	if selected != 0 && s.findLocked(selected) != nil {
		s.selectedID = selected
	}
	s.log.Debug("hydrated from cache", zap.Int("conversations", len(cached)))
}

// =============================================================================
// LOADING
// =============================================================================

// LoadConversations fetches the full conversation list and replaces the
// collection wholesale. A call while a load is in flight joins it; a
// call within LoadCooldown of the last completed load short-circuits
// unless force is set. An empty backend list is a valid result and
// empties the collection.
func (s *Store) LoadConversations(ctx context.Context, force bool) (bool, error) {
	s.loadMu.Lock()
	if s.loading != nil {
		call := s.loading
		s.loadMu.Unlock()
		select {
		case <-call.done:
			return call.ok, call.err
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if !force && !s.lastLoad.IsZero() && s.clock.Now().Sub(s.lastLoad) < LoadCooldown {
		s.loadMu.Unlock()
		return true, nil
	}
	call := &loadCall{done: make(chan struct{})}
	s.loading = call
	s.loadMu.Unlock()

	convs, err := s.client.ListConversations(ctx)
	if err == nil {
		s.replaceAll(convs)
	} else {
		s.log.Warn("conversation load failed", zap.Error(err))
	}

	s.loadMu.Lock()
	s.loading = nil
	if err == nil {
		s.lastLoad = s.clock.Now()
	}
	s.loadMu.Unlock()

	call.ok = err == nil
	call.err = err
	close(call.done)
	return call.ok, call.err
}

// replaceAll swaps the collection for the backend's list. Selection
// survives only when the selected conversation still exists.
func (s *Store) replaceAll(convs []model.Conversation) {
	s.mu.Lock()
	s.conversations = s.conversations[:0]
	for i := range convs {
		conv := convs[i]
		s.conversations = append(s.conversations, &conv)
	}
	s.sortLocked()
	if s.selectedID != 0 && s.findLocked(s.selectedID) == nil {
		s.selectedID = 0
	}
	s.netLoaded = true
	s.mu.Unlock()

	s.scheduleSnapshot()
}

// =============================================================================
// CREATION
// =============================================================================

// CreateConversation creates (or reuses) a conversation for the service.
// Reuse applies when a conversation for the same service was created
// within ReuseWindow, or when an empty conversation for the service
// already exists. The new conversation becomes the selection and is
// seeded with the service's static welcome message.
func (s *Store) CreateConversation(ctx context.Context, service model.ServiceID, opts CreateOptions) (*model.Conversation, error) {
	if !service.Valid() {
		return nil, &ConversationCreateError{Reason: fmt.Sprintf("unknown service %q", service)}
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	now := s.clock.Now()
	if rc, ok := s.lastCreated[service]; ok && now.Sub(rc.at) < ReuseWindow {
		if conv := s.reuse(rc.id); conv != nil {
			s.log.Debug("reusing recent conversation",
				zap.Int64("id", conv.ID), zap.String("service", string(service)))
			return conv, nil
		}
	}
	if conv := s.reuseEmpty(service); conv != nil {
		s.log.Debug("reusing empty conversation",
			zap.Int64("id", conv.ID), zap.String("service", string(service)))
		return conv, nil
	}

	created, err := s.client.CreateConversation(ctx, api.CreateConversationRequest{
		Service:              service,
		Title:                opts.Title,
		Language:             opts.Language,
		UserID:               opts.UserID,
		Domain:               opts.Domain,
		UseRAG:               opts.UseRAG,
		UseDeepseekReasoning: opts.UseDeepseekReasoning,
	})
	if err != nil {
		return nil, &ConversationCreateError{Reason: "backend call failed", Err: err}
	}
	if created.ID <= 0 {
		return nil, &ConversationCreateError{
			Reason: fmt.Sprintf("backend returned id %d", created.ID),
		}
	}

	created.Service = service
	if created.Title == "" {
		created.Title = model.DefaultTitle
	}
	if created.LastUpdated.IsZero() {
		created.LastUpdated = now
	}
	created.RAGConfig = &model.RAGConfig{
		UseRAG:               opts.UseRAG,
		Domain:               opts.Domain,
		UseDeepseekReasoning: opts.UseDeepseekReasoning,
	}
	if svc, ok := model.ServiceByID(service); ok && svc.WelcomeMessage != "" {
		created.AppendMessage(model.NewWelcomeMessage(created.ID, svc, now))
	}

	s.mu.Lock()
	s.conversations = append(s.conversations, &created)
	s.sortLocked()
	s.selectedID = created.ID
	clone := created.Clone()
	s.mu.Unlock()

	s.lastCreated[service] = recentCreate{id: created.ID, at: now}
	s.persistSelection(created.ID)
	s.scheduleSnapshot()
	s.log.Info("conversation created",
		zap.Int64("id", created.ID), zap.String("service", string(service)))
	return clone, nil
}

func (s *Store) reuse(id int64) *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.findLocked(id)
	if conv == nil {
		return nil
	}
	s.selectedID = conv.ID
	return conv.Clone()
}

func (s *Store) reuseEmpty(service model.ServiceID) *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.conversations {
		if conv.Service == service && conv.IsEmpty() {
			s.selectedID = conv.ID
			return conv.Clone()
		}
	}
	return nil
}

// =============================================================================
// COLLECTION CRUD
// =============================================================================

// SelectConversation makes the conversation the active one.
func (s *Store) SelectConversation(id int64) error {
	s.mu.Lock()
	if s.findLocked(id) == nil {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	s.selectedID = id
	s.mu.Unlock()

	s.persistSelection(id)
	return nil
}

// RemoveConversation deletes the conversation on the backend and drops
// it locally. A backend 404 counts as success: the goal state is "gone".
func (s *Store) RemoveConversation(ctx context.Context, id int64) error {
	err := s.client.DeleteConversation(ctx, id)
	var notFound *api.NotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return err
	}

	s.mu.Lock()
	for i, conv := range s.conversations {
		if conv.ID == id {
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			break
		}
	}
	deselected := s.selectedID == id
	if deselected {
		s.selectedID = 0
	}
	s.mu.Unlock()

	if s.cache != nil {
		cctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		defer cancel()
		if err := s.cache.DeleteConversation(cctx, id); err != nil {
			s.log.Warn("cache delete failed", zap.Int64("id", id), zap.Error(err))
		}
	}
	if deselected {
		s.persistSelection(0)
	}
	s.scheduleSnapshot()
	return nil
}

// UpdateConversationTitle renames a conversation locally.
func (s *Store) UpdateConversationTitle(id int64, title string) error {
	s.mu.Lock()
	conv := s.findLocked(id)
	if conv == nil {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	conv.Title = title
	s.mu.Unlock()

	s.scheduleSnapshot()
	return nil
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Conversations returns a deep copy of the collection, most recently
// updated first.
func (s *Store) Conversations() []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, *conv.Clone())
	}
	return out
}

// Conversation returns a deep copy of one conversation.
func (s *Store) Conversation(id int64) (*model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.findLocked(id)
	if conv == nil {
		return nil, false
	}
	return conv.Clone(), true
}

// Selected returns the active conversation, if any.
func (s *Store) Selected() (*model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedID == 0 {
		return nil, false
	}
	conv := s.findLocked(s.selectedID)
	if conv == nil {
		return nil, false
	}
	return conv.Clone(), true
}

// =============================================================================
// MESSAGE MUTATIONS
// =============================================================================

// AppendUserMessage appends an optimistic user message (temporary id,
// sending status) and returns it. The first user message retitles a
// default-titled conversation.
func (s *Store) AppendUserMessage(conversationID int64, content string) (model.Message, error) {
	now := s.clock.Now()
	msg := model.NewUserMessage(conversationID, content, now)

	s.mu.Lock()
	conv := s.findLocked(conversationID)
	if conv == nil {
		s.mu.Unlock()
		return model.Message{}, ErrConversationNotFound
	}
	conv.AppendMessage(msg)
	conv.Touch(now)
	if conv.UserMessageCount() == 1 && (conv.Title == "" || conv.Title == model.DefaultTitle) {
		conv.Title = model.AutoTitle(content)
	}
	s.sortLocked()
	s.mu.Unlock()

	s.scheduleSnapshot()
	return msg, nil
}

// ReplaceMessages applies a full authoritative message array from the
// backend, discarding every temporary message. Applying the same array
// twice yields the same sequence.
func (s *Store) ReplaceMessages(conversationID int64, msgs []model.Message) error {
	now := s.clock.Now()

	s.mu.Lock()
	conv := s.findLocked(conversationID)
	if conv == nil {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	conv.ReplaceMessages(msgs)
	conv.Touch(now)
	s.sortLocked()
	s.mu.Unlock()

	s.scheduleSnapshot()
	return nil
}

// ResolveUserMessage marks the temporary user message sent, adopting the
// server id when one was provided.
func (s *Store) ResolveUserMessage(conversationID int64, tempID, serverID model.MessageID) error {
	s.mu.Lock()
	conv := s.findLocked(conversationID)
	if conv == nil {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	msg := conv.MessageByID(tempID)
	if msg == nil {
		s.mu.Unlock()
		return nil
	}
	if !serverID.IsZero() && !serverID.IsTemp() {
		msg.ID = serverID
	}
	msg.LocalStatus = model.StatusSent
	s.mu.Unlock()

	s.scheduleSnapshot()
	return nil
}

// MergeAssistantMessage updates an existing assistant message in place
// when the id matches, otherwise appends it; either way the sequence is
// resorted chronologically.
func (s *Store) MergeAssistantMessage(conversationID int64, msg model.Message) error {
	now := s.clock.Now()
	msg.ConversationID = conversationID
	if msg.LocalStatus == "" {
		msg.LocalStatus = model.StatusReceived
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	s.mu.Lock()
	conv := s.findLocked(conversationID)
	if conv == nil {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	if existing := conv.MessageByID(msg.ID); existing != nil && !msg.ID.IsZero() {
		*existing = msg
	} else {
		conv.AppendMessage(msg)
	}
	model.SortChronological(conv.Messages)
	conv.Touch(now)
	s.sortLocked()
	s.mu.Unlock()

	s.scheduleSnapshot()
	return nil
}

// SetMessageStatus sets the local delivery status of one message.
func (s *Store) SetMessageStatus(conversationID int64, id model.MessageID, status model.DeliveryStatus) error {
	s.mu.Lock()
	conv := s.findLocked(conversationID)
	if conv == nil {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	if msg := conv.MessageByID(id); msg != nil {
		msg.LocalStatus = status
	}
	s.mu.Unlock()

	s.scheduleSnapshot()
	return nil
}

// MarkLatestUserMessageError flags the most recent user message after a
// failed asynchronous delivery. The message stays visible for retry.
func (s *Store) MarkLatestUserMessageError(conversationID int64) error {
	s.mu.Lock()
	conv := s.findLocked(conversationID)
	if conv == nil {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	if msg := conv.LastUserMessage(); msg != nil {
		msg.LocalStatus = model.StatusError
	}
	s.mu.Unlock()

	s.scheduleSnapshot()
	return nil
}

// =============================================================================
// INTERNAL
// =============================================================================

// findLocked returns the live conversation. Caller holds s.mu.
func (s *Store) findLocked(id int64) *model.Conversation {
	for _, conv := range s.conversations {
		if conv.ID == id {
			return conv
		}
	}
	return nil
}

// sortLocked keeps the collection most-recently-updated first. Caller
// holds s.mu.
func (s *Store) sortLocked() {
	sort.SliceStable(s.conversations, func(i, j int) bool {
		return s.conversations[i].LastUpdated.After(s.conversations[j].LastUpdated)
	})
}

func (s *Store) persistSelection(id int64) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	if err := s.cache.SetSelectedConversation(ctx, id); err != nil {
		s.log.Warn("failed to persist selection", zap.Error(err))
	}
}

func (s *Store) scheduleSnapshot() {
	if s.cache == nil {
		return
	}
	s.snapshots.Trigger()
}

// writeSnapshot mirrors the collection to the cache. An empty collection
// is never written: emptiness from a not-yet-loaded state must not
// clobber a durable non-empty cache.
func (s *Store) writeSnapshot() {
	convs := s.Conversations()
	if len(convs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	if err := s.cache.SaveConversations(ctx, convs); err != nil {
		s.log.Warn("cache snapshot failed", zap.Error(err))
	}
}
