// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jeranaias/expertdesk/internal/api"
	"github.com/jeranaias/expertdesk/internal/model"
	"github.com/jeranaias/expertdesk/internal/storage"
	"github.com/jeranaias/expertdesk/internal/util"
)

// fakeBackend serves the conversation endpoints and counts traffic.
type fakeBackend struct {
	mu      sync.Mutex
	list    []map[string]any
	nextID  int64
	lists   atomic.Int64
	creates atomic.Int64
	deletes atomic.Int64

	// block, when non-nil, holds list requests open until closed.
	block chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{nextID: 100}
}

func (b *fakeBackend) setList(convs ...map[string]any) {
	b.mu.Lock()
	b.list = convs
	b.mu.Unlock()
}

func (b *fakeBackend) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/conversations/" && r.Method == http.MethodGet:
			b.lists.Add(1)
			b.mu.Lock()
			block := b.block
			list := b.list
			b.mu.Unlock()
			if block != nil {
				<-block
			}
			payload, _ := json.Marshal(map[string]any{"success": true, "conversations": list})
			w.Write(payload)
		case r.URL.Path == "/conversations/" && r.Method == http.MethodPost:
			b.creates.Add(1)
			b.mu.Lock()
			b.nextID++
			id := b.nextID
			b.mu.Unlock()
			fmt.Fprintf(w, `{"success":true,"conversation_id":%d}`, id)
		case r.Method == http.MethodDelete:
			b.deletes.Add(1)
			w.Write([]byte(`{"success":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func testStore(t *testing.T, backend *fakeBackend, clock util.Clock, cache *storage.Cache) *Store {
	t.Helper()
	server := httptest.NewServer(backend.handler())
	t.Cleanup(server.Close)

	gw := api.NewGateway(zap.NewNop()).WithBaseDelay(time.Millisecond)
	if clock != nil {
		gw = gw.WithClock(clock)
	}
	client := api.NewClient(gw, server.URL, zap.NewNop())

	st := New(client, cache, zap.NewNop())
	if clock != nil {
		st = st.WithClock(clock)
	}
	t.Cleanup(st.Close)
	return st
}

func rawConv(id int64, service model.ServiceID, updated time.Time) map[string]any {
	return map[string]any{
		"id":          id,
		"title":       fmt.Sprintf("conv %d", id),
		"service":     string(service),
		"lastUpdated": updated.Format(time.RFC3339),
		"messages": []map[string]any{
			{"id": id * 10, "role": "user", "content": "hola"},
		},
	}
}

// =============================================================================
// LOAD TESTS
// =============================================================================

func TestStore_LoadReplacesWholesale(t *testing.T) {
	backend := newFakeBackend()
	now := time.Now().UTC()
	backend.setList(rawConv(1, model.ServiceSecurityExpert, now.Add(-time.Hour)),
		rawConv(2, model.ServiceLLMExpert, now))
	clock := util.NewManualClock(now)
	st := testStore(t, backend, clock, nil)

	ok, err := st.LoadConversations(context.Background(), false)
	require.NoError(t, err)
	require.True(t, ok)

	convs := st.Conversations()
	require.Len(t, convs, 2)
	require.Equal(t, int64(2), convs[0].ID, "most recently updated first")

	// The next load is authoritative: conversation 1 disappeared.
	backend.setList(rawConv(2, model.ServiceLLMExpert, now))
	clock.Advance(2 * time.Second)
	ok, err = st.LoadConversations(context.Background(), true)
	require.NoError(t, err)
	require.True(t, ok)
	convs = st.Conversations()
	require.Len(t, convs, 1)
	require.Equal(t, int64(2), convs[0].ID)
}

func TestStore_LoadCooldownShortCircuits(t *testing.T) {
	backend := newFakeBackend()
	now := time.Now().UTC()
	backend.setList(rawConv(1, model.ServiceLLMExpert, now))
	clock := util.NewManualClock(now)
	st := testStore(t, backend, clock, nil)

	for i := 0; i < 3; i++ {
		ok, err := st.LoadConversations(context.Background(), false)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Equal(t, int64(1), backend.lists.Load(), "repeat loads inside the cooldown are absorbed")

	clock.Advance(2 * time.Second)
	_, err := st.LoadConversations(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, int64(2), backend.lists.Load())
}

func TestStore_ConcurrentLoadsShareOneCall(t *testing.T) {
	backend := newFakeBackend()
	now := time.Now().UTC()
	backend.setList(rawConv(1, model.ServiceLLMExpert, now))
	backend.block = make(chan struct{})
	st := testStore(t, backend, util.NewManualClock(now), nil)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.LoadConversations(context.Background(), false)
			errs <- err
		}()
	}

	require.Eventually(t, func() bool {
		return backend.lists.Load() == 1
	}, time.Second, 5*time.Millisecond)
	close(backend.block)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int64(1), backend.lists.Load())
	require.Len(t, st.Conversations(), 1)
}

func TestStore_EmptyListIsValidTerminalState(t *testing.T) {
	backend := newFakeBackend()
	backend.setList()
	st := testStore(t, backend, util.NewManualClock(time.Now()), nil)

	ok, err := st.LoadConversations(context.Background(), false)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, st.Conversations())
	require.Equal(t, int64(0), backend.creates.Load(), "an empty list must not trigger creation")
}

// =============================================================================
// CREATE TESTS
// =============================================================================

func TestStore_CreateSeedsWelcomeAndSelects(t *testing.T) {
	backend := newFakeBackend()
	st := testStore(t, backend, util.NewManualClock(time.Now()), nil)

	conv, err := st.CreateConversation(context.Background(), model.ServiceSecurityExpert, CreateOptions{})
	require.NoError(t, err)
	require.Positive(t, conv.ID)
	require.Len(t, conv.Messages, 1)
	require.Equal(t, model.RoleAssistant, conv.Messages[0].Role)
	require.Contains(t, conv.Messages[0].Content, "Ciberseguridad")
	require.True(t, conv.IsEmpty(), "a welcome-only conversation still counts as empty")

	selected, ok := st.Selected()
	require.True(t, ok)
	require.Equal(t, conv.ID, selected.ID)
}

func TestStore_CreateCarriesRAGOptions(t *testing.T) {
	backend := newFakeBackend()
	st := testStore(t, backend, util.NewManualClock(time.Now()), nil)

	conv, err := st.CreateConversation(context.Background(), model.ServiceRAGConversation, CreateOptions{
		Domain:               "todos",
		UseRAG:               true,
		UseDeepseekReasoning: true,
	})
	require.NoError(t, err)
	require.NotNil(t, conv.RAGConfig)
	require.True(t, conv.RAGConfig.UseRAG)
	require.True(t, conv.RAGConfig.UseDeepseekReasoning)
	require.Equal(t, "todos", conv.RAGConfig.Domain)
}

func TestStore_CreateRejectsNonPositiveID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"conversation_id":0}`))
	}))
	t.Cleanup(server.Close)
	gw := api.NewGateway(zap.NewNop()).WithBaseDelay(time.Millisecond)
	st := New(api.NewClient(gw, server.URL, zap.NewNop()), nil, zap.NewNop())
	t.Cleanup(st.Close)

	_, err := st.CreateConversation(context.Background(), model.ServiceLLMExpert, CreateOptions{})
	var createErr *ConversationCreateError
	require.ErrorAs(t, err, &createErr)
	require.Empty(t, st.Conversations())
}

func TestStore_CreateReuseWindow(t *testing.T) {
	backend := newFakeBackend()
	now := time.Now().UTC()
	clock := util.NewManualClock(now)
	st := testStore(t, backend, clock, nil)

	first, err := st.CreateConversation(context.Background(), model.ServiceLLMExpert, CreateOptions{})
	require.NoError(t, err)

	// Make it non-empty so only the time window can explain a reuse.
	_, err = st.AppendUserMessage(first.ID, "hola")
	require.NoError(t, err)

	clock.Advance(5 * time.Second)
	second, err := st.CreateConversation(context.Background(), model.ServiceLLMExpert, CreateOptions{})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, int64(1), backend.creates.Load())

	clock.Advance(6 * time.Second) // 11s after creation: window expired
	third, err := st.CreateConversation(context.Background(), model.ServiceLLMExpert, CreateOptions{})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, third.ID)
	require.Equal(t, int64(2), backend.creates.Load())
}

func TestStore_CreateReusesExistingEmptyConversation(t *testing.T) {
	backend := newFakeBackend()
	now := time.Now().UTC()
	backend.setList(map[string]any{
		"id":          7,
		"title":       "vacía",
		"service":     string(model.ServiceRAGConversation),
		"lastUpdated": now.Format(time.RFC3339),
		"messages":    []map[string]any{},
	})
	clock := util.NewManualClock(now)
	st := testStore(t, backend, clock, nil)

	_, err := st.LoadConversations(context.Background(), false)
	require.NoError(t, err)

	conv, err := st.CreateConversation(context.Background(), model.ServiceRAGConversation, CreateOptions{})
	require.NoError(t, err)
	require.Equal(t, int64(7), conv.ID)
	require.Equal(t, int64(0), backend.creates.Load(), "an existing empty conversation is reused")
}

func TestStore_ConcurrentCreatesYieldOneConversation(t *testing.T) {
	backend := newFakeBackend()
	st := testStore(t, backend, util.NewManualClock(time.Now()), nil)

	const callers = 8
	ids := make([]int64, callers)
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := st.CreateConversation(context.Background(), model.ServiceUnifiedAgent, CreateOptions{})
			if conv != nil {
				ids[i] = conv.ID
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, int64(1), backend.creates.Load(), "creation must be serialized and deduplicated")
	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
	require.Len(t, st.Conversations(), 1)
}

func TestStore_CreateUnknownServiceFails(t *testing.T) {
	backend := newFakeBackend()
	st := testStore(t, backend, nil, nil)

	_, err := st.CreateConversation(context.Background(), "no_such_service", CreateOptions{})
	var createErr *ConversationCreateError
	require.ErrorAs(t, err, &createErr)
	require.Equal(t, int64(0), backend.creates.Load())
}

// =============================================================================
// CRUD TESTS
// =============================================================================

func TestStore_RemoveConversationClearsSelection(t *testing.T) {
	backend := newFakeBackend()
	st := testStore(t, backend, util.NewManualClock(time.Now()), nil)

	conv, err := st.CreateConversation(context.Background(), model.ServiceLLMExpert, CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, st.RemoveConversation(context.Background(), conv.ID))
	require.Empty(t, st.Conversations())
	_, ok := st.Selected()
	require.False(t, ok)
	require.Equal(t, int64(1), backend.deletes.Load())
}

func TestStore_RemoveToleratesBackend404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)
	gw := api.NewGateway(zap.NewNop()).WithBaseDelay(time.Millisecond)
	st := New(api.NewClient(gw, server.URL, zap.NewNop()), nil, zap.NewNop())
	t.Cleanup(st.Close)

	require.NoError(t, st.RemoveConversation(context.Background(), 42))
}

func TestStore_UpdateConversationTitle(t *testing.T) {
	backend := newFakeBackend()
	st := testStore(t, backend, util.NewManualClock(time.Now()), nil)

	conv, err := st.CreateConversation(context.Background(), model.ServiceLLMExpert, CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, st.UpdateConversationTitle(conv.ID, "renombrada"))
	got, ok := st.Conversation(conv.ID)
	require.True(t, ok)
	require.Equal(t, "renombrada", got.Title)

	require.ErrorIs(t, st.UpdateConversationTitle(9999, "x"), ErrConversationNotFound)
}

// =============================================================================
// MESSAGE MUTATION TESTS
// =============================================================================

func TestStore_AppendUserMessageAutoTitles(t *testing.T) {
	backend := newFakeBackend()
	st := testStore(t, backend, util.NewManualClock(time.Now()), nil)

	conv, err := st.CreateConversation(context.Background(), model.ServiceLLMExpert, CreateOptions{})
	require.NoError(t, err)

	msg, err := st.AppendUserMessage(conv.ID, "cómo configuro un firewall para mi red doméstica")
	require.NoError(t, err)
	require.True(t, msg.ID.IsTemp())
	require.Equal(t, model.StatusSending, msg.LocalStatus)

	got, ok := st.Conversation(conv.ID)
	require.True(t, ok)
	require.Equal(t, model.AutoTitle("cómo configuro un firewall para mi red doméstica"), got.Title)

	// A second message must not retitle.
	_, err = st.AppendUserMessage(conv.ID, "otra pregunta")
	require.NoError(t, err)
	after, _ := st.Conversation(conv.ID)
	require.Equal(t, got.Title, after.Title)
}

func TestStore_ReplaceMessagesIsIdempotent(t *testing.T) {
	backend := newFakeBackend()
	st := testStore(t, backend, util.NewManualClock(time.Now()), nil)

	conv, err := st.CreateConversation(context.Background(), model.ServiceLLMExpert, CreateOptions{})
	require.NoError(t, err)
	_, err = st.AppendUserMessage(conv.ID, "hola")
	require.NoError(t, err)

	server := []model.Message{
		{ID: model.NumericID(1), Role: model.RoleUser, Content: "hola"},
		{ID: model.NumericID(2), Role: model.RoleAssistant, Content: "buenas"},
	}
	require.NoError(t, st.ReplaceMessages(conv.ID, server))
	require.NoError(t, st.ReplaceMessages(conv.ID, server))

	got, ok := st.Conversation(conv.ID)
	require.True(t, ok)
	require.Len(t, got.Messages, 2, "second application changes nothing")
	for _, m := range got.Messages {
		require.False(t, m.ID.IsTemp(), "temporary messages are discarded")
		require.Equal(t, conv.ID, m.ConversationID)
	}
}

func TestStore_ResolveUserMessageAdoptsServerID(t *testing.T) {
	backend := newFakeBackend()
	st := testStore(t, backend, util.NewManualClock(time.Now()), nil)

	conv, err := st.CreateConversation(context.Background(), model.ServiceLLMExpert, CreateOptions{})
	require.NoError(t, err)
	msg, err := st.AppendUserMessage(conv.ID, "hola")
	require.NoError(t, err)

	require.NoError(t, st.ResolveUserMessage(conv.ID, msg.ID, model.NumericID(77)))
	got, _ := st.Conversation(conv.ID)
	resolved := got.MessageByID(model.NumericID(77))
	require.NotNil(t, resolved)
	require.Equal(t, model.StatusSent, resolved.LocalStatus)
}

func TestStore_MergeAssistantMessageUpdatesOrAppends(t *testing.T) {
	backend := newFakeBackend()
	st := testStore(t, backend, util.NewManualClock(time.Now()), nil)

	conv, err := st.CreateConversation(context.Background(), model.ServiceLLMExpert, CreateOptions{})
	require.NoError(t, err)

	reply := model.Message{ID: model.NumericID(5), Role: model.RoleAssistant, Content: "v1"}
	require.NoError(t, st.MergeAssistantMessage(conv.ID, reply))
	got, _ := st.Conversation(conv.ID)
	countBefore := len(got.Messages)

	reply.Content = "v2"
	require.NoError(t, st.MergeAssistantMessage(conv.ID, reply))
	got, _ = st.Conversation(conv.ID)
	require.Len(t, got.Messages, countBefore, "matching id updates in place")
	require.Equal(t, "v2", got.MessageByID(model.NumericID(5)).Content)
}

func TestStore_MarkLatestUserMessageError(t *testing.T) {
	backend := newFakeBackend()
	st := testStore(t, backend, util.NewManualClock(time.Now()), nil)

	conv, err := st.CreateConversation(context.Background(), model.ServiceLLMExpert, CreateOptions{})
	require.NoError(t, err)
	msg, err := st.AppendUserMessage(conv.ID, "hola")
	require.NoError(t, err)

	require.NoError(t, st.MarkLatestUserMessageError(conv.ID))
	got, _ := st.Conversation(conv.ID)
	require.Equal(t, model.StatusError, got.MessageByID(msg.ID).LocalStatus)
}

// =============================================================================
// CACHE INTEGRATION TESTS
// =============================================================================

func TestStore_HydrateFromCacheThenSupersededByLoad(t *testing.T) {
	cache, err := storage.Open(filepath.Join(t.TempDir(), "expertdesk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	now := time.Now().UTC()
	require.NoError(t, cache.SaveConversations(context.Background(), []model.Conversation{
		{ID: 50, Title: "cacheada", Service: model.ServiceLLMExpert, LastUpdated: now},
	}))
	require.NoError(t, cache.SetSelectedConversation(context.Background(), 50))

	backend := newFakeBackend()
	backend.setList(rawConv(60, model.ServiceLLMExpert, now))
	st := testStore(t, backend, util.NewManualClock(now), cache)

	st.Hydrate(context.Background())
	convs := st.Conversations()
	require.Len(t, convs, 1)
	require.Equal(t, int64(50), convs[0].ID, "cache fills the collection before any network call")
	selected, ok := st.Selected()
	require.True(t, ok)
	require.Equal(t, int64(50), selected.ID)

	_, err = st.LoadConversations(context.Background(), true)
	require.NoError(t, err)
	convs = st.Conversations()
	require.Len(t, convs, 1)
	require.Equal(t, int64(60), convs[0].ID, "the backend list supersedes the cache")
}

func TestStore_SnapshotWrittenAfterDebounce(t *testing.T) {
	cache, err := storage.Open(filepath.Join(t.TempDir(), "expertdesk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	backend := newFakeBackend()
	now := time.Now().UTC()
	clock := util.NewManualClock(now)
	st := testStore(t, backend, clock, cache)

	conv, err := st.CreateConversation(context.Background(), model.ServiceLLMExpert, CreateOptions{})
	require.NoError(t, err)
	_, err = st.AppendUserMessage(conv.ID, "hola")
	require.NoError(t, err)

	clock.Advance(storage.DefaultSnapshotWindow * 2)
	cached, err := cache.LoadConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, cached, 1)
	require.Equal(t, conv.ID, cached[0].ID)
	require.Len(t, cached[0].Messages, 2)
}

func TestStore_EmptyCollectionNeverSnapshotted(t *testing.T) {
	cache, err := storage.Open(filepath.Join(t.TempDir(), "expertdesk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	now := time.Now().UTC()
	require.NoError(t, cache.SaveConversations(context.Background(), []model.Conversation{
		{ID: 50, Title: "durable", Service: model.ServiceLLMExpert, LastUpdated: now},
	}))

	backend := newFakeBackend()
	backend.setList()
	clock := util.NewManualClock(now)
	st := testStore(t, backend, clock, cache)

	_, err = st.LoadConversations(context.Background(), true)
	require.NoError(t, err)
	require.Empty(t, st.Conversations())

	clock.Advance(storage.DefaultSnapshotWindow * 2)
	st.Close()

	cached, err := cache.LoadConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, cached, 1, "emptiness must not clobber the durable cache")
}
