package tools

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/optimistic"
	"github.com/brandon/mailsync/internal/priming"
	"github.com/brandon/mailsync/pkg/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeTransport struct {
	mu      sync.Mutex
	actions []optimistic.ActionRequest
}

func (f *fakeTransport) ItemAction(ctx context.Context, req optimistic.ActionRequest) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, req)
	return nil, nil
}

func (f *fakeTransport) SaveDraft(ctx context.Context, draft *types.MailItem) (*types.MailItem, error) {
	return &types.MailItem{ID: "Drafts/1"}, nil
}

func (f *fakeTransport) SendMessage(ctx context.Context, msg *types.MailItem) (*types.MailItem, error) {
	return &types.MailItem{ID: "Sent/1"}, nil
}

type fakeFetcher struct {
	mu    sync.Mutex
	gets  int
	items map[string]*types.MailItem
}

func (f *fakeFetcher) Search(ctx context.Context, q priming.SearchQuery) (*types.SearchResult, error) {
	return &types.SearchResult{}, nil
}

func (f *fakeFetcher) GetMessage(ctx context.Context, id string) (*types.MailItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	item, ok := f.items[id]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return item.Clone(), nil
}

func (f *fakeFetcher) GetContacts(ctx context.Context, folder string) ([]types.Contact, error) {
	return nil, nil
}

type fakeSyncer struct {
	calls int
}

func (f *fakeSyncer) SyncFolders(ctx context.Context, store *cache.Store) error {
	f.calls++
	store.WriteFolders(append(store.Folders(), types.Folder{ID: "9", Name: "Work", AbsFolderPath: "/Work"}))
	return nil
}

type harness struct {
	deps      *Deps
	registry  *Registry
	transport *fakeTransport
	fetcher   *fakeFetcher
	syncer    *fakeSyncer
}

var testDate = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := testLogger()

	store, err := cache.NewStore(16, logger)
	require.NoError(t, err)
	store.WriteFolders([]types.Folder{
		{ID: "2", Name: "Inbox", AbsFolderPath: "/Inbox", Unread: 1, NonFolderItemCount: 1},
		{ID: "3", Name: "Trash", AbsFolderPath: "/Trash"},
		{ID: "7", Name: "Drafts", AbsFolderPath: "/Drafts"},
		{ID: "8", Name: "Sent", AbsFolderPath: "/Sent"},
	})
	msg := types.MailItem{
		ID: "INBOX/1", Kind: types.KindMessage, FolderID: "2", Flags: "u", Date: testDate,
		Subject: "Quarterly report",
		From:    []types.Address{{Address: "ann@example.com", Name: "Ann", Type: types.AddressFrom}},
	}
	store.WriteItem(&msg)
	store.WriteEntryByKey(cache.FolderViewKey("Inbox", types.ResultMessages).String(),
		&types.SearchResult{Messages: []types.MailItem{msg}})

	db, err := cache.OpenDB(filepath.Join(t.TempDir(), "offline.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	persister := cache.NewPersister(db, 1<<20, logger)

	transport := &fakeTransport{}
	engine := optimistic.NewEngine(store, transport, optimistic.Config{UndoWindow: time.Minute}, logger)
	t.Cleanup(engine.Close)

	body := msg
	body.BodyText = "numbers attached"
	fetcher := &fakeFetcher{items: map[string]*types.MailItem{"INBOX/1": &body}}
	pipeline := priming.NewPipeline(store, fetcher, persister, priming.Config{}, logger)
	syncer := &fakeSyncer{}

	deps := &Deps{
		Config:    &config.Config{SearchResultLimit: 100},
		Store:     store,
		Persister: persister,
		Engine:    engine,
		Pipeline:  pipeline,
		Fetcher:   fetcher,
		Folders:   syncer,
		Logger:    logger,
	}
	return &harness{
		deps:      deps,
		registry:  NewRegistry(deps),
		transport: transport,
		fetcher:   fetcher,
		syncer:    syncer,
	}
}

func (h *harness) call(t *testing.T, name string, params map[string]interface{}) (interface{}, error) {
	t.Helper()
	tool, ok := h.registry.GetTool(name)
	require.True(t, ok, name)
	return tool.Execute(context.Background(), params)
}

func (h *harness) mustCall(t *testing.T, name string, params map[string]interface{}) interface{} {
	t.Helper()
	out, err := h.call(t, name, params)
	require.NoError(t, err)
	return out
}

func TestRegistryDefinitions(t *testing.T) {
	h := newHarness(t)

	defs := h.registry.GetToolDefinitions()
	var names []string
	for _, d := range defs {
		names = append(names, d["name"].(string))
		assert.NotNil(t, d["inputSchema"])
	}
	assert.Equal(t, []string{
		"get_email", "list_folders", "mail_action", "prime_cache", "save_draft",
		"search_emails", "send_email", "sync_status", "undo_action",
	}, names)
}

func TestListFolders(t *testing.T) {
	h := newHarness(t)

	out := h.mustCall(t, "list_folders", nil).([]map[string]interface{})
	require.Len(t, out, 4)
	assert.Equal(t, "Inbox", out[0]["name"])
	assert.Equal(t, 1, out[0]["unread"])
	assert.Zero(t, h.syncer.calls)

	out = h.mustCall(t, "list_folders", map[string]interface{}{"refresh": true}).([]map[string]interface{})
	assert.Len(t, out, 5)
	assert.Equal(t, 1, h.syncer.calls)
}

func TestMailActionAndUndo(t *testing.T) {
	h := newHarness(t)

	out := h.mustCall(t, "mail_action", map[string]interface{}{
		"action": "trash",
		"ids":    []interface{}{"INBOX/1"},
		"wait":   true,
	}).(map[string]interface{})
	assert.Equal(t, true, out["done"])
	assert.Equal(t, true, out["can_undo"])
	assert.Nil(t, out["error"])

	item, ok := h.deps.Store.ReadItem("INBOX/1")
	require.True(t, ok)
	assert.Equal(t, "3", item.FolderID)

	undo := h.mustCall(t, "undo_action", map[string]interface{}{
		"mutation": out["mutation"],
		"wait":     true,
	}).(map[string]interface{})
	assert.Equal(t, true, undo["done"])

	item, _ = h.deps.Store.ReadItem("INBOX/1")
	assert.Equal(t, "2", item.FolderID)

	_, err := h.call(t, "undo_action", map[string]interface{}{"mutation": out["mutation"]})
	assert.Error(t, err, "a mutation is undone once")
}

func TestMailActionFlags(t *testing.T) {
	h := newHarness(t)

	h.mustCall(t, "mail_action", map[string]interface{}{"action": "read", "ids": "INBOX/1", "wait": true})
	h.mustCall(t, "mail_action", map[string]interface{}{"action": "flag", "ids": "INBOX/1", "wait": true})

	item, _ := h.deps.Store.ReadItem("INBOX/1")
	assert.Equal(t, "f", item.Flags)
	inbox, _ := h.deps.Store.FindFolder(cache.FolderByID("2"))
	assert.Zero(t, inbox.Unread)

	h.transport.mu.Lock()
	defer h.transport.mu.Unlock()
	require.Len(t, h.transport.actions, 2)
	assert.Equal(t, optimistic.OpRead, h.transport.actions[0].Op)
	assert.Equal(t, optimistic.OpFlag, h.transport.actions[1].Op)
}

func TestMailActionValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.call(t, "mail_action", map[string]interface{}{"action": "explode", "ids": "INBOX/1"})
	assert.Error(t, err)
	_, err = h.call(t, "mail_action", map[string]interface{}{"action": "flag"})
	assert.Error(t, err)
	_, err = h.call(t, "mail_action", map[string]interface{}{"action": "move", "ids": "INBOX/1"})
	assert.Error(t, err)
}

func TestGetEmailFetchesOnce(t *testing.T) {
	h := newHarness(t)

	_, err := h.call(t, "get_email", map[string]interface{}{})
	assert.Error(t, err)

	h.mustCall(t, "mail_action", map[string]interface{}{"action": "flag", "ids": "INBOX/1", "wait": true})

	out := h.mustCall(t, "get_email", map[string]interface{}{"email_id": "INBOX/1"}).(*types.MailItem)
	assert.Equal(t, "numbers attached", out.BodyText)
	assert.Equal(t, "uf", out.Flags, "optimistic flags win over the fetched copy")

	out = h.mustCall(t, "get_email", map[string]interface{}{"email_id": "INBOX/1"}).(*types.MailItem)
	assert.Equal(t, "numbers attached", out.BodyText)
	assert.Equal(t, 1, h.fetcher.gets)

	_, err = h.call(t, "get_email", map[string]interface{}{"email_id": "INBOX/404"})
	assert.Error(t, err)
}

func TestSearchEmails(t *testing.T) {
	h := newHarness(t)

	out := h.mustCall(t, "search_emails", map[string]interface{}{"subject": "quarterly"}).([]map[string]interface{})
	require.Len(t, out, 1)
	assert.Equal(t, "INBOX/1", out[0]["id"])
	assert.Equal(t, "ann@example.com", out[0]["sender_email"])

	h.mustCall(t, "mail_action", map[string]interface{}{"action": "trash", "ids": "INBOX/1", "wait": true})

	out = h.mustCall(t, "search_emails", map[string]interface{}{"folder": "Trash"}).([]map[string]interface{})
	require.Len(t, out, 1)
	out = h.mustCall(t, "search_emails", map[string]interface{}{"folder": "Inbox"}).([]map[string]interface{})
	assert.Empty(t, out)

	_, err := h.call(t, "search_emails", map[string]interface{}{"date_from": "yesterday"})
	assert.Error(t, err)
}

func TestSendEmail(t *testing.T) {
	h := newHarness(t)

	_, err := h.call(t, "send_email", map[string]interface{}{"subject": "hi", "body_text": "x"})
	assert.Error(t, err)
	_, err = h.call(t, "send_email", map[string]interface{}{"to": "a@example.com", "subject": "hi"})
	assert.Error(t, err)

	out := h.mustCall(t, "send_email", map[string]interface{}{
		"to":        "a@example.com, b@example.com",
		"subject":   "hi",
		"body_text": "hello",
		"wait":      true,
	}).(map[string]interface{})
	assert.Equal(t, true, out["done"])
	assert.Equal(t, "Sent/1", out["result_id"])
	assert.Equal(t, false, out["queued"])

	sent, ok := h.deps.Store.ReadItem("Sent/1")
	require.True(t, ok)
	require.Len(t, sent.To, 2)
	assert.Equal(t, "b@example.com", sent.To[1].Address)
}

func TestSaveDraft(t *testing.T) {
	h := newHarness(t)

	scheduled := h.mustCall(t, "save_draft", map[string]interface{}{
		"subject":  "later",
		"autosave": true,
	}).(map[string]interface{})
	assert.True(t, strings.HasPrefix(scheduled["draft_id"].(string), "~"))

	saved := h.mustCall(t, "save_draft", map[string]interface{}{
		"subject": "now",
		"wait":    true,
	}).(map[string]interface{})
	assert.Equal(t, "Drafts/1", saved["draft_id"])

	_, err := h.call(t, "save_draft", map[string]interface{}{"discard": true})
	assert.Error(t, err)

	discarded := h.mustCall(t, "save_draft", map[string]interface{}{
		"draft_id": "Drafts/1",
		"discard":  true,
		"wait":     true,
	}).(map[string]interface{})
	assert.Equal(t, true, discarded["done"])
	_, ok := h.deps.Store.ReadItem("Drafts/1")
	assert.False(t, ok)
}

func TestPrimeCache(t *testing.T) {
	h := newHarness(t)

	out := h.mustCall(t, "prime_cache", map[string]interface{}{"folder": "Inbox", "days": 3}).([]map[string]interface{})
	require.Len(t, out, 1)
	assert.Equal(t, "Inbox", out[0]["folder"])
	assert.Equal(t, 3, out[0]["days"])
	assert.Equal(t, false, out[0]["stopped_by_quota"])
}

func TestSyncStatus(t *testing.T) {
	h := newHarness(t)

	out := h.mustCall(t, "sync_status", map[string]interface{}{"flush_outbox": true}).(map[string]interface{})
	assert.Equal(t, true, out["online"])
	assert.Equal(t, []string{}, out["outbox"])
	assert.Equal(t, 0, out["flushed"])
	assert.Equal(t, "1.0 MB", out["cache_quota"])
}

func TestParams(t *testing.T) {
	n, ok, err := intParam(map[string]interface{}{"n": "12"}, "n")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 12, n)

	for _, v := range []interface{}{7, int64(7), 7.0} {
		n, ok, err = intParam(map[string]interface{}{"n": v}, "n")
		require.NoError(t, err, v)
		assert.True(t, ok)
		assert.Equal(t, 7, n)
	}

	_, ok, err = intParam(map[string]interface{}{}, "n")
	assert.NoError(t, err)
	assert.False(t, ok)

	_, _, err = intParam(map[string]interface{}{"n": "x"}, "n")
	assert.Error(t, err)

	assert.Equal(t, []string{"a", "b"}, listParam(map[string]interface{}{"l": []interface{}{"a", " ", "b"}}, "l"))
	assert.Equal(t, []string{"a", "b"}, listParam(map[string]interface{}{"l": "a,,b "}, "l"))
	assert.True(t, boolParam(map[string]interface{}{"b": "true"}, "b"))
}
