package optimistic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/pkg/types"
)

var errOffline = errors.New("server unreachable")

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeTransport struct {
	mu        sync.Mutex
	conn      *Switch
	actions   []ActionRequest
	actionErr error
	// renumber gives moved items a new id in their destination, as IMAP does
	renumber  bool
	nextUID   int
	drafts    []*types.MailItem
	draftID   string
	draftIDs  []string
	blockSave bool
	sent      []*types.MailItem
	sendID    string
	sendErr   error
}

func (f *fakeTransport) ItemAction(ctx context.Context, req ActionRequest) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.actions = append(f.actions, req)
	if f.actionErr != nil || !f.renumber || req.FolderID == "" {
		return nil, f.actionErr
	}
	switch req.Op {
	case OpFlag, OpUnflag, OpRead, OpUnread, OpUrgent, OpNotUrgent, OpDelete:
		return nil, nil
	}
	renamed := make(map[string]string, len(req.IDs))
	for _, id := range req.IDs {
		f.nextUID++
		renamed[id] = fmt.Sprintf("%s/%d", req.FolderID, f.nextUID)
	}
	return renamed, nil
}

func (f *fakeTransport) SaveDraft(ctx context.Context, draft *types.MailItem) (*types.MailItem, error) {
	f.mu.Lock()
	block := f.blockSave
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.conn != nil && !f.conn.Online() {
		return nil, errOffline
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, draft)
	id := f.draftID
	if len(f.draftIDs) > 0 {
		id, f.draftIDs = f.draftIDs[0], f.draftIDs[1:]
	}
	return &types.MailItem{ID: id}, nil
}

func (f *fakeTransport) SendMessage(ctx context.Context, msg *types.MailItem) (*types.MailItem, error) {
	if f.conn != nil && !f.conn.Online() {
		return nil, errOffline
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, msg)
	return &types.MailItem{ID: f.sendID}, nil
}

func (f *fakeTransport) SetSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sendErr = err
}

func (f *fakeTransport) Drafts() []*types.MailItem {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*types.MailItem(nil), f.drafts...)
}

func (f *fakeTransport) Actions() []ActionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]ActionRequest(nil), f.actions...)
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []Notification
}

func (n *recordingNotifier) Notify(note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.notes = append(n.notes, note)
}

func (n *recordingNotifier) Notes() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]Notification(nil), n.notes...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

const (
	inboxID   = "2"
	trashID   = "3"
	junkID    = "4"
	archiveID = "5"
	outboxID  = "6"
	draftsID  = "7"
	sentID    = "8"
)

func mailboxFolders(withOutbox bool) []types.Folder {
	children := []types.Folder{
		{ID: inboxID, Name: "Inbox", AbsFolderPath: "/Inbox", Unread: 10, NonFolderItemCount: 50},
		{ID: trashID, Name: "Trash", AbsFolderPath: "/Trash"},
		{ID: junkID, Name: "Junk", AbsFolderPath: "/Junk"},
		{ID: archiveID, Name: "Archive", AbsFolderPath: "/Archive"},
		{ID: draftsID, Name: "Drafts", AbsFolderPath: "/Drafts"},
		{ID: sentID, Name: "Sent", AbsFolderPath: "/Sent"},
	}
	if withOutbox {
		children = append(children, types.Folder{ID: outboxID, Name: "Outbox", AbsFolderPath: "/Outbox"})
	}
	return []types.Folder{{ID: "1", Name: "USER_ROOT", Folders: children}}
}

func message(id, folder, flags string) types.MailItem {
	return types.MailItem{ID: id, Kind: types.KindMessage, FolderID: folder, Flags: flags, Subject: "message " + id}
}

func viewKey(folder string) string {
	return cache.FolderViewKey(folder, types.ResultMessages).String()
}

type harness struct {
	store     *cache.Store
	engine    *Engine
	transport *fakeTransport
	notifier  *recordingNotifier
	conn      *Switch
	clock     *testClock
}

// newHarness builds an engine over a mailbox whose Inbox view holds
// messages 42 (unread) and 41 (read)
func newHarness(t *testing.T, withOutbox bool) *harness {
	t.Helper()
	store, err := cache.NewStore(16, testLogger())
	require.NoError(t, err)

	store.WriteFolders(mailboxFolders(withOutbox))
	inbox := []types.MailItem{message("42", inboxID, "u"), message("41", inboxID, "")}
	for i := range inbox {
		store.WriteItem(&inbox[i])
	}
	store.WriteEntryByKey(viewKey("Inbox"), &types.SearchResult{Messages: inbox, SortBy: cache.SortDateDesc})
	for _, name := range []string{"Drafts", "Sent", "Trash"} {
		store.WriteEntryByKey(viewKey(name), &types.SearchResult{SortBy: cache.SortDateDesc})
	}

	h := &harness{
		store:    store,
		notifier: &recordingNotifier{},
		conn:     NewSwitch(true),
		clock:    &testClock{now: time.UnixMilli(1690000000000)},
	}
	h.transport = &fakeTransport{conn: h.conn, sendID: "12345", draftID: "d-100"}
	h.engine = NewEngine(store, h.transport, Config{}, testLogger(),
		WithNotifier(h.notifier),
		WithConnectivity(h.conn),
		WithClock(h.clock.Now),
	)
	t.Cleanup(h.engine.Close)
	return h
}

func (h *harness) folder(t *testing.T, name string) types.Folder {
	t.Helper()
	f, ok := h.store.FindFolder(cache.FolderByName(name))
	require.True(t, ok, name)
	return f
}

func (h *harness) item(t *testing.T, id string) *types.MailItem {
	t.Helper()
	item, ok := h.store.ReadItem(id)
	require.True(t, ok, id)
	return item
}

func (h *harness) viewIDs(t *testing.T, folder string) []string {
	t.Helper()
	entry, ok := h.store.ReadEntryByKey(viewKey(folder))
	require.True(t, ok, folder)
	ids := make([]string, 0, len(entry.Messages))
	for _, m := range entry.Messages {
		ids = append(ids, m.ID)
	}
	return ids
}

func wait(t *testing.T, p *Pending) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.Wait(ctx)
}
