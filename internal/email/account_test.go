package email

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/optimistic"
	"github.com/brandon/mailsync/internal/priming"
	"github.com/brandon/mailsync/pkg/types"
)

func TestItemActionFlagsGroupedByFolder(t *testing.T) {
	acc, im, _ := newTestAccount(t)

	renamed, err := acc.ItemAction(context.Background(), optimistic.ActionRequest{
		Op:  optimistic.OpFlag,
		IDs: []string{"INBOX/1", "Work/Projects/3", "~1690000000000", "INBOX/2"},
	})
	require.NoError(t, err)
	assert.Empty(t, renamed)

	assert.Equal(t, []storeCall{
		{Folder: "INBOX", UIDs: []uint32{1, 2}, Flag: imap.FlaggedFlag, Add: true},
		{Folder: "Work/Projects", UIDs: []uint32{3}, Flag: imap.FlaggedFlag, Add: true},
	}, im.stores)
}

func TestItemActionMove(t *testing.T) {
	acc, im, _ := newTestAccount(t)

	renamed, err := acc.ItemAction(context.Background(), optimistic.ActionRequest{
		Op:         optimistic.OpTrash,
		IDs:        []string{"INBOX/1", "Trash/4"},
		FolderID:   "Trash",
		FolderName: "Trash",
	})
	require.NoError(t, err)
	assert.Equal(t, []moveCall{{Folder: "INBOX", UIDs: []uint32{1}, Dest: "Trash"}}, im.moves)
	assert.Equal(t, map[string]string{"INBOX/1": "Trash/77"}, renamed)

	_, err = acc.ItemAction(context.Background(), optimistic.ActionRequest{Op: optimistic.OpMove, IDs: []string{"INBOX/1"}})
	assert.Error(t, err, "a move needs a destination")
}

func TestItemActionDelete(t *testing.T) {
	acc, im, _ := newTestAccount(t)

	_, err := acc.ItemAction(context.Background(), optimistic.ActionRequest{
		Op:  optimistic.OpDelete,
		IDs: []string{"Trash/4", "Trash/5"},
	})
	require.NoError(t, err)
	assert.Equal(t, []moveCall{{Folder: "Trash", UIDs: []uint32{4, 5}}}, im.deletes)
}

func TestItemActionRejects(t *testing.T) {
	acc, im, _ := newTestAccount(t)
	ctx := context.Background()

	_, err := acc.ItemAction(ctx, optimistic.ActionRequest{Op: optimistic.OpFlag, IDs: []string{"bogus"}})
	assert.Error(t, err)
	_, err = acc.ItemAction(ctx, optimistic.ActionRequest{Op: optimistic.OpSend, IDs: []string{"INBOX/1"}})
	assert.Error(t, err)
	_, err = acc.ItemAction(ctx, optimistic.ActionRequest{Op: optimistic.OpFlag, IDs: []string{"~1"}})
	assert.NoError(t, err)
	assert.Empty(t, im.stores)
}

func TestSaveDraftReplacesPreviousCopy(t *testing.T) {
	acc, im, _ := newTestAccount(t)
	draft := &types.MailItem{
		ID:       "~1690000000000",
		Subject:  "Plans",
		Flags:    "u",
		To:       []types.Address{{Address: "ann@example.com"}},
		BodyText: "draft body",
	}

	saved, err := acc.SaveDraft(context.Background(), draft)
	require.NoError(t, err)
	assert.Equal(t, "Drafts/77", saved.ID)
	assert.Equal(t, "Drafts", saved.FolderID)
	assert.Equal(t, "d", saved.Flags)
	assert.Equal(t, testNow, saved.Date)
	assert.Equal(t, "~1690000000000", draft.ID, "input is not modified")
	assert.Empty(t, im.deletes)

	require.Len(t, im.appends, 1)
	assert.Equal(t, []string{imap.DraftFlag, imap.SeenFlag}, im.appends[0].Flags)
	assert.Contains(t, string(im.appends[0].Raw), "Message-Id: "+im.appends[0].MessageID)

	saved.BodyText = "second version"
	again, err := acc.SaveDraft(context.Background(), saved)
	require.NoError(t, err)
	assert.Equal(t, "Drafts/78", again.ID)
	assert.Equal(t, []moveCall{{Folder: "Drafts", UIDs: []uint32{77}}}, im.deletes)
}

func TestSendMessage(t *testing.T) {
	acc, im, sm := newTestAccount(t)
	msg := &types.MailItem{
		ID:       "Drafts/9",
		Flags:    "d",
		Subject:  "Hello",
		To:       []types.Address{{Address: "ann@example.com"}},
		Bcc:      []types.Address{{Address: "bob@example.com"}},
		BodyText: "hi",
	}

	sent, err := acc.SendMessage(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, []string{"ann@example.com", "bob@example.com"}, sm.recipients)
	assert.NotContains(t, string(sm.raw), "bob@example.com")
	assert.Equal(t, "Sent/77", sent.ID)
	assert.Equal(t, "Sent", sent.FolderID)
	assert.Equal(t, "s", sent.Flags)

	require.Len(t, im.appends, 1)
	assert.Equal(t, "Sent", im.appends[0].Folder)
	assert.Equal(t, sm.raw, im.appends[0].Raw)
	assert.Equal(t, []moveCall{{Folder: "Drafts", UIDs: []uint32{9}}}, im.deletes)
}

func TestSendMessageKeepsIDWhenCopyFails(t *testing.T) {
	acc, im, _ := newTestAccount(t)
	im.err = errors.New("append rejected")

	sent, err := acc.SendMessage(context.Background(), &types.MailItem{
		ID: "~5", To: []types.Address{{Address: "ann@example.com"}}, BodyText: "x",
	})
	require.NoError(t, err)
	assert.Equal(t, "~5", sent.ID)
	assert.Equal(t, "Sent", sent.FolderID)
}

func TestSendMessageErrors(t *testing.T) {
	acc, _, sm := newTestAccount(t)

	_, err := acc.SendMessage(context.Background(), &types.MailItem{Subject: "nobody"})
	assert.Error(t, err)

	sm.err = fmt.Errorf("%w: dial tcp: timeout", ErrUnreachable)
	_, err = acc.SendMessage(context.Background(), &types.MailItem{To: []types.Address{{Address: "a@x"}}})
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.False(t, acc.Online())
}

func TestConnectivityFollowsCalls(t *testing.T) {
	acc, im, _ := newTestAccount(t)
	ctx := context.Background()

	im.err = fmt.Errorf("%w: connection reset", ErrUnreachable)
	_, err := acc.ListFolders(ctx)
	require.Error(t, err)
	assert.False(t, acc.Online())
	assert.False(t, acc.Probe(ctx))

	im.err = errors.New("NO mailbox does not exist")
	_, err = acc.ListFolders(ctx)
	require.Error(t, err)
	assert.True(t, acc.Online(), "a server answer means the server is reachable")

	im.err = nil
	assert.True(t, acc.Probe(ctx))
}

func TestForcedOffline(t *testing.T) {
	acc, im, _ := newTestAccount(t)
	acc.forceOffline = true
	ctx := context.Background()

	assert.False(t, acc.Online())
	assert.False(t, acc.Probe(ctx))
	_, err := acc.Search(ctx, priming.SearchQuery{Folder: "INBOX"})
	assert.ErrorIs(t, err, ErrUnreachable)
	_, err = acc.ItemAction(ctx, optimistic.ActionRequest{Op: optimistic.OpRead, IDs: []string{"INBOX/1"}})
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Zero(t, im.connects)
	assert.Empty(t, im.stores)
}

func TestSearchAndGetMessage(t *testing.T) {
	acc, im, _ := newTestAccount(t)
	im.messages["INBOX"] = []*imap.Message{
		{Uid: 12, InternalDate: testNow, Envelope: &imap.Envelope{Subject: "new", From: []*imap.Address{address("Ann", "ann", "example.com")}}},
		{Uid: 11, InternalDate: testNow.Add(-time.Hour), Flags: []string{imap.SeenFlag}, Envelope: &imap.Envelope{Subject: "older"}},
		{Uid: 3, InternalDate: testNow.AddDate(0, -2, 0), Envelope: &imap.Envelope{Subject: "ancient"}},
	}
	im.raw["INBOX/12"] = []byte("Subject: new\r\nContent-Type: text/plain\r\n\r\nbody of twelve\r\n")

	result, err := acc.Search(context.Background(), priming.SearchQuery{
		Folder: "INBOX", Since: testNow.AddDate(0, 0, -30), Limit: 1,
	})
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "INBOX/12", result.Messages[0].ID)
	assert.Equal(t, "u", result.Messages[0].Flags)
	assert.True(t, result.More)

	item, err := acc.GetMessage(context.Background(), "INBOX/12")
	require.NoError(t, err)
	assert.Equal(t, "new", item.Subject)
	assert.Equal(t, "body of twelve", strings.TrimSpace(item.BodyText))
	assert.True(t, item.HasBody())

	_, err = acc.GetMessage(context.Background(), "INBOX/99")
	assert.Error(t, err)
	_, err = acc.GetMessage(context.Background(), "nope")
	assert.Error(t, err)
}

func TestGetContacts(t *testing.T) {
	acc, im, _ := newTestAccount(t)
	im.messages["Sent"] = []*imap.Message{
		{Uid: 1, InternalDate: testNow, Envelope: &imap.Envelope{
			From: []*imap.Address{address("", "me", "example.com")},
			To:   []*imap.Address{address("Ann Lee", "ann", "example.com")},
		}},
	}

	contacts, err := acc.GetContacts(context.Background(), "Sent")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "ann@example.com", contacts[0].Email)
	assert.Equal(t, "Sent", contacts[0].FolderID)
}

func TestSyncFolders(t *testing.T) {
	acc, im, _ := newTestAccount(t)
	im.mailboxes = []mailboxEntry{
		{Name: "INBOX", Delimiter: "/", Messages: 4, Unseen: 1},
		{Name: "Sent", Delimiter: "/"},
	}
	store, err := cache.NewStore(8, testLogger())
	require.NoError(t, err)

	require.NoError(t, acc.SyncFolders(context.Background(), store))

	inbox, ok := store.FindFolder(cache.FolderByName("inbox"))
	require.True(t, ok)
	assert.Equal(t, 1, inbox.Unread)
	assert.Equal(t, 4, inbox.NonFolderItemCount)
}

func TestGroupByFolder(t *testing.T) {
	groups, order, err := groupByFolder([]string{"B/1", "A/2", "B/3", "~9"})
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, order)
	assert.Equal(t, []uint32{1, 3}, groups["B"])

	_, _, err = groupByFolder([]string{"x"})
	assert.Error(t, err)
}
