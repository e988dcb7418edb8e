package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/pkg/types"
)

func newTestPersister(t *testing.T) *Persister {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "offline.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPersister(db, 1<<20, testLogger())
}

func TestFlushAndRestore(t *testing.T) {
	ctx := context.Background()
	p := newTestPersister(t)
	s := newTestStore(t)

	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := types.MailItem{
		ID: "42", Kind: types.KindMessage, FolderID: "2", Flags: "u", Date: date,
		Subject: "Quarterly report",
		From:    []types.Address{{Address: "alice@example.com", Name: "Alice", Type: types.AddressFrom}},
	}
	s.WriteFolders(folderTree())
	s.WriteItem(&msg)
	detail := msg
	detail.BodyText = "numbers attached"
	s.WriteDetail(&detail)
	key := FolderViewKey("Inbox", types.ResultMessages).String()
	s.WriteEntryByKey(key, &types.SearchResult{Messages: []types.MailItem{msg}, More: true})
	s.WriteContacts([]types.Contact{{ID: "c1", FolderID: "7", Email: "bob@example.com"}})

	require.NoError(t, p.Flush(ctx, s))

	restored := newTestStore(t)
	require.NoError(t, p.Restore(ctx, restored))

	item, ok := restored.ReadItem("42")
	require.True(t, ok)
	assert.Equal(t, "u", item.Flags)
	assert.True(t, item.Date.Equal(date))
	d, ok := restored.ReadDetail("42")
	require.True(t, ok)
	assert.Equal(t, "numbers attached", d.BodyText)

	entry, ok := restored.ReadEntryByKey(key)
	require.True(t, ok)
	assert.True(t, entry.More)
	assert.Equal(t, []string{key}, restored.KeysForFolder("Inbox"))

	f, ok := restored.FindFolder(FolderByName("Inbox"))
	require.True(t, ok)
	assert.Equal(t, 10, f.Unread)

	c, ok := restored.Contact("c1")
	require.True(t, ok)
	assert.Equal(t, "bob@example.com", c.Email)
	assert.True(t, restored.DrainDirty().Empty())
}

func TestFlushRemovesRemappedItems(t *testing.T) {
	ctx := context.Background()
	p := newTestPersister(t)
	s := newTestStore(t)

	draft := types.MailItem{ID: "~1690000000000", Kind: types.KindMessage, FolderID: "6", Flags: "sd"}
	s.WriteItem(&draft)
	require.NoError(t, p.Flush(ctx, s))

	s.RemapID(draft.ID, "12345")
	require.NoError(t, p.Flush(ctx, s))

	_, err := p.LoadItem(ctx, draft.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	item, err := p.LoadItem(ctx, "12345")
	require.NoError(t, err)
	assert.Equal(t, "sd", item.Flags)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	p := newTestPersister(t)
	s := newTestStore(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, subject := range []string{"lunch plans", "invoice overdue", "weekly sync"} {
		item := types.MailItem{
			ID: string(rune('a' + i)), Kind: types.KindMessage, FolderID: "2",
			Subject: subject, Date: base.Add(time.Duration(i) * time.Hour),
			From:     []types.Address{{Address: "team@example.com"}},
			BodyText: "body of " + subject,
		}
		if i == 1 {
			item.Flags = "uf"
		}
		s.WriteDetail(&item)
	}
	require.NoError(t, p.Flush(ctx, s))

	subject := "invoice"
	got, err := p.Search(ctx, SearchOptions{Subject: &subject})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)

	body := "weekly"
	got, err = p.Search(ctx, SearchOptions{Body: &body})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID)

	flagged := "f"
	got, err = p.Search(ctx, SearchOptions{Flags: &flagged})
	require.NoError(t, err)
	require.Len(t, got, 1)

	folder := "2"
	got, err = p.Search(ctx, SearchOptions{FolderID: &folder, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
}

func TestQuotaReporting(t *testing.T) {
	p := newTestPersister(t)
	used, err := p.CurrentUsedSize(context.Background())
	require.NoError(t, err)
	assert.Greater(t, used, int64(0))
	assert.Equal(t, int64(1<<20), p.MaxSize())
}
