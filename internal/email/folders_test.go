package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/pkg/types"
)

func TestBuildFolderTree(t *testing.T) {
	tree := buildFolderTree([]mailboxEntry{
		{Name: "INBOX.Work", Delimiter: ".", Messages: 3, Unseen: 1},
		{Name: "INBOX", Delimiter: ".", Messages: 10, Unseen: 2},
		{Name: "Lists.Go", Delimiter: ".", Messages: 5},
		{Name: "Archive", Delimiter: "."},
	})

	require.Len(t, tree, 3)
	assert.Equal(t, "Archive", tree[0].ID)

	inbox := tree[1]
	assert.Equal(t, "INBOX", inbox.ID)
	assert.Equal(t, "/INBOX", inbox.AbsFolderPath)
	assert.Equal(t, 2, inbox.Unread)
	assert.Equal(t, 10, inbox.NonFolderItemCount)
	require.Len(t, inbox.Folders, 1)
	assert.Equal(t, types.Folder{
		ID: "INBOX.Work", Name: "Work", AbsFolderPath: "/INBOX/Work", Unread: 1, NonFolderItemCount: 3,
	}, inbox.Folders[0])

	lists := tree[2]
	assert.Equal(t, "Lists", lists.ID)
	assert.Zero(t, lists.NonFolderItemCount)
	require.Len(t, lists.Folders, 1)
	assert.Equal(t, "/Lists/Go", lists.Folders[0].AbsFolderPath)
}

func TestBuildFolderTreeWithoutDelimiter(t *testing.T) {
	tree := buildFolderTree([]mailboxEntry{{Name: "a/b"}})
	require.Len(t, tree, 1)
	assert.Equal(t, "a/b", tree[0].Name)
	assert.Empty(t, tree[0].Folders)
}

func TestContactsFromMessages(t *testing.T) {
	msgs := []types.MailItem{
		{
			From: []types.Address{{Address: "me@example.com"}},
			To:   []types.Address{{Address: "Ann@Example.com", Name: "Ann Marie Lee"}},
			Cc:   []types.Address{{Address: "bob@example.com"}},
		},
		{
			From: []types.Address{{Address: "me@example.com"}},
			To:   []types.Address{{Address: "ann@example.com"}},
			Cc:   []types.Address{{Address: "bob@example.com", Name: "Bob"}},
		},
	}

	contacts := contactsFromMessages("Sent", msgs, "Me@example.com")
	require.Len(t, contacts, 2)

	ann := contacts[0]
	assert.Equal(t, "ann@example.com", ann.ID)
	assert.Equal(t, "Sent", ann.FolderID)
	assert.Equal(t, "Ann Marie", ann.FirstName)
	assert.Equal(t, "Lee", ann.LastName)
	assert.Equal(t, "2", ann.Attributes["count"])

	bob := contacts[1]
	assert.Equal(t, "Bob", bob.FirstName, "name is filled in from a later message")
	assert.Equal(t, "2", bob.Attributes["count"])
}
