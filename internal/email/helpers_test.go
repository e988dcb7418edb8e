package email

import (
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/optimistic"
)

type storeCall struct {
	Folder string
	UIDs   []uint32
	Flag   string
	Add    bool
}

type moveCall struct {
	Folder string
	UIDs   []uint32
	Dest   string
}

type appendCall struct {
	Folder    string
	Flags     []string
	Raw       []byte
	MessageID string
}

// fakeIMAP records calls instead of talking to a server
type fakeIMAP struct {
	mu sync.Mutex

	err       error
	mailboxes []mailboxEntry
	messages  map[string][]*imap.Message
	raw       map[string][]byte
	nextUID   uint32

	connects int
	stores   []storeCall
	moves    []moveCall
	deletes  []moveCall
	appends  []appendCall
}

func newFakeIMAP() *fakeIMAP {
	return &fakeIMAP{
		messages: make(map[string][]*imap.Message),
		raw:      make(map[string][]byte),
		nextUID:  77,
	}
}

func (f *fakeIMAP) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.err
}

func (f *fakeIMAP) ListMailboxes() ([]mailboxEntry, error) {
	return f.mailboxes, f.err
}

func (f *fakeIMAP) SearchSince(folder string, since time.Time, limit int) ([]*imap.Message, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	var out []*imap.Message
	for _, m := range f.messages[folder] {
		if !since.IsZero() && m.InternalDate.Before(since) {
			continue
		}
		out = append(out, m)
	}
	more := false
	if limit > 0 && len(out) > limit {
		out, more = out[:limit], true
	}
	return out, more, nil
}

func (f *fakeIMAP) FetchMessage(folder string, uid uint32) (*imap.Message, []byte, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	for _, m := range f.messages[folder] {
		if m.Uid == uid {
			return m, f.raw[FormatID(folder, uid)], nil
		}
	}
	return nil, nil, fmt.Errorf("message %s/%d not found", folder, uid)
}

func (f *fakeIMAP) StoreFlag(folder string, uids []uint32, flag string, add bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores = append(f.stores, storeCall{folder, uids, flag, add})
	return f.err
}

// Move gives each moved message the next free UID of dest
func (f *fakeIMAP) Move(folder string, uids []uint32, dest string) (map[uint32]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, moveCall{folder, uids, dest})
	if f.err != nil {
		return nil, f.err
	}
	moved := make(map[uint32]uint32, len(uids))
	for _, uid := range uids {
		moved[uid] = f.nextUID
		f.nextUID++
	}
	return moved, nil
}

func (f *fakeIMAP) Delete(folder string, uids []uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, moveCall{Folder: folder, UIDs: uids})
	return f.err
}

func (f *fakeIMAP) Append(folder string, flags []string, date time.Time, raw []byte, messageID string) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.appends = append(f.appends, appendCall{folder, flags, raw, messageID})
	uid := f.nextUID
	f.nextUID++
	return uid, nil
}

func (f *fakeIMAP) Close() error { return nil }

type fakeSMTP struct {
	err        error
	recipients []string
	raw        []byte
}

func (f *fakeSMTP) Send(recipients []string, raw []byte) error {
	if f.err != nil {
		return f.err
	}
	f.recipients = recipients
	f.raw = raw
	return nil
}

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestAccount(t *testing.T) (*Account, *fakeIMAP, *fakeSMTP) {
	t.Helper()
	im, sm := newFakeIMAP(), &fakeSMTP{}
	acc := &Account{
		Config: &config.AccountConfig{Name: "test", SMTPUsername: "me@example.com"},
		Folders: config.FolderNames{
			Inbox: "INBOX", Trash: "Trash", Spam: "Junk", Archive: "Archive",
			Outbox: "Outbox", Drafts: "Drafts", Sent: "Sent",
		},
		imap:   im,
		smtp:   sm,
		logger: testLogger(),
		now:    func() time.Time { return testNow },
		conn:   optimistic.NewSwitch(true),
	}
	return acc, im, sm
}

func address(name, mailbox, host string) *imap.Address {
	return &imap.Address{PersonalName: name, MailboxName: mailbox, HostName: host}
}
