package email

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/flags"
	"github.com/brandon/mailsync/internal/localid"
	"github.com/brandon/mailsync/internal/optimistic"
	"github.com/brandon/mailsync/internal/priming"
	"github.com/brandon/mailsync/pkg/types"
)

const (
	contactsWindow = 365 * 24 * time.Hour
	contactsLimit  = 500
)

// mailStore is the IMAP side of an account
type mailStore interface {
	Connect() error
	ListMailboxes() ([]mailboxEntry, error)
	SearchSince(folder string, since time.Time, limit int) ([]*imap.Message, bool, error)
	FetchMessage(folder string, uid uint32) (*imap.Message, []byte, error)
	StoreFlag(folder string, uids []uint32, flag string, add bool) error
	Move(folder string, uids []uint32, dest string) (map[uint32]uint32, error)
	Delete(folder string, uids []uint32) error
	Append(folder string, flags []string, date time.Time, raw []byte, messageID string) (uint32, error)
	Close() error
}

// mailSender is the SMTP side of an account
type mailSender interface {
	Send(recipients []string, raw []byte) error
}

// Account is one mailbox on a server. It reads for the cache priming
// pipeline and carries the optimistic engine's mutations.
type Account struct {
	Config  *config.AccountConfig
	Folders config.FolderNames

	imap   mailStore
	smtp   mailSender
	logger *logrus.Logger
	now    func() time.Time

	conn         *optimistic.Switch
	forceOffline bool
}

var (
	_ optimistic.Transport    = (*Account)(nil)
	_ optimistic.Connectivity = (*Account)(nil)
	_ priming.Fetcher         = (*Account)(nil)
)

// NewAccount creates an account. It assumes the server is reachable until a
// call proves otherwise.
func NewAccount(cfg *config.AccountConfig, folders config.FolderNames, offline bool, logger *logrus.Logger) *Account {
	if logger == nil {
		logger = logrus.New()
	}
	return &Account{
		Config:       cfg,
		Folders:      folders,
		imap:         NewIMAPClient(cfg, logger),
		smtp:         NewSMTPClient(cfg, logger),
		logger:       logger,
		now:          time.Now,
		conn:         optimistic.NewSwitch(!offline),
		forceOffline: offline,
	}
}

// Name returns the account name
func (a *Account) Name() string {
	return a.Config.Name
}

// Online reports whether the last server call got through
func (a *Account) Online() bool {
	return !a.forceOffline && a.conn.Online()
}

// Probe connects to the IMAP server and updates Online
func (a *Account) Probe(ctx context.Context) bool {
	if err := a.begin(ctx); err != nil {
		return false
	}
	a.observe(a.imap.Connect()) //nolint:errcheck
	return a.Online()
}

// begin refuses calls when the context is done or the account is pinned offline
func (a *Account) begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.forceOffline {
		return fmt.Errorf("%w: offline mode", ErrUnreachable)
	}
	return nil
}

// observe records whether err says the server could not be reached
func (a *Account) observe(err error) error {
	online := !errors.Is(err, ErrUnreachable)
	if a.conn.Online() != online {
		entry := a.logger.WithField("account", a.Config.Name)
		if online {
			entry.Info("Mail server reachable again")
		} else {
			entry.WithError(err).Warn("Mail server unreachable, working offline")
		}
	}
	a.conn.Set(online)
	return err
}

// ListFolders returns the folder tree with unread and total counts
func (a *Account) ListFolders(ctx context.Context) ([]types.Folder, error) {
	if err := a.begin(ctx); err != nil {
		return nil, err
	}
	entries, err := a.imap.ListMailboxes()
	if a.observe(err) != nil {
		return nil, err
	}
	return buildFolderTree(entries), nil
}

// SyncFolders replaces the store's folder tree with the server's
func (a *Account) SyncFolders(ctx context.Context, store *cache.Store) error {
	folders, err := a.ListFolders(ctx)
	if err != nil {
		return fmt.Errorf("failed to list folders: %w", err)
	}
	store.WriteFolders(folders)
	a.logger.WithFields(logrus.Fields{
		"account": a.Config.Name,
		"folders": len(folders),
	}).Info("Synced folder tree")
	return nil
}

// Search lists the newest messages of a folder, headers only
func (a *Account) Search(ctx context.Context, q priming.SearchQuery) (*types.SearchResult, error) {
	if err := a.begin(ctx); err != nil {
		return nil, err
	}
	msgs, more, err := a.imap.SearchSince(q.Folder, q.Since, q.Limit)
	if a.observe(err) != nil {
		return nil, err
	}

	result := &types.SearchResult{SortBy: "dateDesc", More: more}
	for _, msg := range msgs {
		result.Messages = append(result.Messages, itemFromIMAP(q.Folder, msg))
	}
	return result, nil
}

// GetMessage fetches one message with its body and attachment list
func (a *Account) GetMessage(ctx context.Context, id string) (*types.MailItem, error) {
	folder, uid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	if err := a.begin(ctx); err != nil {
		return nil, err
	}
	msg, raw, err := a.imap.FetchMessage(folder, uid)
	if a.observe(err) != nil {
		return nil, err
	}

	item := itemFromIMAP(folder, msg)
	if err := applyBody(&item, raw); err != nil {
		a.logger.WithError(err).WithField("id", id).Debug("Failed to parse with enmime, using raw body")
		item.BodyText = string(raw)
		item.Excerpt = excerpt(item.BodyText)
	}
	return &item, nil
}

// GetContacts derives contacts from the recent correspondents of folder
func (a *Account) GetContacts(ctx context.Context, folder string) ([]types.Contact, error) {
	result, err := a.Search(ctx, priming.SearchQuery{
		Folder: folder,
		Since:  a.now().Add(-contactsWindow),
		Limit:  contactsLimit,
	})
	if err != nil {
		return nil, err
	}
	return contactsFromMessages(folder, result.Messages, a.selfAddress()), nil
}

func (a *Account) selfAddress() string {
	from := a.Config.FromAddress()
	if addr, err := mail.ParseAddress(from); err == nil {
		return addr.Address
	}
	return from
}

// ItemAction carries a flag change, move or delete to the server. Moved
// messages get new UIDs in their new folder; their new ids are returned
// keyed by the old ones.
func (a *Account) ItemAction(ctx context.Context, req optimistic.ActionRequest) (map[string]string, error) {
	groups, order, err := groupByFolder(req.IDs)
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return nil, nil
	}
	if err := a.begin(ctx); err != nil {
		return nil, err
	}

	renamed := make(map[string]string)

	var apply func(folder string, uids []uint32) error
	switch req.Op {
	case optimistic.OpMove, optimistic.OpTrash, optimistic.OpSpam, optimistic.OpUnspam,
		optimistic.OpArchive, optimistic.OpUnarchive:
		dest := req.FolderID
		if dest == "" {
			dest = req.FolderName
		}
		if dest == "" {
			return nil, fmt.Errorf("%s: no destination folder", req.Op)
		}
		apply = func(folder string, uids []uint32) error {
			if folder == dest {
				return nil
			}
			moved, err := a.imap.Move(folder, uids, dest)
			for oldUID, newUID := range moved {
				renamed[FormatID(folder, oldUID)] = FormatID(dest, newUID)
			}
			return err
		}
	case optimistic.OpDelete:
		apply = a.imap.Delete
	default:
		flag, add, ok := storeFlag(req.Op)
		if !ok {
			return nil, fmt.Errorf("unsupported action %q", req.Op)
		}
		apply = func(folder string, uids []uint32) error {
			return a.imap.StoreFlag(folder, uids, flag, add)
		}
	}

	for _, folder := range order {
		if err := ctx.Err(); err != nil {
			return renamed, err
		}
		if err := a.observe(apply(folder, groups[folder])); err != nil {
			return renamed, err
		}
	}
	return renamed, nil
}

// SaveDraft appends the draft to the drafts folder and removes the copy it
// replaces
func (a *Account) SaveDraft(ctx context.Context, draft *types.MailItem) (*types.MailItem, error) {
	if err := a.begin(ctx); err != nil {
		return nil, err
	}

	date := a.now()
	messageID := newMessageID(a.Config.FromAddress())
	raw, err := composeMessage(a.Config.FromAddress(), draft, messageID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to compose draft: %w", err)
	}

	uid, err := a.imap.Append(a.Folders.Drafts, []string{imap.DraftFlag, imap.SeenFlag}, date, raw, messageID)
	if a.observe(err) != nil {
		return nil, err
	}
	a.removeServerDraft(draft.ID)

	saved := draft.Clone()
	saved.ID = FormatID(a.Folders.Drafts, uid)
	saved.FolderID = a.Folders.Drafts
	saved.Date = date
	saved.Flags = flags.Add(flags.Remove(saved.Flags, flags.Unread), flags.Draft)
	return saved, nil
}

// SendMessage submits over SMTP and files a copy in the sent folder. A failed
// copy does not fail the send; the result then keeps the caller's id.
func (a *Account) SendMessage(ctx context.Context, msg *types.MailItem) (*types.MailItem, error) {
	rcpts := recipients(msg)
	if len(rcpts) == 0 {
		return nil, fmt.Errorf("message has no recipients")
	}
	if err := a.begin(ctx); err != nil {
		return nil, err
	}

	date := a.now()
	from := a.Config.FromAddress()
	messageID := newMessageID(from)
	raw, err := composeMessage(from, msg, messageID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to compose message: %w", err)
	}
	if err := a.observe(a.smtp.Send(rcpts, raw)); err != nil {
		return nil, fmt.Errorf("failed to send email: %w", err)
	}

	sent := msg.Clone()
	sent.FolderID = a.Folders.Sent
	sent.Date = date
	sent.Flags = flags.Add(flags.Remove(flags.Remove(sent.Flags, flags.Unread), flags.Draft), flags.SentByMe)

	uid, err := a.imap.Append(a.Folders.Sent, []string{imap.SeenFlag}, date, raw, messageID)
	if a.observe(err) != nil {
		a.logger.WithError(err).WithField("account", a.Config.Name).Warn("Sent message but failed to file a copy")
	} else {
		sent.ID = FormatID(a.Folders.Sent, uid)
	}
	a.removeServerDraft(msg.ID)

	a.logger.WithFields(logrus.Fields{
		"account":    a.Config.Name,
		"recipients": len(rcpts),
		"id":         sent.ID,
	}).Info("Email sent")
	return sent, nil
}

// removeServerDraft deletes the drafts folder copy behind id, if any
func (a *Account) removeServerDraft(id string) {
	if id == "" || localid.IsLocalOnly(id) {
		return
	}
	folder, uid, err := ParseID(id)
	if err != nil || folder != a.Folders.Drafts {
		return
	}
	if err := a.observe(a.imap.Delete(folder, []uint32{uid})); err != nil {
		a.logger.WithError(err).WithField("id", id).Warn("Failed to remove replaced draft")
	}
}

// Close closes the IMAP connection
func (a *Account) Close() error {
	return a.imap.Close()
}

// groupByFolder splits message ids by mailbox, in first-seen order. Local-only
// ids have nothing on the server and are skipped.
func groupByFolder(ids []string) (map[string][]uint32, []string, error) {
	groups := make(map[string][]uint32)
	var order []string
	for _, id := range ids {
		if localid.IsLocalOnly(id) {
			continue
		}
		folder, uid, err := ParseID(id)
		if err != nil {
			return nil, nil, err
		}
		if _, ok := groups[folder]; !ok {
			order = append(order, folder)
		}
		groups[folder] = append(groups[folder], uid)
	}
	return groups, order, nil
}
