package email

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/config"
)

// ErrUnreachable wraps failures to reach or stay connected to a server
var ErrUnreachable = errors.New("email: server unreachable")

// mailboxEntry is one LISTed mailbox with its STATUS counters
type mailboxEntry struct {
	Name      string
	Delimiter string
	NoSelect  bool
	Messages  int
	Unseen    int
}

// IMAPClient wraps an IMAP client connection. The underlying connection
// handles one command at a time, so every call holds mu.
type IMAPClient struct {
	config *config.AccountConfig
	logger *logrus.Logger

	mu       sync.Mutex
	client   *client.Client
	selected string
	readOnly bool
}

// NewIMAPClient creates a new IMAP client (does not connect immediately)
func NewIMAPClient(cfg *config.AccountConfig, logger *logrus.Logger) *IMAPClient {
	if logger == nil {
		logger = logrus.New()
	}
	return &IMAPClient{config: cfg, logger: logger}
}

// Connect establishes a connection to the IMAP server
func (c *IMAPClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connect()
}

func (c *IMAPClient) connect() error {
	if c.client != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", c.config.IMAPHost, c.config.IMAPPort)

	cl, err := client.DialTLS(addr, &tls.Config{
		ServerName: c.config.IMAPHost,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if err := cl.Login(c.config.IMAPUsername, c.config.IMAPPassword); err != nil {
		c.logger.WithError(err).Error("Failed to login to IMAP server")
		cl.Logout() //nolint:errcheck
		return fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	c.client = cl
	c.selected = ""
	c.logger.WithField("account", c.config.Name).Info("Connected to IMAP server")
	return nil
}

// Close closes the IMAP connection
func (c *IMAPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Logout()
	c.client = nil
	c.selected = ""
	return err
}

// do connects if needed and runs fn with the lock held. A failure that left
// the connection logged out drops it so the next call redials.
func (c *IMAPClient) do(fn func(cl *client.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(); err != nil {
		return err
	}
	err := fn(c.client)
	if err != nil && c.client.State() == imap.LogoutState {
		c.logger.WithError(err).WithField("account", c.config.Name).Warn("IMAP connection lost")
		c.client = nil
		c.selected = ""
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return err
}

// selectMailbox selects name unless it is already selected with enough access
func (c *IMAPClient) selectMailbox(cl *client.Client, name string, readOnly bool) error {
	if c.selected == name && (!c.readOnly || readOnly) {
		return nil
	}
	if _, err := cl.Select(name, readOnly); err != nil {
		c.selected = ""
		return fmt.Errorf("failed to select folder %s: %w", name, err)
	}
	c.selected = name
	c.readOnly = readOnly
	return nil
}

// ListMailboxes lists every mailbox with its message and unseen counts
func (c *IMAPClient) ListMailboxes() ([]mailboxEntry, error) {
	var entries []mailboxEntry
	err := c.do(func(cl *client.Client) error {
		mailboxes := make(chan *imap.MailboxInfo, 10)
		done := make(chan error, 1)
		go func() {
			done <- cl.List("", "*", mailboxes)
		}()

		var infos []*imap.MailboxInfo
		for m := range mailboxes {
			infos = append(infos, m)
		}
		if err := <-done; err != nil {
			return fmt.Errorf("failed to list folders: %w", err)
		}

		for _, info := range infos {
			entry := mailboxEntry{Name: info.Name, Delimiter: info.Delimiter}
			for _, attr := range info.Attributes {
				if attr == imap.NoSelectAttr {
					entry.NoSelect = true
				}
			}
			if !entry.NoSelect {
				status, err := cl.Status(info.Name, []imap.StatusItem{imap.StatusMessages, imap.StatusUnseen})
				if err != nil {
					c.logger.WithError(err).WithField("folder", info.Name).Warn("Failed to get folder status")
				} else {
					entry.Messages = int(status.Messages)
					entry.Unseen = int(status.Unseen)
				}
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

var envelopeItems = []imap.FetchItem{
	imap.FetchEnvelope, imap.FetchFlags, imap.FetchInternalDate, imap.FetchUid, imap.FetchRFC822Size,
}

// SearchSince returns the envelopes of the newest messages of a folder
// received on or after since. more reports whether limit cut the list.
func (c *IMAPClient) SearchSince(folder string, since time.Time, limit int) (msgs []*imap.Message, more bool, err error) {
	err = c.do(func(cl *client.Client) error {
		if err := c.selectMailbox(cl, folder, true); err != nil {
			return err
		}

		criteria := imap.NewSearchCriteria()
		if !since.IsZero() {
			criteria.Since = since
		}
		uids, err := cl.UidSearch(criteria)
		if err != nil {
			return fmt.Errorf("failed to search emails: %w", err)
		}
		sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
		if limit > 0 && len(uids) > limit {
			uids = uids[:limit]
			more = true
		}
		if len(uids) == 0 {
			return nil
		}

		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uids...)
		msgs, err = fetch(cl, seqSet, envelopeItems)
		return err
	})
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Uid > msgs[j].Uid })
	return msgs, more, err
}

// FetchMessage fetches the envelope and raw content of one message without
// setting \Seen
func (c *IMAPClient) FetchMessage(folder string, uid uint32) (*imap.Message, []byte, error) {
	var (
		msg *imap.Message
		raw []byte
	)
	section := &imap.BodySectionName{Peek: true}
	err := c.do(func(cl *client.Client) error {
		if err := c.selectMailbox(cl, folder, true); err != nil {
			return err
		}
		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uid)
		msgs, err := fetch(cl, seqSet, append(envelopeItems, section.FetchItem()))
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return fmt.Errorf("message %s/%d not found", folder, uid)
		}
		msg = msgs[0]
		if literal := msg.GetBody(section); literal != nil {
			raw, err = io.ReadAll(literal)
			if err != nil {
				return fmt.Errorf("failed to read message body: %w", err)
			}
		}
		return nil
	})
	return msg, raw, err
}

func fetch(cl *client.Client, seqSet *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error) {
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- cl.UidFetch(seqSet, items, messages)
	}()

	var out []*imap.Message
	for msg := range messages {
		out = append(out, msg)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return out, nil
}

// StoreFlag adds or removes one IMAP flag on the given messages
func (c *IMAPClient) StoreFlag(folder string, uids []uint32, flag string, add bool) error {
	var op imap.FlagsOp = imap.RemoveFlags
	if add {
		op = imap.AddFlags
	}
	return c.do(func(cl *client.Client) error {
		if err := c.selectMailbox(cl, folder, false); err != nil {
			return err
		}
		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uids...)
		if err := cl.UidStore(seqSet, imap.FormatFlagsOp(op, true), []interface{}{flag}, nil); err != nil {
			return fmt.Errorf("failed to store flag %s: %w", flag, err)
		}
		return nil
	})
}

// Move moves messages to another mailbox and returns the UID each one was
// given there, keyed by its old UID. Messages without a Message-Id cannot be
// found again and are left out.
func (c *IMAPClient) Move(folder string, uids []uint32, dest string) (map[uint32]uint32, error) {
	moved := make(map[uint32]uint32, len(uids))
	err := c.do(func(cl *client.Client) error {
		if err := c.selectMailbox(cl, folder, false); err != nil {
			return err
		}
		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uids...)
		msgs, err := fetch(cl, seqSet, []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope})
		if err != nil {
			return err
		}
		if err := cl.UidMove(seqSet, dest); err != nil {
			return fmt.Errorf("failed to move messages to %s: %w", dest, err)
		}

		if err := c.selectMailbox(cl, dest, true); err != nil {
			return err
		}
		for _, msg := range msgs {
			if msg.Envelope == nil || msg.Envelope.MessageId == "" {
				continue
			}
			criteria := imap.NewSearchCriteria()
			criteria.Header.Add("Message-Id", msg.Envelope.MessageId)
			found, err := cl.UidSearch(criteria)
			if err != nil {
				return fmt.Errorf("failed to find moved message: %w", err)
			}
			for _, u := range found {
				if u > moved[msg.Uid] {
					moved[msg.Uid] = u
				}
			}
		}
		return nil
	})
	return moved, err
}

// Delete removes messages permanently
func (c *IMAPClient) Delete(folder string, uids []uint32) error {
	return c.do(func(cl *client.Client) error {
		if err := c.selectMailbox(cl, folder, false); err != nil {
			return err
		}
		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uids...)
		if err := cl.UidStore(seqSet, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.DeletedFlag}, nil); err != nil {
			return fmt.Errorf("failed to mark messages deleted: %w", err)
		}
		if err := cl.Expunge(nil); err != nil {
			return fmt.Errorf("failed to expunge: %w", err)
		}
		return nil
	})
}

// Append stores a raw message in folder and returns the UID the server gave
// it, found again through its Message-Id header
func (c *IMAPClient) Append(folder string, flags []string, date time.Time, raw []byte, messageID string) (uint32, error) {
	var uid uint32
	err := c.do(func(cl *client.Client) error {
		if err := cl.Append(folder, flags, date, bytes.NewBuffer(raw)); err != nil {
			return fmt.Errorf("failed to append to %s: %w", folder, err)
		}
		// APPEND does not change the selection but the mailbox has new content
		c.selected = ""
		if err := c.selectMailbox(cl, folder, true); err != nil {
			return err
		}
		criteria := imap.NewSearchCriteria()
		criteria.Header.Add("Message-Id", messageID)
		uids, err := cl.UidSearch(criteria)
		if err != nil {
			return fmt.Errorf("failed to find appended message: %w", err)
		}
		for _, u := range uids {
			if u > uid {
				uid = u
			}
		}
		if uid == 0 {
			return fmt.Errorf("appended message %s not found in %s", messageID, folder)
		}
		return nil
	})
	return uid, err
}
