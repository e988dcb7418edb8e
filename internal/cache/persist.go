package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/pkg/types"
)

// ErrNotFound is returned when a persisted record does not exist
var ErrNotFound = errors.New("cache: not found")

const dateLayout = time.RFC3339Nano

// Persister mirrors a Store into the offline database
type Persister struct {
	db      *DB
	maxSize int64
	logger  *logrus.Logger
}

// NewPersister creates a persister whose storage quota is maxSize bytes
func NewPersister(db *DB, maxSize int64, logger *logrus.Logger) *Persister {
	return &Persister{
		db:      db,
		maxSize: maxSize,
		logger:  logger,
	}
}

// CurrentUsedSize returns the bytes used by the offline database
func (p *Persister) CurrentUsedSize(ctx context.Context) (int64, error) {
	return p.db.UsedBytes(ctx)
}

// MaxSize returns the configured storage quota in bytes
func (p *Persister) MaxSize() int64 {
	return p.maxSize
}

// Flush writes everything that changed in store since the last flush. On
// failure the change set is handed back to the store so the next flush
// retries it.
func (p *Persister) Flush(ctx context.Context, store *Store) error {
	dirty := store.DrainDirty()
	if dirty.Empty() {
		return nil
	}
	if err := p.flush(ctx, store, dirty); err != nil {
		store.MarkDirty(dirty)
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"items":    len(dirty.Items),
		"removed":  len(dirty.RemovedItems),
		"entries":  len(dirty.Entries),
		"contacts": len(dirty.Contacts),
		"folders":  dirty.Folders,
	}).Debug("Flushed cache to disk")
	return nil
}

func (p *Persister) flush(ctx context.Context, store *Store, dirty *Dirty) error {
	tx, err := p.db.SQL().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for id := range dirty.RemovedItems {
		if _, err := tx.ExecContext(ctx, "DELETE FROM items WHERE item_id = ?", id); err != nil {
			return fmt.Errorf("failed to delete item %s: %w", id, err)
		}
	}
	for id := range dirty.Items {
		item, ok := store.ReadItem(id)
		if !ok {
			continue
		}
		if detail, ok := store.ReadDetail(id); ok {
			item.BodyText, item.BodyHTML = detail.BodyText, detail.BodyHTML
		}
		if err := upsertItem(ctx, tx, item); err != nil {
			return err
		}
	}
	for key := range dirty.RemovedEntries {
		if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE key = ?", key); err != nil {
			return fmt.Errorf("failed to delete entry: %w", err)
		}
	}
	for key := range dirty.Entries {
		entry, ok := store.ReadEntryByKey(key)
		if !ok {
			continue
		}
		if err := upsertEntry(ctx, tx, key, entry); err != nil {
			return err
		}
	}
	for id := range dirty.Contacts {
		c, ok := store.Contact(id)
		if !ok {
			continue
		}
		if err := upsertContact(ctx, tx, c); err != nil {
			return err
		}
	}
	if dirty.Folders {
		payload, err := json.Marshal(store.Folders())
		if err != nil {
			return fmt.Errorf("failed to marshal folders: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO folders (id, payload, updated_at) VALUES (1, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = CURRENT_TIMESTAMP
		`, string(payload))
		if err != nil {
			return fmt.Errorf("failed to upsert folders: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit flush: %w", err)
	}
	return nil
}

func upsertItem(ctx context.Context, tx *sql.Tx, item *types.MailItem) error {
	record := item.Clone()
	record.BodyText, record.BodyHTML = "", ""
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	var senderName, senderEmail string
	if len(item.From) > 0 {
		senderName, senderEmail = item.From[0].Name, item.From[0].Address
	}

	query := `
		INSERT INTO items (item_id, kind, folder_id, flags, date, subject, sender_name, sender_email, recipients, excerpt, body_text, body_html, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			kind = excluded.kind,
			folder_id = excluded.folder_id,
			flags = excluded.flags,
			date = excluded.date,
			subject = excluded.subject,
			sender_name = excluded.sender_name,
			sender_email = excluded.sender_email,
			recipients = excluded.recipients,
			excerpt = excluded.excerpt,
			body_text = CASE WHEN excluded.body_text != '' THEN excluded.body_text ELSE items.body_text END,
			body_html = CASE WHEN excluded.body_html != '' THEN excluded.body_html ELSE items.body_html END,
			payload = excluded.payload,
			cached_at = CURRENT_TIMESTAMP
	`
	_, err = tx.ExecContext(ctx, query,
		item.ID,
		string(item.Kind),
		item.FolderID,
		item.Flags,
		item.Date.UTC().Format(dateLayout),
		item.Subject,
		senderName,
		senderEmail,
		joinAddresses(item.To, item.Cc, item.Bcc),
		item.Excerpt,
		item.BodyText,
		item.BodyHTML,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", item.ID, err)
	}
	return nil
}

func upsertEntry(ctx context.Context, tx *sql.Tx, key string, entry *types.SearchResult) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	operation := key
	if q, ok := ParseKey(key); ok {
		operation = q.Operation
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (key, operation, payload, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = CURRENT_TIMESTAMP
	`, key, operation, string(payload))
	if err != nil {
		return fmt.Errorf("failed to upsert entry: %w", err)
	}
	return nil
}

func upsertContact(ctx context.Context, tx *sql.Tx, c types.Contact) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal contact: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO contacts (id, folder_id, email, payload) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			folder_id = excluded.folder_id,
			email = excluded.email,
			payload = excluded.payload
	`, c.ID, c.FolderID, c.Email, string(payload))
	if err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}
	return nil
}

func joinAddresses(lists ...[]types.Address) string {
	var parts []string
	for _, list := range lists {
		for _, a := range list {
			parts = append(parts, a.Address)
		}
	}
	return strings.Join(parts, ", ")
}

// Restore loads everything persisted into store. Restored state is not
// considered dirty.
func (p *Persister) Restore(ctx context.Context, store *Store) error {
	if err := p.restoreFolders(ctx, store); err != nil {
		return err
	}

	rows, err := p.db.SQL().QueryContext(ctx, "SELECT key, payload FROM entries")
	if err != nil {
		return fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()
	entries := 0
	for rows.Next() {
		var key, payload string
		if err := rows.Scan(&key, &payload); err != nil {
			return fmt.Errorf("failed to scan entry: %w", err)
		}
		var result types.SearchResult
		if err := json.Unmarshal([]byte(payload), &result); err != nil {
			p.logger.WithError(err).WithField("key", key).Warn("Skipping unreadable cache entry")
			continue
		}
		store.WriteEntryByKey(key, &result)
		entries++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read entries: %w", err)
	}

	items, err := p.loadItems(ctx, "", nil)
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.HasBody() {
			store.WriteDetail(item)
		} else {
			store.WriteItem(item)
		}
	}

	contacts, err := p.loadContacts(ctx)
	if err != nil {
		return err
	}
	store.WriteContacts(contacts)
	store.DrainDirty()

	used, err := p.CurrentUsedSize(ctx)
	if err == nil {
		p.logger.WithFields(logrus.Fields{
			"entries":  entries,
			"items":    len(items),
			"contacts": len(contacts),
			"size":     humanize.Bytes(uint64(used)),
		}).Info("Restored offline cache")
	}
	return nil
}

func (p *Persister) restoreFolders(ctx context.Context, store *Store) error {
	var payload string
	err := p.db.SQL().QueryRowContext(ctx, "SELECT payload FROM folders WHERE id = 1").Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load folders: %w", err)
	}
	var folders []types.Folder
	if err := json.Unmarshal([]byte(payload), &folders); err != nil {
		return fmt.Errorf("failed to unmarshal folders: %w", err)
	}
	store.WriteFolders(folders)
	return nil
}

// LoadItem reads a single persisted item, including its body
func (p *Persister) LoadItem(ctx context.Context, id string) (*types.MailItem, error) {
	items, err := p.loadItems(ctx, "WHERE item_id = ?", []any{id})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return items[0], nil
}

func (p *Persister) loadItems(ctx context.Context, where string, args []any) ([]*types.MailItem, error) {
	query := "SELECT payload, body_text, body_html FROM items " + where
	rows, err := p.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []*types.MailItem
	for rows.Next() {
		var payload string
		var bodyText, bodyHTML sql.NullString
		if err := rows.Scan(&payload, &bodyText, &bodyHTML); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		var item types.MailItem
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			p.logger.WithError(err).Warn("Skipping unreadable item")
			continue
		}
		item.BodyText = bodyText.String
		item.BodyHTML = bodyHTML.String
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read items: %w", err)
	}
	return items, nil
}

func (p *Persister) loadContacts(ctx context.Context) ([]types.Contact, error) {
	rows, err := p.db.SQL().QueryContext(ctx, "SELECT payload FROM contacts")
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()

	var contacts []types.Contact
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		var c types.Contact
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			continue
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
