package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/brandon/mailsync/pkg/types"
)

// SearchOptions contains offline search parameters
type SearchOptions struct {
	FolderID  *string
	Sender    *string
	Recipient *string
	Subject   *string
	Body      *string
	Flags     *string
	DateFrom  *time.Time
	DateTo    *time.Time
	Limit     int
}

// Search runs a query against the persisted items, newest first
func (p *Persister) Search(ctx context.Context, opts SearchOptions) ([]types.MailItem, error) {
	var conditions []string
	var args []any

	if opts.FolderID != nil {
		conditions = append(conditions, "folder_id = ?")
		args = append(args, *opts.FolderID)
	}

	if opts.Sender != nil {
		conditions = append(conditions, "(sender_email LIKE ? OR sender_name LIKE ?)")
		searchTerm := "%" + *opts.Sender + "%"
		args = append(args, searchTerm, searchTerm)
	}

	if opts.Recipient != nil {
		conditions = append(conditions, "recipients LIKE ?")
		args = append(args, "%"+*opts.Recipient+"%")
	}

	if opts.Subject != nil {
		conditions = append(conditions, "subject LIKE ?")
		args = append(args, "%"+*opts.Subject+"%")
	}

	if opts.Flags != nil {
		for _, code := range *opts.Flags {
			conditions = append(conditions, "instr(flags, ?) > 0")
			args = append(args, string(code))
		}
	}

	if opts.DateFrom != nil {
		conditions = append(conditions, "date >= ?")
		args = append(args, opts.DateFrom.UTC().Format(dateLayout))
	}

	if opts.DateTo != nil {
		conditions = append(conditions, "date <= ?")
		args = append(args, opts.DateTo.UTC().Format(dateLayout))
	}

	// Full-text search on body
	if opts.Body != nil {
		conditions = append(conditions, "id IN (SELECT rowid FROM items_fts WHERE items_fts MATCH ?)")
		args = append(args, ftsPhrase(*opts.Body))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	items, err := p.loadItems(ctx, fmt.Sprintf("%s ORDER BY date DESC LIMIT ?", where), append(args, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to search items: %w", err)
	}

	results := make([]types.MailItem, 0, len(items))
	for _, item := range items {
		if item.Excerpt == "" && item.BodyText != "" {
			item.Excerpt = excerpt(item.BodyText)
		}
		results = append(results, *item)
	}
	return results, nil
}

// ftsPhrase quotes the input as a single FTS5 phrase
func ftsPhrase(q string) string {
	return `"` + strings.ReplaceAll(q, `"`, `""`) + `"`
}

func excerpt(body string) string {
	if len(body) > 200 {
		return body[:200] + "..."
	}
	return body
}
