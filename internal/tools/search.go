package tools

import (
	"context"
	"fmt"

	"github.com/brandon/mailsync/internal/cache"
)

// SearchEmailsTool searches the offline cache
type SearchEmailsTool struct {
	deps *Deps
}

// NewSearchEmailsTool creates a new search emails tool
func NewSearchEmailsTool(deps *Deps) *SearchEmailsTool {
	return &SearchEmailsTool{deps: deps}
}

// Name returns the tool name
func (t *SearchEmailsTool) Name() string {
	return "search_emails"
}

// Description returns the tool description
func (t *SearchEmailsTool) Description() string {
	return "Search cached emails with flexible filters (folder, sender, recipient, subject, body, flags, date range). Works offline."
}

// InputSchema returns the JSON schema for tool inputs
func (t *SearchEmailsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"folder": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Folder name, path or id",
			},
			"sender": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Filter by sender email/name",
			},
			"recipient": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Filter by recipient email",
			},
			"subject": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Filter by subject (substring match)",
			},
			"body": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Filter by body content (full-text search)",
			},
			"flags": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Flag codes that must all be set, e.g. \"u\" for unread, \"f\" for flagged",
			},
			"date_from": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Start date (ISO 8601 format)",
			},
			"date_to": map[string]interface{}{
				"type":        "string",
				"description": "Optional: End date (ISO 8601 format)",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Optional: Result limit (default: 100, max: 1000)",
				"minimum":     1,
				"maximum":     1000,
			},
		},
	}
}

// Execute executes the tool
func (t *SearchEmailsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	opts := cache.SearchOptions{}

	if folder := stringParam(params, "folder"); folder != "" {
		id := folder
		if f, ok := t.deps.Store.FindFolder(cache.FolderByName(folder)); ok {
			id = f.ID
		}
		opts.FolderID = &id
	}
	for key, dst := range map[string]**string{
		"sender":    &opts.Sender,
		"recipient": &opts.Recipient,
		"subject":   &opts.Subject,
		"body":      &opts.Body,
		"flags":     &opts.Flags,
	} {
		if v := stringParam(params, key); v != "" {
			*dst = &v
		}
	}

	var err error
	if opts.DateFrom, err = timeParam(params, "date_from"); err != nil {
		return nil, err
	}
	if opts.DateTo, err = timeParam(params, "date_to"); err != nil {
		return nil, err
	}

	limit, ok, err := intParam(params, "limit")
	if err != nil {
		return nil, err
	}
	if !ok {
		limit = t.deps.Config.SearchResultLimit
	}
	opts.Limit = limit

	// Optimistic writes live in memory until flushed
	if err := t.deps.Persister.Flush(ctx, t.deps.Store); err != nil {
		t.deps.Logger.WithError(err).Warn("Failed to flush cache before search")
	}

	results, err := t.deps.Persister.Search(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}

	emailList := make([]map[string]interface{}, len(results))
	for i := range results {
		emailList[i] = itemSummary(&results[i])
	}
	return emailList, nil
}
