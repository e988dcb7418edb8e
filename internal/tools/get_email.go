package tools

import (
	"context"
	"fmt"

	"github.com/brandon/mailsync/pkg/types"
)

// GetEmailTool retrieves a full email by ID
type GetEmailTool struct {
	deps *Deps
}

// NewGetEmailTool creates a new get email tool
func NewGetEmailTool(deps *Deps) *GetEmailTool {
	return &GetEmailTool{deps: deps}
}

// Name returns the tool name
func (t *GetEmailTool) Name() string {
	return "get_email"
}

// Description returns the tool description
func (t *GetEmailTool) Description() string {
	return "Retrieve full email by ID from cache or the server"
}

// InputSchema returns the JSON schema for tool inputs
func (t *GetEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"email_id": map[string]interface{}{
				"type":        "string",
				"description": "Email ID (from search results)",
			},
		},
		"required": []string{"email_id"},
	}
}

// Execute executes the tool
func (t *GetEmailTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id := stringParam(params, "email_id")
	if id == "" {
		return nil, fmt.Errorf("email_id is required")
	}
	id = t.deps.Engine.CanonicalID(id)

	if detail, ok := t.deps.Store.ReadDetail(id); ok && detail.HasBody() {
		return t.current(detail), nil
	}

	// Bodies evicted from memory are still on disk
	if t.deps.Persister != nil {
		if stored, err := t.deps.Persister.LoadItem(ctx, id); err == nil && stored.HasBody() {
			t.deps.Store.WriteDetail(stored)
			return t.current(stored), nil
		}
	}

	header, cached := t.deps.Store.ReadItem(id)

	if t.deps.Fetcher != nil {
		t.deps.Logger.WithField("email_id", id).Info("Email body not cached, fetching from server")
		fetched, err := t.deps.Fetcher.GetMessage(ctx, id)
		if err == nil {
			t.deps.Store.WriteDetail(fetched)
			return t.current(fetched), nil
		}
		if !cached {
			return nil, fmt.Errorf("failed to get email: %w", err)
		}
		t.deps.Logger.WithError(err).WithField("email_id", id).Warn("Could not fetch email body, returning cached header")
	}

	if !cached {
		return nil, fmt.Errorf("email not found: %s", id)
	}
	return withoutBody(header), nil
}

// current overlays the cached record, which carries optimistic flag and
// folder changes the stored body predates
func (t *GetEmailTool) current(detail *types.MailItem) *types.MailItem {
	if record, ok := t.deps.Store.ReadItem(detail.ID); ok {
		detail.Flags = record.Flags
		detail.FolderID = record.FolderID
	}
	return detail
}

// withoutBody marks a header-only answer so callers know the body is missing
func withoutBody(item *types.MailItem) map[string]interface{} {
	out := itemSummary(item)
	out["to"] = item.To
	out["cc"] = item.Cc
	out["body_cached"] = false
	return out
}
