package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/brandon/mailsync/internal/optimistic"
	"github.com/brandon/mailsync/pkg/types"
)

// waitTimeout bounds how long a tool waits for the server when asked to
const waitTimeout = 30 * time.Second

func messageSchema(extra map[string]interface{}) map[string]interface{} {
	props := map[string]interface{}{
		"to": map[string]interface{}{
			"type":        "string",
			"description": "Recipient email address(es) (comma-separated)",
		},
		"cc": map[string]interface{}{
			"type":        "string",
			"description": "Optional: CC recipients (comma-separated)",
		},
		"bcc": map[string]interface{}{
			"type":        "string",
			"description": "Optional: BCC recipients (comma-separated)",
		},
		"subject": map[string]interface{}{
			"type":        "string",
			"description": "Email subject",
		},
		"body_text": map[string]interface{}{
			"type":        "string",
			"description": "Optional: Plain text body",
		},
		"body_html": map[string]interface{}{
			"type":        "string",
			"description": "Optional: HTML body",
		},
		"wait": map[string]interface{}{
			"type":        "boolean",
			"description": "Optional: Wait for the server to confirm before returning",
		},
	}
	for k, v := range extra {
		props[k] = v
	}
	return props
}

// messageFromParams builds the message or draft described by params
func messageFromParams(params map[string]interface{}) *types.MailItem {
	return &types.MailItem{
		Kind:     types.KindMessage,
		To:       addressParam(params, "to", types.AddressTo),
		Cc:       addressParam(params, "cc", types.AddressCc),
		Bcc:      addressParam(params, "bcc", types.AddressBcc),
		Subject:  stringParam(params, "subject"),
		BodyText: stringParam(params, "body_text"),
		BodyHTML: stringParam(params, "body_html"),
	}
}

// settle waits for p when the caller asked to
func settle(ctx context.Context, params map[string]interface{}, p *optimistic.Pending) {
	if !boolParam(params, "wait") {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	p.Wait(ctx) //nolint:errcheck
}

// SendEmailTool sends a message, queueing it in the outbox while offline
type SendEmailTool struct {
	deps *Deps
}

// NewSendEmailTool creates a new send email tool
func NewSendEmailTool(deps *Deps) *SendEmailTool {
	return &SendEmailTool{deps: deps}
}

// Name returns the tool name
func (t *SendEmailTool) Name() string {
	return "send_email"
}

// Description returns the tool description
func (t *SendEmailTool) Description() string {
	return "Send an email. The message shows in Sent immediately; while offline it waits in the Outbox until the connection returns."
}

// InputSchema returns the JSON schema for tool inputs
func (t *SendEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": messageSchema(map[string]interface{}{
			"draft_id": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Draft to send; it leaves the Drafts folder",
			},
		}),
		"required": []string{"to", "subject"},
	}
}

// Execute executes the tool
func (t *SendEmailTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	msg := messageFromParams(params)
	if len(msg.To) == 0 {
		return nil, fmt.Errorf("to is required")
	}
	if msg.Subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	if msg.BodyText == "" && msg.BodyHTML == "" {
		return nil, fmt.Errorf("either body_text or body_html is required")
	}
	msg.ID = stringParam(params, "draft_id")

	p, err := t.deps.Engine.SendMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to send email: %w", err)
	}
	settle(ctx, params, p)

	result := pendingResult(p)
	result["queued"] = contains(t.deps.Engine.Outbox(), p.IDs)
	return result, nil
}

func contains(list, ids []string) bool {
	for _, a := range list {
		for _, b := range ids {
			if a == b {
				return true
			}
		}
	}
	return false
}

// SaveDraftTool saves, autosaves or discards a draft
type SaveDraftTool struct {
	deps *Deps
}

// NewSaveDraftTool creates a new save draft tool
func NewSaveDraftTool(deps *Deps) *SaveDraftTool {
	return &SaveDraftTool{deps: deps}
}

// Name returns the tool name
func (t *SaveDraftTool) Name() string {
	return "save_draft"
}

// Description returns the tool description
func (t *SaveDraftTool) Description() string {
	return "Save a draft now, schedule a debounced autosave, or discard a draft"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SaveDraftTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": messageSchema(map[string]interface{}{
			"draft_id": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Draft to update; a new draft is created when omitted",
			},
			"autosave": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Debounce the save instead of saving now",
			},
			"discard": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Delete the draft given by draft_id",
			},
		}),
	}
}

// Execute executes the tool
func (t *SaveDraftTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id := stringParam(params, "draft_id")

	if boolParam(params, "discard") {
		if id == "" {
			return nil, fmt.Errorf("draft_id is required to discard a draft")
		}
		p, err := t.deps.Engine.DeleteDraft(id)
		if err != nil {
			return nil, fmt.Errorf("failed to discard draft: %w", err)
		}
		settle(ctx, params, p)
		return pendingResult(p), nil
	}

	draft := messageFromParams(params)
	draft.ID = id

	if boolParam(params, "autosave") {
		return map[string]interface{}{
			"draft_id":  t.deps.Engine.ScheduleDraftSave(draft),
			"scheduled": true,
		}, nil
	}

	p, err := t.deps.Engine.SaveDraft(draft)
	if err != nil {
		return nil, fmt.Errorf("failed to save draft: %w", err)
	}
	settle(ctx, params, p)

	result := pendingResult(p)
	result["draft_id"] = t.deps.Engine.CanonicalID(p.IDs[0])
	return result, nil
}
