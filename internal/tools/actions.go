package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/optimistic"
)

// MailActionTool flags, moves or deletes items optimistically
type MailActionTool struct {
	deps *Deps
}

// NewMailActionTool creates a new mail action tool
func NewMailActionTool(deps *Deps) *MailActionTool {
	return &MailActionTool{deps: deps}
}

// Name returns the tool name
func (t *MailActionTool) Name() string {
	return "mail_action"
}

// Description returns the tool description
func (t *MailActionTool) Description() string {
	return "Apply an action to messages or conversations. The cache changes at once; the returned mutation id can be undone for a short while."
}

// InputSchema returns the JSON schema for tool inputs
func (t *MailActionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type": "string",
				"enum": []string{
					"flag", "unflag", "read", "unread", "urgent", "noturgent",
					"move", "trash", "spam", "unspam", "archive", "unarchive", "delete",
				},
				"description": "Action to apply",
			},
			"ids": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Message or conversation ids",
			},
			"folder": map[string]interface{}{
				"type":        "string",
				"description": "Destination folder name or path, for move",
			},
			"remove_from_list": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Drop moved items from the lists of their source folders",
			},
			"wait": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Wait for the server to confirm before returning",
			},
		},
		"required": []string{"action", "ids"},
	}
}

// Execute executes the tool
func (t *MailActionTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	op, ok := optimistic.ParseOperation(stringParam(params, "action"))
	if !ok {
		return nil, fmt.Errorf("unknown action: %q", stringParam(params, "action"))
	}
	ids := listParam(params, "ids")
	if len(ids) == 0 {
		return nil, fmt.Errorf("ids is required")
	}
	for i, id := range ids {
		ids[i] = t.deps.Engine.CanonicalID(id)
	}
	opts := optimistic.ActionOptions{RemoveFromList: boolParam(params, "remove_from_list")}

	e := t.deps.Engine
	var (
		p   *optimistic.Pending
		err error
	)
	switch op {
	case optimistic.OpFlag, optimistic.OpUnflag:
		p, err = e.Flag(ids, op == optimistic.OpFlag)
	case optimistic.OpRead, optimistic.OpUnread:
		p, err = e.MarkRead(ids, op == optimistic.OpRead)
	case optimistic.OpUrgent, optimistic.OpNotUrgent:
		p, err = e.MarkUrgent(ids, op == optimistic.OpUrgent)
	case optimistic.OpMove:
		folder := stringParam(params, "folder")
		if folder == "" {
			return nil, fmt.Errorf("folder is required for move")
		}
		p, err = e.Move(ids, cache.FolderByName(folder), opts)
	case optimistic.OpTrash:
		p, err = e.Trash(ids, opts)
	case optimistic.OpSpam:
		p, err = e.Spam(ids, opts)
	case optimistic.OpUnspam:
		p, err = e.Unspam(ids, opts)
	case optimistic.OpArchive:
		p, err = e.Archive(ids, opts)
	case optimistic.OpUnarchive:
		p, err = e.Unarchive(ids, opts)
	case optimistic.OpDelete:
		p, err = e.Delete(ids)
	}
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", strings.ToLower(string(op)), err)
	}
	settle(ctx, params, p)
	return pendingResult(p), nil
}

// UndoActionTool reverts a recent mutation
type UndoActionTool struct {
	deps *Deps
}

// NewUndoActionTool creates a new undo action tool
func NewUndoActionTool(deps *Deps) *UndoActionTool {
	return &UndoActionTool{deps: deps}
}

// Name returns the tool name
func (t *UndoActionTool) Name() string {
	return "undo_action"
}

// Description returns the tool description
func (t *UndoActionTool) Description() string {
	return "Undo a mail_action by its mutation id while the undo window is open"
}

// InputSchema returns the JSON schema for tool inputs
func (t *UndoActionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"mutation": map[string]interface{}{
				"type":        "string",
				"description": "Mutation id returned by mail_action",
			},
			"wait": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Wait for the server to confirm before returning",
			},
		},
		"required": []string{"mutation"},
	}
}

// Execute executes the tool
func (t *UndoActionTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id := stringParam(params, "mutation")
	if id == "" {
		return nil, fmt.Errorf("mutation is required")
	}
	p, err := t.deps.Engine.Undo(id)
	if err != nil {
		return nil, fmt.Errorf("failed to undo %s: %w", id, err)
	}
	settle(ctx, params, p)
	return pendingResult(p), nil
}
