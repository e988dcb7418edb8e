package tools

import (
	"context"

	"github.com/brandon/mailsync/pkg/types"
)

// ListFoldersTool lists the cached folder tree
type ListFoldersTool struct {
	deps *Deps
}

// NewListFoldersTool creates a new list folders tool
func NewListFoldersTool(deps *Deps) *ListFoldersTool {
	return &ListFoldersTool{deps: deps}
}

// Name returns the tool name
func (t *ListFoldersTool) Name() string {
	return "list_folders"
}

// Description returns the tool description
func (t *ListFoldersTool) Description() string {
	return "List folders with unread and total counts from the local cache, optionally refreshing from the server"
}

// InputSchema returns the JSON schema for tool inputs
func (t *ListFoldersTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"refresh": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Fetch the folder tree from the server first",
			},
		},
	}
}

// Execute executes the tool
func (t *ListFoldersTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	if boolParam(params, "refresh") && t.deps.Folders != nil {
		if err := t.deps.Folders.SyncFolders(ctx, t.deps.Store); err != nil {
			// Serve the cached tree
			t.deps.Logger.WithError(err).Warn("Failed to refresh folders")
		}
	}

	return folderList(t.deps.Store.Folders()), nil
}

func folderList(folders []types.Folder) []map[string]interface{} {
	result := make([]map[string]interface{}, len(folders))
	for i, folder := range folders {
		result[i] = map[string]interface{}{
			"id":     folder.ID,
			"name":   folder.Name,
			"path":   folder.AbsFolderPath,
			"unread": folder.Unread,
			"total":  folder.NonFolderItemCount,
		}
		if len(folder.Folders) > 0 {
			result[i]["folders"] = folderList(folder.Folders)
		}
	}
	return result
}
