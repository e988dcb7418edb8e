package tools

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/brandon/mailsync/internal/priming"
)

// PrimeCacheTool downloads recent mail and contacts for offline use
type PrimeCacheTool struct {
	deps *Deps
}

// NewPrimeCacheTool creates a new prime cache tool
func NewPrimeCacheTool(deps *Deps) *PrimeCacheTool {
	return &PrimeCacheTool{deps: deps}
}

// Name returns the tool name
func (t *PrimeCacheTool) Name() string {
	return "prime_cache"
}

// Description returns the tool description
func (t *PrimeCacheTool) Description() string {
	return "Download recent messages with their bodies, and contacts, into the offline cache. Stops early when the storage quota threshold is reached."
}

// InputSchema returns the JSON schema for tool inputs
func (t *PrimeCacheTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"folder": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Prime only this folder; all configured folders and contacts when omitted",
			},
			"days": map[string]interface{}{
				"type":        "integer",
				"description": "Optional: Days of mail to prime; the folder's default window when omitted",
				"minimum":     1,
			},
		},
	}
}

// Execute executes the tool
func (t *PrimeCacheTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	days, _, err := intParam(params, "days")
	if err != nil {
		return nil, err
	}

	if folder := stringParam(params, "folder"); folder != "" {
		report, err := t.deps.Pipeline.PrimeMailboxCache(ctx, folder, days)
		if err != nil {
			return nil, fmt.Errorf("failed to prime %s: %w", folder, err)
		}
		return []map[string]interface{}{reportResult(report)}, nil
	}

	reports, err := t.deps.Pipeline.PrimeAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prime cache: %w", err)
	}
	out := make([]map[string]interface{}, len(reports))
	for i, r := range reports {
		out[i] = reportResult(r)
	}
	return out, nil
}

func reportResult(r priming.Report) map[string]interface{} {
	return map[string]interface{}{
		"folder":           r.Folder,
		"days":             r.Days,
		"listed":           r.Listed,
		"skipped":          r.Skipped,
		"fetched":          r.Fetched,
		"failed":           r.Failed,
		"batches":          r.Batches,
		"used":             humanize.Bytes(uint64(r.UsedBytes)),
		"stopped_by_quota": r.StoppedByQuota,
	}
}

// SyncStatusTool reports connectivity, the outbox and cache usage
type SyncStatusTool struct {
	deps *Deps
}

// NewSyncStatusTool creates a new sync status tool
func NewSyncStatusTool(deps *Deps) *SyncStatusTool {
	return &SyncStatusTool{deps: deps}
}

// Name returns the tool name
func (t *SyncStatusTool) Name() string {
	return "sync_status"
}

// Description returns the tool description
func (t *SyncStatusTool) Description() string {
	return "Show whether the server is reachable, which messages wait in the outbox and how much local storage the cache uses"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SyncStatusTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"flush_outbox": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Try to send queued messages now",
			},
		},
	}
}

// Execute executes the tool
func (t *SyncStatusTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	result := map[string]interface{}{}

	if boolParam(params, "flush_outbox") {
		result["flushed"] = t.deps.Engine.FlushOutbox()
	}
	result["online"] = t.deps.Engine.Online()
	outbox := t.deps.Engine.Outbox()
	if outbox == nil {
		outbox = []string{}
	}
	result["outbox"] = outbox

	used, err := t.deps.Persister.CurrentUsedSize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache size: %w", err)
	}
	maxSize := t.deps.Persister.MaxSize()
	result["cache_used"] = humanize.Bytes(uint64(used))
	result["cache_quota"] = humanize.Bytes(uint64(maxSize))
	if maxSize > 0 {
		result["cache_used_percent"] = float64(used) * 100 / float64(maxSize)
	}
	return result, nil
}
