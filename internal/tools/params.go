package tools

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brandon/mailsync/internal/optimistic"
	"github.com/brandon/mailsync/pkg/types"
)

// stringParam returns a trimmed string argument or ""
func stringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return strings.TrimSpace(s)
}

// intParam accepts JSON numbers, Go integers and numeric strings
func intParam(params map[string]interface{}, key string) (int, bool, error) {
	switch v := params[key].(type) {
	case nil:
		return 0, false, nil
	case float64:
		return int(v), true, nil
	case int:
		return v, true, nil
	case int64:
		return int(v), true, nil
	case string:
		if v == "" {
			return 0, false, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false, fmt.Errorf("invalid %s: %w", key, err)
		}
		return n, true, nil
	}
	return 0, false, fmt.Errorf("invalid %s", key)
}

func boolParam(params map[string]interface{}, key string) bool {
	switch v := params[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// listParam accepts a JSON array of strings or a comma-separated string
func listParam(params map[string]interface{}, key string) []string {
	var raw []string
	switch v := params[key].(type) {
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case []string:
		raw = v
	case string:
		raw = strings.Split(v, ",")
	}

	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func timeParam(params map[string]interface{}, key string) (*time.Time, error) {
	s := stringParam(params, key)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s format: %w", key, err)
	}
	return &t, nil
}

func addressParam(params map[string]interface{}, key, typ string) []types.Address {
	var out []types.Address
	for _, a := range listParam(params, key) {
		out = append(out, types.Address{Address: a, Type: typ})
	}
	return out
}

// itemSummary is the compact form of an item used in lists
func itemSummary(item *types.MailItem) map[string]interface{} {
	out := map[string]interface{}{
		"id":        item.ID,
		"folder_id": item.FolderID,
		"subject":   item.Subject,
		"flags":     item.Flags,
		"date":      item.Date.Format(time.RFC3339),
	}
	if len(item.From) > 0 {
		out["sender_name"] = item.From[0].Name
		out["sender_email"] = item.From[0].Address
	}
	if item.Excerpt != "" {
		out["snippet"] = item.Excerpt
	}
	return out
}

// pendingResult describes a mutation: finished ones carry their outcome
func pendingResult(p *optimistic.Pending) map[string]interface{} {
	out := map[string]interface{}{
		"mutation": p.ID,
		"op":       string(p.Op),
		"ids":      p.IDs,
		"can_undo": p.CanUndo(),
	}
	select {
	case <-p.Done():
		out["done"] = true
		if err := p.Err(); err != nil {
			out["error"] = err.Error()
		}
		if result := p.Result(); result != nil {
			out["result_id"] = result.ID
		}
	default:
		out["done"] = false
	}
	return out
}
