// Package merge combines pages of search results without duplicating items.
package merge

import "github.com/brandon/mailsync/pkg/types"

// MergeByID returns next followed by the items of prev whose id does not
// appear in next. Within the result each id appears once; the first copy in
// next wins. An empty next returns prev unchanged.
func MergeByID[T types.Identifiable](prev, next []T) []T {
	if len(next) == 0 {
		return prev
	}
	seen := make(map[string]struct{}, len(next)+len(prev))
	out := make([]T, 0, len(next)+len(prev))
	for _, item := range next {
		id := item.ItemID()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, item)
	}
	for _, item := range prev {
		id := item.ItemID()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, item)
	}
	return out
}

// MergeResultLists merges the list named by key from prev and next. The
// returned result is next's page metadata with the merged list in place.
func MergeResultLists(prev, next *types.SearchResult, key types.ResultKey) *types.SearchResult {
	if next == nil {
		return prev
	}
	out := *next
	if prev == nil {
		return &out
	}
	switch key {
	case types.ResultContacts:
		out.Contacts = MergeByID(prev.Contacts, next.Contacts)
	default:
		out.SetItems(key, MergeByID(prev.Items(key), next.Items(key)))
	}
	return &out
}

// MergeSearchResults merges every list of prev into next. Fields other than
// the lists come from next.
func MergeSearchResults(prev, next *types.SearchResult) *types.SearchResult {
	if next == nil {
		return prev
	}
	if prev == nil {
		out := *next
		return &out
	}
	out := *next
	out.Messages = MergeByID(prev.Messages, next.Messages)
	out.Conversations = MergeByID(prev.Conversations, next.Conversations)
	out.Contacts = MergeByID(prev.Contacts, next.Contacts)
	return &out
}
