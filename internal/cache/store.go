package cache

import (
	"errors"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/pkg/types"
)

// ErrNoCache is raised when a Store method is invoked on a nil Store
var ErrNoCache = errors.New("cache: no store instance")

// DefaultDetailCacheSize bounds the number of full message bodies held in memory
const DefaultDetailCacheSize = 500

// Store is the normalized client cache. Query results are keyed by their
// canonical QueryKey string; mail items, folders and contacts are stored once
// by id and every list copy is kept in step with the record.
type Store struct {
	mu          sync.RWMutex
	items       map[string]*types.MailItem
	entries     map[string]*types.SearchResult
	folderIndex map[string]map[string]struct{}
	folders     []types.Folder
	contacts    map[string]types.Contact
	details     *lru.Cache[string, *types.MailItem]
	dirty       *Dirty
	logger      *logrus.Logger
}

// NewStore creates an empty store holding up to detailSize message bodies
func NewStore(detailSize int, logger *logrus.Logger) (*Store, error) {
	if detailSize <= 0 {
		detailSize = DefaultDetailCacheSize
	}
	details, err := lru.New[string, *types.MailItem](detailSize)
	if err != nil {
		return nil, err
	}
	return &Store{
		items:       make(map[string]*types.MailItem),
		entries:     make(map[string]*types.SearchResult),
		folderIndex: make(map[string]map[string]struct{}),
		contacts:    make(map[string]types.Contact),
		details:     details,
		dirty:       newDirty(),
		logger:      logger,
	}, nil
}

func (s *Store) check() {
	if s == nil {
		panic(ErrNoCache)
	}
}

// ReadEntryByKey returns a copy of the result cached under key
func (s *Store) ReadEntryByKey(key string) (*types.SearchResult, bool) {
	s.check()
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return entry.Clone(), true
}

// WriteEntryByKey stores result under key, replacing what was there
func (s *Store) WriteEntryByKey(key string, result *types.SearchResult) {
	s.check()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeEntry(key, result.Clone())
}

func (s *Store) writeEntry(key string, result *types.SearchResult) {
	if result == nil {
		result = &types.SearchResult{}
	}
	s.entries[key] = result
	if vars, ok := KeyToVariables(key); ok {
		for _, scope := range scopesOf(vars) {
			keys, ok := s.folderIndex[scope]
			if !ok {
				keys = make(map[string]struct{})
				s.folderIndex[scope] = keys
			}
			keys[key] = struct{}{}
		}
	}
	s.dirty.entry(key)
}

func (s *Store) deleteEntry(key string) {
	delete(s.entries, key)
	for scope, keys := range s.folderIndex {
		delete(keys, key)
		if len(keys) == 0 {
			delete(s.folderIndex, scope)
		}
	}
	s.dirty.removeEntry(key)
}

// Keys returns every entry key in sorted order
func (s *Store) Keys() []string {
	s.check()
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sortedKeys()
}

func (s *Store) sortedKeys() []string {
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// FindEntryKey returns the first key containing partial for which pred holds.
// A nil pred matches any key containing partial.
func (s *Store) FindEntryKey(partial string, pred func(key string) bool) (string, bool) {
	s.check()
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, key := range s.sortedKeys() {
		if !strings.Contains(key, partial) {
			continue
		}
		if pred == nil || pred(key) {
			return key, true
		}
	}
	return "", false
}

// KeysForFolder returns the keys of every entry scoped to the folder with the
// given name or id
func (s *Store) KeysForFolder(folder string) []string {
	s.check()
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.keysForFolder(folder)
}

func (s *Store) keysForFolder(folder string) []string {
	keys := s.folderIndex[strings.ToLower(folder)]
	out := make([]string, 0, len(keys))
	for key := range keys {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// ReadItem returns a copy of the item record for id. Items only known through
// a result list are found there.
func (s *Store) ReadItem(id string) (*types.MailItem, bool) {
	s.check()
	s.mu.RLock()
	defer s.mu.RUnlock()

	if item, ok := s.items[id]; ok {
		return item.Clone(), true
	}
	for _, key := range s.sortedKeys() {
		entry := s.entries[key]
		for _, list := range [][]types.MailItem{entry.Messages, entry.Conversations} {
			for i := range list {
				if list[i].ID == id {
					return list[i].Clone(), true
				}
				for j := range list[i].Messages {
					if list[i].Messages[j].ID == id {
						return list[i].Messages[j].Clone(), true
					}
				}
			}
		}
	}
	return nil, false
}

// WriteItem stores item as the authoritative record and replaces every list
// copy with the same id
func (s *Store) WriteItem(item *types.MailItem) {
	s.check()
	if item == nil || item.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[item.ID] = item.Clone()
	s.dirty.item(item.ID)
	s.eachCopy(item.ID, func(key string, dup *types.MailItem) {
		replacement := item.Clone()
		if !replacement.HasBody() {
			replacement.BodyText, replacement.BodyHTML = dup.BodyText, dup.BodyHTML
		}
		*dup = *replacement
		s.dirty.entry(key)
	})
	if detail, ok := s.details.Peek(item.ID); ok {
		merged := item.Clone()
		if !merged.HasBody() {
			merged.BodyText, merged.BodyHTML = detail.BodyText, detail.BodyHTML
		}
		s.details.Add(item.ID, merged)
	}
}

// UpdateItem applies fn to the record for id and to every copy of it in
// result lists, conversations and the detail cache. It reports whether any
// copy was found.
func (s *Store) UpdateItem(id string, fn func(*types.MailItem)) bool {
	s.check()
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	if item, ok := s.items[id]; ok {
		fn(item)
		s.dirty.item(id)
		found = true
	}
	s.eachCopy(id, func(key string, dup *types.MailItem) {
		fn(dup)
		s.dirty.entry(key)
		found = true
	})
	if detail, ok := s.details.Peek(id); ok {
		fn(detail)
		found = true
	}
	return found
}

// eachCopy visits every list copy of id, including messages nested in
// conversations held by records or lists. key is empty for record copies.
func (s *Store) eachCopy(id string, visit func(key string, dup *types.MailItem)) {
	for key, entry := range s.entries {
		for _, list := range [][]types.MailItem{entry.Messages, entry.Conversations} {
			for i := range list {
				if list[i].ID == id {
					visit(key, &list[i])
				}
				for j := range list[i].Messages {
					if list[i].Messages[j].ID == id {
						visit(key, &list[i].Messages[j])
					}
				}
			}
		}
	}
	for convID, item := range s.items {
		if !item.IsConversation() {
			continue
		}
		for j := range item.Messages {
			if item.Messages[j].ID == id {
				visit("", &item.Messages[j])
				s.dirty.item(convID)
			}
		}
	}
}

// DeleteItem drops the record for id. List copies are left alone; use
// RemoveFromEntry for that.
func (s *Store) DeleteItem(id string) {
	s.check()
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, id)
	s.details.Remove(id)
	s.dirty.removeItem(id)
}

// RemoveFromEntry removes the given ids from the list(s) cached under key and
// reports how many rows were removed
func (s *Store) RemoveFromEntry(key string, ids ...string) int {
	s.check()
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return 0
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	removed := 0
	keep := func(list []types.MailItem) []types.MailItem {
		out := list[:0]
		for _, item := range list {
			if _, ok := drop[item.ID]; ok {
				removed++
				continue
			}
			out = append(out, item)
		}
		return out
	}
	entry.Messages = keep(entry.Messages)
	entry.Conversations = keep(entry.Conversations)
	contacts := entry.Contacts[:0]
	for _, c := range entry.Contacts {
		if _, ok := drop[c.ID]; ok {
			removed++
			continue
		}
		contacts = append(contacts, c)
	}
	entry.Contacts = contacts
	if removed > 0 {
		s.dirty.entry(key)
	}
	return removed
}

// PrependToEntry puts item at the head of the list selected by kind under
// key, replacing any existing copy. The entry is created if missing when
// create is set; otherwise a missing entry reports false.
func (s *Store) PrependToEntry(key string, kind types.ResultKey, item *types.MailItem, create bool) bool {
	s.check()
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		if !create {
			return false
		}
		entry = &types.SearchResult{SortBy: SortDateDesc}
		s.writeEntry(key, entry)
	}
	list := entry.Items(kind)
	out := make([]types.MailItem, 0, len(list)+1)
	out = append(out, *item.Clone())
	for _, existing := range list {
		if existing.ID != item.ID {
			out = append(out, existing)
		}
	}
	entry.SetItems(kind, out)
	s.dirty.entry(key)
	return true
}

// RemapID rewrites every reference to oldID as newID: the item record, list
// copies, nested conversation messages, conversation references, the detail
// cache and entry keys whose variables name oldID. Afterwards oldID is not
// reachable from any read.
func (s *Store) RemapID(oldID, newID string) {
	s.check()
	if oldID == "" || newID == "" || oldID == newID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if item, ok := s.items[oldID]; ok {
		delete(s.items, oldID)
		item.ID = newID
		if existing, ok := s.items[newID]; ok && existing.HasBody() && !item.HasBody() {
			item.BodyText, item.BodyHTML = existing.BodyText, existing.BodyHTML
		}
		s.items[newID] = item
		s.dirty.removeItem(oldID)
		s.dirty.item(newID)
	}
	rename := func(item *types.MailItem) bool {
		changed := false
		if item.ID == oldID {
			item.ID = newID
			changed = true
		}
		if item.ConversationID == oldID {
			item.ConversationID = newID
			changed = true
		}
		for j := range item.Messages {
			if item.Messages[j].ID == oldID {
				item.Messages[j].ID = newID
				changed = true
			}
			if item.Messages[j].ConversationID == oldID {
				item.Messages[j].ConversationID = newID
				changed = true
			}
		}
		return changed
	}
	for id, item := range s.items {
		if rename(item) {
			s.dirty.item(id)
		}
	}
	for key, entry := range s.entries {
		changed := false
		for _, list := range [][]types.MailItem{entry.Messages, entry.Conversations} {
			for i := range list {
				if rename(&list[i]) {
					changed = true
				}
			}
		}
		if changed {
			entry.Messages = dedupe(entry.Messages)
			entry.Conversations = dedupe(entry.Conversations)
			s.dirty.entry(key)
		}
	}
	for _, key := range s.sortedKeys() {
		q, ok := ParseKey(key)
		if !ok || !renameVariables(q.Variables, oldID, newID) {
			continue
		}
		entry := s.entries[key]
		s.deleteEntry(key)
		s.writeEntry(q.String(), entry)
	}
	if detail, ok := s.details.Get(oldID); ok {
		s.details.Remove(oldID)
		detail.ID = newID
		s.details.Add(newID, detail)
	}
	s.logger.WithFields(logrus.Fields{
		"old_id": oldID,
		"new_id": newID,
	}).Debug("Remapped local id")
}

func renameVariables(vars map[string]any, oldID, newID string) bool {
	changed := false
	for k, v := range vars {
		if str, ok := v.(string); ok && str == oldID {
			vars[k] = newID
			changed = true
		}
	}
	return changed
}

// dedupe keeps the first copy of each id
func dedupe(items []types.MailItem) []types.MailItem {
	if len(items) < 2 {
		return items
	}
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, item := range items {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}
	return out
}

// WriteDetail caches the full content of a message and refreshes its record
func (s *Store) WriteDetail(item *types.MailItem) {
	s.check()
	if item == nil || item.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.details.Add(item.ID, item.Clone())
	record := item.Clone()
	record.BodyText, record.BodyHTML = "", ""
	if existing, ok := s.items[item.ID]; ok {
		record.Flags = existing.Flags
		record.FolderID = existing.FolderID
	}
	s.items[item.ID] = record
	s.dirty.item(item.ID)
}

// ReadDetail returns the full content of a message if it is cached
func (s *Store) ReadDetail(id string) (*types.MailItem, bool) {
	s.check()
	s.mu.Lock()
	defer s.mu.Unlock()

	detail, ok := s.details.Get(id)
	if !ok {
		return nil, false
	}
	return detail.Clone(), true
}

// HasDetail reports whether the body of id is cached without touching recency
func (s *Store) HasDetail(id string) bool {
	s.check()
	return s.details.Contains(id)
}

// WriteContacts upserts contact records
func (s *Store) WriteContacts(contacts []types.Contact) {
	s.check()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range contacts {
		s.contacts[c.ID] = c
		s.dirty.contact(c.ID)
	}
}

// Contact returns the contact record for id
func (s *Store) Contact(id string) (types.Contact, bool) {
	s.check()
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contacts[id]
	return c, ok
}

// Items returns copies of every item record
func (s *Store) Items() []*types.MailItem {
	s.check()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.MailItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
