package optimistic

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/flags"
	"github.com/brandon/mailsync/internal/localid"
	"github.com/brandon/mailsync/pkg/types"
)

// Operation names a mutation as sent to the server
type Operation string

const (
	OpFlag      Operation = "flag"
	OpUnflag    Operation = "unflag"
	OpRead      Operation = "read"
	OpUnread    Operation = "unread"
	OpUrgent    Operation = "urgent"
	OpNotUrgent Operation = "noturgent"
	OpMove      Operation = "move"
	OpTrash     Operation = "trash"
	OpSpam      Operation = "spam"
	OpUnspam    Operation = "unspam"
	OpArchive   Operation = "archive"
	OpUnarchive Operation = "unarchive"
	OpDelete    Operation = "delete"
	OpSend      Operation = "send"
	OpSaveDraft Operation = "saveDraft"
)

// ParseOperation maps an action name to an item Operation
func ParseOperation(name string) (Operation, bool) {
	switch op := Operation(strings.ToLower(name)); op {
	case OpFlag, OpUnflag, OpRead, OpUnread, OpUrgent, OpNotUrgent,
		OpMove, OpTrash, OpSpam, OpUnspam, OpArchive, OpUnarchive, OpDelete:
		return op, true
	}
	return "", false
}

// ActionRequest is the mutation handed to the Transport. Items holds the
// state of each target before the optimistic write.
type ActionRequest struct {
	Op         Operation
	IDs        []string
	Items      []types.MailItem
	FolderID   string
	FolderName string
}

// ActionOptions tune folder moves
type ActionOptions struct {
	// RemoveFromList drops the moved items from the displayed list: ListKey
	// when set, otherwise every cached view of the folders they came from
	RemoveFromList bool
	ListKey        string
	// Undo marks the move as the inverse of an earlier one. Undo moves never
	// remove from lists.
	Undo bool
}

// Flag stars or unstars items
func (e *Engine) Flag(ids []string, on bool) (*Pending, error) {
	if on {
		return e.setFlag(OpFlag, OpUnflag, ids, flags.Flagged, true)
	}
	return e.setFlag(OpUnflag, OpFlag, ids, flags.Flagged, false)
}

// MarkRead changes the read state of items
func (e *Engine) MarkRead(ids []string, read bool) (*Pending, error) {
	if read {
		return e.setFlag(OpRead, OpUnread, ids, flags.Unread, false)
	}
	return e.setFlag(OpUnread, OpRead, ids, flags.Unread, true)
}

// MarkUrgent sets or clears the urgent flag
func (e *Engine) MarkUrgent(ids []string, on bool) (*Pending, error) {
	if on {
		return e.setFlag(OpUrgent, OpNotUrgent, ids, flags.Urgent, true)
	}
	return e.setFlag(OpNotUrgent, OpUrgent, ids, flags.Urgent, false)
}

func (e *Engine) setFlag(op, inverse Operation, ids []string, code rune, on bool) (*Pending, error) {
	if e.closed() {
		return nil, ErrClosed
	}
	e.writes.Lock()
	defer e.writes.Unlock()
	targets, convs, unknown := e.resolve(ids)
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	var changed []string
	var before []types.MailItem
	unread := make(map[string]int)
	for _, t := range targets {
		// Without a record the current state is unknown, so the server decides
		if _, stub := unknown[t.ID]; !stub && flags.Has(t.Flags, code) == on {
			continue
		}
		changed = append(changed, t.ID)
		before = append(before, t)
		if code == flags.Unread && t.FolderID != "" {
			if on {
				unread[t.FolderID]++
			} else {
				unread[t.FolderID]--
			}
		}
		e.store.UpdateItem(t.ID, func(item *types.MailItem) {
			item.Flags = flags.Set(item.Flags, code, on)
		})
	}
	if len(changed) == 0 {
		return e.settled(op, ids, nil), nil
	}
	for folderID, delta := range unread {
		e.store.AdjustFolderCounts(cache.FolderByID(folderID), cache.CountDelta{Unread: delta})
	}
	e.refreshConversations(convs)

	p := e.newPending(op, changed)
	p.setInverse(func() (*Pending, error) {
		return e.setFlag(inverse, op, changed, code, !on)
	})
	e.dispatch(p, ActionRequest{Op: op, IDs: changed, Items: before})
	return p, nil
}

// Move puts items into dest
func (e *Engine) Move(ids []string, dest cache.FolderRef, opts ActionOptions) (*Pending, error) {
	return e.move(OpMove, ids, dest, opts)
}

// Trash moves items to the trash folder
func (e *Engine) Trash(ids []string, opts ActionOptions) (*Pending, error) {
	return e.move(OpTrash, ids, cache.FolderByName(e.cfg.Folders.Trash), opts)
}

// Spam moves items to the junk folder
func (e *Engine) Spam(ids []string, opts ActionOptions) (*Pending, error) {
	return e.move(OpSpam, ids, cache.FolderByName(e.cfg.Folders.Spam), opts)
}

// Unspam moves items from junk back to the inbox
func (e *Engine) Unspam(ids []string, opts ActionOptions) (*Pending, error) {
	return e.move(OpUnspam, ids, cache.FolderByName(e.cfg.Folders.Inbox), opts)
}

// Archive moves items to the archive folder
func (e *Engine) Archive(ids []string, opts ActionOptions) (*Pending, error) {
	return e.move(OpArchive, ids, cache.FolderByName(e.cfg.Folders.Archive), opts)
}

// Unarchive moves items from the archive back to the inbox
func (e *Engine) Unarchive(ids []string, opts ActionOptions) (*Pending, error) {
	return e.move(OpUnarchive, ids, cache.FolderByName(e.cfg.Folders.Inbox), opts)
}

func (e *Engine) move(op Operation, ids []string, dest cache.FolderRef, opts ActionOptions) (*Pending, error) {
	if e.closed() {
		return nil, ErrClosed
	}
	e.writes.Lock()
	defer e.writes.Unlock()
	targets, convs, _ := e.resolve(ids)
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	destID, destName := dest.ID, dest.Name
	if folder, ok := e.store.FindFolder(dest); ok {
		destID, destName = folder.ID, folder.Name
	}
	if destID == "" {
		destID = destName
	}
	destRef := cache.FolderRef{ID: destID, Name: destName}

	var moved []string
	var before []types.MailItem
	origins := make(map[string][]string)
	var originOrder []string
	for _, t := range targets {
		if t.FolderID == destID || (destName != "" && strings.EqualFold(t.FolderID, destName)) {
			continue
		}
		moved = append(moved, t.ID)
		before = append(before, t)
		if _, ok := origins[t.FolderID]; !ok {
			originOrder = append(originOrder, t.FolderID)
		}
		origins[t.FolderID] = append(origins[t.FolderID], t.ID)

		delta := cache.CountDelta{NonFolderItemCount: 1}
		if flags.Has(t.Flags, flags.Unread) {
			delta.Unread = 1
		}
		// Counts only move between folders when the origin is known
		if t.FolderID != "" {
			e.store.AdjustFolderCounts(cache.FolderByID(t.FolderID), delta.Negate())
			e.store.AdjustFolderCounts(destRef, delta)
		}
		e.store.UpdateItem(t.ID, func(item *types.MailItem) {
			item.FolderID = destID
		})
	}
	if len(moved) == 0 {
		return e.settled(op, ids, nil), nil
	}
	e.refreshConversations(convs)

	if opts.RemoveFromList && !opts.Undo {
		drop := append(append([]string(nil), ids...), moved...)
		if opts.ListKey != "" {
			e.store.RemoveFromEntry(opts.ListKey, drop...)
		} else {
			for _, origin := range originOrder {
				for _, key := range e.viewKeys(cache.FolderByID(origin)) {
					e.store.RemoveFromEntry(key, drop...)
				}
			}
		}
	}
	e.prependToViews(destRef, moved)

	p := e.newPending(op, moved)
	p.setInverse(func() (*Pending, error) {
		var parts []*Pending
		for _, origin := range originOrder {
			if origin == "" {
				continue
			}
			part, err := e.move(OpMove, origins[origin], cache.FolderByID(origin), ActionOptions{Undo: true})
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		}
		if len(parts) == 0 {
			return nil, ErrNothingToUndo
		}
		return e.join(OpMove, parts), nil
	})
	e.dispatch(p, ActionRequest{
		Op:         op,
		IDs:        moved,
		Items:      before,
		FolderID:   destID,
		FolderName: destName,
	})
	return p, nil
}

// Delete permanently removes items. It cannot be undone.
func (e *Engine) Delete(ids []string) (*Pending, error) {
	if e.closed() {
		return nil, ErrClosed
	}
	e.writes.Lock()
	defer e.writes.Unlock()
	targets, _, _ := e.resolve(ids)
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	removed := e.removeItems(append(append([]string(nil), ids...), idsOf(targets)...), targets)

	var remote []string
	var before []types.MailItem
	for _, t := range targets {
		if localid.IsLocalOnly(t.ID) {
			continue
		}
		remote = append(remote, t.ID)
		before = append(before, t)
	}
	if len(remote) == 0 {
		return e.settled(OpDelete, removed, nil), nil
	}
	p := e.newPending(OpDelete, remote)
	e.dispatch(p, ActionRequest{Op: OpDelete, IDs: remote, Items: before})
	return p, nil
}

// removeItems drops targets from their folders' views, counts and records
func (e *Engine) removeItems(drop []string, targets []types.MailItem) []string {
	var removed []string
	for _, t := range targets {
		if t.FolderID != "" {
			delta := cache.CountDelta{NonFolderItemCount: -1}
			if flags.Has(t.Flags, flags.Unread) {
				delta.Unread = -1
			}
			e.store.AdjustFolderCounts(cache.FolderByID(t.FolderID), delta)
			for _, key := range e.viewKeys(cache.FolderByID(t.FolderID)) {
				e.store.RemoveFromEntry(key, drop...)
			}
		}
		e.store.DeleteItem(t.ID)
		removed = append(removed, t.ID)
	}
	return removed
}

// dispatch runs the reducers, records p for undo and sends req. Requests
// touching the same item reach the server in the order they were issued,
// each naming the item by the id the previous one left it with.
func (e *Engine) dispatch(p *Pending, req ActionRequest) {
	e.reduce(req)
	e.track(p)
	ids := req.IDs
	prior := e.claim(p, ids)
	e.run(e.ctx, p, func() { e.unclaim(p, ids) }, func(ctx context.Context) error {
		for _, q := range prior {
			select {
			case <-q.done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		sent := req
		sent.IDs = e.canonicalIDs(ids)
		renamed, err := e.transport.ItemAction(ctx, sent)
		if len(renamed) > 0 {
			e.writes.Lock()
			for oldID, newID := range renamed {
				e.remap(oldID, newID)
			}
			e.writes.Unlock()
		}
		return err
	})
	e.logger.WithFields(logrus.Fields{
		"op":       req.Op,
		"mutation": p.ID,
		"count":    len(ids),
	}).Debug("Applied optimistic mutation")
}

// claim registers p as the latest request for ids and returns the requests
// still in flight for them
func (e *Engine) claim(p *Pending, ids []string) []*Pending {
	e.mu.Lock()
	defer e.mu.Unlock()

	var prior []*Pending
	seen := make(map[*Pending]struct{})
	for _, id := range ids {
		if q, ok := e.inflight[id]; ok {
			if _, dup := seen[q]; !dup {
				seen[q] = struct{}{}
				prior = append(prior, q)
			}
		}
		e.inflight[id] = p
	}
	return prior
}

func (e *Engine) unclaim(p *Pending, ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range ids {
		if e.inflight[id] == p {
			delete(e.inflight, id)
		}
	}
}

func (e *Engine) canonicalIDs(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = e.CanonicalID(id)
	}
	return out
}

// resolve expands ids to the messages they name. A conversation stands for
// each of its messages. Ids unknown to the cache are still targeted and are
// reported in unknown. The conversations involved are returned so their
// flags can be refreshed.
func (e *Engine) resolve(ids []string) (targets []types.MailItem, convs []string, unknown map[string]struct{}) {
	seen := make(map[string]struct{}, len(ids))
	unknown = make(map[string]struct{})
	add := func(item types.MailItem) {
		if _, ok := seen[item.ID]; ok {
			return
		}
		seen[item.ID] = struct{}{}
		targets = append(targets, item)
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		id = e.CanonicalID(id)
		item, ok := e.store.ReadItem(id)
		if !ok {
			if _, dup := seen[id]; !dup {
				unknown[id] = struct{}{}
			}
			add(types.MailItem{ID: id, Kind: types.KindMessage})
			continue
		}
		if item.IsConversation() && len(item.Messages) > 0 {
			convs = append(convs, item.ID)
			for _, msg := range item.Messages {
				if rec, ok := e.store.ReadItem(msg.ID); ok && !rec.IsConversation() {
					add(*rec)
					continue
				}
				add(msg)
			}
			continue
		}
		add(*item)
	}
	return targets, convs, unknown
}

// refreshConversations recomputes the aggregate flags and folder of each
// conversation from its messages
func (e *Engine) refreshConversations(ids []string) {
	for _, id := range ids {
		conv, ok := e.store.ReadItem(id)
		if !ok || len(conv.Messages) == 0 {
			continue
		}
		f := conv.Flags
		for _, code := range []rune{flags.Unread, flags.Flagged, flags.Urgent} {
			set := false
			for _, msg := range conv.Messages {
				if flags.Has(msg.Flags, code) {
					set = true
					break
				}
			}
			f = flags.Set(f, code, set)
		}
		folders := conv.FolderIDs()
		e.store.UpdateItem(id, func(item *types.MailItem) {
			item.Flags = f
			if len(folders) == 1 {
				item.FolderID = folders[0]
			}
		})
	}
}

// viewKeys returns the keys of every cached view scoped to the folder,
// whether the key names it by id or by name
func (e *Engine) viewKeys(ref cache.FolderRef) []string {
	seen := make(map[string]struct{})
	var keys []string
	add := func(scope string) {
		if scope == "" {
			return
		}
		for _, key := range e.store.KeysForFolder(scope) {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	add(ref.ID)
	add(ref.Name)
	if folder, ok := e.store.FindFolder(ref); ok {
		add(folder.ID)
		add(folder.Name)
		add(strings.TrimPrefix(folder.AbsFolderPath, "/"))
	}
	return keys
}

// prependToViews puts the current copy of each item at the head of the
// message views already cached for the folder
func (e *Engine) prependToViews(ref cache.FolderRef, ids []string) {
	keys := e.viewKeys(ref)
	if len(keys) == 0 {
		return
	}
	for i := len(ids) - 1; i >= 0; i-- {
		item, ok := e.store.ReadItem(ids[i])
		if !ok {
			continue
		}
		for _, key := range keys {
			vars, ok := cache.KeyToVariables(key)
			if !ok || cache.ResultKindOf(vars) != types.ResultMessages {
				continue
			}
			e.store.PrependToEntry(key, types.ResultMessages, item, false)
		}
	}
}

func idsOf(items []types.MailItem) []string {
	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}
	return ids
}
