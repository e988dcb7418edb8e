package optimistic

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/flags"
	"github.com/brandon/mailsync/pkg/types"
)

// maxSendAttempts bounds how often a failing send is queued again
const maxSendAttempts = 5

// queuedSend is a message waiting for FlushOutbox, either sent while offline
// or queued again after a failed attempt
type queuedSend struct {
	msg      *types.MailItem
	pending  *Pending
	outboxed bool
	attempts int
}

// SendMessage sends msg, superseding any scheduled or in-flight save of the
// same draft. While offline the message is written to the outbox and queued
// until FlushOutbox.
func (e *Engine) SendMessage(msg *types.MailItem) (*Pending, error) {
	if e.closed() {
		return nil, ErrClosed
	}
	if msg == nil {
		return nil, ErrNoTargets
	}
	e.writes.Lock()
	defer e.writes.Unlock()

	m := msg.Clone()
	if m.ID == "" {
		m.ID = e.ids.Next()
	} else {
		m.ID = e.CanonicalID(m.ID)
	}
	e.autosave.Cancel(m.ID)

	m.Kind = types.KindMessage
	m.Flags = flags.Remove(m.Flags, flags.Draft)
	m.Flags = flags.Add(m.Flags, flags.SentByMe)
	m.Flags = flags.Set(m.Flags, flags.Attachment, len(m.Attachments) > 0)
	m.Date = e.now()
	e.leaveDrafts(m.ID)

	p := e.newPending(OpSend, []string{m.ID})
	e.track(p)
	if !e.Online() {
		e.groups.Cancel(m.ID, TaskSave)
		q := &queuedSend{msg: m, pending: p, outboxed: e.writeOutbox(m)}
		e.mu.Lock()
		e.outbox = append(e.outbox, q)
		e.mu.Unlock()
		e.logger.WithField("message_id", m.ID).Info("Offline, queued message in outbox")
		return p, nil
	}
	e.dispatchSend(&queuedSend{msg: m, pending: p})
	return p, nil
}

// FlushOutbox sends every message queued while offline and reports how many
// were dispatched. Nothing is sent while offline.
func (e *Engine) FlushOutbox() int {
	if !e.Online() || e.closed() {
		return 0
	}
	e.mu.Lock()
	queued := e.outbox
	e.outbox = nil
	e.mu.Unlock()

	for _, q := range queued {
		e.dispatchSend(q)
	}
	if len(queued) > 0 {
		e.logger.WithField("count", len(queued)).Info("Flushed outbox")
	}
	return len(queued)
}

// Outbox returns the ids of messages waiting to be sent
func (e *Engine) Outbox() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, len(e.outbox))
	for i, q := range e.outbox {
		ids[i] = q.msg.ID
	}
	return ids
}

// RestoreOutbox queues the messages a previous run left in the outbox
// folder and reports how many it queued
func (e *Engine) RestoreOutbox() int {
	outbox, ok := e.store.FindFolder(cache.FolderByName(e.cfg.Folders.Outbox))
	if !ok {
		return 0
	}
	e.mu.Lock()
	queued := make(map[string]struct{}, len(e.outbox))
	for _, q := range e.outbox {
		queued[q.msg.ID] = struct{}{}
	}
	e.mu.Unlock()

	var restored []*queuedSend
	for _, item := range e.store.Items() {
		if item.FolderID != outbox.ID || item.IsConversation() {
			continue
		}
		if _, ok := queued[item.ID]; ok {
			continue
		}
		m := item
		if detail, ok := e.store.ReadDetail(item.ID); ok {
			detail.Flags, detail.FolderID = item.Flags, item.FolderID
			m = detail
		}
		p := e.newPending(OpSend, []string{m.ID})
		e.track(p)
		restored = append(restored, &queuedSend{msg: m, pending: p, outboxed: true})
	}
	if len(restored) == 0 {
		return 0
	}
	e.mu.Lock()
	e.outbox = append(e.outbox, restored...)
	e.mu.Unlock()
	e.logger.WithField("count", len(restored)).Info("Restored outbox")
	return len(restored)
}

func (e *Engine) dispatchSend(q *queuedSend) {
	m := q.msg
	q.attempts++
	ctx, release := e.groups.Start(e.ctx, m.ID, TaskSend)
	e.run(ctx, q.pending, release, func(ctx context.Context) error {
		sent, err := e.transport.SendMessage(ctx, m.Clone())
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				e.requeue(q, err)
			}
			return err
		}
		q.pending.result = e.confirmSend(q, sent)
		return nil
	})
}

// requeue puts a failed send back in the queue for the next FlushOutbox,
// writing its outbox copy if it has none yet. The failed attempt's Pending
// keeps its error; the retry gets a new one.
func (e *Engine) requeue(q *queuedSend, cause error) {
	entry := e.logger.WithError(cause).WithFields(logrus.Fields{
		"message_id": q.msg.ID,
		"attempts":   q.attempts,
	})
	if e.closed() {
		return
	}
	if q.attempts >= maxSendAttempts {
		entry.Error("Giving up on sending message")
		return
	}
	next := &queuedSend{
		msg:      q.msg,
		pending:  e.newPending(OpSend, []string{q.msg.ID}),
		outboxed: q.outboxed,
		attempts: q.attempts,
	}
	if !next.outboxed {
		e.writes.Lock()
		next.outboxed = e.writeOutbox(next.msg)
		e.writes.Unlock()
	}
	e.track(next.pending)
	e.mu.Lock()
	e.outbox = append(e.outbox, next)
	e.mu.Unlock()
	entry.Warn("Send failed, queued message for retry")
}

// writeOutbox places the optimistic outbox copy of m. It reports false
// without writing anything when no outbox folder is cached.
func (e *Engine) writeOutbox(m *types.MailItem) bool {
	outbox, ok := e.store.FindFolder(cache.FolderByName(e.cfg.Folders.Outbox))
	if !ok {
		e.logger.WithField("message_id", m.ID).Debug("No outbox folder cached, skipping outbox write")
		return false
	}
	o := m.Clone()
	o.FolderID = outbox.ID
	o.Flags = flags.Add(flags.Add(o.Flags, flags.Unread), flags.SentByMe)
	e.store.WriteItem(o)
	if o.HasBody() {
		e.store.WriteDetail(o)
	}
	e.store.AdjustFolderCounts(cache.FolderByID(outbox.ID), cache.CountDelta{NonFolderItemCount: 1, Unread: 1})
	e.store.PrependToEntry(cache.FolderViewKey(outbox.Name, types.ResultMessages).String(), types.ResultMessages, o, true)
	e.prependToViews(cache.FolderByID(outbox.ID), []string{o.ID})
	return true
}

// leaveDrafts takes a draft that is being sent out of the drafts views
func (e *Engine) leaveDrafts(id string) {
	item, ok := e.store.ReadItem(id)
	if !ok || !flags.Has(item.Flags, flags.Draft) {
		return
	}
	ref := cache.FolderByName(e.cfg.Folders.Drafts)
	if item.FolderID != "" {
		ref = cache.FolderByID(item.FolderID)
	}
	for _, key := range e.viewKeys(ref) {
		e.store.RemoveFromEntry(key, id)
	}
	e.store.AdjustFolderCounts(ref, cache.CountDelta{NonFolderItemCount: -1})
}

// confirmSend drops the outbox copy, moves every reference from the local
// id to the server's and writes the sent message into the sent views
func (e *Engine) confirmSend(q *queuedSend, sent *types.MailItem) *types.MailItem {
	e.writes.Lock()
	defer e.writes.Unlock()

	m := q.msg
	if q.outboxed {
		if outbox, ok := e.store.FindFolder(cache.FolderByName(e.cfg.Folders.Outbox)); ok {
			delta := cache.CountDelta{NonFolderItemCount: -1, Unread: -1}
			if rec, ok := e.store.ReadItem(m.ID); ok && !flags.Has(rec.Flags, flags.Unread) {
				delta.Unread = 0
			}
			for _, key := range e.viewKeys(cache.FolderByID(outbox.ID)) {
				e.store.RemoveFromEntry(key, m.ID)
			}
			e.store.AdjustFolderCounts(cache.FolderByID(outbox.ID), delta)
		}
	}

	result := shallowMerge(m, sent)
	result.Flags = flags.Remove(result.Flags, flags.Draft)
	result.Flags = flags.Remove(result.Flags, flags.Unread)
	sentFolder, haveSent := e.store.FindFolder(cache.FolderByName(e.cfg.Folders.Sent))
	if haveSent && (sent == nil || sent.FolderID == "") {
		result.FolderID = sentFolder.ID
	}
	if result.ID != m.ID {
		e.remap(m.ID, result.ID)
	}
	e.store.WriteItem(result)
	if result.HasBody() {
		e.store.WriteDetail(result)
	}
	if haveSent {
		e.store.AdjustFolderCounts(cache.FolderByID(sentFolder.ID), cache.CountDelta{NonFolderItemCount: 1})
		e.prependToViews(cache.FolderByID(sentFolder.ID), []string{result.ID})
	}
	e.logger.WithFields(logrus.Fields{
		"local_id":  m.ID,
		"server_id": result.ID,
	}).Info("Message sent")
	return result
}
