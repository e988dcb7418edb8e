package optimistic

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/flags"
	"github.com/brandon/mailsync/internal/localid"
	"github.com/brandon/mailsync/pkg/types"
)

// SaveDraft writes draft to the cache with the draft flag and the current
// time, then saves it on the server. A draft without an id gets a local-only
// id which is replaced once the server answers.
func (e *Engine) SaveDraft(draft *types.MailItem) (*Pending, error) {
	if e.closed() {
		return nil, ErrClosed
	}
	if draft == nil {
		return nil, ErrNoTargets
	}
	e.writes.Lock()
	defer e.writes.Unlock()

	d := draft.Clone()
	if d.ID == "" {
		d.ID = e.ids.Next()
	} else {
		d.ID = e.CanonicalID(d.ID)
	}

	prev, exists := e.store.ReadDetail(d.ID)
	if !exists {
		prev, exists = e.store.ReadItem(d.ID)
	}
	if exists {
		d.Attachments = mergeAttachments(prev.Attachments, d.Attachments)
		if d.FolderID == "" {
			d.FolderID = prev.FolderID
		}
	}
	d.Kind = types.KindMessage
	d.Flags = flags.Add(d.Flags, flags.Draft)
	d.Flags = flags.Set(d.Flags, flags.Attachment, len(d.Attachments) > 0)
	d.Date = e.now()

	drafts, haveDrafts := e.store.FindFolder(cache.FolderByName(e.cfg.Folders.Drafts))
	if d.FolderID == "" && haveDrafts {
		d.FolderID = drafts.ID
	}
	e.store.WriteItem(d)
	e.store.WriteDetail(d)
	if !exists && haveDrafts {
		e.store.AdjustFolderCounts(cache.FolderByID(drafts.ID), cache.CountDelta{NonFolderItemCount: 1})
		e.prependToViews(cache.FolderByID(drafts.ID), []string{d.ID})
	}
	logDraft(e.logger, d).WithField("new", !exists).Debug("Wrote optimistic draft")

	// Saves of one draft run in order. Each names the draft by the id the
	// previous save left it with, so the server replaces that copy.
	ids := []string{d.ID}
	p := e.newPending(OpSaveDraft, ids)
	ctx, release := e.groups.Start(e.ctx, d.ID, TaskSave)
	e.track(p)
	prior := e.claim(p, ids)
	local := d.Clone()
	e.run(ctx, p, func() {
		release()
		e.unclaim(p, ids)
	}, func(ctx context.Context) error {
		for _, q := range prior {
			select {
			case <-q.done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		current := local.Clone()
		current.ID = e.CanonicalID(local.ID)
		saved, err := e.transport.SaveDraft(ctx, current.Clone())
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		p.result = e.reconcile(current, saved)
		return nil
	})
	return p, nil
}

// ScheduleDraftSave debounces a save of draft and returns the id it will be
// saved under
func (e *Engine) ScheduleDraftSave(draft *types.MailItem) string {
	d := draft.Clone()
	if d.ID == "" {
		d.ID = e.ids.Next()
	} else {
		d.ID = e.CanonicalID(d.ID)
	}
	e.autosave.Schedule(d)
	return d.ID
}

// DeleteDraft discards a draft. Scheduled and in-flight saves are cancelled;
// a draft the server never saw is only removed locally.
func (e *Engine) DeleteDraft(id string) (*Pending, error) {
	id = e.CanonicalID(id)
	e.autosave.Cancel(id)
	e.groups.Cancel(id, TaskSave)
	return e.Delete([]string{id})
}

// reconcile merges the server's answer over the optimistic copy and replaces
// a local-only id with the server's
func (e *Engine) reconcile(local, remote *types.MailItem) *types.MailItem {
	e.writes.Lock()
	defer e.writes.Unlock()

	merged := shallowMerge(local, remote)
	if merged.ID != local.ID {
		e.remap(local.ID, merged.ID)
	}
	e.store.WriteItem(merged)
	if merged.HasBody() {
		e.store.WriteDetail(merged)
	}
	if localid.IsLocalOnly(merged.ID) {
		e.logger.WithField("draft_id", merged.ID).Warn("Server answer carried no id, keeping local id")
	}
	return merged
}

// shallowMerge lays the non-empty fields of remote over local
func shallowMerge(local, remote *types.MailItem) *types.MailItem {
	out := local.Clone()
	if remote == nil {
		return out
	}
	r := remote.Clone()
	if r.ID != "" {
		out.ID = r.ID
	}
	if r.Kind != "" {
		out.Kind = r.Kind
	}
	if r.FolderID != "" {
		out.FolderID = r.FolderID
	}
	if r.ConversationID != "" {
		out.ConversationID = r.ConversationID
	}
	if r.Flags != "" {
		out.Flags = r.Flags
	}
	if !r.Date.IsZero() {
		out.Date = r.Date
	}
	if r.Subject != "" {
		out.Subject = r.Subject
	}
	if len(r.From) > 0 {
		out.From = r.From
	}
	if len(r.To) > 0 {
		out.To = r.To
	}
	if len(r.Cc) > 0 {
		out.Cc = r.Cc
	}
	if len(r.Bcc) > 0 {
		out.Bcc = r.Bcc
	}
	if len(r.Sender) > 0 {
		out.Sender = r.Sender
	}
	if r.Excerpt != "" {
		out.Excerpt = r.Excerpt
	}
	if r.BodyText != "" {
		out.BodyText = r.BodyText
	}
	if r.BodyHTML != "" {
		out.BodyHTML = r.BodyHTML
	}
	if len(r.Attachments) > 0 {
		out.Attachments = r.Attachments
	}
	if len(r.Messages) > 0 {
		out.Messages = r.Messages
	}
	return out
}

// mergeAttachments returns next followed by the entries of prev that next
// does not replace
func mergeAttachments(prev, next []types.Attachment) []types.Attachment {
	out := append([]types.Attachment(nil), next...)
	for _, old := range prev {
		replaced := false
		for _, n := range next {
			if sameAttachment(old, n) {
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, old)
		}
	}
	return out
}

func sameAttachment(a, b types.Attachment) bool {
	if a.Filename != b.Filename {
		return false
	}
	if a.AttachmentID != "" && a.AttachmentID == b.AttachmentID {
		return true
	}
	return a.Part != "" && a.Part == b.Part
}

func logDraft(logger *logrus.Logger, d *types.MailItem) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"draft_id":    d.ID,
		"attachments": len(d.Attachments),
	})
}
