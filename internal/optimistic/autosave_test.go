package optimistic

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/pkg/types"
)

type saveRecorder struct {
	mu    sync.Mutex
	saved []*types.MailItem
}

func (r *saveRecorder) save(d *types.MailItem) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.saved = append(r.saved, d)
}

func (r *saveRecorder) Saved() []*types.MailItem {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]*types.MailItem(nil), r.saved...)
}

func TestAutosaverDebounces(t *testing.T) {
	rec := &saveRecorder{}
	a := NewAutosaver(20*time.Millisecond, rec.save)
	defer a.Stop()

	draft := &types.MailItem{ID: "~1"}
	for i := 0; i < 3; i++ {
		draft.Subject = fmt.Sprintf("v%d", i)
		a.Schedule(draft)
	}
	draft.Subject = "mutated after scheduling"

	require.Eventually(t, func() bool { return len(rec.Saved()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	saved := rec.Saved()
	require.Len(t, saved, 1)
	assert.Equal(t, "v2", saved[0].Subject)
	assert.False(t, a.Scheduled("~1"))
}

func TestAutosaverCancel(t *testing.T) {
	rec := &saveRecorder{}
	a := NewAutosaver(20*time.Millisecond, rec.save)
	defer a.Stop()

	a.Schedule(&types.MailItem{ID: "~1"})
	assert.True(t, a.Cancel("~1"))
	assert.False(t, a.Cancel("~1"))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.Saved())
}

func TestAutosaverStop(t *testing.T) {
	rec := &saveRecorder{}
	a := NewAutosaver(10*time.Millisecond, rec.save)

	a.Schedule(&types.MailItem{ID: "~1"})
	a.Stop()
	a.Schedule(&types.MailItem{ID: "~2"})
	assert.False(t, a.Scheduled("~2"))

	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, rec.Saved())
}

func TestEngineAutosaveSavesDraft(t *testing.T) {
	h := newHarness(t, true)
	h.engine.autosave = NewAutosaver(10*time.Millisecond, func(d *types.MailItem) {
		_, err := h.engine.SaveDraft(d)
		assert.NoError(t, err)
	})

	id := h.engine.ScheduleDraftSave(&types.MailItem{Subject: "autosaved"})
	require.Eventually(t, func() bool {
		return h.engine.CanonicalID(id) == "d-100"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "autosaved", h.item(t, "d-100").Subject)
}

func TestTaskGroupsCancelOpposingKind(t *testing.T) {
	g := NewTaskGroups()
	bg := context.Background()

	saveCtx, releaseSave := g.Start(bg, "d1", TaskSave)
	otherCtx, releaseOther := g.Start(bg, "d2", TaskSave)
	sendCtx, releaseSend := g.Start(bg, "d1", TaskSend)

	assert.ErrorIs(t, saveCtx.Err(), context.Canceled)
	assert.NoError(t, otherCtx.Err())
	assert.NoError(t, sendCtx.Err())
	assert.Equal(t, 1, g.Outstanding("d1"))

	releaseSend()
	assert.Equal(t, 0, g.Outstanding("d1"))
	assert.ErrorIs(t, sendCtx.Err(), context.Canceled)

	assert.Equal(t, 1, g.Cancel("d2", TaskSave))
	assert.ErrorIs(t, otherCtx.Err(), context.Canceled)
	assert.Equal(t, 0, g.Cancel("d2", TaskSave))

	releaseSave()
	releaseOther()
	assert.Equal(t, 0, g.Outstanding("d2"))
}

func TestTaskGroupsSaveCancelsSend(t *testing.T) {
	g := NewTaskGroups()

	sendCtx, releaseSend := g.Start(context.Background(), "d1", TaskSend)
	defer releaseSend()
	_, releaseSave := g.Start(context.Background(), "d1", TaskSave)
	defer releaseSave()

	assert.ErrorIs(t, sendCtx.Err(), context.Canceled)
}
