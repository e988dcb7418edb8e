package optimistic

import (
	"sync"
	"time"

	"github.com/brandon/mailsync/pkg/types"
)

// Autosaver debounces draft saves: each change restarts the draft's timer and
// only the last version is saved once the delay passes without changes
type Autosaver struct {
	delay time.Duration
	save  func(*types.MailItem)

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// NewAutosaver creates an autosaver calling save after delay
func NewAutosaver(delay time.Duration, save func(*types.MailItem)) *Autosaver {
	return &Autosaver{
		delay:  delay,
		save:   save,
		timers: make(map[string]*time.Timer),
	}
}

// Schedule (re)starts the timer for draft.ID with the given content
func (a *Autosaver) Schedule(draft *types.MailItem) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return
	}
	id := draft.ID
	if t, ok := a.timers[id]; ok {
		t.Stop()
	}
	snapshot := draft.Clone()
	var t *time.Timer
	t = time.AfterFunc(a.delay, func() {
		a.mu.Lock()
		if a.timers[id] != t {
			a.mu.Unlock()
			return
		}
		delete(a.timers, id)
		a.mu.Unlock()
		a.save(snapshot)
	})
	a.timers[id] = t
}

// Cancel drops a scheduled save and reports whether one was pending
func (a *Autosaver) Cancel(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.timers[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(a.timers, id)
	return true
}

// Scheduled reports whether a save is pending for id
func (a *Autosaver) Scheduled(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.timers[id]
	return ok
}

// Stop cancels every scheduled save and refuses new ones
func (a *Autosaver) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopped = true
	for id, t := range a.timers {
		t.Stop()
		delete(a.timers, id)
	}
}
