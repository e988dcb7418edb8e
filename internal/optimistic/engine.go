// Package optimistic applies user actions to the local cache before the
// server confirms them, then reconciles the cache with the server's answer.
package optimistic

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/localid"
	"github.com/brandon/mailsync/pkg/types"
)

var (
	// ErrNoTargets is returned when an action names no items
	ErrNoTargets = errors.New("optimistic: no items given")
	// ErrUndoExpired is returned when the undo window of an action has passed
	ErrUndoExpired = errors.New("optimistic: undo window expired")
	// ErrNothingToUndo is returned when an action changed nothing or was already undone
	ErrNothingToUndo = errors.New("optimistic: nothing to undo")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("optimistic: engine closed")
)

// Transport carries mutations to the mail server. ItemAction returns the
// new ids of items the server renumbered, keyed by their old ids.
type Transport interface {
	ItemAction(ctx context.Context, req ActionRequest) (map[string]string, error)
	SaveDraft(ctx context.Context, draft *types.MailItem) (*types.MailItem, error)
	SendMessage(ctx context.Context, msg *types.MailItem) (*types.MailItem, error)
}

// Connectivity reports whether the server is reachable
type Connectivity interface {
	Online() bool
}

// Notification describes a mutation the server rejected
type Notification struct {
	Op  Operation
	IDs []string
	Err error
}

// Notifier surfaces transient failures to the user
type Notifier interface {
	Notify(Notification)
}

// Switch is a Connectivity whose state is set explicitly
type Switch struct {
	offline atomic.Bool
}

// NewSwitch returns a Switch in the given state
func NewSwitch(online bool) *Switch {
	s := &Switch{}
	s.Set(online)
	return s
}

func (s *Switch) Online() bool { return !s.offline.Load() }

// Set changes the reported state
func (s *Switch) Set(online bool) { s.offline.Store(!online) }

// Folders names the special folders actions move items between
type Folders struct {
	Inbox   string
	Trash   string
	Spam    string
	Archive string
	Outbox  string
	Drafts  string
	Sent    string
}

// DefaultFolders returns the conventional folder names
func DefaultFolders() Folders {
	return Folders{
		Inbox:   "Inbox",
		Trash:   "Trash",
		Spam:    "Junk",
		Archive: "Archive",
		Outbox:  "Outbox",
		Drafts:  "Drafts",
		Sent:    "Sent",
	}
}

// Config holds engine settings
type Config struct {
	Folders       Folders
	UndoWindow    time.Duration
	AutosaveDelay time.Duration
}

// Engine applies optimistic mutations to a Store
type Engine struct {
	store     *cache.Store
	transport Transport
	conn      Connectivity
	notifier  Notifier
	ids       *localid.Generator
	groups    *TaskGroups
	autosave  *Autosaver
	cfg       Config
	logger    *logrus.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// writes keeps each optimistic write apart from id replacements, so an
	// item cannot be renamed between being read and being written back
	writes sync.Mutex

	mu       sync.Mutex
	stopping bool
	pending  map[string]*Pending
	remapped map[string]string
	inflight map[string]*Pending
	outbox   []*queuedSend
	reducers []namedReducer
}

// Option customizes an Engine
type Option func(*Engine)

// WithNotifier sets where rejected mutations are reported
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithConnectivity sets the online/offline source. Without one the engine
// assumes it is online.
func WithConnectivity(c Connectivity) Option {
	return func(e *Engine) { e.conn = c }
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
		e.ids = localid.NewGenerator(now)
	}
}

// NewEngine creates an engine writing to store and sending through transport
func NewEngine(store *cache.Store, transport Transport, cfg Config, logger *logrus.Logger, opts ...Option) *Engine {
	if cfg.Folders == (Folders{}) {
		cfg.Folders = DefaultFolders()
	}
	if cfg.UndoWindow <= 0 {
		cfg.UndoWindow = 10 * time.Second
	}
	if cfg.AutosaveDelay <= 0 {
		cfg.AutosaveDelay = 3 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:     store,
		transport: transport,
		ids:       localid.NewGenerator(nil),
		groups:    NewTaskGroups(),
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[string]*Pending),
		remapped:  make(map[string]string),
		inflight:  make(map[string]*Pending),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.autosave = NewAutosaver(cfg.AutosaveDelay, func(draft *types.MailItem) {
		if _, err := e.SaveDraft(draft); err != nil {
			e.logger.WithError(err).WithField("draft_id", draft.ID).Warn("Autosave failed")
		}
	})
	return e
}

// Online reports whether mutations are expected to reach the server
func (e *Engine) Online() bool {
	return e.conn == nil || e.conn.Online()
}

// Close cancels outstanding network tasks and autosaves and waits for them
func (e *Engine) Close() {
	e.autosave.Stop()
	e.mu.Lock()
	e.stopping = true
	e.mu.Unlock()
	e.cancel()
	e.wg.Wait()
}

// Wait blocks until every dispatched mutation has finished
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Pending returns a dispatched mutation by id while it can still be undone
func (e *Engine) Pending(id string) (*Pending, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pending[id]
	return p, ok
}

// Undo issues the inverse of the mutation with the given id
func (e *Engine) Undo(id string) (*Pending, error) {
	p, ok := e.Pending(id)
	if !ok {
		return nil, ErrUndoExpired
	}
	return p.Undo()
}

// CanonicalID follows an id through every replacement to the current one
func (e *Engine) CanonicalID(id string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		next, ok := e.remapped[id]
		if !ok {
			return id
		}
		id = next
	}
}

// remap rewrites oldID to newID in the store and remembers the mapping.
// Local-only ids are replaced once confirmed; server ids change when a move
// renumbers the item.
func (e *Engine) remap(oldID, newID string) {
	if newID == "" || oldID == newID {
		return
	}
	e.store.RemapID(oldID, newID)
	e.mu.Lock()
	e.remapped[oldID] = newID
	e.mu.Unlock()
	e.logger.WithFields(logrus.Fields{
		"local_id":  oldID,
		"server_id": newID,
	}).Info("Replaced item id")
}

func (e *Engine) track(p *Pending) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	for id, old := range e.pending {
		if old.isDone() && now.Sub(old.created) > e.cfg.UndoWindow {
			delete(e.pending, id)
		}
	}
	e.pending[p.ID] = p
}

// run executes task in the background under the engine's context and
// settles p with its outcome. Failures are logged and reported to the
// notifier; the optimistic state already written stays in place.
func (e *Engine) run(ctx context.Context, p *Pending, release func(), task func(ctx context.Context) error) {
	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		if release != nil {
			release()
		}
		p.finish(ErrClosed)
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		if release != nil {
			defer release()
		}
		err := task(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"op":       p.Op,
				"mutation": p.ID,
				"ids":      p.IDs,
			}).Warn("Mutation rejected by server")
			if e.notifier != nil {
				e.notifier.Notify(Notification{Op: p.Op, IDs: p.IDs, Err: err})
			}
		}
		p.finish(err)
	}()
}

func (e *Engine) closed() bool {
	return e.ctx.Err() != nil
}
