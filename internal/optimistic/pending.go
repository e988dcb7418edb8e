package optimistic

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brandon/mailsync/pkg/types"
)

// Pending is a mutation whose optimistic effect is already in the cache and
// whose server round-trip may still be in flight
type Pending struct {
	ID      string
	Op      Operation
	IDs     []string
	created time.Time
	engine  *Engine

	done   chan struct{}
	err    error
	result *types.MailItem

	mu      sync.Mutex
	inverse func() (*Pending, error)
	undone  bool
}

func (e *Engine) newPending(op Operation, ids []string) *Pending {
	return &Pending{
		ID:      uuid.NewString(),
		Op:      op,
		IDs:     append([]string(nil), ids...),
		created: e.now(),
		engine:  e,
		done:    make(chan struct{}),
	}
}

// settled returns a Pending that has already finished with err
func (e *Engine) settled(op Operation, ids []string, err error) *Pending {
	p := e.newPending(op, ids)
	p.finish(err)
	return p
}

func (p *Pending) finish(err error) {
	p.err = err
	close(p.done)
}

func (p *Pending) isDone() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Done is closed once the server has answered
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Err returns the server's rejection, if any. Only meaningful after Done.
func (p *Pending) Err() error {
	if !p.isDone() {
		return nil
	}
	return p.err
}

// Result returns the authoritative item the server answered with, for
// drafts and sends
func (p *Pending) Result() *types.MailItem {
	if !p.isDone() {
		return nil
	}
	return p.result
}

// Wait blocks until the server answers or ctx is done
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CanUndo reports whether Undo would issue an inverse action
func (p *Pending) CanUndo() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.inverse != nil && !p.undone && p.engine.now().Sub(p.created) <= p.engine.cfg.UndoWindow
}

// Undo issues the inverse action. It is a new mutation of its own; the
// original one is not rolled back.
func (p *Pending) Undo() (*Pending, error) {
	p.mu.Lock()
	if p.inverse == nil || p.undone {
		p.mu.Unlock()
		return nil, ErrNothingToUndo
	}
	if p.engine.now().Sub(p.created) > p.engine.cfg.UndoWindow {
		p.mu.Unlock()
		return nil, ErrUndoExpired
	}
	p.undone = true
	inverse := p.inverse
	p.mu.Unlock()

	return inverse()
}

func (p *Pending) setInverse(inverse func() (*Pending, error)) {
	p.mu.Lock()
	p.inverse = inverse
	p.mu.Unlock()
}

// join returns a Pending that finishes when all parts have, carrying the
// first error
func (e *Engine) join(op Operation, parts []*Pending) *Pending {
	if len(parts) == 1 {
		return parts[0]
	}
	var ids []string
	for _, part := range parts {
		ids = append(ids, part.IDs...)
	}
	p := e.newPending(op, ids)
	go func() {
		var first error
		for _, part := range parts {
			<-part.done
			if part.err != nil && first == nil {
				first = part.err
			}
		}
		p.finish(first)
	}()
	return p
}
