package optimistic

import (
	"fmt"

	"github.com/brandon/mailsync/internal/cache"
)

// Reducer contributes extra optimistic writes for an item action. Reducers
// run after the built-in write and before the request is sent.
type Reducer interface {
	Reduce(store *cache.Store, req ActionRequest)
}

// ReducerFunc adapts a function to Reducer
type ReducerFunc func(store *cache.Store, req ActionRequest)

func (f ReducerFunc) Reduce(store *cache.Store, req ActionRequest) { f(store, req) }

type namedReducer struct {
	namespace string
	reducer   Reducer
}

// RegisterReducer adds r under namespace. Reducers run in registration order.
func (e *Engine) RegisterReducer(namespace string, r Reducer) error {
	if namespace == "" || r == nil {
		return fmt.Errorf("reducer namespace and implementation are required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, existing := range e.reducers {
		if existing.namespace == namespace {
			return fmt.Errorf("reducer %q already registered", namespace)
		}
	}
	e.reducers = append(e.reducers, namedReducer{namespace: namespace, reducer: r})
	e.logger.WithField("namespace", namespace).Debug("Registered reducer")
	return nil
}

// UnregisterReducer removes the reducer registered under namespace
func (e *Engine) UnregisterReducer(namespace string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, existing := range e.reducers {
		if existing.namespace == namespace {
			e.reducers = append(e.reducers[:i], e.reducers[i+1:]...)
			return true
		}
	}
	return false
}

func (e *Engine) reduce(req ActionRequest) {
	e.mu.Lock()
	reducers := append([]namedReducer(nil), e.reducers...)
	e.mu.Unlock()

	for _, r := range reducers {
		r.reducer.Reduce(e.store, req)
	}
}
