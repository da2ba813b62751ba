package middleware

import (
	"context"
	"fmt"

	"github.com/vango-dev/vango-use/pkg/storage"
)

// Middleware wraps a store.
type Middleware func(storage.Store) storage.Store

// Chain applies mws to store so that mws[0] is the outermost layer.
func Chain(store storage.Store, mws ...Middleware) storage.Store {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}

// hooks observe the operations of a wrapped store. Each hook receives the
// operation's context and returns the context the inner call runs with and
// a function called with the outcome.
type hooks struct {
	before func(ctx context.Context, op, key string) (context.Context, func(err error, extra int))
	event  func(ev storage.ChangeEvent)
}

// wrapped forwards to inner and reports every call to its hooks. It
// implements storage.Lister whether or not inner does.
type wrapped struct {
	inner storage.Store
	hooks hooks
}

func wrap(inner storage.Store, h hooks) *wrapped {
	return &wrapped{inner: inner, hooks: h}
}

// Unwrap returns the decorated store.
func (w *wrapped) Unwrap() storage.Store { return w.inner }

func (w *wrapped) Kind() storage.Kind { return w.inner.Kind() }
func (w *wrapped) Area() string       { return w.inner.Area() }

// Get reports extra as the value length on a hit and -1 on a miss.
func (w *wrapped) Get(ctx context.Context, key string) (string, bool) {
	ctx, done := w.hooks.before(ctx, "get", key)
	value, ok := w.inner.Get(ctx, key)
	if ok {
		done(nil, len(value))
	} else {
		done(nil, -1)
	}
	return value, ok
}

func (w *wrapped) Set(ctx context.Context, key, value string) error {
	ctx, done := w.hooks.before(ctx, "set", key)
	err := w.inner.Set(ctx, key, value)
	done(err, len(value))
	return err
}

func (w *wrapped) Remove(ctx context.Context, key string) error {
	ctx, done := w.hooks.before(ctx, "remove", key)
	err := w.inner.Remove(ctx, key)
	done(err, 0)
	return err
}

func (w *wrapped) Clear(ctx context.Context) error {
	ctx, done := w.hooks.before(ctx, "clear", "")
	err := w.inner.Clear(ctx)
	done(err, 0)
	return err
}

func (w *wrapped) Keys(ctx context.Context) ([]string, error) {
	lister, ok := w.inner.(storage.Lister)
	if !ok {
		return nil, fmt.Errorf("middleware: %T: %w", w.inner, storage.ErrNotListable)
	}
	ctx, done := w.hooks.before(ctx, "keys", "")
	keys, err := lister.Keys(ctx)
	done(err, len(keys))
	return keys, err
}

func (w *wrapped) Subscribe(fn func(storage.ChangeEvent)) storage.Unsubscribe {
	if w.hooks.event == nil {
		return w.inner.Subscribe(fn)
	}
	return w.inner.Subscribe(func(ev storage.ChangeEvent) {
		w.hooks.event(ev)
		fn(ev)
	})
}

// result names the outcome of an operation for labels and attributes.
func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case storage.IsQuotaExceeded(err):
		return "quota_exceeded"
	case storage.IsUnavailable(err):
		return "unavailable"
	default:
		return "error"
	}
}
