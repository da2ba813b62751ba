package storage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/vango-dev/vango-use/pkg/reactive"
)

// Cell is a reactive value bound to one key of a Store.
//
// The in-memory value is the source of truth for the current process:
// Set updates it before anything is persisted, and persistence failures
// never roll it back. Changes made by other writers arrive through the
// store's change feed.
type Cell[T any] struct {
	key    string
	store  Store
	codec  Codec[T]
	def    T
	opts   cellOptions
	signal *reactive.Signal[T]
	writes *writer

	unsub     Unsubscribe
	closed    atomic.Bool
	closeOnce sync.Once
}

// UseStorage binds a reactive value to key in store.
//
// The current raw value is read and decoded right away. A missing key, or
// one that fails to decode, yields def; a missing key is then written back
// unless WriteDefaults(false) is given. Unless ListenToStorageChanges(false)
// is given, the cell subscribes to the store's change feed.
//
// Called during a render, the cell is kept in the owner's hook slot and the
// same cell is returned on later renders. When an owner is current the
// subscription ends with the owner.
//
// An empty key panics.
func UseStorage[T any](store Store, key string, codec Codec[T], def T, opts ...Option) *Cell[T] {
	if key == "" {
		panic("storage: UseStorage requires a non-empty key")
	}

	owner := reactive.CurrentOwner()
	inRender := owner != nil && reactive.InRender()
	if inRender {
		if slot := owner.UseHookSlot(); slot != nil {
			c, ok := slot.(*Cell[T])
			if !ok {
				panic("storage: hook slot type mismatch for Cell")
			}
			return c
		}
	}

	if store == nil {
		store = Unavailable(Durable)
	}

	o := defaultCellOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	c := &Cell[T]{
		key:    key,
		store:  store,
		codec:  codec,
		def:    def,
		opts:   o,
		writes: newWriter(o.writeMode, o.wait),
	}

	reactive.WithoutHookSlots(func() {
		c.signal = reactive.NewSignal(c.load())
	})

	if o.listen {
		c.unsub = store.Subscribe(c.handleChange)
	}
	reactive.OnUnmount(c.Close)
	if inRender {
		owner.SetHookSlot(c)
	}
	return c
}

// load reads the initial value.
func (c *Cell[T]) load() T {
	raw, ok := c.store.Get(c.opts.ctx, c.key)
	if !ok {
		if c.opts.writeDefaults {
			c.persist(c.def, "write-default")
		}
		return c.def
	}

	value, err := c.codec.Decode(raw)
	if err != nil {
		c.report("decode", err)
		return c.def
	}
	return value
}

// Get returns the current value and subscribes the current listener.
func (c *Cell[T]) Get() T {
	return c.signal.Get()
}

// Peek returns the current value without subscribing.
func (c *Cell[T]) Peek() T {
	return c.signal.Peek()
}

// Set replaces the value and persists it. Subscribers see the new value
// before persistence completes; failures go to the error callback.
func (c *Cell[T]) Set(value T) {
	c.signal.Set(value)
	c.persist(value, "write")
}

// Update replaces the value with fn(current) and persists the result.
func (c *Cell[T]) Update(fn func(T) T) {
	c.signal.Update(fn)
	c.persist(c.signal.Peek(), "write")
}

// Remove resets the value to the default and deletes the key. A pending
// delayed write is dropped.
func (c *Cell[T]) Remove() {
	c.signal.Set(c.def)
	c.writes.now(func() {
		if err := c.store.Remove(c.opts.ctx, c.key); err != nil {
			c.report("remove", err)
		}
	})
}

// Split returns the cell as a getter, setter and remover triplet.
func (c *Cell[T]) Split() (get func() T, set func(T), remove func()) {
	return c.Get, c.Set, c.Remove
}

// Signal returns the underlying signal. Writing to it directly bypasses
// persistence.
func (c *Cell[T]) Signal() *reactive.Signal[T] {
	return c.signal
}

// Key returns the bound key.
func (c *Cell[T]) Key() string {
	return c.key
}

// Store returns the bound store.
func (c *Cell[T]) Store() Store {
	return c.store
}

// Flush waits until every scheduled write has reached the store.
func (c *Cell[T]) Flush(ctx context.Context) error {
	return c.writes.flush(ctx)
}

// Close flushes pending writes and stops following change events.
// Calling Close more than once is a no-op.
func (c *Cell[T]) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.unsub != nil {
			c.unsub()
		}
		c.writes.close()
	})
}

func (c *Cell[T]) persist(value T, op string) {
	raw, err := c.codec.Encode(value)
	if err != nil {
		c.report("encode", err)
		return
	}
	c.writes.schedule(func() {
		if err := c.store.Set(c.opts.ctx, c.key, raw); err != nil {
			c.report(op, err)
		}
	})
}

func (c *Cell[T]) handleChange(ev ChangeEvent) {
	if c.closed.Load() {
		return
	}
	if !ev.Cleared() && ev.Key != c.key {
		return
	}
	if c.opts.filterSelf && ev.Area != "" && ev.Area == c.store.Area() {
		return
	}
	if c.opts.filter != nil && !c.opts.filter(ev) {
		return
	}

	if ev.Removed() {
		c.signal.Set(c.def)
		return
	}

	value, err := c.codec.Decode(*ev.NewValue)
	if err != nil {
		c.report("decode", err)
		return
	}
	c.signal.Set(value)
}

func (c *Cell[T]) report(op string, err error) {
	cerr := &CellError{Key: c.key, Op: op, Err: err}
	if c.opts.onError != nil {
		reactive.Untracked(func() { c.opts.onError(cerr) })
		return
	}
	c.opts.logger.Warn("storage cell error",
		"key", c.key,
		"op", op,
		"kind", c.store.Kind().String(),
		"error", err,
	)
}
