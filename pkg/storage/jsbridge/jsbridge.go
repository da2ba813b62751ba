// Package jsbridge exposes storage.Stores to JavaScript running in a goja
// runtime, with the Web Storage API shape:
//
//	vm := goja.New()
//	b := jsbridge.New(vm)
//	b.Bind("localStorage", durable)
//	b.Bind("sessionStorage", session)
//
//	vm.RunString(`
//	    addEventListener("storage", e => console.log(e.key, e.newValue))
//	    localStorage.setItem("theme", "dark")
//	`)
//
// A goja.Runtime is not safe for concurrent use, while change events arrive
// on whatever goroutine wrote to the store. The bridge queues them; the
// goroutine that owns the runtime delivers them by calling Pump. As in
// browsers, a change made through a bound object does not fire a storage
// event for that same runtime.
package jsbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/vango-dev/vango-use/pkg/storage"
)

// Option configures a Bridge.
type Option func(*Bridge)

// WithContext sets the context passed to store operations.
// Default: context.Background().
func WithContext(ctx context.Context) Option {
	return func(b *Bridge) {
		b.ctx = ctx
	}
}

type listener struct {
	value goja.Value
	fn    goja.Callable
}

type pending struct {
	ev   storage.ChangeEvent
	area *goja.Object
}

// Bridge connects stores to one goja runtime.
type Bridge struct {
	vm  *goja.Runtime
	ctx context.Context

	// listeners and unsubs are only touched on the runtime's goroutine.
	listeners []listener
	unsubs    []storage.Unsubscribe

	mu    sync.Mutex
	queue []pending
}

// New installs addEventListener and removeEventListener as globals of vm.
func New(vm *goja.Runtime, opts ...Option) *Bridge {
	b := &Bridge{vm: vm, ctx: context.Background()}
	for _, opt := range opts {
		opt(b)
	}

	_ = vm.Set("addEventListener", b.addEventListener)
	_ = vm.Set("removeEventListener", b.removeEventListener)
	return b
}

// Bind installs a Web Storage object for store as the global name.
func (b *Bridge) Bind(name string, store storage.Store) error {
	if name == "" {
		return fmt.Errorf("jsbridge: name is required")
	}

	obj := b.newStorageObject(store)
	if err := b.vm.Set(name, obj); err != nil {
		return fmt.Errorf("jsbridge: bind %s: %w", name, err)
	}

	unsub := store.Subscribe(func(ev storage.ChangeEvent) {
		if ev.Area != "" && ev.Area == store.Area() {
			return
		}
		b.mu.Lock()
		b.queue = append(b.queue, pending{ev: ev, area: obj})
		b.mu.Unlock()
	})
	b.unsubs = append(b.unsubs, unsub)
	return nil
}

// Pending returns the number of queued events.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Pump delivers queued events to the storage listeners. It must run on the
// goroutine that owns the runtime. It returns the number of events
// delivered and the exceptions thrown by listeners, if any.
func (b *Bridge) Pump() (int, error) {
	b.mu.Lock()
	queue := b.queue
	b.queue = nil
	b.mu.Unlock()

	var errs []error
	for _, p := range queue {
		event := b.newStorageEvent(p)
		for _, l := range append([]listener(nil), b.listeners...) {
			if _, err := l.fn(goja.Undefined(), event); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return len(queue), errors.Join(errs...)
}

// Close stops following the bound stores and drops queued events.
func (b *Bridge) Close() {
	for _, unsub := range b.unsubs {
		unsub()
	}
	b.unsubs = nil

	b.mu.Lock()
	b.queue = nil
	b.mu.Unlock()
}

func (b *Bridge) addEventListener(call goja.FunctionCall) goja.Value {
	if call.Argument(0).String() != "storage" {
		return goja.Undefined()
	}
	value := call.Argument(1)
	fn, ok := goja.AssertFunction(value)
	if !ok {
		return goja.Undefined()
	}
	for _, l := range b.listeners {
		if l.value.SameAs(value) {
			return goja.Undefined()
		}
	}
	b.listeners = append(b.listeners, listener{value: value, fn: fn})
	return goja.Undefined()
}

func (b *Bridge) removeEventListener(call goja.FunctionCall) goja.Value {
	if call.Argument(0).String() != "storage" {
		return goja.Undefined()
	}
	value := call.Argument(1)
	for i, l := range b.listeners {
		if l.value.SameAs(value) {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			break
		}
	}
	return goja.Undefined()
}

func (b *Bridge) newStorageEvent(p pending) *goja.Object {
	event := b.vm.NewObject()
	_ = event.Set("type", "storage")
	_ = event.Set("key", b.nullable(p.ev.Key, !p.ev.Cleared()))
	_ = event.Set("oldValue", b.nullableRef(p.ev.OldValue))
	_ = event.Set("newValue", b.nullableRef(p.ev.NewValue))
	_ = event.Set("storageArea", p.area)
	return event
}

func (b *Bridge) nullable(s string, ok bool) goja.Value {
	if !ok {
		return goja.Null()
	}
	return b.vm.ToValue(s)
}

func (b *Bridge) nullableRef(s *string) goja.Value {
	if s == nil {
		return goja.Null()
	}
	return b.vm.ToValue(*s)
}

func (b *Bridge) newStorageObject(store storage.Store) *goja.Object {
	vm := b.vm
	obj := vm.NewObject()

	_ = obj.Set("getItem", func(call goja.FunctionCall) goja.Value {
		value, ok := store.Get(b.ctx, call.Argument(0).String())
		return b.nullable(value, ok)
	})

	_ = obj.Set("setItem", func(call goja.FunctionCall) goja.Value {
		if err := store.Set(b.ctx, call.Argument(0).String(), call.Argument(1).String()); err != nil {
			b.throw(err)
		}
		return goja.Undefined()
	})

	_ = obj.Set("removeItem", func(call goja.FunctionCall) goja.Value {
		if err := store.Remove(b.ctx, call.Argument(0).String()); err != nil {
			b.throw(err)
		}
		return goja.Undefined()
	})

	_ = obj.Set("clear", func(goja.FunctionCall) goja.Value {
		if err := store.Clear(b.ctx); err != nil {
			b.throw(err)
		}
		return goja.Undefined()
	})

	_ = obj.Set("key", func(call goja.FunctionCall) goja.Value {
		keys := b.keys(store)
		i := call.Argument(0).ToInteger()
		if i < 0 || i >= int64(len(keys)) {
			return goja.Null()
		}
		return vm.ToValue(keys[i])
	})

	length := vm.ToValue(func(goja.FunctionCall) goja.Value {
		return vm.ToValue(len(b.keys(store)))
	})
	_ = obj.DefineAccessorProperty("length", length, nil, goja.FLAG_FALSE, goja.FLAG_TRUE)

	return obj
}

// keys lists the store's keys. Stores that cannot list look empty.
func (b *Bridge) keys(store storage.Store) []string {
	lister, ok := store.(storage.Lister)
	if !ok {
		return nil
	}
	keys, err := lister.Keys(b.ctx)
	if err != nil {
		return nil
	}
	return keys
}

// throw raises err as a JS exception named the way browsers name storage
// failures.
func (b *Bridge) throw(err error) {
	name := "Error"
	switch {
	case storage.IsQuotaExceeded(err):
		name = "QuotaExceededError"
	case storage.IsUnavailable(err):
		name = "SecurityError"
	}
	exc := b.vm.NewGoError(err)
	_ = exc.Set("name", name)
	panic(exc)
}
