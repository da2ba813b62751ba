package storage

import (
	"context"
	"sync"

	"github.com/vango-dev/vango-use/pkg/reactive"
)

// Kind identifies the lifetime of a medium.
type Kind int

const (
	// Session media are cleared when the session ends.
	Session Kind = iota
	// Durable media survive restarts.
	Durable
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Session:
		return "session"
	case Durable:
		return "durable"
	default:
		return "unknown"
	}
}

// ParseKind parses "session" or "durable". "local" is accepted as an alias
// for durable.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "session":
		return Session, true
	case "durable", "local":
		return Durable, true
	default:
		return 0, false
	}
}

// Store is a handle on an external key/value medium.
// Implementations hold no domain state of their own and must be safe for
// concurrent use.
type Store interface {
	// Kind reports whether the medium is session-scoped or durable.
	Kind() Kind

	// Area identifies this handle. Change events caused by writes through
	// this handle carry the same Area, which lets a Cell skip its own echoes.
	Area() string

	// Get returns the raw value for key. Missing keys and read failures
	// both report false.
	Get(ctx context.Context, key string) (string, bool)

	// Set stores value under key. Failures are *StoreError values with
	// reason ErrQuotaExceeded or ErrUnavailable.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Clear removes every key in the medium's scope.
	Clear(ctx context.Context) error

	// Subscribe registers fn for change events of this scope.
	Subscribe(fn func(ChangeEvent)) Unsubscribe
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	Keys(ctx context.Context) ([]string, error)
}

// Unsubscribe removes a change listener. Calling it more than once, or
// after the medium is gone, is a no-op.
type Unsubscribe func()

// ChangeEvent describes a change to a medium.
type ChangeEvent struct {
	// Key is the changed key. An empty Key means the scope was cleared.
	Key string

	// OldValue and NewValue are nil when the key was absent before or
	// after the change.
	OldValue *string
	NewValue *string

	// Area is the handle that made the change, empty when unknown
	// (for example a write by another process).
	Area string

	Kind Kind
}

// Cleared reports whether the event is a whole-scope clear.
func (e ChangeEvent) Cleared() bool {
	return e.Key == ""
}

// Removed reports whether the key no longer has a value.
func (e ChangeEvent) Removed() bool {
	return e.Key == "" || e.NewValue == nil
}

// StringPtr returns a pointer to s, for building ChangeEvents.
func StringPtr(s string) *string {
	return &s
}

// Feed fans change events out to any number of listeners.
// The zero value is ready to use.
type Feed struct {
	mu     sync.RWMutex
	subs   []feedSub
	nextID uint64
}

type feedSub struct {
	id uint64
	fn func(ChangeEvent)
}

// Subscribe registers fn. The returned Unsubscribe is idempotent.
func (f *Feed) Subscribe(fn func(ChangeEvent)) Unsubscribe {
	if fn == nil {
		return func() {}
	}

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs = append(f.subs, feedSub{id: id, fn: fn})
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { f.remove(id) })
	}
}

func (f *Feed) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, s := range f.subs {
		if s.id == id {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every listener registered at the time of the call.
// No lock is held while listeners run, so they may subscribe, unsubscribe
// or write to the store.
//
// Delivery runs in one reactive batch: when a clear resets several cells,
// an effect that reads more than one of them runs once.
func (f *Feed) Publish(ev ChangeEvent) {
	f.mu.RLock()
	subs := make([]feedSub, len(f.subs))
	copy(subs, f.subs)
	f.mu.RUnlock()

	reactive.Batch(func() {
		for _, s := range subs {
			s.fn(ev)
		}
	})
}

// Len returns the number of registered listeners.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Reset drops every listener.
func (f *Feed) Reset() {
	f.mu.Lock()
	f.subs = nil
	f.mu.Unlock()
}

// Unavailable returns a Store for a medium that does not exist. Reads
// report absence, writes fail with ErrUnavailable and subscriptions never
// fire.
func Unavailable(kind Kind) Store {
	return unavailableStore{kind: kind}
}

type unavailableStore struct {
	kind Kind
}

func (s unavailableStore) Kind() Kind   { return s.kind }
func (s unavailableStore) Area() string { return "" }

func (s unavailableStore) Get(context.Context, string) (string, bool) {
	return "", false
}

func (s unavailableStore) Set(_ context.Context, key, _ string) error {
	return NewUnavailableError("set", key, nil)
}

func (s unavailableStore) Remove(_ context.Context, key string) error {
	return NewUnavailableError("remove", key, nil)
}

func (s unavailableStore) Clear(context.Context) error {
	return NewUnavailableError("clear", "", nil)
}

func (s unavailableStore) Subscribe(func(ChangeEvent)) Unsubscribe {
	return func() {}
}
