// Package memory provides an in-process storage medium.
//
// A Medium holds the data; each handle returned by Open plays the role of
// one browsing context (a tab) looking at it. Writes through any handle
// are delivered as change events to the listeners of every handle,
// including the writer's own, tagged with the writer's Area.
//
//	medium := memory.New(storage.Durable, memory.WithQuota(1<<20))
//	tabA, tabB := medium.Open(), medium.Open()
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/vango-dev/vango-use/pkg/storage"
)

// DefaultQuota mirrors the usual per-origin Web Storage limit.
const DefaultQuota = 5 << 20

// Option configures a Medium.
type Option func(*mediumConfig)

type mediumConfig struct {
	quota    int
	disabled bool
}

// WithQuota sets the capacity in bytes, counted as len(key)+len(value) over
// all entries. Zero or a negative value disables the limit.
func WithQuota(bytes int) Option {
	return func(c *mediumConfig) {
		c.quota = bytes
	}
}

// Disabled makes every operation fail as if storage were turned off.
func Disabled() Option {
	return func(c *mediumConfig) {
		c.disabled = true
	}
}

// Medium is the shared in-memory key/value data.
type Medium struct {
	kind  storage.Kind
	quota int

	mu       sync.RWMutex
	data     map[string]string
	used     int
	disabled bool

	feed storage.Feed
}

// New creates an empty Medium.
func New(kind storage.Kind, opts ...Option) *Medium {
	cfg := &mediumConfig{quota: DefaultQuota}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Medium{
		kind:     kind,
		quota:    cfg.quota,
		data:     make(map[string]string),
		disabled: cfg.disabled,
	}
}

// NewStore is shorthand for New(kind, opts...).Open().
func NewStore(kind storage.Kind, opts ...Option) *Area {
	return New(kind, opts...).Open()
}

// Open returns a new handle with its own Area identity.
func (m *Medium) Open() *Area {
	return &Area{medium: m, id: uuid.NewString()}
}

// SetDisabled turns the medium off or back on.
func (m *Medium) SetDisabled(disabled bool) {
	m.mu.Lock()
	m.disabled = disabled
	m.mu.Unlock()
}

// Notify delivers ev to all listeners without touching the data. Tests use
// it to simulate changes made elsewhere.
func (m *Medium) Notify(ev storage.ChangeEvent) {
	ev.Kind = m.kind
	m.feed.Publish(ev)
}

// Len returns the number of stored keys.
func (m *Medium) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Used returns the bytes counted against the quota.
func (m *Medium) Used() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}

func (m *Medium) get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.disabled {
		return "", false
	}
	v, ok := m.data[key]
	return v, ok
}

func (m *Medium) set(area, key, value string) error {
	m.mu.Lock()
	if m.disabled {
		m.mu.Unlock()
		return storage.NewUnavailableError("set", key, nil)
	}

	old, had := m.data[key]
	used := m.used + len(value)
	if had {
		used -= len(old)
	} else {
		used += len(key)
	}
	if m.quota > 0 && used > m.quota {
		m.mu.Unlock()
		return storage.NewQuotaError("set", key, nil)
	}
	if had && old == value {
		m.mu.Unlock()
		return nil
	}
	m.data[key] = value
	m.used = used
	m.mu.Unlock()

	ev := storage.ChangeEvent{Key: key, NewValue: storage.StringPtr(value), Area: area, Kind: m.kind}
	if had {
		ev.OldValue = storage.StringPtr(old)
	}
	m.feed.Publish(ev)
	return nil
}

func (m *Medium) remove(area, key string) error {
	m.mu.Lock()
	if m.disabled {
		m.mu.Unlock()
		return storage.NewUnavailableError("remove", key, nil)
	}
	old, had := m.data[key]
	if !had {
		m.mu.Unlock()
		return nil
	}
	delete(m.data, key)
	m.used -= len(key) + len(old)
	m.mu.Unlock()

	m.feed.Publish(storage.ChangeEvent{Key: key, OldValue: storage.StringPtr(old), Area: area, Kind: m.kind})
	return nil
}

func (m *Medium) clear(area string) error {
	m.mu.Lock()
	if m.disabled {
		m.mu.Unlock()
		return storage.NewUnavailableError("clear", "", nil)
	}
	empty := len(m.data) == 0
	m.data = make(map[string]string)
	m.used = 0
	m.mu.Unlock()

	if !empty {
		m.feed.Publish(storage.ChangeEvent{Area: area, Kind: m.kind})
	}
	return nil
}

func (m *Medium) keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.disabled {
		return nil, storage.NewUnavailableError("keys", "", nil)
	}
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Area is one handle on a Medium. It implements storage.Store and
// storage.Lister.
type Area struct {
	medium *Medium
	id     string
}

var (
	_ storage.Store  = (*Area)(nil)
	_ storage.Lister = (*Area)(nil)
)

// Medium returns the medium behind this handle.
func (a *Area) Medium() *Medium { return a.medium }

func (a *Area) Kind() storage.Kind { return a.medium.kind }
func (a *Area) Area() string       { return a.id }

func (a *Area) Get(_ context.Context, key string) (string, bool) {
	return a.medium.get(key)
}

func (a *Area) Set(_ context.Context, key, value string) error {
	return a.medium.set(a.id, key, value)
}

func (a *Area) Remove(_ context.Context, key string) error {
	return a.medium.remove(a.id, key)
}

func (a *Area) Clear(context.Context) error {
	return a.medium.clear(a.id)
}

func (a *Area) Keys(context.Context) ([]string, error) {
	return a.medium.keys()
}

func (a *Area) Subscribe(fn func(storage.ChangeEvent)) storage.Unsubscribe {
	return a.medium.feed.Subscribe(fn)
}
