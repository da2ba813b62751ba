// Package filestore provides a durable storage medium backed by a
// directory, one file per key.
//
// Values are written to a temporary file and renamed into place, so a
// reader never sees a partial value. A key is stored under its base64url
// encoding; keys whose encoding would not fit in a file name are stored
// under their SHA-256 instead, with the key itself at the head of the file. A fsnotify watcher on the directory
// turns changes made by other processes into change events with an empty
// Area; writes through the Store itself are published synchronously with
// the Store's Area.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/vango-dev/vango-use/pkg/storage"
)

const (
	valuePrefix  = "k_"
	hashedPrefix = "h_"
	tempPrefix   = ".tmp-"

	// maxNameLen is NAME_MAX on common filesystems.
	maxNameLen = 255
)

// Option configures a Store.
type Option func(*storeConfig)

type storeConfig struct {
	kind   storage.Kind
	quota  int64
	watch  bool
	logger *slog.Logger
}

// WithKind sets the reported kind.
// Default: storage.Durable.
func WithKind(kind storage.Kind) Option {
	return func(c *storeConfig) {
		c.kind = kind
	}
}

// WithQuota caps the directory at n bytes, counted as len(key)+len(value).
// Zero disables the cap. Default: 0.
func WithQuota(n int64) Option {
	return func(c *storeConfig) {
		c.quota = n
	}
}

// WithoutWatch disables the directory watcher. Changes made by other
// processes are then not published.
func WithoutWatch() Option {
	return func(c *storeConfig) {
		c.watch = false
	}
}

// WithLogger sets the logger for watcher and read failures.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *storeConfig) {
		c.logger = logger
	}
}

// Store is a directory-backed storage.Store.
type Store struct {
	dir    string
	kind   storage.Kind
	area   string
	quota  int64
	logger *slog.Logger

	// mu guards cache and serializes writes. cache holds the last value
	// seen for each key; it supplies old values and lets the watcher skip
	// the echo of this Store's own writes.
	mu    sync.Mutex
	cache map[string]string
	used  int64

	// hashed maps hashed file names to their keys, so removals of long
	// keys can be reported after the file is gone.
	hashed map[string]string

	feed storage.Feed

	watcher *fsnotify.Watcher
	done    chan struct{}
	closed  atomic.Bool
}

var (
	_ storage.Store  = (*Store)(nil)
	_ storage.Lister = (*Store)(nil)
)

// Open opens the directory, creating it if needed, and starts watching it.
func Open(dir string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("filestore: directory is required")
	}

	cfg := &storeConfig{kind: storage.Durable, watch: true}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create directory: %w", err)
	}

	s := &Store{
		dir:    filepath.Clean(dir),
		kind:   cfg.kind,
		area:   uuid.NewString(),
		quota:  cfg.quota,
		logger: cfg.logger,
		cache:  make(map[string]string),
		hashed: make(map[string]string),
		done:   make(chan struct{}),
	}
	if err := s.loadCache(); err != nil {
		return nil, err
	}

	if !cfg.watch {
		close(s.done)
		return s, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filestore: create watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("filestore: watch %s: %w", s.dir, err)
	}
	s.watcher = w
	go s.watchLoop()

	return s, nil
}

func (s *Store) loadCache() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("filestore: read directory: %w", err)
	}
	for _, e := range entries {
		if !isEntryName(e.Name()) || e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		key, value, ok := s.entry(e.Name(), data, true)
		if !ok {
			continue
		}
		s.cache[key] = value
		s.used += int64(len(key) + len(value))
	}
	return nil
}

// Dir returns the backing directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) Kind() storage.Kind { return s.kind }
func (s *Store) Area() string       { return s.area }

func (s *Store) Get(_ context.Context, key string) (string, bool) {
	if s.closed.Load() {
		return "", false
	}

	name := fileName(key)
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("filestore read failed", "key", key, "error", err)
		}
		return "", false
	}
	if !strings.HasPrefix(name, hashedPrefix) {
		return string(data), true
	}
	stored, value, ok := decodeHashed(name, data)
	if !ok || stored != key {
		return "", false
	}
	return value, true
}

func (s *Store) Set(_ context.Context, key, value string) error {
	if s.closed.Load() {
		return storage.NewUnavailableError("set", key, nil)
	}

	s.mu.Lock()
	old, had := s.cache[key]
	if had && old == value {
		s.mu.Unlock()
		return nil
	}

	used := s.used + int64(len(value))
	if had {
		used -= int64(len(old))
	} else {
		used += int64(len(key))
	}
	if s.quota > 0 && used > s.quota {
		s.mu.Unlock()
		return storage.NewQuotaError("set", key, nil)
	}

	if err := s.writeFile(key, value); err != nil {
		s.mu.Unlock()
		return mapError("set", key, err)
	}
	s.cache[key] = value
	s.used = used
	if name := fileName(key); strings.HasPrefix(name, hashedPrefix) {
		s.hashed[name] = key
	}
	s.mu.Unlock()

	ev := storage.ChangeEvent{Key: key, NewValue: storage.StringPtr(value), Area: s.area, Kind: s.kind}
	if had {
		ev.OldValue = storage.StringPtr(old)
	}
	s.feed.Publish(ev)
	return nil
}

func (s *Store) writeFile(key, value string) error {
	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	name := fileName(key)
	if strings.HasPrefix(name, hashedPrefix) {
		value = encodeHashed(key, value)
	}
	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *Store) Remove(_ context.Context, key string) error {
	if s.closed.Load() {
		return storage.NewUnavailableError("remove", key, nil)
	}

	s.mu.Lock()
	name := fileName(key)
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.mu.Unlock()
		return mapError("remove", key, err)
	}
	delete(s.hashed, name)
	old, had := s.cache[key]
	if had {
		delete(s.cache, key)
		s.used -= int64(len(key) + len(old))
	}
	s.mu.Unlock()

	if had {
		s.feed.Publish(storage.ChangeEvent{Key: key, OldValue: storage.StringPtr(old), Area: s.area, Kind: s.kind})
	}
	return nil
}

func (s *Store) Clear(_ context.Context) error {
	if s.closed.Load() {
		return storage.NewUnavailableError("clear", "", nil)
	}

	s.mu.Lock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.mu.Unlock()
		return mapError("clear", "", err)
	}
	removed := 0
	for _, e := range entries {
		if !isEntryName(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.mu.Unlock()
			return mapError("clear", "", err)
		}
		removed++
	}
	s.cache = make(map[string]string)
	s.hashed = make(map[string]string)
	s.used = 0
	s.mu.Unlock()

	if removed > 0 {
		s.feed.Publish(storage.ChangeEvent{Area: s.area, Kind: s.kind})
	}
	return nil
}

func (s *Store) Keys(context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, storage.NewUnavailableError("keys", "", nil)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, mapError("keys", "", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if key, ok := keyFromName(name); ok {
			keys = append(keys, key)
			continue
		}
		if !strings.HasPrefix(name, hashedPrefix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		if key, _, ok := decodeHashed(name, data); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Subscribe(fn func(storage.ChangeEvent)) storage.Unsubscribe {
	return s.feed.Subscribe(fn)
}

// Close stops the watcher. The Store is unavailable afterwards.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	var err error
	if s.watcher != nil {
		err = s.watcher.Close()
	}
	<-s.done
	s.feed.Reset()
	return err
}

func (s *Store) watchLoop() {
	defer close(s.done)

	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleFSEvent(ev)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("filestore watcher error", "dir", s.dir, "error", err)
		}
	}
}

// handleFSEvent reconciles one file with the cache and publishes the
// difference. The file's current state decides, not the event's op, so
// coalesced or reordered notifications still converge.
func (s *Store) handleFSEvent(fev fsnotify.Event) {
	if s.closed.Load() {
		return
	}
	name := filepath.Base(fev.Name)
	if !isEntryName(name) {
		return
	}

	s.mu.Lock()
	data, err := os.ReadFile(fev.Name)
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.mu.Unlock()
		s.logger.Debug("filestore watcher read failed", "file", name, "error", err)
		return
	}
	key, value, ok := s.entry(name, data, exists)
	if !ok {
		s.mu.Unlock()
		return
	}
	if !exists {
		delete(s.hashed, name)
	}

	old, had := s.cache[key]
	if exists == had && (!exists || value == old) {
		s.mu.Unlock()
		return
	}

	if had {
		s.used -= int64(len(key) + len(old))
	}
	if exists {
		s.cache[key] = value
		s.used += int64(len(key) + len(value))
	} else {
		delete(s.cache, key)
	}
	s.mu.Unlock()

	ev := storage.ChangeEvent{Key: key, Kind: s.kind}
	if had {
		ev.OldValue = storage.StringPtr(old)
	}
	if exists {
		ev.NewValue = storage.StringPtr(value)
	}
	s.feed.Publish(ev)
}

// entry resolves the key and value held by the named file. A missing
// hashed file is resolved through the index. Caller holds s.mu.
func (s *Store) entry(name string, data []byte, exists bool) (key, value string, ok bool) {
	if !strings.HasPrefix(name, hashedPrefix) {
		key, ok = keyFromName(name)
		return key, string(data), ok
	}
	if !exists {
		key, ok = s.hashed[name]
		return key, "", ok
	}
	key, value, ok = decodeHashed(name, data)
	if ok {
		s.hashed[name] = key
	}
	return key, value, ok
}

func fileName(key string) string {
	name := valuePrefix + base64.RawURLEncoding.EncodeToString([]byte(key))
	if len(name) <= maxNameLen {
		return name
	}
	sum := sha256.Sum256([]byte(key))
	return hashedPrefix + hex.EncodeToString(sum[:])
}

func isEntryName(name string) bool {
	return strings.HasPrefix(name, valuePrefix) || strings.HasPrefix(name, hashedPrefix)
}

// encodeHashed prefixes value with the base64url key and a newline.
func encodeHashed(key, value string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key)) + "\n" + value
}

func decodeHashed(name string, data []byte) (key, value string, ok bool) {
	head, value, found := strings.Cut(string(data), "\n")
	if !found {
		return "", "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(head)
	if err != nil || fileName(string(raw)) != name {
		return "", "", false
	}
	return string(raw), value, true
}

func keyFromName(name string) (string, bool) {
	if !strings.HasPrefix(name, valuePrefix) {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(name, valuePrefix))
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// mapError treats a full disk as a quota failure and every other I/O error
// as unavailability.
func mapError(op, key string, err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return storage.NewQuotaError(op, key, err)
	}
	return storage.NewUnavailableError(op, key, err)
}
