package filestore

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/vango-use/pkg/storage"
)

type eventLog struct {
	mu     sync.Mutex
	events []storage.ChangeEvent
}

func (l *eventLog) add(ev storage.ChangeEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []storage.ChangeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]storage.ChangeEvent(nil), l.events...)
}

func (l *eventLog) forKey(key string) []storage.ChangeEvent {
	var out []storage.ChangeEvent
	for _, ev := range l.snapshot() {
		if ev.Key == key {
			out = append(out, ev)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func openTestStore(t *testing.T, dir string, opts ...Option) *Store {
	t.Helper()
	s, err := Open(dir, opts...)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFileNameRoundTrip(t *testing.T) {
	for _, key := range []string{"theme", "a/b", "../etc/passwd", "emoji 🎉", ".hidden"} {
		name := fileName(key)
		if filepath.Base(name) != name {
			t.Errorf("fileName(%q) = %q escapes the directory", key, name)
		}
		got, ok := keyFromName(name)
		if !ok || got != key {
			t.Errorf("keyFromName(fileName(%q)) = %q, %v", key, got, ok)
		}
	}
	if _, ok := keyFromName(".tmp-123"); ok {
		t.Error("temporary files must not decode as keys")
	}
}

func TestLongKeysUseHashedNames(t *testing.T) {
	for _, n := range []int{185, 190, 300, 4096} {
		key := strings.Repeat("k", n)
		name := fileName(key)
		if len(name) > maxNameLen {
			t.Errorf("len(fileName(%d-byte key)) = %d", n, len(name))
		}
		if !strings.HasPrefix(name, hashedPrefix) {
			t.Errorf("%d-byte key stored as %q, want a hashed name", n, name)
		}
		got, value, ok := decodeHashed(name, []byte(encodeHashed(key, "v\nw")))
		if !ok || got != key || value != "v\nw" {
			t.Errorf("decodeHashed(%d-byte key) = %d bytes, %q, %v", n, len(got), value, ok)
		}
	}
	if _, _, ok := decodeHashed(fileName(strings.Repeat("a", 300)), []byte(encodeHashed(strings.Repeat("b", 300), "v"))); ok {
		t.Error("a hashed file must not decode under another key's name")
	}
}

func TestStoreLongKey(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openTestStore(t, dir, WithoutWatch())
	key := "user." + strings.Repeat("x", 300)

	if err := s.Set(ctx, key, "dark"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	_ = s.Set(ctx, "short", "1")
	if v, ok := s.Get(ctx, key); !ok || v != "dark" {
		t.Errorf("Get() = %q, %v", v, ok)
	}
	keys, err := s.Keys(ctx)
	if err != nil || !reflect.DeepEqual(keys, []string{"short", key}) {
		t.Errorf("Keys() = %v, %v", keys, err)
	}

	reopened := openTestStore(t, dir, WithoutWatch())
	if v, ok := reopened.Get(ctx, key); !ok || v != "dark" {
		t.Errorf("Get() after reopen = %q, %v", v, ok)
	}
	if err := reopened.Remove(ctx, key); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if _, ok := s.Get(ctx, key); ok {
		t.Error("key should be gone after Remove")
	}
}

func TestWatcherPublishesForeignLongKey(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	watched := openTestStore(t, dir)
	writer := openTestStore(t, dir, WithoutWatch())
	key := strings.Repeat("z", 250)

	var log eventLog
	watched.Subscribe(log.add)

	_ = writer.Set(ctx, key, "1")
	waitFor(t, "set event", func() bool { return len(log.forKey(key)) >= 1 })

	_ = writer.Remove(ctx, key)
	waitFor(t, "remove event", func() bool {
		events := log.forKey(key)
		return len(events) >= 2 && events[len(events)-1].Removed()
	})
}

func TestStoreBasicOperations(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, t.TempDir(), WithoutWatch())

	if _, ok := s.Get(ctx, "k"); ok {
		t.Fatal("fresh store should be empty")
	}
	if err := s.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if v, ok := s.Get(ctx, "k"); !ok || v != "v1" {
		t.Errorf("Get() = %q, %v", v, ok)
	}
	if err := s.Set(ctx, "k", ""); err != nil {
		t.Fatalf("Set() empty error: %v", err)
	}
	if v, ok := s.Get(ctx, "k"); !ok || v != "" {
		t.Errorf("empty value should be present, got %q, %v", v, ok)
	}
	if err := s.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if _, ok := s.Get(ctx, "k"); ok {
		t.Error("key should be gone")
	}
	if err := s.Remove(ctx, "k"); err != nil {
		t.Errorf("second Remove() error: %v", err)
	}
}

func TestStoreLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openTestStore(t, dir, WithoutWatch())

	for i := 0; i < 5; i++ {
		_ = s.Set(ctx, "k", string(rune('a'+i)))
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1", len(entries))
	}
}

func TestStoreKeysAndClear(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, t.TempDir(), WithoutWatch())
	for _, k := range []string{"b", "a", "c"} {
		_ = s.Set(ctx, k, "v")
	}

	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"a", "b", "c"}) {
		t.Errorf("Keys() = %v", keys)
	}

	var log eventLog
	s.Subscribe(log.add)
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	_ = s.Clear(ctx)

	keys, _ = s.Keys(ctx)
	if len(keys) != 0 {
		t.Errorf("Keys() after Clear = %v", keys)
	}
	events := log.snapshot()
	if len(events) != 1 || !events[0].Cleared() {
		t.Errorf("events = %+v, want one cleared event", events)
	}
}

func TestStoreQuota(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, t.TempDir(), WithoutWatch(), WithQuota(16))

	if err := s.Set(ctx, "k", "0123456789"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := s.Set(ctx, "k2", "0123456789"); !storage.IsQuotaExceeded(err) {
		t.Errorf("expected quota error, got %v", err)
	}
	if _, ok := s.Get(ctx, "k2"); ok {
		t.Error("rejected write should not be stored")
	}
}

func TestStoreReopenCountsExistingData(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first := openTestStore(t, dir, WithoutWatch())
	_ = first.Set(ctx, "k", "0123456789")
	_ = first.Close()

	s := openTestStore(t, dir, WithoutWatch(), WithQuota(16))
	if v, _ := s.Get(ctx, "k"); v != "0123456789" {
		t.Errorf("Get() after reopen = %q", v)
	}
	if err := s.Set(ctx, "k2", "0123456789"); !storage.IsQuotaExceeded(err) {
		t.Errorf("existing data should count against the quota, got %v", err)
	}
}

func TestOwnWritesPublishedOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openTestStore(t, dir)
	other := openTestStore(t, dir, WithoutWatch())

	var log eventLog
	s.Subscribe(log.add)

	_ = s.Set(ctx, "k", "1")
	_ = s.Set(ctx, "k", "2")
	_ = other.Set(ctx, "sentinel", "x")
	waitFor(t, "sentinel event", func() bool { return len(log.forKey("sentinel")) == 1 })

	events := log.forKey("k")
	if len(events) != 2 {
		t.Fatalf("got %d events for k, want 2: %+v", len(events), events)
	}
	for _, ev := range events {
		if ev.Area != s.Area() {
			t.Errorf("own write event has area %q", ev.Area)
		}
	}
	if sentinel := log.forKey("sentinel")[0]; sentinel.Area != "" {
		t.Errorf("foreign write event area = %q, want empty", sentinel.Area)
	}
}

func TestWatcherPublishesForeignChanges(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	watched := openTestStore(t, dir)
	writer := openTestStore(t, dir, WithoutWatch())

	var log eventLog
	watched.Subscribe(log.add)

	_ = writer.Set(ctx, "theme", "dark")
	waitFor(t, "set event", func() bool { return len(log.forKey("theme")) >= 1 })

	ev := log.forKey("theme")[0]
	if ev.NewValue == nil || *ev.NewValue != "dark" || ev.OldValue != nil {
		t.Errorf("set event = %+v", ev)
	}

	_ = writer.Remove(ctx, "theme")
	waitFor(t, "remove event", func() bool {
		events := log.forKey("theme")
		return len(events) >= 2 && events[len(events)-1].Removed()
	})
	events := log.forKey("theme")
	if last := events[len(events)-1]; last.OldValue == nil || *last.OldValue != "dark" {
		t.Errorf("remove event = %+v", last)
	}
}

func TestCellFollowsOtherProcess(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openTestStore(t, dir)
	writer := openTestStore(t, dir, WithoutWatch())

	cell := storage.UseStorage(s, "count", storage.StringCodec[int]{}, 0, storage.WriteDefaults(false))
	defer cell.Close()

	_ = writer.Set(ctx, "count", "12")
	waitFor(t, "cell update", func() bool { return cell.Peek() == 12 })
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	_ = s.Close()

	if err := s.Set(ctx, "k", "v"); !storage.IsUnavailable(err) {
		t.Errorf("Set() after Close = %v, want unavailable", err)
	}
}
