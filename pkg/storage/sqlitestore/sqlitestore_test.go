package sqlitestore

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/vango-dev/vango-use/pkg/storage"
)

func openTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "storage.db"), opts...)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Error("expected error for blank path")
	}
}

func TestStoreBasicOperations(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t).Store("app", storage.Durable)

	if _, ok := s.Get(ctx, "k"); ok {
		t.Fatal("fresh store should be empty")
	}
	if err := s.Set(ctx, "k", "party time 🎉"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if v, ok := s.Get(ctx, "k"); !ok || v != "party time 🎉" {
		t.Errorf("Get() = %q, %v", v, ok)
	}
	if err := s.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("Set() overwrite error: %v", err)
	}
	if v, _ := s.Get(ctx, "k"); v != "v2" {
		t.Errorf("Get() = %q, want v2", v)
	}
	if err := s.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if _, ok := s.Get(ctx, "k"); ok {
		t.Error("key should be gone after Remove")
	}
	if err := s.Remove(ctx, "missing"); err != nil {
		t.Errorf("removing a missing key should succeed, got %v", err)
	}
}

func TestStoreEmptyValue(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t).Store("app", storage.Durable)

	_ = s.Set(ctx, "k", "")
	if v, ok := s.Get(ctx, "k"); !ok || v != "" {
		t.Errorf("Get() = %q, %v; want present empty string", v, ok)
	}
}

func TestScopesAreIsolated(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	a := db.Store("a", storage.Durable)
	b := db.Store("b", storage.Session)

	_ = a.Set(ctx, "k", "from-a")
	if _, ok := b.Get(ctx, "k"); ok {
		t.Error("scope b should not see scope a")
	}
	_ = b.Set(ctx, "k", "from-b")
	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if v, _ := a.Get(ctx, "k"); v != "from-a" {
		t.Errorf("clearing b touched a: %q", v)
	}

	scopes, err := db.Scopes(ctx)
	if err != nil {
		t.Fatalf("Scopes() error: %v", err)
	}
	if !reflect.DeepEqual(scopes, []string{"a"}) {
		t.Errorf("Scopes() = %v, want [a]", scopes)
	}
}

func TestValuesSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "storage.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	_ = db.Store("app", storage.Durable).Set(ctx, "theme", "dark")
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer db.Close()
	if v, _ := db.Store("app", storage.Durable).Get(ctx, "theme"); v != "dark" {
		t.Errorf("Get() after reopen = %q, want dark", v)
	}
}

func TestChangeEventsAcrossHandles(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	writer := db.Store("app", storage.Durable)
	reader := db.Store("app", storage.Durable)
	other := db.Store("other", storage.Durable)

	var events []storage.ChangeEvent
	unsub := reader.Subscribe(func(ev storage.ChangeEvent) { events = append(events, ev) })
	other.Subscribe(func(ev storage.ChangeEvent) { t.Errorf("event leaked to other scope: %+v", ev) })

	_ = writer.Set(ctx, "k", "1")
	_ = writer.Set(ctx, "k", "1")
	_ = writer.Set(ctx, "k", "2")
	_ = writer.Remove(ctx, "k")
	_ = writer.Set(ctx, "j", "x")
	_ = writer.Clear(ctx)
	_ = writer.Clear(ctx)

	if len(events) != 5 {
		t.Fatalf("got %d events, want 5: %+v", len(events), events)
	}
	if events[0].OldValue != nil || *events[0].NewValue != "1" || events[0].Area != writer.Area() {
		t.Errorf("first event = %+v", events[0])
	}
	if *events[1].OldValue != "1" || *events[1].NewValue != "2" {
		t.Errorf("update event = %+v", events[1])
	}
	if !events[2].Removed() || *events[2].OldValue != "2" {
		t.Errorf("remove event = %+v", events[2])
	}
	if !events[4].Cleared() {
		t.Errorf("clear event = %+v", events[4])
	}

	unsub()
	_ = writer.Set(ctx, "k", "3")
	if len(events) != 5 {
		t.Error("listener fired after unsubscribe")
	}
}

func TestMaxBytes(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t, WithMaxBytes(16)).Store("app", storage.Durable)

	if err := s.Set(ctx, "k", "0123456789"); err != nil {
		t.Fatalf("Set() within quota error: %v", err)
	}
	err := s.Set(ctx, "k2", "0123456789")
	if !storage.IsQuotaExceeded(err) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if _, ok := s.Get(ctx, "k2"); ok {
		t.Error("rejected write should not be stored")
	}
	if err := s.Set(ctx, "k", "012345678901234"); err != nil {
		t.Errorf("replacing within quota should succeed, got %v", err)
	}
}

func TestKeysSorted(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t).Store("app", storage.Durable)
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
}

func TestClosedDBIsUnavailable(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s := db.Store("app", storage.Durable)
	_ = s.Set(ctx, "k", "v")
	_ = db.Close()

	if _, ok := s.Get(ctx, "k"); ok {
		t.Error("closed store should report absence")
	}
	if err := s.Set(ctx, "k", "v2"); !storage.IsUnavailable(err) {
		t.Errorf("Set() on closed store = %v, want unavailable", err)
	}
	if _, err := s.Keys(ctx); !storage.IsUnavailable(err) {
		t.Errorf("Keys() on closed store = %v, want unavailable", err)
	}
}

func TestInMemoryDB(t *testing.T) {
	ctx := context.Background()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) error: %v", err)
	}
	defer db.Close()

	s := db.Store("app", storage.Session)
	_ = s.Set(ctx, "k", "v")
	if v, _ := s.Get(ctx, "k"); v != "v" {
		t.Errorf("Get() = %q, want v", v)
	}
}

func TestCellOnSQLite(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	tabA := db.Store("app", storage.Durable)
	tabB := db.Store("app", storage.Durable)

	a := storage.UseStorage(tabA, "count", storage.StringCodec[int]{}, 0)
	defer a.Close()
	b := storage.UseStorage(tabB, "count", storage.StringCodec[int]{}, 0, storage.FilterSelfEvents(true))
	defer b.Close()

	a.Set(5)
	if b.Get() != 5 {
		t.Errorf("second handle sees %d, want 5", b.Get())
	}
	if v, _ := tabB.Get(ctx, "count"); v != "5" {
		t.Errorf("persisted = %q, want 5", v)
	}
}
