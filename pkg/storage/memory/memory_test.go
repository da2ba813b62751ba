package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/vango-dev/vango-use/pkg/storage"
)

func TestAreaSetGetRemove(t *testing.T) {
	ctx := context.Background()
	store := NewStore(storage.Durable)

	if _, ok := store.Get(ctx, "theme"); ok {
		t.Fatal("Get on empty medium should report absent")
	}
	if err := store.Set(ctx, "theme", "dark"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if v, ok := store.Get(ctx, "theme"); !ok || v != "dark" {
		t.Errorf("Get() = %q, %v; want dark, true", v, ok)
	}
	if err := store.Remove(ctx, "theme"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if err := store.Remove(ctx, "theme"); err != nil {
		t.Errorf("Remove() of missing key should be a no-op, got %v", err)
	}
	if _, ok := store.Get(ctx, "theme"); ok {
		t.Error("key should be gone after Remove")
	}
}

func TestEventsReachEveryHandle(t *testing.T) {
	ctx := context.Background()
	medium := New(storage.Session)
	tabA, tabB := medium.Open(), medium.Open()

	if tabA.Area() == tabB.Area() {
		t.Fatal("handles should have distinct areas")
	}

	var gotA, gotB []storage.ChangeEvent
	tabA.Subscribe(func(ev storage.ChangeEvent) { gotA = append(gotA, ev) })
	unsubB := tabB.Subscribe(func(ev storage.ChangeEvent) { gotB = append(gotB, ev) })

	_ = tabA.Set(ctx, "k", "1")
	_ = tabA.Set(ctx, "k", "1") // unchanged, no event
	_ = tabA.Set(ctx, "k", "2")

	if len(gotA) != 2 || len(gotB) != 2 {
		t.Fatalf("expected 2 events per handle, got %d and %d", len(gotA), len(gotB))
	}
	ev := gotB[1]
	if ev.Key != "k" || *ev.OldValue != "1" || *ev.NewValue != "2" {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.Area != tabA.Area() {
		t.Errorf("event area = %q, want writer area %q", ev.Area, tabA.Area())
	}
	if ev.Kind != storage.Session {
		t.Errorf("event kind = %v, want session", ev.Kind)
	}

	unsubB()
	unsubB()
	_ = tabA.Remove(ctx, "k")
	if len(gotB) != 2 {
		t.Error("unsubscribed listener should not receive events")
	}
	if last := gotA[len(gotA)-1]; !last.Removed() || *last.OldValue != "2" {
		t.Errorf("expected removal event, got %+v", last)
	}
}

func TestClearPublishesScopeEvent(t *testing.T) {
	ctx := context.Background()
	store := NewStore(storage.Durable)
	_ = store.Set(ctx, "a", "1")
	_ = store.Set(ctx, "b", "2")

	var cleared bool
	store.Subscribe(func(ev storage.ChangeEvent) { cleared = ev.Cleared() })

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if !cleared {
		t.Error("Clear should publish a cleared event")
	}
	if store.Medium().Len() != 0 || store.Medium().Used() != 0 {
		t.Error("Clear should empty the medium")
	}
}

func TestQuota(t *testing.T) {
	ctx := context.Background()
	store := NewStore(storage.Durable, WithQuota(10))

	if err := store.Set(ctx, "k", "12345"); err != nil {
		t.Fatalf("Set() within quota error: %v", err)
	}
	err := store.Set(ctx, "k2", strings.Repeat("x", 8))
	if !storage.IsQuotaExceeded(err) {
		t.Fatalf("expected quota error, got %v", err)
	}
	// Replacing a value only counts the difference.
	if err := store.Set(ctx, "k", "123456789"); err != nil {
		t.Errorf("replacing within quota should succeed, got %v", err)
	}
	if store.Medium().Used() != 10 {
		t.Errorf("Used() = %d, want 10", store.Medium().Used())
	}
}

func TestDisabledMedium(t *testing.T) {
	ctx := context.Background()
	store := NewStore(storage.Durable, Disabled())

	if _, ok := store.Get(ctx, "k"); ok {
		t.Error("disabled medium should report absent")
	}
	if err := store.Set(ctx, "k", "v"); !storage.IsUnavailable(err) {
		t.Errorf("Set() = %v, want unavailable", err)
	}
	if err := store.Remove(ctx, "k"); !storage.IsUnavailable(err) {
		t.Errorf("Remove() = %v, want unavailable", err)
	}
	if _, err := store.Keys(ctx); !storage.IsUnavailable(err) {
		t.Errorf("Keys() = %v, want unavailable", err)
	}

	store.Medium().SetDisabled(false)
	if err := store.Set(ctx, "k", "v"); err != nil {
		t.Errorf("re-enabled medium Set() error: %v", err)
	}
}

func TestKeysSorted(t *testing.T) {
	ctx := context.Background()
	store := NewStore(storage.Durable)
	for _, k := range []string{"b", "c", "a"} {
		_ = store.Set(ctx, k, k)
	}
	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error: %v", err)
	}
	if strings.Join(keys, ",") != "a,b,c" {
		t.Errorf("Keys() = %v", keys)
	}
}
