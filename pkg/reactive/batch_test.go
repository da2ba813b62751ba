package reactive

import "testing"

func TestBatchDeduplicatesNotifications(t *testing.T) {
	a := NewSignal(0)
	b := NewSignal(0)
	listener := newTestListener()
	WithListener(listener, func() {
		_ = a.Get()
		_ = b.Get()
	})

	Batch(func() {
		a.Set(1)
		b.Set(2)
		if listener.getDirtyCount() != 0 {
			t.Error("notifications should be deferred inside a batch")
		}
	})

	if listener.getDirtyCount() != 1 {
		t.Errorf("expected 1 notification after batch, got %d", listener.getDirtyCount())
	}
}

func TestNestedBatch(t *testing.T) {
	a := NewSignal(0)
	listener := newTestListener()
	WithListener(listener, func() { _ = a.Get() })

	Batch(func() {
		Batch(func() { a.Set(1) })
		if listener.getDirtyCount() != 0 {
			t.Error("inner batch should not flush")
		}
	})

	if listener.getDirtyCount() != 1 {
		t.Errorf("expected 1 notification, got %d", listener.getDirtyCount())
	}
}

func TestUntracked(t *testing.T) {
	a := NewSignal(0)
	listener := newTestListener()
	WithListener(listener, func() {
		Untracked(func() { _ = a.Get() })
	})

	a.Set(1)
	if listener.getDirtyCount() != 0 {
		t.Error("untracked read should not subscribe")
	}
}
