package reactive

import "testing"

func TestOwnerDisposeOrder(t *testing.T) {
	root := NewOwner(nil)
	child := NewOwner(root)

	var order []string
	root.OnCleanup(func() { order = append(order, "root-1") })
	root.OnCleanup(func() { order = append(order, "root-2") })
	child.OnCleanup(func() { order = append(order, "child") })

	root.Dispose()
	root.Dispose()

	want := []string{"child", "root-2", "root-1"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
	if !child.IsDisposed() {
		t.Error("child should be disposed with its parent")
	}
}

func TestOnCleanupAfterDisposeRunsImmediately(t *testing.T) {
	owner := NewOwner(nil)
	owner.Dispose()

	ran := false
	owner.OnCleanup(func() { ran = true })
	if !ran {
		t.Error("cleanup on disposed owner should run immediately")
	}
}

func TestContextLookupWalksParents(t *testing.T) {
	type key struct{}
	root := NewOwner(nil)
	defer root.Dispose()
	child := NewOwner(root)

	WithOwner(root, func() { SetContext(key{}, "dark") })

	var got any
	WithOwner(child, func() { got = GetContext(key{}) })
	if got != "dark" {
		t.Errorf("expected dark, got %v", got)
	}

	if GetContext(key{}) != nil {
		t.Error("GetContext without owner should return nil")
	}
}
