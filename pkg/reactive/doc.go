// Package reactive provides the signal graph that storage cells are built on.
//
// Dependencies are tracked at runtime: reading a Signal while a listener
// (an Effect or a rendering component) is active subscribes that
// listener to the signal's changes.
//
// # Core Types
//
// Signal[T] is a reactive value container:
//
//	count := NewSignal(0)
//	value := count.Get()  // Read (subscribes current listener)
//	count.Set(5)          // Write (notifies subscribers)
//
// Effect runs side effects when dependencies change. Effects belong to an
// Owner and re-run when the owner drains its pending queue:
//
//	owner := NewOwner(nil)
//	WithOwner(owner, func() {
//	    CreateEffect(func() Cleanup {
//	        fmt.Println("Count is:", count.Get())
//	        return nil
//	    })
//	})
//	count.Set(1)
//	owner.RunPendingEffects()
//
// # Thread Safety
//
// All primitives are safe for concurrent use. The tracking context is
// per-goroutine, so goroutines that create signals or effects for a scope
// must enter it explicitly via WithOwner.
package reactive
