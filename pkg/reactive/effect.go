package reactive

import (
	"sync"
	"sync/atomic"
)

// Effect is a reactive side effect. It runs once on creation and is
// rescheduled on its owner whenever a signal or memo it read changes.
type Effect struct {
	id uint64

	fn      func() Cleanup
	cleanup Cleanup

	sources   []*signalBase
	sourcesMu sync.Mutex

	owner *Owner

	// pending is set while the effect waits for a re-run.
	pending  atomic.Bool
	disposed atomic.Bool

	// running guards the re-run loop of ownerless effects.
	running atomic.Bool

	// runMu serializes runs triggered from different goroutines.
	runMu sync.Mutex
}

// MarkDirty schedules the effect on its owner. Ownerless effects re-run
// immediately on the notifying goroutine.
func (e *Effect) MarkDirty() {
	if e.disposed.Load() {
		return
	}

	if !e.pending.CompareAndSwap(false, true) {
		return
	}
	if e.owner != nil {
		e.owner.scheduleEffect(e)
		return
	}
	e.drain()
}

// drain re-runs an ownerless effect until no change is pending. A write
// made by the effect body is picked up by the loop instead of recursing.
func (e *Effect) drain() {
	for {
		if !e.running.CompareAndSwap(false, true) {
			return
		}
		for e.pending.Load() && !e.disposed.Load() {
			e.run()
		}
		e.running.Store(false)
		if !e.pending.Load() || e.disposed.Load() {
			return
		}
	}
}

// ID returns the unique identifier for this effect.
func (e *Effect) ID() uint64 {
	return e.id
}

func (e *Effect) run() {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.disposed.Load() {
		return
	}
	e.pending.Store(false)

	if e.cleanup != nil {
		e.cleanup()
		e.cleanup = nil
	}

	e.sourcesMu.Lock()
	for _, source := range e.sources {
		source.unsubscribe(e)
	}
	e.sources = e.sources[:0]
	e.sourcesMu.Unlock()

	oldListener := setCurrentListener(e)
	oldOwner := setCurrentOwner(e.owner)
	e.cleanup = e.fn()
	setCurrentOwner(oldOwner)
	setCurrentListener(oldListener)
}

func (e *Effect) addSource(source *signalBase) {
	e.sourcesMu.Lock()
	defer e.sourcesMu.Unlock()

	for _, s := range e.sources {
		if s == source {
			return
		}
	}
	e.sources = append(e.sources, source)
}

// Dispose stops the effect, runs its cleanup and unsubscribes it.
// Disposing twice is a no-op.
func (e *Effect) Dispose() {
	if e.disposed.Swap(true) {
		return
	}

	e.runMu.Lock()
	if e.cleanup != nil {
		e.cleanup()
		e.cleanup = nil
	}
	e.runMu.Unlock()

	e.sourcesMu.Lock()
	for _, source := range e.sources {
		source.unsubscribe(e)
	}
	e.sources = nil
	e.sourcesMu.Unlock()
}

// CreateEffect creates and runs an effect within the current owner.
// The returned Cleanup, if any, runs before the next run and on disposal.
//
//	CreateEffect(func() Cleanup {
//	    fmt.Println("Count is:", count.Get())
//	    return func() { fmt.Println("Cleanup") }
//	})
func CreateEffect(fn func() Cleanup) *Effect {
	owner := getCurrentOwner()

	e := &Effect{
		id:    nextID(),
		fn:    fn,
		owner: owner,
	}

	if owner != nil {
		owner.registerEffect(e)
		e.run()
		return e
	}

	e.pending.Store(true)
	e.drain()
	return e
}

// OnUnmount registers fn to run when the current owner is disposed.
func OnUnmount(fn func()) {
	if owner := getCurrentOwner(); owner != nil {
		owner.OnCleanup(fn)
	}
}
