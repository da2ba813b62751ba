package reactive

// Listener is anything that can be notified when a dependency changes.
// Effects and rendering components implement it.
type Listener interface {
	// MarkDirty notifies the listener that one of its dependencies changed.
	MarkDirty()

	// ID returns a unique identifier used for deduplication.
	ID() uint64
}

// Cleanup is returned by effects. It runs before the effect re-runs and
// when the effect is disposed.
type Cleanup func()

// ListenerFunc adapts a plain function into a Listener.
// Useful for bridging signals into code that is not itself reactive,
// such as a CLI loop waiting for a value to change.
func ListenerFunc(fn func()) Listener {
	return &funcListener{id: nextID(), fn: fn}
}

type funcListener struct {
	id uint64
	fn func()
}

func (l *funcListener) MarkDirty() { l.fn() }
func (l *funcListener) ID() uint64 { return l.id }
