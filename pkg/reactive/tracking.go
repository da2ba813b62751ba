package reactive

import (
	"runtime"
	"sync"
)

// trackingContext holds the reactive state for one goroutine.
type trackingContext struct {
	// currentOwner owns newly created effects and receives hook slots.
	currentOwner *Owner

	// currentListener is subscribed by signal reads. nil disables tracking.
	currentListener Listener

	// batchDepth tracks nested Batch calls.
	batchDepth int

	// pendingUpdates accumulates listeners to notify when a batch completes.
	pendingUpdates []Listener

	// renderDepth is > 0 between Owner.StartRender and Owner.EndRender.
	renderDepth int
}

// trackingContexts stores per-goroutine tracking contexts.
var trackingContexts sync.Map

// getGoroutineID parses the current goroutine ID out of the runtime stack
// header ("goroutine <id> [...]").
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	var id uint64
	for i := 10; i < n; i++ {
		if buf[i] == ' ' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

// getTrackingContext returns the tracking context for the current goroutine,
// creating it on first use. Only writers call it; readers use
// lookupTrackingContext so that goroutines which never change the tracking
// state leave no entry behind.
func getTrackingContext() *trackingContext {
	gid := getGoroutineID()

	if ctx, ok := trackingContexts.Load(gid); ok {
		return ctx.(*trackingContext)
	}

	ctx := &trackingContext{}
	trackingContexts.Store(gid, ctx)
	return ctx
}

// lookupTrackingContext returns the current goroutine's context, or nil.
func lookupTrackingContext() *trackingContext {
	if ctx, ok := trackingContexts.Load(getGoroutineID()); ok {
		return ctx.(*trackingContext)
	}
	return nil
}

func (c *trackingContext) empty() bool {
	return c.currentOwner == nil && c.currentListener == nil &&
		c.batchDepth == 0 && c.renderDepth == 0 && len(c.pendingUpdates) == 0
}

// prune drops ctx once it is back to the zero state.
func prune(ctx *trackingContext) {
	if ctx.empty() {
		trackingContexts.Delete(getGoroutineID())
	}
}

func getCurrentListener() Listener {
	if ctx := lookupTrackingContext(); ctx != nil {
		return ctx.currentListener
	}
	return nil
}

// setCurrentListener returns the previous listener so it can be restored.
func setCurrentListener(l Listener) Listener {
	ctx := lookupTrackingContext()
	if ctx == nil {
		if l == nil {
			return nil
		}
		ctx = getTrackingContext()
	}
	old := ctx.currentListener
	ctx.currentListener = l
	prune(ctx)
	return old
}

func getCurrentOwner() *Owner {
	if ctx := lookupTrackingContext(); ctx != nil {
		return ctx.currentOwner
	}
	return nil
}

// setCurrentOwner returns the previous owner so it can be restored.
func setCurrentOwner(o *Owner) *Owner {
	ctx := lookupTrackingContext()
	if ctx == nil {
		if o == nil {
			return nil
		}
		ctx = getTrackingContext()
	}
	old := ctx.currentOwner
	ctx.currentOwner = o
	prune(ctx)
	return old
}

func getBatchDepth() int {
	if ctx := lookupTrackingContext(); ctx != nil {
		return ctx.batchDepth
	}
	return 0
}

func incrementBatchDepth() {
	getTrackingContext().batchDepth++
}

// decrementBatchDepth reports whether the outermost batch just completed.
func decrementBatchDepth() bool {
	ctx := getTrackingContext()
	ctx.batchDepth--
	done := ctx.batchDepth == 0
	prune(ctx)
	return done
}

func queuePendingUpdate(l Listener) {
	ctx := getTrackingContext()
	ctx.pendingUpdates = append(ctx.pendingUpdates, l)
}

func drainPendingUpdates() []Listener {
	ctx := lookupTrackingContext()
	if ctx == nil {
		return nil
	}
	updates := ctx.pendingUpdates
	ctx.pendingUpdates = nil
	prune(ctx)
	return updates
}

func isInRender() bool {
	if ctx := lookupTrackingContext(); ctx != nil {
		return ctx.renderDepth > 0
	}
	return false
}

func beginRender() {
	getTrackingContext().renderDepth++
}

func endRender() {
	ctx := lookupTrackingContext()
	if ctx == nil {
		return
	}
	if ctx.renderDepth > 0 {
		ctx.renderDepth--
	}
	prune(ctx)
}

// CurrentOwner returns the owner active on this goroutine, or nil.
func CurrentOwner() *Owner {
	return getCurrentOwner()
}

// WithOwner runs fn with owner as the current owner.
//
// Goroutines that need to create effects or read context values for a scope
// must enter it explicitly:
//
//	go func() {
//	    WithOwner(parentOwner, func() {
//	        CreateEffect(...)
//	    })
//	}()
func WithOwner(owner *Owner, fn func()) {
	old := setCurrentOwner(owner)
	defer setCurrentOwner(old)
	fn()
}

// WithListener runs fn with l as the tracking listener.
func WithListener(l Listener, fn func()) {
	old := setCurrentListener(l)
	defer setCurrentListener(old)
	fn()
}

// WithoutHookSlots runs fn as if no render were in progress, so primitives
// created inside it do not claim hook slots. Composite hooks use it to build
// their internals and then claim a single slot for themselves.
func WithoutHookSlots(fn func()) {
	ctx := lookupTrackingContext()
	if ctx == nil || ctx.renderDepth == 0 {
		fn()
		return
	}
	depth := ctx.renderDepth
	ctx.renderDepth = 0
	defer func() { getTrackingContext().renderDepth = depth }()
	fn()
}
