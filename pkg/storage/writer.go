package storage

import (
	"context"
	"sync"
	"time"
)

type writeMode int

const (
	writeInline writeMode = iota
	writeAsync
	writeDebounce
	writeThrottle
)

// writer orders the persistence work of one cell. Every job gets a
// sequence number; a job older than the last one run is dropped, so the
// medium always ends with the latest write.
type writer struct {
	mode writeMode
	wait time.Duration

	mu      sync.Mutex
	seq     uint64
	pending *writeJob
	timer   *time.Timer
	last    time.Time
	closed  bool

	// inflight counts jobs taken off the queue but not finished yet.
	inflight int
	idle     *sync.Cond

	// runMu serializes jobs; done is the newest sequence run so far.
	runMu sync.Mutex
	done  uint64
}

type writeJob struct {
	seq uint64
	fn  func()
}

func newWriter(mode writeMode, wait time.Duration) *writer {
	w := &writer{mode: mode, wait: wait}
	w.idle = sync.NewCond(&w.mu)
	return w
}

// schedule queues fn according to the write mode.
func (w *writer) schedule(fn func()) {
	w.mu.Lock()
	w.seq++
	job := &writeJob{seq: w.seq, fn: fn}

	if w.closed || w.mode == writeInline {
		w.mu.Unlock()
		w.run(job)
		return
	}

	w.pending = job
	switch w.mode {
	case writeAsync:
		if w.timer == nil {
			w.timer = time.AfterFunc(0, w.fire)
		}
	case writeDebounce:
		if w.timer != nil {
			w.timer.Stop()
		}
		w.timer = time.AfterFunc(w.wait, w.fire)
	case writeThrottle:
		if w.timer == nil {
			delay := w.wait - time.Since(w.last)
			if delay < 0 {
				delay = 0
			}
			w.timer = time.AfterFunc(delay, w.fire)
		}
	}
	w.mu.Unlock()
}

// now drops any pending job and runs fn immediately.
func (w *writer) now(fn func()) {
	w.mu.Lock()
	w.seq++
	job := &writeJob{seq: w.seq, fn: fn}
	w.pending = nil
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	w.run(job)
}

func (w *writer) fire() {
	w.mu.Lock()
	job := w.pending
	w.pending = nil
	w.timer = nil
	w.last = time.Now()
	if job == nil {
		w.mu.Unlock()
		return
	}
	w.inflight++
	w.mu.Unlock()

	w.run(job)
	w.finish()
}

func (w *writer) finish() {
	w.mu.Lock()
	w.inflight--
	w.idle.Broadcast()
	w.mu.Unlock()
}

func (w *writer) run(job *writeJob) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	if job.seq <= w.done {
		return
	}
	w.done = job.seq
	job.fn()
}

// flush runs the pending job, if any, and waits for the one in flight.
func (w *writer) flush(ctx context.Context) error {
	w.mu.Lock()
	job := w.pending
	w.pending = nil
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if job != nil {
		w.inflight++
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if job != nil {
			w.run(job)
			w.finish()
		}
		w.mu.Lock()
		for w.inflight > 0 {
			w.idle.Wait()
		}
		w.mu.Unlock()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close flushes and switches the writer to inline mode.
func (w *writer) close() {
	_ = w.flush(context.Background())
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}
