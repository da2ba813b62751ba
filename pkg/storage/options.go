package storage

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Cell.
type Option func(*cellOptions)

type cellOptions struct {
	listen        bool
	writeDefaults bool
	filterSelf    bool
	onError       func(error)
	filter        func(ChangeEvent) bool
	logger        *slog.Logger
	ctx           context.Context
	writeMode     writeMode
	wait          time.Duration
}

func defaultCellOptions() cellOptions {
	return cellOptions{
		listen:        true,
		writeDefaults: true,
		ctx:           context.Background(),
		writeMode:     writeInline,
	}
}

// ListenToStorageChanges controls whether the cell follows change events
// from other writers. Default: true.
func ListenToStorageChanges(listen bool) Option {
	return func(o *cellOptions) {
		o.listen = listen
	}
}

// WriteDefaults controls whether the default value is persisted when the
// key is missing on creation. Default: true.
func WriteDefaults(write bool) Option {
	return func(o *cellOptions) {
		o.writeDefaults = write
	}
}

// FilterSelfEvents makes the cell ignore change events whose Area is the
// cell's own store handle. Use it with media whose change feed echoes
// writes back to the writer. Default: false.
func FilterSelfEvents(filter bool) Option {
	return func(o *cellOptions) {
		o.filterSelf = filter
	}
}

// OnError sets the error callback. Errors are *CellError values.
// Default: log at warn level.
func OnError(fn func(error)) Option {
	return func(o *cellOptions) {
		o.onError = fn
	}
}

// WithChangeFilter drops change events for which fn returns false.
// See CompileChangeFilter for expression-based filters.
func WithChangeFilter(fn func(ChangeEvent) bool) Option {
	return func(o *cellOptions) {
		o.filter = fn
	}
}

// WithLogger sets the logger used by the default error callback.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *cellOptions) {
		o.logger = logger
	}
}

// WithContext sets the context passed to store operations.
// Default: context.Background().
func WithContext(ctx context.Context) Option {
	return func(o *cellOptions) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}

// AsyncWrites persists changes on a background goroutine. Writes that pile
// up while one is in flight coalesce into the latest value.
func AsyncWrites() Option {
	return func(o *cellOptions) {
		o.writeMode = writeAsync
		o.wait = 0
	}
}

// Debounce persists a change only after d has passed without another one.
func Debounce(d time.Duration) Option {
	return func(o *cellOptions) {
		o.writeMode = writeDebounce
		o.wait = d
	}
}

// Throttle persists at most one change per d, always ending with the latest.
func Throttle(d time.Duration) Option {
	return func(o *cellOptions) {
		o.writeMode = writeThrottle
		o.wait = d
	}
}
