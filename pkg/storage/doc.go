// Package storage binds reactive values to persistent key/value media.
//
// A Cell is a reactive value for one key. It loads the persisted value on
// creation, writes every change back through a Codec, and follows changes
// made by other writers (other tabs, other processes) through the Store's
// change feed.
//
//	store := memory.NewStore(storage.Durable)
//	theme := storage.UseStorage(store, "theme", storage.StringCodec[string]{}, "light")
//
//	theme.Get()       // "light", subscribes the current listener
//	theme.Set("dark") // updates the value now, persists "dark"
//	theme.Remove()    // back to "light", key removed
//
// Inside a component scope, UseLocalStorage and UseSessionStorage resolve
// their Store from the Env installed with Provide:
//
//	reactive.WithOwner(root, func() {
//	    storage.Provide(storage.Env{Local: durable, Session: session})
//	})
//
// # Errors
//
// Nothing in this package is fatal. Decode failures fall back to the default
// value, encode failures skip persistence, and store failures leave the
// in-memory value in place. Every failure is passed to the cell's OnError
// callback as a *CellError, which unwraps to *CodecError or *StoreError.
package storage
