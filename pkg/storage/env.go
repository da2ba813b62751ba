package storage

import "github.com/vango-dev/vango-use/pkg/reactive"

// EnvKey is the context key under which Provide stores the Env.
var EnvKey = &struct{ name string }{"StorageEnv"}

// Env holds the stores that UseLocalStorage and UseSessionStorage bind to.
// A nil field means that medium does not exist in this environment.
type Env struct {
	Local   Store
	Session Store
}

// Provide installs env on the current owner for its descendants.
//
//	reactive.WithOwner(session.Owner(), func() {
//	    storage.Provide(storage.Env{Local: local, Session: sess})
//	})
func Provide(env Env) {
	reactive.SetContext(EnvKey, env)
}

// CurrentEnv returns the Env visible from the current owner. Missing
// stores are replaced by Unavailable ones.
func CurrentEnv() Env {
	env, _ := reactive.GetContext(EnvKey).(Env)
	if env.Local == nil {
		env.Local = Unavailable(Durable)
	}
	if env.Session == nil {
		env.Session = Unavailable(Session)
	}
	return env
}

// UseLocalStorage binds key in the durable store of the current Env.
func UseLocalStorage[T any](key string, codec Codec[T], def T, opts ...Option) *Cell[T] {
	return UseStorage(CurrentEnv().Local, key, codec, def, opts...)
}

// UseSessionStorage binds key in the session store of the current Env.
func UseSessionStorage[T any](key string, codec Codec[T], def T, opts ...Option) *Cell[T] {
	return UseStorage(CurrentEnv().Session, key, codec, def, opts...)
}
