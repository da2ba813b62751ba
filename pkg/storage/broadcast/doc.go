// Package broadcast relays storage change events between processes over
// WebSocket, so that handles on different machines behave like tabs of
// one browser.
//
// A Hub accepts connections on GET /sync/{scope} and forwards every frame
// it receives to the other connections of the same scope. A Peer is a
// storage.Store that writes to a local store, sends each change to the
// hub, and publishes the changes of other peers on its own feed:
//
//	hub := broadcast.NewHub()
//	go http.ListenAndServe(":8080", hub.Routes())
//
//	peer, err := broadcast.Dial(ctx, "ws://localhost:8080/sync/prefs", local, broadcast.ApplyRemote())
//	theme := storage.UseStorage(peer, "theme", storage.StringCodec[string]{}, "light")
//
// Frames are JSON text messages:
//
//	{"key":"theme","old":"light","new":"dark","area":"3f6c..."}
//	{"cleared":true,"area":"3f6c..."}
package broadcast

import "github.com/vango-dev/vango-use/pkg/storage"

// Frame is one change event on the wire. Old and New are omitted when the
// key was absent.
type Frame struct {
	Key     string  `json:"key,omitempty"`
	Old     *string `json:"old,omitempty"`
	New     *string `json:"new,omitempty"`
	Area    string  `json:"area"`
	Cleared bool    `json:"cleared,omitempty"`
}

// FrameFromEvent converts a change event into a frame.
func FrameFromEvent(ev storage.ChangeEvent) Frame {
	return Frame{
		Key:     ev.Key,
		Old:     ev.OldValue,
		New:     ev.NewValue,
		Area:    ev.Area,
		Cleared: ev.Cleared(),
	}
}

// Event converts the frame back into a change event of the given kind.
func (f Frame) Event(kind storage.Kind) storage.ChangeEvent {
	if f.Cleared {
		return storage.ChangeEvent{Area: f.Area, Kind: kind}
	}
	return storage.ChangeEvent{
		Key:      f.Key,
		OldValue: f.Old,
		NewValue: f.New,
		Area:     f.Area,
		Kind:     kind,
	}
}

// valid reports whether the frame names a key or is a clear.
func (f Frame) valid() bool {
	return f.Cleared || f.Key != ""
}
