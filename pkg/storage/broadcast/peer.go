package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/vango-use/pkg/storage"
)

// PeerOption configures a Peer.
type PeerOption func(*peerConfig)

type peerConfig struct {
	apply        bool
	logger       *slog.Logger
	header       http.Header
	writeTimeout time.Duration
}

// ApplyRemote makes the peer write changes received from the hub into its
// local store, so the local medium mirrors the other peers.
func ApplyRemote() PeerOption {
	return func(c *peerConfig) {
		c.apply = true
	}
}

// WithPeerLogger sets the peer logger.
// Default: slog.Default().
func WithPeerLogger(logger *slog.Logger) PeerOption {
	return func(c *peerConfig) {
		c.logger = logger
	}
}

// WithHeader adds headers to the upgrade request.
func WithHeader(h http.Header) PeerOption {
	return func(c *peerConfig) {
		c.header = h
	}
}

// Peer is a storage.Store that keeps its values in a local store and
// exchanges change events with the other peers of a hub scope.
//
// Writes through the Peer are published on its feed with the Peer's Area
// and sent to the hub. Frames from other peers are published with the
// sender's Area and, with ApplyRemote, written to the local store. Those
// local writes are not sent back to the hub.
type Peer struct {
	local  storage.Store
	area   string
	apply  bool
	logger *slog.Logger

	ws           *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration

	// opMu keeps the old value read and the write it precedes together.
	opMu sync.Mutex
	feed storage.Feed

	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

var _ storage.Store = (*Peer)(nil)

// Dial connects to a hub scope URL such as ws://host/sync/prefs.
func Dial(ctx context.Context, url string, local storage.Store, opts ...PeerOption) (*Peer, error) {
	if local == nil {
		return nil, fmt.Errorf("broadcast: local store is required")
	}

	cfg := &peerConfig{writeTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, cfg.header)
	if err != nil {
		return nil, fmt.Errorf("broadcast: dial %s: %w", url, err)
	}

	p := &Peer{
		local:        local,
		area:         uuid.NewString(),
		apply:        cfg.apply,
		logger:       cfg.logger,
		ws:           ws,
		writeTimeout: cfg.writeTimeout,
		done:         make(chan struct{}),
	}
	go p.readLoop()
	return p, nil
}

// Local returns the wrapped store.
func (p *Peer) Local() storage.Store { return p.local }

// Done is closed when the connection to the hub ends.
func (p *Peer) Done() <-chan struct{} { return p.done }

func (p *Peer) Kind() storage.Kind { return p.local.Kind() }
func (p *Peer) Area() string       { return p.area }

func (p *Peer) Get(ctx context.Context, key string) (string, bool) {
	return p.local.Get(ctx, key)
}

func (p *Peer) Set(ctx context.Context, key, value string) error {
	p.opMu.Lock()
	old, had := p.local.Get(ctx, key)
	if had && old == value {
		p.opMu.Unlock()
		return nil
	}
	if err := p.local.Set(ctx, key, value); err != nil {
		p.opMu.Unlock()
		return err
	}
	p.opMu.Unlock()

	ev := storage.ChangeEvent{Key: key, NewValue: storage.StringPtr(value), Area: p.area, Kind: p.Kind()}
	if had {
		ev.OldValue = storage.StringPtr(old)
	}
	p.publish(ev)
	return nil
}

func (p *Peer) Remove(ctx context.Context, key string) error {
	p.opMu.Lock()
	old, had := p.local.Get(ctx, key)
	if err := p.local.Remove(ctx, key); err != nil {
		p.opMu.Unlock()
		return err
	}
	p.opMu.Unlock()

	if had {
		p.publish(storage.ChangeEvent{Key: key, OldValue: storage.StringPtr(old), Area: p.area, Kind: p.Kind()})
	}
	return nil
}

func (p *Peer) Clear(ctx context.Context) error {
	if err := p.local.Clear(ctx); err != nil {
		return err
	}
	p.publish(storage.ChangeEvent{Area: p.area, Kind: p.Kind()})
	return nil
}

// Keys lists the local store's keys when it implements storage.Lister.
func (p *Peer) Keys(ctx context.Context) ([]string, error) {
	lister, ok := p.local.(storage.Lister)
	if !ok {
		return nil, fmt.Errorf("broadcast: local %T: %w", p.local, storage.ErrNotListable)
	}
	return lister.Keys(ctx)
}

func (p *Peer) Subscribe(fn func(storage.ChangeEvent)) storage.Unsubscribe {
	return p.feed.Subscribe(fn)
}

// Close disconnects from the hub. The local store stays usable.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		_ = p.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = p.ws.Close()
		<-p.done
	})
	return err
}

// publish delivers a local change to listeners and forwards it to the hub.
// A failed send is logged: the value is already in the local store.
func (p *Peer) publish(ev storage.ChangeEvent) {
	p.feed.Publish(ev)

	if p.closed.Load() {
		return
	}
	msg, err := json.Marshal(FrameFromEvent(ev))
	if err != nil {
		p.logger.Error("encode frame", "error", err)
		return
	}

	p.writeMu.Lock()
	_ = p.ws.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	err = p.ws.WriteMessage(websocket.TextMessage, msg)
	p.writeMu.Unlock()
	if err != nil {
		p.logger.Warn("relay send failed", "key", ev.Key, "error", err)
	}
}

func (p *Peer) readLoop() {
	defer close(p.done)

	for {
		_, msg, err := p.ws.ReadMessage()
		if err != nil {
			if !p.closed.Load() && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				p.logger.Warn("relay read error", "error", err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil || !f.valid() {
			p.logger.Warn("invalid frame from hub", "error", err)
			continue
		}
		p.receive(f)
	}
}

func (p *Peer) receive(f Frame) {
	if f.Area == p.area {
		return
	}

	if p.apply {
		ctx := context.Background()
		var err error
		p.opMu.Lock()
		switch {
		case f.Cleared:
			err = p.local.Clear(ctx)
		case f.New == nil:
			err = p.local.Remove(ctx, f.Key)
		default:
			err = p.local.Set(ctx, f.Key, *f.New)
		}
		p.opMu.Unlock()
		if err != nil {
			p.logger.Warn("apply remote change failed", "key", f.Key, "error", err)
		}
	}

	p.feed.Publish(f.Event(p.Kind()))
}
