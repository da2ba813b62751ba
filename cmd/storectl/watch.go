package main

import (
	"github.com/spf13/cobra"

	"github.com/vango-dev/vango-use/internal/config"
	"github.com/vango-dev/vango-use/internal/errors"
	"github.com/vango-dev/vango-use/pkg/storage"
	"github.com/vango-dev/vango-use/pkg/storage/broadcast"
)

const watchBuffer = 256

func (a *app) watchCmd() *cobra.Command {
	var (
		viaHub bool
		apply  bool
		filter string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print change events as they happen",
		Long: `Print change events for the configured scope until interrupted.

The file backend reports writes made by other processes. Other backends
only see changes when connected to a hub with --hub; add --apply to
mirror the hub's changes into the local backend while watching.

--filter takes an expression evaluated for each event. It can use key,
new, old, hasOld, removed, cleared, kind and area.

Examples:
  storectl watch --backend file
  storectl watch --hub --filter 'key startsWith "user."'
  storectl watch --hub --apply --json`,
		Args: exactArgs(0, "storectl watch --hub"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			if apply && !viaHub {
				return errors.New(errors.CodeInvalidUsage).
					WithDetail("--apply only makes sense with --hub")
			}

			var match func(storage.ChangeEvent) bool
			if filter != "" {
				m, err := storage.CompileChangeFilter(filter)
				if err != nil {
					return errors.New(errors.CodeFilterExpression).
						WithDetailf("Cannot compile %q", filter).
						Wrap(err)
				}
				match = m
			}

			b, err := a.open(openOptions{watch: true})
			if err != nil {
				return err
			}
			defer func() { _ = b.close() }()

			var hubDone <-chan struct{}
			if viaHub {
				var peerOpts []broadcast.PeerOption
				if apply {
					peerOpts = append(peerOpts, broadcast.ApplyRemote())
				}
				peer, err := a.connect(cmd.Context(), b, peerOpts...)
				if err != nil {
					return err
				}
				hubDone = peer.Done()
			} else if a.cfg.Backend != config.BackendFile {
				a.logger.Warn("this backend only reports changes made by storectl itself; use --hub to see other processes",
					"backend", a.cfg.Backend)
			}

			events := make(chan storage.ChangeEvent, watchBuffer)
			unsub := b.store.Subscribe(func(ev storage.ChangeEvent) {
				if match != nil && !match(ev) {
					return
				}
				select {
				case events <- ev:
				default:
					a.logger.Warn("watch output is behind, dropping event", "key", ev.Key)
				}
			})
			defer unsub()

			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-hubDone:
					return errors.New(errors.CodeHubDial).
						WithDetail("The hub closed the connection")
				case ev := <-events:
					if err := a.printEvent(ev); err != nil {
						return err
					}
				}
			}
		},
	}

	cmd.Flags().BoolVar(&viaHub, "hub", false, "Follow changes relayed by the hub")
	cmd.Flags().BoolVar(&apply, "apply", false, "Write hub changes into the local backend")
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Only print events matching this expression")
	return cmd
}

func (a *app) printEvent(ev storage.ChangeEvent) error {
	if a.jsonOutput {
		return a.writeJSON(broadcast.FrameFromEvent(ev))
	}

	switch {
	case ev.Cleared():
		a.printf("clear\n")
	case ev.NewValue == nil:
		a.printf("rm %s\n", ev.Key)
	case ev.OldValue == nil:
		a.printf("set %s %s\n", ev.Key, *ev.NewValue)
	default:
		a.printf("set %s %s (was %s)\n", ev.Key, *ev.NewValue, *ev.OldValue)
	}
	return nil
}
