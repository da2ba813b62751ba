package main

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-dev/vango-use/internal/errors"
	"github.com/vango-dev/vango-use/pkg/storage"
)

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under a key",
		Long: `Print the value stored under a key.

With a structured codec (json, yaml, toml) the value is decoded first and
a corrupt value is reported as E300. With --json the decoded value is
printed as indented JSON.

Examples:
  storectl get theme
  storectl get --codec json --json settings`,
		Args: exactArgs(1, "storectl get theme"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			b, err := a.open(openOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = b.close() }()

			key := args[0]
			raw, ok := b.store.Get(cmd.Context(), key)
			if !ok {
				return errors.New(errors.CodeKeyNotFound).
					WithDetailf("Key %q has no value in scope %q", key, a.cfg.Scope)
			}

			out, err := a.render(raw)
			if err != nil {
				return err
			}
			a.printf("%s\n", strings.TrimRight(out, "\n"))
			return nil
		},
	}
}

func (a *app) setCmd() *cobra.Command {
	var viaHub bool

	cmd := &cobra.Command{
		Use:   "set <key> <value|->",
		Short: "Store a value under a key",
		Long: `Store a value under a key.

The value is validated with the configured codec and written through a
storage cell, exactly as an application would write it. Pass "-" to read
the value from stdin. With --hub the change is also announced to every
process connected to the hub.

Examples:
  storectl set theme dark
  storectl set --codec json settings '{"fontSize": 14}'
  cat prefs.yaml | storectl set --codec yaml prefs -`,
		Args: exactArgs(2, "storectl set theme dark"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}

			key, text := args[0], args[1]
			if text == "-" {
				data, err := io.ReadAll(a.stdin)
				if err != nil {
					return errors.New(errors.CodeInvalidUsage).Wrap(err)
				}
				text = strings.TrimSuffix(string(data), "\n")
			}

			codec := valueCodec(a.cfg.Codec)
			value, err := codec.Decode(text)
			if err != nil {
				return errors.FromStorage(err).
					WithDetailf("The value is not valid %s", a.cfg.Codec)
			}

			b, err := a.open(openOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = b.close() }()
			if viaHub {
				if _, err := a.connect(cmd.Context(), b); err != nil {
					return err
				}
			}

			var failure error
			cell := storage.UseStorage(b.store, key, codec, any(nil),
				storage.WriteDefaults(false),
				storage.ListenToStorageChanges(false),
				storage.WithContext(cmd.Context()),
				storage.WithLogger(a.logger),
				storage.OnError(func(err error) {
					// A corrupt previous value does not block overwriting it.
					var ce *storage.CellError
					if stderrors.As(err, &ce) && ce.Op == "decode" {
						a.logger.Warn("replacing undecodable value", "key", key, "error", err)
						return
					}
					failure = err
				}),
			)
			cell.Set(value)
			cell.Close()

			if failure != nil {
				return errors.FromStorage(failure)
			}
			return a.ack("set", key)
		},
	}

	cmd.Flags().BoolVar(&viaHub, "hub", false, "Announce the change through the hub")
	return cmd
}

func (a *app) removeCmd() *cobra.Command {
	var viaHub bool

	cmd := &cobra.Command{
		Use:     "rm <key>",
		Aliases: []string{"remove", "del"},
		Short:   "Remove a key",
		Long: `Remove a key. Removing a missing key succeeds.

Examples:
  storectl rm theme
  storectl rm --hub theme`,
		Args: exactArgs(1, "storectl rm theme"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			b, err := a.open(openOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = b.close() }()
			if viaHub {
				if _, err := a.connect(cmd.Context(), b); err != nil {
					return err
				}
			}

			if err := b.store.Remove(cmd.Context(), args[0]); err != nil {
				return errors.FromStorage(err)
			}
			return a.ack("rm", args[0])
		},
	}

	cmd.Flags().BoolVar(&viaHub, "hub", false, "Announce the change through the hub")
	return cmd
}

func (a *app) clearCmd() *cobra.Command {
	var (
		yes    bool
		viaHub bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every key in the scope",
		Long: `Remove every key in the configured scope.

Examples:
  storectl clear --yes
  storectl clear --scope session-42 --yes`,
		Args: exactArgs(0, "storectl clear --yes"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New(errors.CodeInvalidUsage).
					WithDetail("clear removes every key in the scope").
					WithSuggestion("Pass --yes to confirm")
			}
			if err := a.load(); err != nil {
				return err
			}
			b, err := a.open(openOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = b.close() }()
			if viaHub {
				if _, err := a.connect(cmd.Context(), b); err != nil {
					return err
				}
			}

			if err := b.store.Clear(cmd.Context()); err != nil {
				return errors.FromStorage(err)
			}
			return a.ack("clear", "")
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm clearing the scope")
	cmd.Flags().BoolVar(&viaHub, "hub", false, "Announce the change through the hub")
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the keys in the scope",
		Long: `List the keys in the configured scope, sorted.

Examples:
  storectl list
  storectl list --prefix user. --json`,
		Args: exactArgs(0, "storectl list"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			b, err := a.open(openOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = b.close() }()

			lister, ok := b.store.(storage.Lister)
			if !ok {
				return errors.New(errors.CodeListUnsupported)
			}
			keys, err := lister.Keys(cmd.Context())
			if err != nil {
				return errors.FromStorage(err)
			}

			matched := keys[:0]
			for _, k := range keys {
				if strings.HasPrefix(k, prefix) {
					matched = append(matched, k)
				}
			}

			if a.jsonOutput {
				return a.writeJSON(matched)
			}
			for _, k := range matched {
				a.printf("%s\n", k)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&prefix, "prefix", "p", "", "Only list keys with this prefix")
	return cmd
}

// ack reports a successful write. Text mode stays quiet.
func (a *app) ack(op, key string) error {
	if !a.jsonOutput {
		return nil
	}
	return a.writeJSON(map[string]any{"op": op, "key": key, "scope": a.cfg.Scope, "ok": true})
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	if err := enc.Encode(v); err != nil {
		return errors.New(errors.CodeEncode).Wrap(err)
	}
	return nil
}
