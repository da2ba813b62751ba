package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-dev/vango-use/internal/config"
	"github.com/vango-dev/vango-use/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, nil)
	stop()
	os.Exit(code)
}

// app holds what every command shares: streams, flags and the resolved
// configuration.
type app struct {
	stdin          io.Reader
	stdout, stderr io.Writer

	// environ replaces the process environment when non-nil.
	environ map[string]string

	configPath string
	backend    string
	scope      string
	kind       string
	codec      string
	verbose    bool
	jsonOutput bool

	cfg    *config.Config
	logger *slog.Logger
}

// run executes storectl with args and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, environ map[string]string) int {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr, environ: environ}

	root := a.rootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		errors.Fprint(stderr, err, a.jsonOutput)
		return 1
	}
	return 0
}

func (a *app) rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "storectl",
		Short: "Inspect and sync reactive storage backends",
		Long: `storectl reads and writes the key/value media behind storage cells.

It talks to the same backends applications use:

  • sqlite   a local database file, one table, many scopes
  • file     one file per key, watched for changes
  • s3       one object per key under a prefix
  • memory   process-local, mostly useful with "hub --persist"

and runs the WebSocket hub that relays change events between processes.

Settings come from storectl.json, STORECTL_* environment variables and
the flags below, in increasing order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Path to storectl.json (default: nearest one above the working directory)")
	flags.StringVarP(&a.backend, "backend", "b", "", "Storage backend: memory, sqlite, file or s3")
	flags.StringVarP(&a.scope, "scope", "s", "", "Key scope")
	flags.StringVarP(&a.kind, "kind", "k", "", "Storage kind: session or durable")
	flags.StringVar(&a.codec, "codec", "", "Value codec: string, json, yaml or toml")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Log every storage operation")
	flags.BoolVar(&a.jsonOutput, "json", false, "Print results and errors as JSON")

	rootCmd.AddCommand(
		a.getCmd(),
		a.setCmd(),
		a.removeCmd(),
		a.clearCmd(),
		a.listCmd(),
		a.watchCmd(),
		a.hubCmd(),
		a.initCmd(),
		a.versionCmd(),
	)
	return rootCmd
}

// load resolves the configuration and the logger. Commands that touch a
// backend call it first.
func (a *app) load() error {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))

	wd, err := os.Getwd()
	if err != nil {
		return errors.New(errors.CodeInternal).Wrap(err)
	}

	cfg, err := config.Resolve(a.configPath, wd, a.environ, func(c *config.Config) {
		if a.backend != "" {
			c.Backend = a.backend
		}
		if a.scope != "" {
			c.Scope = a.scope
		}
		if a.kind != "" {
			c.Kind = a.kind
		}
		if a.codec != "" {
			c.Codec = a.codec
		}
	})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger.Debug("config resolved", "path", cfg.Path(), "backend", cfg.Backend, "scope", cfg.Scope, "kind", cfg.Kind)
	return nil
}

// getenv reads the replacement environment when one is set.
func (a *app) getenv(key string) string {
	if a.environ != nil {
		return a.environ[key]
	}
	return os.Getenv(key)
}

// exactArgs is cobra.ExactArgs with a coded error.
func exactArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) == n {
			return nil
		}
		return errors.New(errors.CodeInvalidUsage).
			WithDetailf("%s takes %d argument(s), got %d", cmd.Name(), n, len(args)).
			WithExample(usage)
	}
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.stdout, format, args...)
}
