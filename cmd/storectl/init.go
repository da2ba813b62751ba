package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vango-dev/vango-use/internal/config"
	"github.com/vango-dev/vango-use/internal/errors"
)

func (a *app) initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a storectl.json with default settings",
		Long: `Write a storectl.json with default settings to dir, or the working
directory. Global flags such as --backend and --scope are recorded.

Examples:
  storectl init
  storectl init --backend file --scope prefs ./app`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			path := filepath.Join(dir, config.ConfigFileName)

			if _, err := os.Stat(path); err == nil && !force {
				return errors.New(errors.CodeInvalidUsage).
					WithDetailf("%s already exists", path).
					WithSuggestion("Pass --force to overwrite it")
			}

			cfg := config.New()
			if a.backend != "" {
				cfg.Backend = a.backend
			}
			if a.scope != "" {
				cfg.Scope = a.scope
			}
			if a.kind != "" {
				cfg.Kind = a.kind
			}
			if a.codec != "" {
				cfg.Codec = a.codec
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := os.MkdirAll(dir, 0o755); err != nil {
				return errors.New(errors.CodeConfigRead).Wrap(err)
			}
			if err := cfg.SaveTo(path); err != nil {
				return err
			}
			a.printf("wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}
