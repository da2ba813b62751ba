package main

import (
	"runtime"

	"github.com/spf13/cobra"
)

func (a *app) versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print version, commit, and build information for storectl.`,
		Run: func(cmd *cobra.Command, args []string) {
			if short {
				a.printf("%s\n", version)
				return
			}
			if a.jsonOutput {
				_ = a.writeJSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    date,
					"go":      runtime.Version(),
				})
				return
			}

			a.printf("  Version:    %s\n", version)
			a.printf("  Commit:     %s\n", commit)
			a.printf("  Built:      %s\n", date)
			a.printf("  Go version: %s\n", runtime.Version())
			a.printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "Print only version number")
	return cmd
}
