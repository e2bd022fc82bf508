// Command wsh is the client half of the wshd session protocol: it connects
// to a running wshd, requests a session (interactive or not, under the
// given user/environment/rlimits), and pumps bytes between the local
// terminal (or pipes) and the fds wshd hands back, until the remote
// process exits.
//
// cobra here only supplies command registration: flag parsing is disabled,
// so every argument, -h/--help included, reaches args.go. wsh's actual
// grammar (stop-at-first-positional, plus an --rsh compatibility mode)
// doesn't fit pflag's flag model and is hand-parsed there, a direct port of
// wsh.c's wsh__getopt.
package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/spf13/cobra"

	"github.com/vito/garden-systemd/internal/version"
)

func main() {
	stderr := colorable.NewColorableStderr()

	cmd := &cobra.Command{
		Use:                "wsh OPTION...",
		Short:              "Run a command inside a container session managed by wshd",
		Version:            version.Version,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := parseArgs(args)
			if err == errHelp {
				os.Exit(0)
			}

			if err != nil {
				fmt.Fprintln(stderr, "wsh:", err)
				os.Exit(1)
			}

			os.Exit(runSession(cfg, stderr))

			return nil
		},
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(stderr, "wsh:", err)
		os.Exit(1)
	}
}
