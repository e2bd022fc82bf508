// Command wshd is the in-container process-execution daemon: it listens on
// a unix socket, accepts session requests from wsh, and forks a child per
// session under the requested identity and resource limits.
//
// Grounded on wshd.c's main() (argument handling, listen socket setup, hard
// rlimit raise, event loop) and on this corpus's lxd-user/main_daemon.go for
// the cobra-based daemon command shape.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vito/garden-systemd/internal/version"
)

// execChildArg is the hidden self-reexec marker argv[1]; see spawn.go.
const execChildArg = "__exec-child"

func main() {
	if len(os.Args) > 1 && os.Args[1] == execChildArg {
		os.Exit(runExecChild())
	}

	var (
		runDir string
		debug  bool
	)

	cmd := &cobra.Command{
		Use:           "wshd",
		Short:         "Run the in-container process-execution daemon",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDaemon(runDir, debug)
			if err != nil {
				return err
			}

			return d.run()
		},
	}

	cmd.Flags().StringVar(&runDir, "run", "run", "directory holding the daemon's control socket")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "wshd:", err)
		os.Exit(1)
	}
}
