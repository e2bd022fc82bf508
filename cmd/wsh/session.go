package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/vito/garden-systemd/internal/fdsock"
	"github.com/vito/garden-systemd/internal/protocol"
	"github.com/vito/garden-systemd/internal/rlimits"
)

const defaultSocketPath = "run/daemon.sock"

// runSession connects to wshd, requests a session, and pumps bytes until
// the remote process exits, returning the process's exit code (or 255 for
// any protocol/setup failure, matching wsh.c's exit(255) convention).
func runSession(cfg *config, stderr io.Writer) int {
	socketPath := cfg.Socket
	if socketPath == "" {
		socketPath = defaultSocketPath
	}

	connFD, err := fdsock.Connect(socketPath)
	if err != nil {
		fmt.Fprintln(stderr, "wsh: connect:", err)
		return 255
	}
	defer unix.Close(connFD)

	tty := term.IsTerminal(int(os.Stdin.Fd()))

	req, err := buildRequest(cfg, tty)
	if err != nil {
		fmt.Fprintln(stderr, "wsh:", err)
		return 255
	}

	var buf bytes.Buffer
	if err := req.Marshal(&buf); err != nil {
		fmt.Fprintln(stderr, "wsh: marshal request:", err)
		return 255
	}

	if _, err := fdsock.SendFDs(connFD, buf.Bytes(), nil); err != nil {
		fmt.Fprintln(stderr, "wsh: sendmsg:", err)
		return 255
	}

	if tty {
		return loopInteractive(connFD, cfg.PidFile, stderr)
	}

	return loopNonInteractive(connFD, cfg.PidFile, stderr)
}

// buildRequest assembles the fixed-size wire request from cfg, a port of
// wsh.c's main(): msg_dir_import/msg_array_import/msg_user_import, plus
// forwarding the client's own current rlimits (msg_rlimit_import).
func buildRequest(cfg *config, tty bool) (*protocol.Request, error) {
	var req protocol.Request

	if tty {
		req.TTY = 1
	}

	if err := req.Dir.Import(cfg.Dir); err != nil {
		return nil, fmt.Errorf("msg_dir_import: %w", err)
	}

	if err := req.User.Import(cfg.User); err != nil {
		return nil, fmt.Errorf("msg_user_import: %w", err)
	}

	if err := req.Arg.Import(cfg.Argv); err != nil {
		return nil, fmt.Errorf("msg_array_import: too much data in args: %w", err)
	}

	if err := req.Env.Import(cfg.Env); err != nil {
		return nil, fmt.Errorf("msg_array_import: too much data in environment variables: %w", err)
	}

	lim, err := rlimits.ImportCurrent()
	if err != nil {
		return nil, fmt.Errorf("msg_rlimit_import: %w", err)
	}
	req.Rlim = *lim

	return &req, nil
}
