package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/vito/garden-systemd/internal/childproto"
	"github.com/vito/garden-systemd/internal/ptyutil"
	"github.com/vito/garden-systemd/internal/rlimits"
)

// handoffFD is the ExtraFiles[0] slot spawnChild wires up, landing as fd 3
// in the reexec'd process (0, 1, 2 are stdin/stdout/stderr).
const handoffFD = 3

// runExecChild is wshd's hidden "__exec-child" entry point: the process
// the daemon reexecs itself into for every session, already running under
// the kernel-applied target uid/gid/groups and session (see spawnChild).
// It finishes the setup wshd.c's child_fork does after fork() and before
// execvpe() — soft rlimits, an optional extra chdir, clearing the
// inherited SIGCHLD block — then execs the real target. It never returns;
// its int result is only used on the setup-failure paths, which print to
// stderr and report exit 255 rather than exec anything.
func runExecChild() int {
	f := os.NewFile(handoffFD, "handoff")

	req, err := childproto.Decode(f)
	f.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "wshd: exec-child: decode handoff:", err)
		return 255
	}

	if req.LookupError != "" {
		fmt.Fprintln(os.Stderr, "wshd:", req.LookupError)
		return 255
	}

	if req.TTY {
		if err := ptyutil.SetControllingTTY(0); err != nil {
			// spawnChild already asked the kernel for this via
			// SysProcAttr.Setctty; this is a defensive repeat for the
			// rare case the reexec didn't retain it (e.g. a pty whose
			// slave open happened in a different session than expected).
			fmt.Fprintln(os.Stderr, "wshd: exec-child: set controlling tty:", err)
			return 255
		}
	}

	if req.Dir != "" {
		dir := req.Dir
		if !filepath.IsAbs(dir) {
			// cmd.Dir (spawnChild) already chdir'd this process to the
			// account's home; a relative Dir compounds on top of that,
			// matching wshd.c's extra chdir after the mandatory one to
			// $HOME.
			wd, err := os.Getwd()
			if err != nil {
				fmt.Fprintln(os.Stderr, "wshd: exec-child: getwd:", err)
				return 255
			}

			dir = filepath.Join(wd, dir)
		}

		if err := os.Chdir(dir); err != nil {
			fmt.Fprintln(os.Stderr, "wshd: exec-child: chdir:", err)
			return 255
		}
	}

	if err := rlimits.ApplySoft(&req.Rlim); err != nil {
		fmt.Fprintln(os.Stderr, "wshd: exec-child: apply rlimits:", err)
		return 255
	}

	// The daemon blocked SIGCHLD in its own signal mask (internal/reaper.
	// SignalFD) before this process was ever forked; clear it back to
	// empty so the exec'd target starts with ordinary signal disposition,
	// matching wshd.c's final sigprocmask(SIG_SETMASK, &empty, NULL).
	var empty unix.Sigset_t
	if err := unix.PthreadSigmask(unix.SIG_SETMASK, &empty, nil); err != nil {
		fmt.Fprintln(os.Stderr, "wshd: exec-child: reset sigmask:", err)
		return 255
	}

	if len(req.Argv) == 0 {
		fmt.Fprintln(os.Stderr, "wshd: exec-child: empty argv")
		return 255
	}

	path, err := exec.LookPath(req.Argv[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "wshd: exec-child:", err)
		return 255
	}

	if err := syscall.Exec(path, req.Argv, os.Environ()); err != nil {
		fmt.Fprintln(os.Stderr, "wshd: exec-child: exec:", err)
		return 255
	}

	return 255 // unreachable: syscall.Exec replaced this process's image
}
