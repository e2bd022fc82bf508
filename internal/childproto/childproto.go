// Package childproto carries the handoff between wshd and the self-reexec
// helper it forks for every session (see cmd/wshd/spawn.go).
//
// wshd.c's child_fork runs all of its post-fork, pre-exec setup (rlimits,
// uid/gid switch, chdir, controlling tty, sigmask reset) in the forked
// child's own copy of the parent's memory, between fork() and execvpe().
// Go's os/exec has no equivalent hook: SysProcAttr only covers what the
// kernel itself applies atomically during clone+execve (Credential, Setsid,
// Setctty), and nothing else can safely run between those two steps from
// Go, since the forked child of a Go process shares the parent's threaded
// runtime until it execs. wshd reexecs itself (cmd/wshd's hidden
// "__exec-child" mode, the same shape as this corpus's internal forkexec/
// forkstart hidden subcommands) so that the remaining setup runs as freshly
// started, single-image code in the new process, after the kernel has
// already applied the uid/gid switch. This struct is the small blob handed
// across that reexec, gob-encoded over a pipe fd.
package childproto

import (
	"encoding/gob"
	"fmt"
	"io"

	"github.com/vito/garden-systemd/internal/protocol"
)

// Request is what wshd's parent process hands to its freshly execed
// "__exec-child" copy of itself.
type Request struct {
	// LookupError is set when the requested account couldn't be resolved.
	// The child prints it and exits 255 without ever reaching exec, rather
	// than running untrusted argv under whatever identity the reexec
	// inherited.
	LookupError string

	Argv []string
	Dir  string
	Rlim protocol.Rlimits
	TTY  bool
}

// Encode gob-encodes req to w.
func Encode(w io.Writer, req *Request) error {
	if err := gob.NewEncoder(w).Encode(req); err != nil {
		return fmt.Errorf("childproto: encode: %w", err)
	}

	return nil
}

// Decode gob-decodes a Request from r.
func Decode(r io.Reader) (*Request, error) {
	var req Request
	if err := gob.NewDecoder(r).Decode(&req); err != nil {
		return nil, fmt.Errorf("childproto: decode: %w", err)
	}

	return &req, nil
}
