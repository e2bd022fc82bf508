package main

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/vito/garden-systemd/internal/childproto"
	"github.com/vito/garden-systemd/internal/identity"
	"github.com/vito/garden-systemd/internal/protocol"
)

// selfPath resolves once, lazily: the absolute path to this very binary, so
// the daemon can reexec itself regardless of the working directory or how
// it was originally invoked (symlink, relative path, $PATH lookup).
var (
	selfPathOnce sync.Once
	selfPathVal  string
	selfPathErr  error
)

func selfPath() (string, error) {
	selfPathOnce.Do(func() {
		selfPathVal, selfPathErr = os.Executable()
	})

	return selfPathVal, selfPathErr
}

// spawnChild forks a session's child process. Go's os/exec offers no hook
// to run arbitrary code between fork and exec (unlike wshd.c's child_fork,
// which freely calls dup2/setsid/getpwnam/ioctl/chdir/sigprocmask in the
// forked child before execvpe), so everything the kernel itself can apply
// atomically during clone+execve — the uid/gid/groups switch, becoming a
// session leader, acquiring a controlling tty — is expressed via
// SysProcAttr on this one exec.Cmd. Everything else that wshd.c runs after
// the fork (soft rlimits, an extra chdir, clearing the inherited SIGCHLD
// block) runs instead in a "__exec-child" reexec of wshd itself: a fresh
// process image, started already running as the target identity, that
// finishes setup and then calls syscall.Exec into the real target. See
// internal/childproto for the handoff format and runExecChild (in
// execchild.go) for the receiving side.
func (d *daemon) spawnChild(req *protocol.Request, stdin, stdout, stderr *os.File, tty bool, log *logrus.Entry) (int, error) {
	self, err := selfPath()
	if err != nil {
		return 0, fmt.Errorf("resolve self path: %w", err)
	}

	acct, lookupErr := identity.Lookup(req.User.Export())

	childReq := childproto.Request{
		Dir:  req.Dir.Export(),
		Rlim: req.Rlim,
		TTY:  tty,
	}

	if lookupErr != nil {
		log.WithError(lookupErr).WithField("user", req.User.Export()).Warn("unknown user")
		childReq.LookupError = lookupErr.Error()
	} else {
		childReq.Argv = identity.Argv(req.Arg.Export(), acct)
	}

	blobR, blobW, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("open handoff pipe: %w", err)
	}

	cmd := exec.Command(self, execChildArg)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.ExtraFiles = []*os.File{blobR}

	attr := &syscall.SysProcAttr{Setsid: true}

	if tty {
		attr.Setctty = true
		attr.Ctty = 0 // stdin, the pty slave handed in above
	}

	if lookupErr == nil {
		cmd.Dir = acct.Home
		cmd.Env = identity.ComposeEnv(acct, req.Env.Export())
		attr.Credential = &syscall.Credential{
			Uid:    uint32(acct.UID),
			Gid:    uint32(acct.GID),
			Groups: toUint32(acct.Groups),
		}
	}

	cmd.SysProcAttr = attr

	if err := cmd.Start(); err != nil {
		blobR.Close()
		blobW.Close()
		return 0, fmt.Errorf("start: %w", err)
	}

	// The child has its own copy of blobR now (inherited via ExtraFiles);
	// ours would otherwise leak a pipe read end for the life of the
	// daemon.
	blobR.Close()

	if err := childproto.Encode(blobW, &childReq); err != nil {
		blobW.Close()
		return 0, fmt.Errorf("encode handoff: %w", err)
	}

	if err := blobW.Close(); err != nil {
		return 0, fmt.Errorf("close handoff pipe: %w", err)
	}

	return cmd.Process.Pid, nil
}

func toUint32(ids []int) []uint32 {
	out := make([]uint32, len(ids))
	for i, id := range ids {
		out[i] = uint32(id)
	}

	return out
}
