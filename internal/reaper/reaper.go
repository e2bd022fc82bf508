// Package reaper implements the daemon's child-lifecycle registry and its
// signal-driven reaper, per spec.md §4.5.
//
// Grounded directly on wshd.c's pid_to_fd array (child_pid_to_fd_add/
// child_pid_to_fd_remove) and child_handle_sigchld/child_signalfd, ported
// to a map (O(1) removal, per spec.md §9's re-architecture guidance) and
// golang.org/x/sys/unix.Signalfd rather than os/signal, because the
// daemon's event loop is a single select() over {listen-socket, signal-fd}
// and os/signal's channel delivery doesn't multiplex into that set.
package reaper

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Registry maps a child's in-container PID to the write end of its
// exit-status pipe. It is touched only from the daemon's single-threaded
// event loop, so — per spec.md's explicit invariant — no lock is needed.
type Registry struct {
	byPID map[int]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byPID: map[int]int{}}
}

// Add inserts pid -> exitFD, duplicating exitFD so the registry owns an
// independent copy (matching wshd.c's child_pid_to_fd_add, which dup()s
// before storing).
func (r *Registry) Add(pid int, exitFD int) error {
	dup, err := unix.FcntlInt(uintptr(exitFD), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("reaper: dup exit fd: %w", err)
	}

	r.byPID[pid] = dup

	return nil
}

// Take removes pid from the registry and returns ownership of its exit fd
// to the caller, which must write to it (or not) and then close it. ok is
// false if pid was never registered (e.g. a re-parented descendant that
// isn't one of our direct sessions).
func (r *Registry) Take(pid int) (fd int, ok bool) {
	fd, ok = r.byPID[pid]
	if ok {
		delete(r.byPID, pid)
	}

	return fd, ok
}

// Len reports the number of live sessions whose child has not yet been
// reaped.
func (r *Registry) Len() int {
	return len(r.byPID)
}

// SignalFD opens a signalfd subscribed to SIGCHLD, blocking delivery of
// that signal through the normal signal-disposition path (so it is only
// observed via reads on the returned fd), per child_signalfd in wshd.c.
//
// Must be called once, as early as possible in main, before any other
// goroutine can spawn additional OS threads: Linux inherits the calling
// thread's signal mask into threads it subsequently clones, which is the
// only way a process-wide signalfd mask holds up inside the Go runtime
// (there is no portable process-wide sigprocmask).
func SignalFD() (int, error) {
	var mask unix.Sigset_t
	sigaddset(&mask, unix.SIGCHLD)

	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &mask, nil); err != nil {
		return -1, fmt.Errorf("reaper: pthread_sigmask: %w", err)
	}

	fd, err := unix.Signalfd(-1, &mask, unix.SFD_NONBLOCK|unix.SFD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("reaper: signalfd: %w", err)
	}

	return fd, nil
}

// DrainSiginfo reads (and discards) one signalfd_siginfo record, advisory
// per spec.md §4.5 ("reading the siginfo is advisory").
func DrainSiginfo(fd int) error {
	var buf [unix.SizeofSignalfdSiginfo]byte

	n, err := unix.Read(fd, buf[:])
	if err != nil {
		return err
	}

	if n != len(buf) {
		return fmt.Errorf("reaper: short signalfd read: %d bytes", n)
	}

	return nil
}

// ReapResult is the outcome of reaping one child.
type ReapResult struct {
	PID    int
	Status int
	// Signaled is true if the child was killed by a signal rather than
	// exiting normally; in that case Status is not meaningful.
	Signaled bool
}

// ReapAll calls waitpid(-1, WNOHANG) in a loop until no more zombies
// remain, returning one ReapResult per reaped child. Unknown errors from
// waitpid (other than ECHILD, meaning "no children left") are returned.
func ReapAll() ([]ReapResult, error) {
	var results []ReapResult

	for {
		var ws unix.WaitStatus

		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil {
			if err == unix.ECHILD {
				break
			}

			return results, fmt.Errorf("reaper: wait4: %w", err)
		}

		if pid <= 0 {
			break
		}

		res := ReapResult{PID: pid}

		if ws.Exited() {
			res.Status = ws.ExitStatus()
		} else {
			res.Signaled = true
		}

		results = append(results, res)
	}

	return results, nil
}

func sigaddset(set *unix.Sigset_t, sig unix.Signal) {
	// unix.Sigset_t is a small fixed-size array of uint64 words; SIGCHLD
	// (and any signal < 64) lives entirely in the first word.
	set.Val[(sig-1)/64] |= 1 << (uint(sig-1) % 64)
}
