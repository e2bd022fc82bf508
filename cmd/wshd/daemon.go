package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/vito/garden-systemd/internal/fdsock"
	"github.com/vito/garden-systemd/internal/pump"
	"github.com/vito/garden-systemd/internal/reaper"
	"github.com/vito/garden-systemd/internal/rlimits"
	"github.com/vito/garden-systemd/internal/wlog"
)

// socketName is the fixed listen-socket filename inside the run directory,
// matching wshd.c's `sock.sun_path = run_dir + "/daemon.sock"`.
const socketName = "daemon.sock"

type daemon struct {
	runDir   string
	listenFD int
	sigFD    int
	log      *logrus.Logger
	registry *reaper.Registry

	// shutdownR/shutdownW are a self-pipe: the event loop's select(2) set
	// only knows about fds, not Go channels, so the goroutine that waits
	// on SIGTERM/SIGINT (coordinated via errgroup below) wakes the loop by
	// writing a byte here rather than by any channel-based signaling.
	shutdownR, shutdownW *os.File
	group                *errgroup.Group
	cancel               context.CancelFunc
}

// newDaemon validates configuration and performs the one-time startup
// sequence: listen on the control socket, detach the run directory from the
// mount namespace, and raise this process's hard rlimits to their maximum.
// Any failure here is a configuration error (exit 1, per spec.md §6); once
// newDaemon returns successfully, further failures are runtime-fatal
// (exit 255) and are handled inside run().
func newDaemon(runDir string, debug bool) (*daemon, error) {
	if runDir == "" {
		return nil, errors.New("--run directory must not be empty")
	}

	if err := os.MkdirAll(runDir, 0700); err != nil {
		return nil, errors.Wrap(err, "create run directory")
	}

	sockPath := filepath.Join(runDir, socketName)

	listenFD, err := fdsock.Listen(sockPath)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", sockPath)
	}

	// The run directory may be bind-mounted in from outside the container;
	// detaching it here (lazily, so the already-open listenFD keeps
	// working) matches wshd.c's umount2(run_dir, MNT_DETACH) and keeps the
	// socket from being visible past container setup. /proc is its own
	// mount and is unaffected (see internal/rlimits.MaxNrOpen).
	if err := unix.Unmount(runDir, unix.MNT_DETACH); err != nil && err != unix.EINVAL {
		_ = unix.Close(listenFD)
		return nil, errors.Wrapf(err, "detach run directory %s", runDir)
	}

	if err := rlimits.RaiseHard(); err != nil {
		_ = unix.Close(listenFD)
		return nil, errors.Wrap(err, "raise hard rlimits")
	}

	sigFD, err := reaper.SignalFD()
	if err != nil {
		_ = unix.Close(listenFD)
		return nil, errors.Wrap(err, "set up signalfd")
	}

	shutdownR, shutdownW, err := os.Pipe()
	if err != nil {
		_ = unix.Close(listenFD)
		return nil, errors.Wrap(err, "open shutdown pipe")
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	d := &daemon{
		runDir:     runDir,
		listenFD:   listenFD,
		sigFD:      sigFD,
		log:        wlog.New(os.Stdout, debug),
		registry:   reaper.NewRegistry(),
		shutdownR:  shutdownR,
		shutdownW:  shutdownW,
		group:      group,
		cancel:     cancel,
	}

	// The daemon's event loop is a single select() over fds; SIGTERM/SIGINT
	// delivery is handled the ordinary Go way (os/signal channel) in its
	// own goroutine, coordinated through errgroup so a startup failure in
	// this goroutine would propagate the same way any other daemon
	// subsystem's would. It wakes the select loop via the self-pipe above
	// rather than by sharing any mutable state with it.
	group.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigCh)

		select {
		case <-sigCh:
		case <-ctx.Done():
			return nil
		}

		_, err := d.shutdownW.Write([]byte{0})
		return err
	})

	return d, nil
}

// fatal logs a runtime-fatal error and terminates the daemon with exit 255,
// per spec.md §6's CLI contract: once the daemon has started serving, every
// unrecoverable error — allocation failure, fork failure, a corrupt
// framing read — ends the process the same way. The single socket
// connection at fault is never treated as a reason to keep the daemon
// running with an internal invariant violated.
func (d *daemon) fatal(err error) {
	d.log.WithError(err).Error("fatal")
	os.Exit(255)
}

// run is the daemon's single-threaded event loop: select over the listen
// socket, the SIGCHLD signalfd, and the shutdown self-pipe, handling every
// fd reported ready (shutdown first, then reaping, then at most one accept)
// before looping again. Session
// handlers (acceptOne) and reaping (reapAll) both run to completion inline
// — no goroutine-per-session — so the registry never needs a lock. run
// returns only on a clean SIGTERM/SIGINT shutdown; every other failure path
// terminates the process directly via fatal.
func (d *daemon) run() error {
	d.log.WithField("run", d.runDir).Info("wshd listening")

	for {
		var st pump.State
		st.Init()
		st.AddFD(d.listenFD, pump.Read)
		st.AddFD(d.sigFD, pump.Read)
		st.AddFD(int(d.shutdownR.Fd()), pump.Read)

		if err := st.Wait(); err != nil {
			d.fatal(fmt.Errorf("select: %w", err))
		}

		if st.Ready(int(d.shutdownR.Fd()), pump.Read) {
			d.log.Info("shutting down")
			d.cancel()
			_ = d.group.Wait()
			_ = unix.Close(d.listenFD)
			return nil
		}

		if st.Ready(d.sigFD, pump.Read) {
			if err := reaper.DrainSiginfo(d.sigFD); err != nil {
				d.fatal(fmt.Errorf("drain signalfd: %w", err))
			}

			d.reapAll()
		}

		if st.Ready(d.listenFD, pump.Read) {
			d.acceptOne()
		}
	}
}

// reapAll collects every exited child and delivers its status to the
// session that's waiting on it, per spec.md §4.5.
func (d *daemon) reapAll() {
	results, err := reaper.ReapAll()
	if err != nil {
		d.fatal(fmt.Errorf("reap: %w", err))
	}

	for _, res := range results {
		exitFD, ok := d.registry.Take(res.PID)
		if !ok {
			// Not one of our sessions (e.g. a grandchild re-parented to
			// us); nothing to deliver.
			continue
		}

		d.log.WithField("pid", res.PID).WithField("status", res.Status).WithField("signaled", res.Signaled).Debug("child exited")

		f := fdsock.FileFromFD(exitFD, "exit-status")
		if !res.Signaled {
			// A signal-terminated child gets no status at all: the fd is
			// only closed, and wsh reports the EOF as exit 255.
			var buf [4]byte
			putInt32(buf[:], int32(res.Status))
			_, _ = f.Write(buf[:])
		}
		_ = f.Close()
	}
}

func putInt32(b []byte, v int32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
