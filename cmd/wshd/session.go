package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/vito/garden-systemd/internal/fdsock"
	"github.com/vito/garden-systemd/internal/protocol"
	"github.com/vito/garden-systemd/internal/ptyutil"
)

// acceptOne accepts a single connection and handles its one request to
// completion before returning to the event loop, per spec.md §4.2 ("a
// session handler runs to completion within one iteration").
func (d *daemon) acceptOne() {
	connFD, err := fdsock.Accept(d.listenFD)
	if err != nil {
		d.log.WithError(err).Warn("accept")
		return
	}

	d.handleConn(connFD)
}

func (d *daemon) handleConn(connFD int) {
	defer unix.Close(connFD)

	buf := make([]byte, protocol.Size())

	n, _, err := fdsock.RecvFDs(connFD, buf, 0)
	if err != nil {
		d.log.WithError(err).Warn("recv request")
		return
	}

	if n == 0 {
		// Client disconnected before sending a request.
		return
	}

	if n != len(buf) {
		// A short read on a fixed-size record is a framing bug, not a
		// client mistake: the wire format guarantees either the exact
		// size or nothing at all arrives in one message.
		d.fatal(fmt.Errorf("short request read: got %d bytes, want %d", n, len(buf)))
	}

	var req protocol.Request
	if err := req.Unmarshal(bytes.NewReader(buf)); err != nil {
		d.fatal(fmt.Errorf("unmarshal request: %w", err))
	}

	log := d.log.WithField("session", uuid.NewString())

	if req.TTY != 0 {
		d.handleInteractive(connFD, &req, log)
	} else {
		d.handleNonInteractive(connFD, &req, log)
	}
}

// handleInteractive allocates a pty and the fd bundle spec.md §4.3's
// interactive table describes: the client gets the pty master plus the
// exit-status and pid read ends; the daemon keeps the slave (wired to the
// child's stdin/stdout/stderr) and the corresponding write ends.
func (d *daemon) handleInteractive(connFD int, req *protocol.Request, log *logrus.Entry) {
	master, slave, err := ptyutil.Open()
	if err != nil {
		// Resource exhaustion (out of ptys) is the daemon's own invariant
		// violation, not this client's problem: wshd.c aborts rather than
		// try to keep serving in a state it can no longer guarantee.
		d.fatal(fmt.Errorf("open pty: %w", err))
	}

	exitR, exitW, err := os.Pipe()
	if err != nil {
		d.fatal(fmt.Errorf("open exit-status pipe: %w", err))
	}

	pidR, pidW, err := os.Pipe()
	if err != nil {
		d.fatal(fmt.Errorf("open pid pipe: %w", err))
	}

	clientFDs := []int{int(master.Fd()), int(exitR.Fd()), int(pidR.Fd())}

	if !d.replyWithFDs(connFD, clientFDs, log) {
		master.Close()
		slave.Close()
		exitR.Close()
		exitW.Close()
		pidR.Close()
		pidW.Close()
		return
	}

	// The client now owns its own dup of master/exitR/pidR; our copies are
	// no longer needed.
	master.Close()
	exitR.Close()
	pidR.Close()

	pid, err := d.spawnChild(req, slave, slave, slave, true, log)
	slave.Close()

	if err != nil {
		exitW.Close()
		pidW.Close()
		d.fatal(fmt.Errorf("fork session: %w", err))
	}

	d.finishSpawn(pid, exitW, pidW, log)
}

// handleNonInteractive wires three independent pipes for stdin/stdout/
// stderr instead of a pty. Per spec.md §4.3's direction table, the client
// gets the stdin *write* end (it produces input) and the stdout/stderr
// *read* ends (it consumes output); the daemon keeps the opposite ends for
// the child.
func (d *daemon) handleNonInteractive(connFD int, req *protocol.Request, log *logrus.Entry) {
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		d.fatal(fmt.Errorf("open stdin pipe: %w", err))
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		d.fatal(fmt.Errorf("open stdout pipe: %w", err))
	}

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		d.fatal(fmt.Errorf("open stderr pipe: %w", err))
	}

	exitR, exitW, err := os.Pipe()
	if err != nil {
		d.fatal(fmt.Errorf("open exit-status pipe: %w", err))
	}

	pidR, pidW, err := os.Pipe()
	if err != nil {
		d.fatal(fmt.Errorf("open pid pipe: %w", err))
	}

	clientFDs := []int{
		int(stdinW.Fd()), int(stdoutR.Fd()), int(stderrR.Fd()),
		int(exitR.Fd()), int(pidR.Fd()),
	}

	if !d.replyWithFDs(connFD, clientFDs, log) {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		exitR.Close()
		exitW.Close()
		pidR.Close()
		pidW.Close()
		return
	}

	stdinW.Close()
	stdoutR.Close()
	stderrR.Close()
	exitR.Close()
	pidR.Close()

	pid, err := d.spawnChild(req, stdinR, stdoutW, stderrW, false, log)
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()

	if err != nil {
		exitW.Close()
		pidW.Close()
		d.fatal(fmt.Errorf("fork session: %w", err))
	}

	d.finishSpawn(pid, exitW, pidW, log)
}

// replyWithFDs marshals an acknowledgement Response and sends it with fds
// attached. A failure here (most likely the client disconnecting mid
// handshake) is a per-session protocol failure, not a daemon invariant
// violation — it's logged and the caller cleans up, but the daemon keeps
// serving.
func (d *daemon) replyWithFDs(connFD int, fds []int, log *logrus.Entry) bool {
	var resp protocol.Response

	var buf bytes.Buffer
	if err := resp.Marshal(&buf); err != nil {
		d.fatal(fmt.Errorf("marshal response: %w", err))
	}

	if _, err := fdsock.SendFDs(connFD, buf.Bytes(), fds); err != nil {
		log.WithError(err).Warn("send response")
		return false
	}

	return true
}

// finishSpawn registers the child with the reaper and publishes its pid to
// the waiting client.
func (d *daemon) finishSpawn(pid int, exitW, pidW *os.File, log *logrus.Entry) {
	var pidBuf [4]byte
	putInt32(pidBuf[:], int32(pid))
	_, _ = pidW.Write(pidBuf[:])
	pidW.Close()

	if err := d.registry.Add(pid, int(exitW.Fd())); err != nil {
		d.fatal(fmt.Errorf("register session: %w", err))
	}

	exitW.Close()

	log.WithField("pid", pid).Debug("session started")
}
