package main

import (
	"fmt"
	"io"
	"os"

	"github.com/vito/garden-systemd/internal/fdsock"
	"github.com/vito/garden-systemd/internal/protocol"
	"github.com/vito/garden-systemd/internal/pump"
	wshterm "github.com/vito/garden-systemd/internal/term"
)

// loopInteractive handles a tty session: raw-mode the local terminal,
// forward window-size changes to the remote pty master, and pump stdin/
// stdout through it. Grounded on wsh.c's loop_interactive/tty_raw/
// tty_winsz.
func loopInteractive(connFD int, pidFile string, stderr io.Writer) int {
	buf := make([]byte, protocol.ResponseSize())

	n, fds, err := fdsock.RecvFDs(connFD, buf, protocol.FDCount(true))
	if err != nil || n != len(buf) {
		fmt.Fprintln(stderr, "wsh: recvmsg:", err)
		return 255
	}

	master := fds[protocol.InteractiveFDPTYMaster]
	exitFD := fds[protocol.InteractiveFDExitStatus]
	pidFD := fds[protocol.InteractiveFDPid]

	guard, err := wshterm.NewGuard(int(os.Stdin.Fd()))
	if err != nil {
		fmt.Fprintln(stderr, "wsh:", err)
		return 255
	}
	defer guard.Close()

	if err := guard.ForwardWinsize(master); err != nil {
		fmt.Fprintln(stderr, "wsh: winsize:", err)
	}

	pairs := []*pump.Pair{
		{Src: int(os.Stdin.Fd()), Sink: master},
		{Src: master, Sink: int(os.Stdout.Fd())},
	}

	return runPumpLoop(pidFile, pairs, exitFD, pidFD, stderr)
}

// loopNonInteractive handles a plain pipe session: stdin/stdout/stderr are
// three independent fds, no pty involved. Grounded on wsh.c's
// loop_noninteractive.
func loopNonInteractive(connFD int, pidFile string, stderr io.Writer) int {
	buf := make([]byte, protocol.ResponseSize())

	n, fds, err := fdsock.RecvFDs(connFD, buf, protocol.FDCount(false))
	if err != nil || n != len(buf) {
		fmt.Fprintln(stderr, "wsh: recvmsg:", err)
		return 255
	}

	exitFD := fds[protocol.NonInteractiveFDExitStatus]
	pidFD := fds[protocol.NonInteractiveFDPid]

	pairs := []*pump.Pair{
		{Src: int(os.Stdin.Fd()), Sink: fds[protocol.NonInteractiveFDStdin]},
		{Src: fds[protocol.NonInteractiveFDStdout], Sink: int(os.Stdout.Fd())},
		{Src: fds[protocol.NonInteractiveFDStderr], Sink: int(os.Stderr.Fd())},
	}

	return runPumpLoop(pidFile, pairs, exitFD, pidFD, stderr)
}

// runPumpLoop is the shared body of wsh.c's pump_loop: read the
// container-namespaced pid once (optionally recording it to --pidfile),
// then alternate select/copy/drain until the exit-status fd reports a
// result, doing one final drain pass so output already sitting in kernel
// buffers reaches the local terminal/pipes before exiting.
func runPumpLoop(pidFile string, pairs []*pump.Pair, exitFD, pidFD int, stderr io.Writer) int {
	pid, err := readPID(pidFD)
	if err != nil {
		fmt.Fprintln(stderr, "wsh: read pid:", err)
		return 255
	}

	var pidFileHandle *os.File
	if pidFile != "" {
		f, err := os.OpenFile(pidFile, os.O_RDWR|os.O_CREATE, 0600)
		if err != nil {
			fmt.Fprintln(stderr, "wsh: open pidfile:", err)
			return 255
		}

		if _, err := fmt.Fprintf(f, "%d\n", pid); err != nil {
			fmt.Fprintln(stderr, "wsh: write pidfile:", err)
		}

		pidFileHandle = f
	}

	cleanup := func(code int) int {
		if pidFileHandle == nil {
			return code
		}

		_ = pidFileHandle.Close()

		if err := os.Remove(pidFile); err != nil {
			fmt.Fprintln(stderr, "wsh: unlink pidfile:", err)
			return 255
		}

		return code
	}

	for {
		var st pump.State
		st.Init()

		for _, p := range pairs {
			st.AddPair(p)
		}

		st.AddFD(exitFD, pump.Read|pump.Except)

		if err := st.Wait(); err != nil {
			fmt.Fprintln(stderr, "wsh: select:", err)
			return cleanup(255)
		}

		for _, p := range pairs {
			if err := pump.PairCopy(p); err != nil {
				fmt.Fprintln(stderr, "wsh: pump:", err)
				return cleanup(255)
			}
		}

		if !st.Ready(exitFD, pump.Read|pump.Except) {
			continue
		}

		status, eof, err := readExitStatus(exitFD)
		if err != nil {
			fmt.Fprintln(stderr, "wsh: read exit status:", err)
			return cleanup(255)
		}

		for _, p := range pairs {
			_ = pump.PairCopy(p)
		}

		if eof {
			// The exit-status pipe closed with no status written: the
			// remote process was terminated by a signal rather than
			// exiting normally.
			return cleanup(255)
		}

		return cleanup(status)
	}
}

func readPID(fd int) (int, error) {
	f := fdsock.FileFromFD(fd, "pid")
	defer f.Close()

	var buf [4]byte
	if _, err := io.ReadFull(f, buf[:]); err != nil {
		return 0, err
	}

	return int(getInt32(buf[:])), nil
}

func readExitStatus(fd int) (status int, eof bool, err error) {
	f := fdsock.FileFromFD(fd, "exit-status")

	var buf [4]byte
	n, rerr := io.ReadFull(f, buf[:])
	if rerr != nil {
		if n == 0 {
			return 0, true, nil
		}

		return 0, false, rerr
	}

	return int(getInt32(buf[:])), false, nil
}

func getInt32(b []byte) int32 {
	return int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16 | int32(b[3])<<24
}
