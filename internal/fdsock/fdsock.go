// Package fdsock sends and receives exactly one fixed-size payload plus an
// ordered list of ancillary file descriptors over a unix-domain socket,
// grounded on un.c (referenced by spec.md) and on this corpus's own
// SCM_RIGHTS usage in devlxd.go. It is built directly on
// golang.org/x/sys/unix rather than net.UnixConn so that every fd crossing
// the boundary gets O_CLOEXEC set atomically, before any other code path
// in the process can fork+exec and leak it.
package fdsock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Listen creates, binds and listens on a unix-domain stream socket at
// path, unlinking any stale socket file first.
func Listen(path string) (int, error) {
	_ = unix.Unlink(path)

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("fdsock: socket: %w", err)
	}

	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("fdsock: bind %s: %w", path, err)
	}

	if err := unix.Listen(fd, 16); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("fdsock: listen %s: %w", path, err)
	}

	return fd, nil
}

// Accept accepts one connection off the listening socket, returning a
// close-on-exec fd.
func Accept(listenFD int) (int, error) {
	nfd, _, err := unix.Accept4(listenFD, unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("fdsock: accept: %w", err)
	}

	return nfd, nil
}

// Connect dials the unix-domain stream socket at path, returning a
// close-on-exec fd.
func Connect(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("fdsock: socket: %w", err)
	}

	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Connect(fd, addr); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("fdsock: connect %s: %w", path, err)
	}

	return fd, nil
}

// SendFDs transmits payload and fds in one ancillary-data message. fds may
// be empty. It returns the number of payload bytes written.
func SendFDs(sock int, payload []byte, fds []int) (int, error) {
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}

	if err := unix.Sendmsg(sock, payload, oob, nil, 0); err != nil {
		return 0, fmt.Errorf("fdsock: sendmsg: %w", err)
	}

	return len(payload), nil
}

// RecvFDs reads one message into payloadBuf and expects exactly
// len(fdsBuf) fds to arrive with it (both sides agree on the count by
// protocol, so any other count is a fatal framing error). n is the number
// of payload bytes read; n == 0 means the peer closed the connection.
// Every fd returned has close-on-exec set.
func RecvFDs(sock int, payloadBuf []byte, wantFDs int) (n int, fds []int, err error) {
	oobSpace := unix.CmsgSpace(wantFDs * 4)
	oob := make([]byte, oobSpace)

	n, oobn, _, _, err := unix.Recvmsg(sock, payloadBuf, oob, unix.MSG_CMSG_CLOEXEC)
	if err != nil {
		return 0, nil, fmt.Errorf("fdsock: recvmsg: %w", err)
	}

	if n == 0 {
		return 0, nil, nil
	}

	if wantFDs == 0 {
		return n, nil, nil
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return 0, nil, fmt.Errorf("fdsock: parse control message: %w", err)
	}

	for _, m := range msgs {
		got, err := unix.ParseUnixRights(&m)
		if err != nil {
			continue
		}

		fds = append(fds, got...)
	}

	if len(fds) != wantFDs {
		for _, fd := range fds {
			_ = unix.Close(fd)
		}

		return 0, nil, fmt.Errorf("fdsock: protocol error: expected %d fds, got %d", wantFDs, len(fds))
	}

	for _, fd := range fds {
		setCloexec(fd)
	}

	return n, fds, nil
}

func setCloexec(fd int) {
	_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC)
}

// FileFromFD wraps a raw fd as an *os.File for use with Go I/O.
func FileFromFD(fd int, name string) *os.File {
	return os.NewFile(uintptr(fd), name)
}
