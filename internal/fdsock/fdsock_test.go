package fdsock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestListenConnectAcceptSendRecvFDs(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "test.sock")

	lfd, err := Listen(sockPath)
	require.NoError(t, err)
	defer unix.Close(lfd)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	accepted := make(chan int, 1)
	go func() {
		cfd, err := Accept(lfd)
		require.NoError(t, err)
		accepted <- cfd
	}()

	cfd, err := Connect(sockPath)
	require.NoError(t, err)
	defer unix.Close(cfd)

	sfd := <-accepted
	defer unix.Close(sfd)

	payload := []byte("hello")
	n, err := SendFDs(sfd, payload, []int{int(w.Fd())})
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	w.Close()

	buf := make([]byte, 64)
	n, fds, err := RecvFDs(cfd, buf, 1)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, buf[:n])
	require.Len(t, fds, 1)

	got := os.NewFile(uintptr(fds[0]), "piped")
	defer got.Close()

	_, err = got.Write([]byte("hello"))
	require.NoError(t, err)

	gotBuf := make([]byte, 64)
	gn, err := r.Read(gotBuf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(gotBuf[:gn]))
}

func TestRecvFDsMismatchIsFatal(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "test.sock")

	lfd, err := Listen(sockPath)
	require.NoError(t, err)
	defer unix.Close(lfd)

	accepted := make(chan int, 1)
	go func() {
		cfd, err := Accept(lfd)
		require.NoError(t, err)
		accepted <- cfd
	}()

	cfd, err := Connect(sockPath)
	require.NoError(t, err)
	defer unix.Close(cfd)

	sfd := <-accepted
	defer unix.Close(sfd)

	_, err = SendFDs(sfd, []byte("x"), nil)
	require.NoError(t, err)

	buf := make([]byte, 64)
	_, _, err = RecvFDs(cfd, buf, 2)
	require.Error(t, err)
}
