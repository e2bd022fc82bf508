package pump

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func mustPipe(t *testing.T) (r, w *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	for _, f := range []*os.File{r, w} {
		fd := int(f.Fd())
		flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
		require.NoError(t, err)
		_, err = unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_NONBLOCK)
		require.NoError(t, err)
	}

	return r, w
}

func TestPairCopyMovesBytes(t *testing.T) {
	srcR, srcW := mustPipe(t)
	defer srcR.Close()
	defer srcW.Close()

	sinkR, sinkW := mustPipe(t)
	defer sinkR.Close()
	defer sinkW.Close()

	_, err := srcW.Write([]byte("hello"))
	require.NoError(t, err)

	p := &Pair{Src: int(srcR.Fd()), Sink: int(sinkW.Fd())}
	require.NoError(t, PairCopy(p))

	buf := make([]byte, 16)
	n, err := sinkR.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestPairCopyEOFSetsDone(t *testing.T) {
	srcR, srcW := mustPipe(t)
	defer srcR.Close()

	sinkR, sinkW := mustPipe(t)
	defer sinkR.Close()
	defer sinkW.Close()

	srcW.Close()

	p := &Pair{Src: int(srcR.Fd()), Sink: int(sinkW.Fd())}
	require.NoError(t, PairCopy(p))
	require.True(t, p.eof)
}

func TestStateWaitReportsReadyPair(t *testing.T) {
	srcR, srcW := mustPipe(t)
	defer srcR.Close()
	defer srcW.Close()

	sinkR, sinkW := mustPipe(t)
	defer sinkR.Close()
	defer sinkW.Close()

	_, err := srcW.Write([]byte("x"))
	require.NoError(t, err)

	var s State
	s.Init()

	p := &Pair{Src: int(srcR.Fd()), Sink: int(sinkW.Fd())}
	s.AddPair(p)

	done := make(chan error, 1)
	go func() { done <- s.Wait() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return")
	}

	require.True(t, s.Ready(p.Src, Read))
	_ = sinkR
}

func TestStateWaitTracksExtraFD(t *testing.T) {
	r, w := mustPipe(t)
	defer r.Close()
	defer w.Close()

	_, err := w.Write([]byte("z"))
	require.NoError(t, err)

	var s State
	s.Init()
	s.AddFD(int(r.Fd()), Read|Except)

	require.NoError(t, s.Wait())
	require.True(t, s.Ready(int(r.Fd()), Read))
}
