package protocol

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoundedArrayRoundTrip(t *testing.T) {
	var a BoundedArray
	items := []string{"/bin/sh", "-c", "echo hi"}

	require.NoError(t, a.Import(items))
	require.Equal(t, items, a.Export())
	require.Equal(t, len(items), a.Count())
}

func TestBoundedArrayOversizeFailsDeterministically(t *testing.T) {
	var a BoundedArray
	require.NoError(t, a.Import([]string{"keep-me"}))

	huge := make([]string, 0, MaxArrayCount+1)
	for i := 0; i < MaxArrayCount+1; i++ {
		huge = append(huge, "x")
	}

	err := a.Import(huge)
	require.Error(t, err)
	// Failed import must not clobber prior state.
	require.Equal(t, []string{"keep-me"}, a.Export())
}

func TestBoundedArrayOversizeBytes(t *testing.T) {
	var a BoundedArray
	big := strings.Repeat("x", MaxArrayLen)
	err := a.Import([]string{big})
	require.Error(t, err)
}

func TestBoundedStringRoundTrip(t *testing.T) {
	var s BoundedString
	require.NoError(t, s.Import("/home/vcap"))
	require.Equal(t, "/home/vcap", s.Export())
}

func TestBoundedStringTooLong(t *testing.T) {
	var s BoundedString
	err := s.Import(strings.Repeat("a", MaxPathLen))
	require.Error(t, err)
}

func TestRequestMarshalUnmarshalRoundTrip(t *testing.T) {
	var req Request
	req.TTY = 1
	require.NoError(t, req.Arg.Import([]string{"/bin/sh", "-c", "true"}))
	require.NoError(t, req.Env.Import([]string{"X=1", "Y=2"}))
	require.NoError(t, req.Dir.Import("/tmp"))
	require.NoError(t, req.User.Import("vcap"))
	req.Rlim.NoFile.Present = 1
	req.Rlim.NoFile.Value = 1024

	var buf bytes.Buffer
	require.NoError(t, req.Marshal(&buf))
	require.Equal(t, Size(), buf.Len())

	var got Request
	require.NoError(t, got.Unmarshal(&buf))

	require.Equal(t, req.TTY, got.TTY)
	require.Equal(t, []string{"/bin/sh", "-c", "true"}, got.Arg.Export())
	require.Equal(t, []string{"X=1", "Y=2"}, got.Env.Export())
	require.Equal(t, "/tmp", got.Dir.Export())
	require.Equal(t, "vcap", got.User.Export())
	require.Equal(t, uint32(1), got.Rlim.NoFile.Present)
	require.Equal(t, uint64(1024), got.Rlim.NoFile.Value)
}

func TestRequestUnmarshalShortReadFails(t *testing.T) {
	var req Request
	err := req.Unmarshal(bytes.NewReader([]byte{1, 2, 3}))
	require.Error(t, err)
}

func TestEnvAddGetLastMatchWins(t *testing.T) {
	var env []string
	env = EnvAdd(env, "PATH", "/bin")
	env = EnvAdd(env, "PATH", "/usr/bin")

	v, ok := EnvGet(env, "PATH")
	require.True(t, ok)
	require.Equal(t, "/usr/bin", v)
	require.Len(t, env, 2)
}

func TestEnvGetMissing(t *testing.T) {
	_, ok := EnvGet([]string{"X=1"}, "Y")
	require.False(t, ok)
}

func TestFDCount(t *testing.T) {
	require.Equal(t, InteractiveFDCount, FDCount(true))
	require.Equal(t, NonInteractiveFDCount, FDCount(false))
}
