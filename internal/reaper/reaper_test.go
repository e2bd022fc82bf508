package reaper

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryAddTakeRoundTrip(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	reg := NewRegistry()
	require.NoError(t, reg.Add(4242, int(w.Fd())))
	require.Equal(t, 1, reg.Len())

	fd, ok := reg.Take(4242)
	require.True(t, ok)
	require.NotEqual(t, int(w.Fd()), fd, "registry must own a dup, not the original fd")
	require.Equal(t, 0, reg.Len())

	_, ok = reg.Take(4242)
	require.False(t, ok, "a pid is removed exactly once")
}

func TestRegistryTakeUnknownPID(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.Take(1)
	require.False(t, ok)
}

func TestReapAllOnNoChildren(t *testing.T) {
	results, err := ReapAll()
	require.NoError(t, err)
	require.Empty(t, results)
}
