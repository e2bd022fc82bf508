package childproto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req := &Request{
		Argv: []string{"/bin/sh", "-c", "true"},
		Dir:  "subdir",
		TTY:  true,
	}
	req.Rlim.NoFile.Present = 1
	req.Rlim.NoFile.Value = 1024

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, req))

	got, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, req.Argv, got.Argv)
	require.Equal(t, req.Dir, got.Dir)
	require.True(t, got.TTY)
	require.Equal(t, uint32(1), got.Rlim.NoFile.Present)
	require.Equal(t, uint64(1024), got.Rlim.NoFile.Value)
}

func TestDecodeLookupError(t *testing.T) {
	req := &Request{LookupError: "identity: no such user \"ghost\""}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, req))

	got, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, req.LookupError, got.LookupError)
	require.Empty(t, got.Argv)
}
