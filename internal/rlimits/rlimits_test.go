package rlimits

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vito/garden-systemd/internal/protocol"
)

func TestImportCurrentMarksEveryFieldPresent(t *testing.T) {
	lim, err := ImportCurrent()
	require.NoError(t, err)

	var r protocol.Rlimits
	r = *lim

	for _, f := range resourceByField(&r) {
		require.Equal(t, uint32(1), f.entry.Present)
	}
}

func TestApplySoftSkipsAbsentEntries(t *testing.T) {
	var req protocol.Rlimits
	// Nothing marked Present: applying should be a no-op and never error,
	// even without privilege to raise anything.
	require.NoError(t, ApplySoft(&req))
}

func TestMaxNrOpenParsesProcFile(t *testing.T) {
	n, err := MaxNrOpen()
	require.NoError(t, err)
	require.Greater(t, n, uint64(0))
}
