package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseArgsBasicFlags(t *testing.T) {
	cfg, err := parseArgs([]string{
		"--socket", "/tmp/wshd.sock",
		"--user", "vcap",
		"--env", "A=1",
		"--env", "B=2",
		"--dir", "/tmp",
		"--pidfile", "/tmp/pid",
		"/bin/echo", "hi",
	})
	require.NoError(t, err)
	require.Equal(t, "/tmp/wshd.sock", cfg.Socket)
	require.Equal(t, "vcap", cfg.User)
	require.Equal(t, []string{"A=1", "B=2"}, cfg.Env)
	require.Equal(t, "/tmp", cfg.Dir)
	require.Equal(t, "/tmp/pid", cfg.PidFile)
	require.Equal(t, []string{"/bin/echo", "hi"}, cfg.Argv)
}

func TestParseArgsNoFlagsJustCommand(t *testing.T) {
	cfg, err := parseArgs([]string{"/bin/sh", "-c", "true"})
	require.NoError(t, err)
	require.Equal(t, []string{"/bin/sh", "-c", "true"}, cfg.Argv)
}

func TestParseArgsHelp(t *testing.T) {
	_, err := parseArgs([]string{"--help"})
	require.ErrorIs(t, err, errHelp)

	_, err = parseArgs([]string{"-h"})
	require.ErrorIs(t, err, errHelp)
}

func TestParseArgsInvalidOption(t *testing.T) {
	_, err := parseArgs([]string{"--bogus"})
	require.Error(t, err)
}

func TestParseArgsRSHCompatibility(t *testing.T) {
	cfg, err := parseArgs([]string{"--rsh", "-l", "vcap", "-4", "somehost", "echo", "hi"})
	require.NoError(t, err)
	require.Equal(t, "vcap", cfg.User)
	require.Equal(t, []string{"echo", "hi"}, cfg.Argv)
}

func TestParseArgsRSHHostOnly(t *testing.T) {
	cfg, err := parseArgs([]string{"--rsh", "somehost"})
	require.NoError(t, err)
	require.Empty(t, cfg.Argv)
}

func TestParseArgsRSHMissingHost(t *testing.T) {
	_, err := parseArgs([]string{"--rsh"})
	require.Error(t, err)
}
