// Package rlimits applies per-session soft resource limits requested by a
// client, and raises the daemon process's own hard limits to their
// permitted maximum at startup, per spec.md §4.4/§4.5 and wshd.c's
// set_hard_rlimits/child_fork (msg_rlimit_export).
package rlimits

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/vito/garden-systemd/internal/protocol"
)

// resource pairs an RLIMIT_* constant with the human name used in
// diagnostics, matching the list set_hard_rlimits raises in wshd.c.
type resource struct {
	name string
	id   int
}

// Resources is every limit wshd.c raises to its hard maximum at startup.
var Resources = []resource{
	{"RLIMIT_AS", unix.RLIMIT_AS},
	{"RLIMIT_CORE", unix.RLIMIT_CORE},
	{"RLIMIT_CPU", unix.RLIMIT_CPU},
	{"RLIMIT_DATA", unix.RLIMIT_DATA},
	{"RLIMIT_FSIZE", unix.RLIMIT_FSIZE},
	{"RLIMIT_LOCKS", unix.RLIMIT_LOCKS},
	{"RLIMIT_MEMLOCK", unix.RLIMIT_MEMLOCK},
	{"RLIMIT_MSGQUEUE", unix.RLIMIT_MSGQUEUE},
	{"RLIMIT_NICE", unix.RLIMIT_NICE},
	{"RLIMIT_NOFILE", unix.RLIMIT_NOFILE},
	{"RLIMIT_NPROC", unix.RLIMIT_NPROC},
	{"RLIMIT_RSS", unix.RLIMIT_RSS},
	{"RLIMIT_RTPRIO", unix.RLIMIT_RTPRIO},
	{"RLIMIT_SIGPENDING", unix.RLIMIT_SIGPENDING},
	{"RLIMIT_STACK", unix.RLIMIT_STACK},
}

// MaxNrOpen reads /proc/sys/fs/nr_open, the kernel-wide ceiling used for
// RLIMIT_NOFILE's hard maximum (max_nr_open in wshd.c).
//
// This is read after the daemon's run directory has been detached from
// the mount namespace (spec.md §6); that's safe because /proc is always
// its own mount, independent of whatever was unmounted under the run
// directory (spec.md §9, third open question).
func MaxNrOpen() (uint64, error) {
	data, err := os.ReadFile("/proc/sys/fs/nr_open")
	if err != nil {
		return 0, fmt.Errorf("rlimits: read /proc/sys/fs/nr_open: %w", err)
	}

	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("rlimits: parse /proc/sys/fs/nr_open: %w", err)
	}

	return n, nil
}

// RaiseHard raises every resource in Resources to its maximum permitted
// hard limit (RLIM_INFINITY, except RLIMIT_NOFILE which is bounded by
// MaxNrOpen), so that per-session soft limits can subsequently be set to
// arbitrary values even from inside an unprivileged container.
func RaiseHard() error {
	nrOpen, err := MaxNrOpen()
	if err != nil {
		return err
	}

	for _, r := range Resources {
		var hard uint64 = unix.RLIM_INFINITY
		if r.id == unix.RLIMIT_NOFILE {
			hard = nrOpen
		}

		var lim unix.Rlimit
		if err := unix.Getrlimit(r.id, &lim); err != nil {
			return fmt.Errorf("rlimits: getrlimit %s: %w", r.name, err)
		}

		lim.Max = hard

		if err := unix.Setrlimit(r.id, &lim); err != nil {
			return fmt.Errorf("rlimits: setrlimit %s: %w", r.name, err)
		}
	}

	return nil
}

// resourceByField maps each protocol.Rlimits field to its RLIMIT_* id, in
// the same order msg_rlimit_export walks them in wshd.c.
func resourceByField(r *protocol.Rlimits) []struct {
	entry *protocol.RlimitEntry
	id    int
} {
	return []struct {
		entry *protocol.RlimitEntry
		id    int
	}{
		{&r.AS, unix.RLIMIT_AS},
		{&r.Core, unix.RLIMIT_CORE},
		{&r.CPU, unix.RLIMIT_CPU},
		{&r.Data, unix.RLIMIT_DATA},
		{&r.FSize, unix.RLIMIT_FSIZE},
		{&r.Locks, unix.RLIMIT_LOCKS},
		{&r.MemLock, unix.RLIMIT_MEMLOCK},
		{&r.MsgQueue, unix.RLIMIT_MSGQUEUE},
		{&r.Nice, unix.RLIMIT_NICE},
		{&r.NoFile, unix.RLIMIT_NOFILE},
		{&r.NProc, unix.RLIMIT_NPROC},
		{&r.RSS, unix.RLIMIT_RSS},
		{&r.RTPrio, unix.RLIMIT_RTPRIO},
		{&r.Sigpending, unix.RLIMIT_SIGPENDING},
		{&r.Stack, unix.RLIMIT_STACK},
	}
}

// ImportCurrent builds a protocol.Rlimits snapshot of the calling (client)
// process's own current soft limits, every field marked Present. wsh sends
// this with every request (msg_rlimit_import in wsh.c) so a session's child
// inherits the caller's own resource limits rather than whatever wshd's
// hard-raised defaults would otherwise permit.
func ImportCurrent() (*protocol.Rlimits, error) {
	var out protocol.Rlimits

	for _, f := range resourceByField(&out) {
		var lim unix.Rlimit
		if err := unix.Getrlimit(f.id, &lim); err != nil {
			return nil, fmt.Errorf("rlimits: getrlimit: %w", err)
		}

		f.entry.Present = 1
		f.entry.Value = lim.Cur
	}

	return &out, nil
}

// ApplySoft applies the present overrides in req as soft limits on the
// calling process (must run in the forked child, before exec), matching
// wshd.c's msg_rlimit_export. Limits absent from the request are left
// untouched.
func ApplySoft(req *protocol.Rlimits) error {
	for _, f := range resourceByField(req) {
		if f.entry.Present == 0 {
			continue
		}

		var lim unix.Rlimit
		if err := unix.Getrlimit(f.id, &lim); err != nil {
			return fmt.Errorf("rlimits: getrlimit: %w", err)
		}

		lim.Cur = f.entry.Value

		if err := unix.Setrlimit(f.id, &lim); err != nil {
			return fmt.Errorf("rlimits: setrlimit: %w", err)
		}
	}

	return nil
}
