// Package identity resolves account-database entries and composes the
// forked child's environment and process identity, per spec.md §4.4.
//
// Lookup is a minimal /etc/passwd parser rather than cgo's getpwnam_r: the
// outer orchestrator contract (spec.md §1) treats user-database lookup as
// an external collaborator with a named contract only, and cgo-free
// binaries are this corpus's norm for anything that ships as a static
// in-container helper. No ecosystem library in this retrieval pack parses
// /etc/passwd directly, so this one file is stdlib-only by necessity
// (documented per the grounding ledger in DESIGN.md).
package identity

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Account mirrors the fields of struct passwd that wshd.c reads off
// getpwnam's result.
type Account struct {
	Name   string
	UID    int
	GID    int
	Home   string
	Shell  string
	Groups []int // supplementary group IDs, including GID
}

// Lookup resolves name (or "root" if name is empty, per spec.md §3) from
// /etc/passwd. It returns an error if the account doesn't exist.
func Lookup(name string) (*Account, error) {
	if name == "" {
		name = "root"
	}

	f, err := os.Open("/etc/passwd")
	if err != nil {
		return nil, fmt.Errorf("identity: open /etc/passwd: %w", err)
	}
	defer f.Close()

	acct, err := scanPasswd(f, name)
	if err != nil {
		return nil, err
	}

	groups, err := supplementaryGroups(name, acct.GID)
	if err != nil {
		return nil, err
	}

	acct.Groups = groups

	return acct, nil
}

func scanPasswd(f io.Reader, name string) (*Account, error) {
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, ":")
		if len(fields) < 7 || fields[0] != name {
			continue
		}

		uid, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("identity: malformed uid for %s: %w", name, err)
		}

		gid, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, fmt.Errorf("identity: malformed gid for %s: %w", name, err)
		}

		return &Account{
			Name:  fields[0],
			UID:   uid,
			GID:   gid,
			Home:  fields[5],
			Shell: fields[6],
		}, nil
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("identity: scan /etc/passwd: %w", err)
	}

	return nil, fmt.Errorf("identity: no such user %q", name)
}

// supplementaryGroups reads /etc/group for every group that names as a
// member, plus the account's primary GID.
func supplementaryGroups(name string, primaryGID int) ([]int, error) {
	groups := []int{primaryGID}

	f, err := os.Open("/etc/group")
	if err != nil {
		// A missing /etc/group is unusual but not fatal: fall back to
		// just the primary group.
		return groups, nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, ":")
		if len(fields) < 4 {
			continue
		}

		gid, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}

		if gid == primaryGID {
			continue
		}

		for _, member := range strings.Split(fields[3], ",") {
			if member == name {
				groups = append(groups, gid)
				break
			}
		}
	}

	return groups, nil
}
