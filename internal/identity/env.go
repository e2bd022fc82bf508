package identity

import "github.com/vito/garden-systemd/internal/protocol"

const (
	rootPath    = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	nonRootPath = "/usr/local/bin:/usr/bin:/bin"
)

// ComposeEnv builds the forked child's final environment, a direct port
// of wshd.c's child_setup_environment: extra KEY=VALUE pairs from the
// request come first, then HOME/USER/PATH are injected. If the request
// already set PATH, that value is kept (and used) instead of the
// uid-dependent default.
func ComposeEnv(acct *Account, extra []string) []string {
	env := append([]string{}, extra...)

	env = protocol.EnvAdd(env, "HOME", acct.Home)
	env = protocol.EnvAdd(env, "USER", acct.Name)

	if _, ok := protocol.EnvGet(env, "PATH"); !ok {
		path := nonRootPath
		if acct.UID == 0 {
			path = rootPath
		}

		env = protocol.EnvAdd(env, "PATH", path)
	}

	return env
}

// Argv picks the child's argv: the request's, if non-empty, else the
// account's login shell, else /bin/sh, per spec.md §3/§4.4.
func Argv(requested []string, acct *Account) []string {
	if len(requested) > 0 {
		return requested
	}

	if acct.Shell != "" {
		return []string{acct.Shell}
	}

	return []string{"/bin/sh"}
}
