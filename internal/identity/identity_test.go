package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanPasswdFindsUser(t *testing.T) {
	data := strings.Join([]string{
		"root:x:0:0:root:/root:/bin/bash",
		"vcap:x:1000:1000:vcap:/home/vcap:/bin/sh",
	}, "\n")

	acct, err := scanPasswd(strings.NewReader(data), "vcap")
	require.NoError(t, err)
	require.Equal(t, "vcap", acct.Name)
	require.Equal(t, 1000, acct.UID)
	require.Equal(t, 1000, acct.GID)
	require.Equal(t, "/home/vcap", acct.Home)
	require.Equal(t, "/bin/sh", acct.Shell)
}

func TestScanPasswdMissingUser(t *testing.T) {
	_, err := scanPasswd(strings.NewReader("root:x:0:0:root:/root:/bin/bash"), "nobody")
	require.Error(t, err)
}

func TestComposeEnvDefaultsPathByUID(t *testing.T) {
	root := &Account{Name: "root", UID: 0, Home: "/root"}
	env := ComposeEnv(root, nil)

	v, ok := find(env, "PATH")
	require.True(t, ok)
	require.Equal(t, rootPath, v)

	v, ok = find(env, "HOME")
	require.True(t, ok)
	require.Equal(t, "/root", v)

	v, ok = find(env, "USER")
	require.True(t, ok)
	require.Equal(t, "root", v)

	user := &Account{Name: "vcap", UID: 1000, Home: "/home/vcap"}
	env = ComposeEnv(user, nil)
	v, _ = find(env, "PATH")
	require.Equal(t, nonRootPath, v)
}

func TestComposeEnvKeepsRequestedPath(t *testing.T) {
	acct := &Account{Name: "vcap", UID: 1000, Home: "/home/vcap"}
	env := ComposeEnv(acct, []string{"PATH=/opt/bin", "X=1"})

	v, ok := find(env, "PATH")
	require.True(t, ok)
	require.Equal(t, "/opt/bin", v)

	v, ok = find(env, "X")
	require.True(t, ok)
	require.Equal(t, "1", v)
}

func TestArgvPrefersRequestThenShellThenDefault(t *testing.T) {
	acct := &Account{Shell: "/bin/zsh"}

	require.Equal(t, []string{"/bin/echo", "hi"}, Argv([]string{"/bin/echo", "hi"}, acct))
	require.Equal(t, []string{"/bin/zsh"}, Argv(nil, acct))
	require.Equal(t, []string{"/bin/sh"}, Argv(nil, &Account{}))
}

func find(env []string, key string) (string, bool) {
	prefix := key + "="
	var v string
	var ok bool
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			v = kv[len(prefix):]
			ok = true
		}
	}
	return v, ok
}
