package main

import "fmt"

// config is the parsed form of wsh's argv, a direct port of wsh_s/
// wsh__getopt from wsh.c. Flag parsing stops at the first token that
// doesn't start with '-'; everything from there on (or everything left
// after --rsh's own grammar consumes its host argument) becomes Argv, the
// command to run in the session.
type config struct {
	Socket  string
	User    string
	Env     []string
	Dir     string
	PidFile string
	Argv    []string
}

// errHelp signals that usage text was requested (and already printed);
// the caller should exit 0.
var errHelp = fmt.Errorf("help requested")

// parseArgs ports wsh__getopt/wsh__usage's grammar, including the --rsh
// compatibility branch (`rsh [-46dn] [-l username] [-t timeout] host
// [command]`) used when wsh is invoked as an rsh/ssh replacement by tools
// that don't know about its native flags.
func parseArgs(argv []string) (*config, error) {
	cfg := &config{}

	i := 0
	n := len(argv)

	for i < n {
		if len(argv[i]) == 0 || argv[i][0] != '-' {
			break
		}

		switch {
		case argv[i] == "-h" || argv[i] == "--help":
			printUsage()
			return nil, errHelp

		case argv[i] == "--socket" && i+1 < n:
			cfg.Socket = argv[i+1]
			i += 2

		case argv[i] == "--user" && i+1 < n:
			cfg.User = argv[i+1]
			i += 2

		case argv[i] == "--dir" && i+1 < n:
			cfg.Dir = argv[i+1]
			i += 2

		case argv[i] == "--pidfile" && i+1 < n:
			cfg.PidFile = argv[i+1]
			i += 2

		case argv[i] == "--env" && i+1 < n:
			cfg.Env = append(cfg.Env, argv[i+1])
			i += 2

		case argv[i] == "--rsh":
			i++

			consumed, err := parseRSH(argv, i, cfg)
			if err != nil {
				return nil, err
			}

			cfg.Argv = argv[consumed:]

			return cfg, nil

		default:
			return nil, invalidOption(argv[i])
		}
	}

	cfg.Argv = argv[i:]

	return cfg, nil
}

// parseRSH consumes the `[-46dn] [-l username] [-t timeout] host` portion
// of an --rsh invocation starting at index i, returning the index just
// past the host argument.
func parseRSH(argv []string, i int, cfg *config) (int, error) {
	n := len(argv)

	for i < n {
		if len(argv[i]) == 0 || argv[i][0] != '-' {
			break
		}

		opt := argv[i]

		switch {
		case len(opt) == 2 && isRSHIgnoredFlag(opt[1]):
			i++

		case len(opt) == 2 && opt[1] == 'l' && i+1 < n:
			cfg.User = argv[i+1]
			i += 2

		case len(opt) == 2 && opt[1] == 't' && i+1 < n:
			// Timeout: accepted for compatibility, not meaningful here.
			i += 2

		default:
			return 0, invalidOption(opt)
		}
	}

	if i >= n {
		return 0, fmt.Errorf("wsh: --rsh: missing host argument")
	}

	// Skip over the host argument; whatever rsh caller passed as "host"
	// is meaningless to us (the unix socket already names our peer).
	i++

	return i, nil
}

func isRSHIgnoredFlag(b byte) bool {
	switch b {
	case '4', '6', 'd', 'n':
		return true
	default:
		return false
	}
}

func invalidOption(opt string) error {
	return fmt.Errorf("invalid option -- %s\nTry `wsh --help' for more information", opt)
}

func printUsage() {
	fmt.Print(`Usage: wsh OPTION...

  --socket PATH   Path to socket
  --user USER     User to change to
  --env KEY=VALUE Environment variables to set for the command. You can specify multiple --env arguments
  --dir PATH      Working directory for the running process
  --pidfile PIDFILE      File to save container-namespaced pid of spawned process to
  --rsh           RSH compatibility mode
`)
}
