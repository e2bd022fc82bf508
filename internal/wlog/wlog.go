// Package wlog is the daemon's structured logger, adapted from
// lxd-export/core/logger/logger.go (a thread-safe logrus wrapper) and from
// lxd-user/main_daemon.go's daemon logging setup (text formatter, full
// timestamps, level control via flags).
package wlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a logrus.Logger configured the way this corpus's daemons
// configure theirs: full-timestamp text output, writing to w (os.Stdout
// for wshd; wsh does not use this package).
func New(w *os.File, debug bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	l.SetLevel(logrus.InfoLevel)
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}

	return l
}

// Session returns a logger scoped to one session, tagged with its
// correlation ID, matching this corpus's habit (see lxd/operations) of
// attaching a UUID to every log line belonging to one long-running
// operation.
func Session(l *logrus.Logger, sessionID string) *logrus.Entry {
	return l.WithField("session", sessionID)
}
