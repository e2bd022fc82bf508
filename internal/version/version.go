// Package version holds the build version string shared by wshd and wsh,
// in the spirit of this corpus's shared/version package (kept minimal here
// since neither executable has a remote-version-negotiation surface).
package version

// Version is overridden at build time via -ldflags.
var Version = "dev"
