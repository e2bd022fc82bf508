// Package pump implements the descriptor pump: a multiplexed, non-blocking
// copy engine that shuttles bytes between paired descriptors while
// concurrently watching an out-of-band "process-terminated" fd, per
// spec.md §4.1. It is the shared core used by both wshd's event loop and
// wsh's client loop.
//
// Grounded on pump.c/pump.h (referenced by spec.md, not directly present in
// the retrieved corpus) and on the select-based event loop wshd.c/wsh.c
// both use. Built on golang.org/x/sys/unix.Select rather than net/Go
// channels, because the pairs here are raw pipe/pty fds shared with a
// forked child — wrapping them in Go's netpoller would fight the ownership
// rules spec.md §3 lays out ("both are closed by the owner of the pump,
// not the pump itself").
package pump

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Mask is a subset of {readable, writable, exceptional} interest/ready
// bits.
type Mask uint8

const (
	Read Mask = 1 << iota
	Write
	Except
)

// Pair is a (source, sink) descriptor pair copied in one direction. The
// pump never closes src or sink; per spec.md §3 ownership is retained by
// the caller.
type Pair struct {
	Src  int
	Sink int

	// eof marks that Src has reported EOF (or this pair hit an error); once
	// set, the pair no longer registers read interest and PairCopy returns
	// without copying, the final drain after the exit signal included.
	eof bool

	// spliceFailed is set the first time splice(2) proves unusable for
	// this pair (e.g. one end is a pty, not a pipe), so later calls skip
	// straight to the read/write fallback instead of retrying splice.
	spliceFailed bool
}

// State holds the readiness view for one pump iteration: the pairs and
// extra fds under watch, and the outcome of the last Wait.
type State struct {
	pairs []*Pair
	extra map[int]Mask
	ready map[int]Mask
}

// Init resets the readiness view for a new iteration.
func (s *State) Init() {
	s.pairs = s.pairs[:0]
	s.extra = map[int]Mask{}
	s.ready = nil
}

// AddPair registers interest in pair.Src readable and pair.Sink writable.
func (s *State) AddPair(p *Pair) {
	s.pairs = append(s.pairs, p)
}

// AddFD registers interest on an extra fd with the given mask.
func (s *State) AddFD(fd int, mask Mask) {
	s.extra[fd] |= mask
}

// Ready reports whether fd was ready for (any bit of) mask after the last
// Wait.
func (s *State) Ready(fd int, mask Mask) bool {
	if s.ready == nil {
		return false
	}

	return s.ready[fd]&mask != 0
}

// Wait blocks until at least one registered condition fires. EINTR is
// retried transparently; any other error is fatal.
func (s *State) Wait() error {
	var maxFD int
	var rset, wset, eset unix.FdSet

	addFD := func(set *unix.FdSet, fd int) {
		set.Bits[fd/64] |= 1 << (uint(fd) % 64)
		if fd > maxFD {
			maxFD = fd
		}
	}

	register := func(fd int, mask Mask) {
		if mask&Read != 0 {
			addFD(&rset, fd)
		}
		if mask&Write != 0 {
			addFD(&wset, fd)
		}
		if mask&Except != 0 {
			addFD(&eset, fd)
		}
	}

	for _, p := range s.pairs {
		if !p.eof {
			register(p.Src, Read)
		}
		register(p.Sink, Write)
	}

	for fd, mask := range s.extra {
		register(fd, mask)
	}

	for {
		rsetCopy, wsetCopy, esetCopy := rset, wset, eset

		n, err := unix.Select(maxFD+1, &rsetCopy, &wsetCopy, &esetCopy, nil)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}

			return err
		}

		if n == 0 {
			continue
		}

		s.ready = map[int]Mask{}

		collect := func(set *unix.FdSet, bit Mask) {
			for fd := 0; fd <= maxFD; fd++ {
				if set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0 {
					s.ready[fd] |= bit
				}
			}
		}

		collect(&rsetCopy, Read)
		collect(&wsetCopy, Write)
		collect(&esetCopy, Except)

		return nil
	}
}

// bufSize is the chunk size used when splice isn't applicable.
const bufSize = 64 * 1024

// PairCopy drains from p.Src to p.Sink, pushing as many bytes as the
// kernel will accept without blocking. EAGAIN means "no more for now" and
// is not an error; any other read/write error marks this side done.
//
// It first tries unix.Splice (zero-copy, kernel-buffer to kernel-buffer);
// splice only works when both ends are pipes, so on its first failure for
// this pair it falls back to a buffered read/write loop for the lifetime
// of the pair.
func PairCopy(p *Pair) error {
	if p.eof {
		return nil
	}

	if !p.spliceFailed {
		done, err := pairCopySplice(p)
		if err != nil {
			return err
		}

		if done {
			return nil
		}
	}

	return pairCopyReadWrite(p)
}

func pairCopySplice(p *Pair) (handled bool, err error) {
	for {
		n, serr := unix.Splice(p.Src, nil, p.Sink, nil, bufSize, unix.SPLICE_F_NONBLOCK)
		if serr != nil {
			if errors.Is(serr, unix.EAGAIN) {
				return true, nil
			}

			if errors.Is(serr, unix.EINTR) {
				continue
			}

			if errors.Is(serr, unix.EINVAL) || errors.Is(serr, unix.ENOSYS) {
				// Not a pipe-to-pipe pair; fall back permanently.
				p.spliceFailed = true
				return false, nil
			}

			p.eof = true
			return true, nil
		}

		if n == 0 {
			p.eof = true
			return true, nil
		}

		if n < bufSize {
			return true, nil
		}
	}
}

func pairCopyReadWrite(p *Pair) error {
	buf := make([]byte, bufSize)

	for {
		n, err := unix.Read(p.Src, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return nil
			}

			if errors.Is(err, unix.EINTR) {
				continue
			}

			p.eof = true
			return nil
		}

		if n == 0 {
			p.eof = true
			return nil
		}

		if err := writeAll(p.Sink, buf[:n]); err != nil {
			p.eof = true
			return nil
		}

		if n < len(buf) {
			return nil
		}
	}
}

// writeAll writes b to fd in full, retrying at once on EAGAIN/EINTR, so a
// sink that would block holds up the caller until it has accepted every
// byte already read from the source. EPIPE (no reader left) drops the rest
// of b and is not reported as an error.
func writeAll(fd int, b []byte) error {
	for len(b) > 0 {
		n, err := unix.Write(fd, b)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}

			if errors.Is(err, unix.EPIPE) {
				return nil
			}

			return err
		}

		b = b[n:]
	}

	return nil
}
