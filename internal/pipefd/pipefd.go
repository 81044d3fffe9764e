// Package pipefd provides the non-blocking, one-byte "something changed"
// notification pipes used to wake the worker and its callers. Grounded on
// _examples/original_source/vchan/libvchan_private.h (user_event_pipe,
// socket_event_pipe) and thread.c's libvchan__drain_pipe.
package pipefd

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// drainBatch bounds how many bytes a single Drain call discards. The pipe
// is a coalesced edge signal, not a counted queue, so overflow past this
// many pending notifications is benign.
const drainBatch = 16

// Pair is a non-blocking pipe used as a one-byte event signal: Kick writes
// a single byte (best effort), Drain reads and discards whatever is
// pending.
type Pair struct {
	readFd, writeFd int
	open            bool
}

// New creates a non-blocking pipe pair.
func New() (Pair, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		return Pair{}, fmt.Errorf("pipe2: %w", err)
	}
	return Pair{readFd: fds[0], writeFd: fds[1], open: true}, nil
}

// ReadFd returns the descriptor to poll for POLLIN.
func (p Pair) ReadFd() int { return p.readFd }

// Kick posts one byte to the pipe, waking anyone polling ReadFd. Best
// effort: a full pipe (EAGAIN) is not an error, since the reader only cares
// that *something* is pending, not how much.
func (p Pair) Kick() error {
	var b [1]byte
	_, err := unix.Write(p.writeFd, b[:])
	if err == nil || err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return nil
	}
	return fmt.Errorf("pipefd: kick: %w", err)
}

// Drain reads and discards up to drainBatch pending bytes. EAGAIN/EWOULDBLOCK
// (nothing pending) is not an error.
func (p Pair) Drain() error {
	var buf [drainBatch]byte
	_, err := unix.Read(p.readFd, buf[:])
	if err == nil || err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return nil
	}
	return fmt.Errorf("pipefd: drain: %w", err)
}

// Close closes both ends. Safe to call on a zero-value Pair (never
// successfully created) and safe to call more than once: it takes a
// pointer receiver specifically so the second call observes open == false
// and skips re-closing fd numbers the kernel may have since reused for an
// unrelated descriptor.
func (p *Pair) Close() error {
	if !p.open {
		return nil
	}
	p.open = false
	var firstErr error
	if err := unix.Close(p.readFd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("pipefd: close read end: %w", err)
	}
	if err := unix.Close(p.writeFd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("pipefd: close write end: %w", err)
	}
	return firstErr
}
