// Package unixsock implements the listen/accept/connect-with-retry half of
// the vchan worker: raw AF_UNIX SOCK_STREAM descriptors, manipulated
// directly through golang.org/x/sys/unix rather than package net, because
// the worker needs to own the fd to poll(2) it itself (see worker.go).
//
// Grounded on _examples/original_source/vchan/socket.c and the
// listen/connect blocks inlined into vchan/thread.c's server/client entry
// points.
package unixsock

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// ConnectDelay is the retry interval for a client dialing before the server
// is listening (§6 Tuning constants: 100ms).
const ConnectDelay = 100 * time.Millisecond

// ListenBacklog is the fixed backlog passed to listen(2); a vchan endpoint
// serves exactly one peer.
const ListenBacklog = 1

// Listen unlinks any stale socket at path, binds a new AF_UNIX SOCK_STREAM
// listener there, and returns its descriptor. The caller is responsible for
// putting the descriptor in non-blocking mode once the worker is ready to
// poll it.
func Listen(path string) (int, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return -1, fmt.Errorf("unixsock: unlink %s: %w", path, err)
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("unixsock: socket: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("unixsock: bind %s: %w", path, err)
	}

	if err := unix.Listen(fd, ListenBacklog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("unixsock: listen %s: %w", path, err)
	}

	return fd, nil
}

// Accept accepts one connection on a listening descriptor and returns it
// already in non-blocking mode.
func Accept(listenFd int) (int, error) {
	fd, _, err := unix.Accept4(listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("unixsock: accept: %w", err)
	}
	return fd, nil
}

// Connect repeatedly attempts connect(2) against path, sleeping
// ConnectDelay between attempts on ECONNREFUSED or ENOENT (the server
// hasn't bound the rendezvous path yet). shouldAbort is polled between
// attempts so a concurrent Close can unblock a client stuck waiting for a
// server that never shows up; Connect returns ErrAborted if it fires.
// On success the returned descriptor is already in non-blocking mode.
func Connect(path string, shouldAbort func() bool) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("unixsock: socket: %w", err)
	}

	addr := &unix.SockaddrUnix{Name: path}
	for {
		err := unix.Connect(fd, addr)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.ECONNREFUSED) && !errors.Is(err, unix.ENOENT) {
			unix.Close(fd)
			return -1, fmt.Errorf("unixsock: connect %s: %w", path, err)
		}
		if shouldAbort != nil && shouldAbort() {
			unix.Close(fd)
			return -1, ErrAborted
		}
		time.Sleep(ConnectDelay)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("unixsock: set nonblocking: %w", err)
	}

	return fd, nil
}

// SetNonblock puts an already-open descriptor (typically a freshly listened
// or accepted one) into non-blocking mode.
func SetNonblock(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("unixsock: set nonblocking: %w", err)
	}
	return nil
}

// ErrAborted is returned by Connect when shouldAbort reports true.
var ErrAborted = errors.New("unixsock: connect aborted")
