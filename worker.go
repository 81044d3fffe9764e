package vchan

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/momentics/govchan/internal/unixsock"
)

// acceptPollTimeoutMs bounds how long the server's accept loop blocks in
// poll(2) before it re-checks the shutdown flag.
const acceptPollTimeoutMs = 100

// serverLoop is the server-side worker entry point: bind the rendezvous
// socket, publish StateWaiting, accept one peer, run commLoop, then exit.
// There is no re-arming after a peer disconnects or the comm loop
// otherwise returns; a fresh Channel is required for a new session.
func serverLoop(c *Channel) {
	listenFd, err := unixsock.Listen(c.path)
	if err != nil {
		c.log.Printf("listen %s: %v", c.path, err)
		c.changeState(StateDisconnected)
		return
	}
	defer unix.Close(listenFd)

	if err := unixsock.SetNonblock(listenFd); err != nil {
		c.log.Printf("set nonblocking %s: %v", c.path, err)
		c.changeState(StateDisconnected)
		return
	}

	c.changeState(StateWaiting)

	peerFd := acceptLoop(c, listenFd)
	if peerFd < 0 {
		c.changeState(StateDisconnected)
		return
	}

	runSession(c, peerFd)
}

// acceptLoop polls the listening descriptor until a peer connects or
// shutdown is requested, returning the accepted (non-blocking) descriptor,
// or -1 if the loop exited due to shutdown or an unrecoverable error.
func acceptLoop(c *Channel, listenFd int) int {
	for {
		if c.isShutdown() {
			return -1
		}

		fds := []unix.PollFd{{Fd: int32(listenFd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, acceptPollTimeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			c.log.Printf("accept poll: %v", err)
			return -1
		}
		if n == 0 || fds[0].Revents&unix.POLLIN == 0 {
			continue
		}

		peerFd, err := unixsock.Accept(listenFd)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				continue
			}
			c.log.Printf("accept: %v", err)
			continue
		}
		return peerFd
	}
}

// clientLoop is the client-side worker entry point: connect with retry,
// run commLoop, then exit. As with the server side there is no
// reconnection after the comm loop returns.
func clientLoop(c *Channel) {
	peerFd, err := unixsock.Connect(c.path, c.isShutdown)
	if err != nil {
		if err != unixsock.ErrAborted {
			c.log.Printf("connect %s: %v", c.path, err)
		}
		c.changeState(StateDisconnected)
		return
	}

	runSession(c, peerFd)
}

// runSession publishes StateConnected, drives commLoop to completion, then
// closes the peer descriptor and publishes StateDisconnected. Used by both
// worker entry points once a peer descriptor is in hand.
func runSession(c *Channel, peerFd int) {
	c.mu.Lock()
	c.peerFd = peerFd
	c.mu.Unlock()
	c.changeState(StateConnected)

	commLoop(c, peerFd)

	c.mu.Lock()
	c.peerFd = -1
	c.mu.Unlock()
	unix.Close(peerFd)
	c.changeState(StateDisconnected)
}

// commLoop is the poll/rings engine: it shuttles bytes between peerFd and
// the two rings until the peer disconnects, an unrecoverable I/O error
// occurs, or shutdown is requested and the write ring has been flushed. It
// returns whether the loop ended because shutdown was requested (true) or
// because of peer disconnection / I/O failure (false).
func commLoop(c *Channel, peerFd int) bool {
	userPipeFd := int32(c.userToWorker.ReadFd())

	for {
		c.mu.Lock()
		wantIn := c.readRing.Available() > 0
		wantOut := c.writeRing.Filled() > 0
		c.mu.Unlock()

		var events int16
		if wantIn {
			events |= unix.POLLIN
		}
		if wantOut {
			events |= unix.POLLOUT
		}

		fds := []unix.PollFd{
			{Fd: int32(peerFd), Events: events},
			{Fd: userPipeFd, Events: unix.POLLIN},
		}
		if _, err := unix.Poll(fds, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			c.log.Printf("comm poll: %v", err)
			return false
		}

		done, shutdown := commStep(c, peerFd, fds[0].Revents, fds[1].Revents)
		if done {
			return shutdown
		}
	}
}

// commStep runs one iteration's worth of mutex-guarded bookkeeping: drain
// the user pipe if signaled, move at most one read and one write, flush-
// check shutdown, and kick the worker->user pipe if anything moved. done
// reports whether the comm loop should terminate; shutdown is only true
// when termination was caused by a pending shutdown with the write ring
// flushed — peer disconnection, reset, and I/O errors always report
// shutdown=false, matching the C original's "shutdown iff user requested
// close" return contract.
func commStep(c *Channel, peerFd int, socketRevents, pipeRevents int16) (done, shutdown bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pipeRevents&unix.POLLIN != 0 {
		c.userToWorker.Drain()
	}

	notify := false

	if socketRevents&unix.POLLIN != 0 && c.readRing.Available() > 0 {
		n, rerr := unix.Read(peerFd, c.readRing.Tail())
		switch {
		case rerr == nil && n == 0:
			done = true
		case rerr == nil && n > 0:
			c.readRing.AdvanceTail(n)
			notify = true
		case rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK:
			// transient, retried on next poll wakeup
		case rerr == unix.ECONNRESET:
			done = true
		case rerr != nil:
			c.log.Printf("comm read: %v", rerr)
			done = true
		}
	}

	if socketRevents&unix.POLLOUT != 0 && c.writeRing.Filled() > 0 {
		n, werr := unix.Write(peerFd, c.writeRing.Head())
		switch {
		case werr == nil && n > 0:
			c.writeRing.AdvanceHead(n)
			notify = true
		case werr == unix.EAGAIN || werr == unix.EWOULDBLOCK:
			// transient
		case werr == unix.EPIPE:
			done = true
		case werr != nil:
			c.log.Printf("comm write: %v", werr)
			done = true
		}
	}

	if !done && c.shutdown && c.writeRing.Filled() == 0 {
		done = true
		shutdown = true
	}

	if notify {
		c.workerToUser.Kick()
	}

	return
}
