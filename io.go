package vchan

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// do is the shape shared by Read and Write: block until at least min bytes
// are available in the relevant ring (readRing for forRead, writeRing
// otherwise), then transfer up to max bytes between buf and the ring via
// its contiguous head/tail span, advance the ring, and kick the worker.
//
// Recv and Send are built on top of this by looping it with min=1 until
// the full requested length has transferred — so a send larger than the
// write ring's capacity still completes, just across more than one pass.
func (c *Channel) do(buf []byte, min, max int, forRead bool) (int, error) {
	if max > len(buf) {
		max = len(buf)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	cur := c.ringLevel(forRead)
	for cur < min {
		c.mu.Unlock()
		if err := c.Wait(); err != nil {
			return 0, err
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return 0, ErrClosed
		}
		cur = c.ringLevel(forRead)
	}

	// Only the read side drains the worker->user pipe here; the write
	// side deliberately leaves it for the next Read/Recv/Wait to pick up.
	if forRead {
		c.workerToUser.Drain()
	}

	n := cur
	if n > max {
		n = max
	}
	if forRead {
		copy(buf[:n], c.readRing.Head())
		c.readRing.AdvanceHead(n)
	} else {
		copy(c.writeRing.Tail(), buf[:n])
		c.writeRing.AdvanceTail(n)
	}
	c.mu.Unlock()

	c.userToWorker.Kick()
	return n, nil
}

func (c *Channel) ringLevel(forRead bool) int {
	if forRead {
		return c.readRing.Filled()
	}
	return c.writeRing.Available()
}

// Read returns at least one byte and at most len(buf), blocking until data
// arrives. It does not return io.EOF on peer disconnect while bytes remain
// buffered; once the read ring is drained and the state is
// StateDisconnected, callers must check IsOpen themselves — a further Read
// will keep blocking in Wait, since there is nothing new left to signal.
func (c *Channel) Read(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	return c.do(buf, 1, len(buf), true)
}

// Recv fills buf completely, looping internally if a single pass can't
// satisfy the whole request (e.g. len(buf) exceeds the read ring's
// capacity).
func (c *Channel) Recv(buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.do(buf[total:], 1, len(buf)-total, true)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Write accepts at least one byte and at most len(buf), blocking until the
// write ring has room.
func (c *Channel) Write(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	return c.do(buf, 1, len(buf), false)
}

// Send writes all of buf, looping internally across repeated blocking
// passes if len(buf) exceeds the write ring's capacity.
func (c *Channel) Send(buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.do(buf[total:], 1, len(buf)-total, false)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Wait blocks until the worker posts a notification — a state transition
// or a ring data movement — then drains the notification pipe and
// returns. It fails with ErrIO only if the underlying poll fails for a
// reason other than EINTR, and with ErrClosed if Close has already been
// called, since the notification pipe may be in the process of being
// torn down.
func (c *Channel) Wait() error {
	if c.isClosed() {
		return ErrClosed
	}
	fd := int32(c.workerToUser.ReadFd())
	for {
		fds := []unix.PollFd{{Fd: fd, Events: unix.POLLIN}}
		_, err := unix.Poll(fds, -1)
		if err == nil {
			break
		}
		if err == unix.EINTR {
			continue
		}
		return fmt.Errorf("%w: wait: %v", ErrIO, err)
	}
	c.workerToUser.Drain()
	return nil
}
