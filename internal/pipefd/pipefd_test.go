package pipefd

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestKickWakesPoll(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if err := p.Kick(); err != nil {
		t.Fatalf("Kick: %v", err)
	}

	fds := []unix.PollFd{{Fd: int32(p.ReadFd()), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 1000)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if n != 1 || fds[0].Revents&unix.POLLIN == 0 {
		t.Fatalf("expected readable pipe after Kick, got n=%d revents=%x", n, fds[0].Revents)
	}

	if err := p.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

func TestDrainWithNothingPendingIsNotAnError(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if err := p.Drain(); err != nil {
		t.Fatalf("Drain on empty pipe: %v", err)
	}
}

func TestCoalescingMultipleKicksIntoOneDrain(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	for i := 0; i < 5; i++ {
		if err := p.Kick(); err != nil {
			t.Fatalf("Kick %d: %v", i, err)
		}
	}
	time.Sleep(10 * time.Millisecond)
	if err := p.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	fds := []unix.PollFd{{Fd: int32(p.ReadFd()), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 50)
	if err != nil {
		t.Fatalf("poll after drain: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected pipe drained after a single Drain call, still readable: revents=%x", fds[0].Revents)
	}
}

func TestCloseOnZeroValueIsNoop(t *testing.T) {
	var p Pair
	if err := p.Close(); err != nil {
		t.Fatalf("Close on zero-value Pair: %v", err)
	}
}
