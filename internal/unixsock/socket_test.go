package unixsock

import (
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestListenAcceptConnectRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rendezvous.sock")

	listenFd, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer unix.Close(listenFd)
	if err := SetNonblock(listenFd); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}

	clientFdCh := make(chan int, 1)
	clientErrCh := make(chan error, 1)
	go func() {
		fd, err := Connect(path, nil)
		clientFdCh <- fd
		clientErrCh <- err
	}()

	fds := []unix.PollFd{{Fd: int32(listenFd), Events: unix.POLLIN}}
	if _, err := unix.Poll(fds, 2000); err != nil {
		t.Fatalf("poll for accept: %v", err)
	}

	serverFd, err := Accept(listenFd)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer unix.Close(serverFd)

	clientFd := <-clientFdCh
	if err := <-clientErrCh; err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer unix.Close(clientFd)

	msg := []byte("hello")
	if _, err := unix.Write(clientFd, msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var buf [5]byte
	var n int
	for time.Now().Before(deadline) {
		n, err = unix.Read(serverFd, buf[:])
		if err == nil && n > 0 {
			break
		}
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK && err != nil {
			t.Fatalf("read: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	if n != len(msg) || string(buf[:n]) != string(msg) {
		t.Fatalf("read %q, want %q", buf[:n], msg)
	}
}

func TestListenUnlinksStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.sock")

	fd1, err := Listen(path)
	if err != nil {
		t.Fatalf("first Listen: %v", err)
	}
	unix.Close(fd1)

	fd2, err := Listen(path)
	if err != nil {
		t.Fatalf("second Listen over stale socket: %v", err)
	}
	unix.Close(fd2)
}

func TestConnectAbortsViaShouldAbort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nobody-listening.sock")

	aborted := false
	first := true
	shouldAbort := func() bool {
		if first {
			first = false
			return false
		}
		aborted = true
		return true
	}

	_, err := Connect(path, shouldAbort)
	if err != ErrAborted {
		t.Fatalf("Connect err = %v, want ErrAborted", err)
	}
	if !aborted {
		t.Fatalf("shouldAbort was never consulted to termination")
	}
}
