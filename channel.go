package vchan

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/momentics/govchan/internal/pipefd"
	"github.com/momentics/govchan/internal/ring"
	"github.com/momentics/govchan/internal/vchanenv"
)

const defaultDialRingSize = 1024

// Channel is a single bidirectional byte-stream session between two local
// processes. It is created by Listen (server side) or Dial (client side)
// and must eventually be released with Close.
//
// The fields below are the control block described by the data model: a
// mutex guards state, shutdown and the two rings; the socket descriptor is
// exclusively owned by the worker goroutine once spawned.
type Channel struct {
	path string

	mu       sync.Mutex
	state    State
	shutdown bool
	closed   bool

	readRing  *ring.Ring
	writeRing *ring.Ring

	userToWorker pipefd.Pair
	workerToUser pipefd.Pair

	peerFd int // owned by worker; -1 when not connected

	log *log.Logger

	workerDone chan struct{}
}

// rendezvousPath builds ${dir}/vchan.<serverDomain>.<clientDomain>.<port>.sock.
func rendezvousPath(serverDomain, clientDomain, port int) string {
	name := fmt.Sprintf("vchan.%d.%d.%d.sock", serverDomain, clientDomain, port)
	return filepath.Join(vchanenv.SocketDir(), name)
}

// Listen creates the server side of a channel: the local domain (from
// VCHAN_DOMAIN) is the server domain in the rendezvous path, domain is the
// expected client's domain, port identifies the endpoint. The state starts
// at StateWaiting and a worker goroutine is spawned that binds and listens
// on the rendezvous socket and accepts the peer; the socket is therefore
// not necessarily bound yet when Listen returns, and a bind or listen
// failure is logged by the worker rather than returned here.
func Listen(domain, port, readMin, writeMin int) (*Channel, error) {
	path := rendezvousPath(vchanenv.Domain(), domain, port)
	return newChannel(path, readMin, writeMin, StateWaiting, serverLoop)
}

// Dial creates the client side of a channel: domain is the server's
// domain, port identifies the endpoint. The rings are requested with a
// 1024-byte minimum each, which ring.New rounds up to at least one OS
// page. The state starts at StateDisconnected; the worker goroutine
// retries connect until it succeeds or the channel is closed.
func Dial(domain, port int) (*Channel, error) {
	path := rendezvousPath(domain, vchanenv.Domain(), port)
	return newChannel(path, defaultDialRingSize, defaultDialRingSize, StateDisconnected, clientLoop)
}

func newChannel(path string, readMin, writeMin int, initial State, entry func(*Channel)) (*Channel, error) {
	c := &Channel{
		path:       path,
		state:      initial,
		peerFd:     -1,
		log:        log.New(os.Stderr, "vchan: ", log.LstdFlags),
		workerDone: make(chan struct{}),
	}

	var err error
	c.readRing, err = ring.New(readMin)
	if err != nil {
		return nil, fmt.Errorf("vchan: %w: %v", ErrResourceExhausted, err)
	}
	c.writeRing, err = ring.New(writeMin)
	if err != nil {
		c.readRing.Destroy()
		return nil, fmt.Errorf("vchan: %w: %v", ErrResourceExhausted, err)
	}

	c.userToWorker, err = pipefd.New()
	if err != nil {
		c.readRing.Destroy()
		c.writeRing.Destroy()
		return nil, fmt.Errorf("vchan: %w: %v", ErrResourceExhausted, err)
	}
	c.workerToUser, err = pipefd.New()
	if err != nil {
		c.userToWorker.Close()
		c.readRing.Destroy()
		c.writeRing.Destroy()
		return nil, fmt.Errorf("vchan: %w: %v", ErrResourceExhausted, err)
	}

	go func() {
		defer close(c.workerDone)
		entry(c)
	}()

	return c, nil
}

// Close signals the worker to shut down, waits for it to exit, and frees
// all resources in reverse-creation order. It is idempotent and safe
// against a partially constructed Channel (any field may be unset). It
// always returns nil; the error return exists for io.Closer compliance.
func (c *Channel) Close() error {
	c.mu.Lock()
	already := c.shutdown
	c.shutdown = true
	c.closed = true
	c.mu.Unlock()

	if !already {
		c.userToWorker.Kick()
	}
	if c.workerDone != nil {
		<-c.workerDone
	}

	c.userToWorker.Close()
	c.workerToUser.Close()
	if c.writeRing != nil {
		c.writeRing.Destroy()
	}
	if c.readRing != nil {
		c.readRing.Destroy()
	}

	return nil
}

func (c *Channel) changeState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.workerToUser.Kick()
}

// IsOpen returns the channel's current observable state.
func (c *Channel) IsOpen() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// DataReady returns the number of bytes immediately readable without
// blocking.
func (c *Channel) DataReady() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readRing.Filled()
}

// BufferSpace returns the number of bytes immediately writable without
// blocking.
func (c *Channel) BufferSpace() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeRing.Available()
}

// FdForSelect returns the worker-to-user notification pipe's read end. It
// is stable for the channel's lifetime and becomes readable on any state
// change or ring data movement. External selectors must not read from it
// directly; the next Read/Recv/Wait call drains it (Write/Send drain it
// only if they have to block in Wait).
func (c *Channel) FdForSelect() uintptr {
	return uintptr(c.workerToUser.ReadFd())
}

func (c *Channel) isShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
