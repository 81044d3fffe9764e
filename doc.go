// Package vchan implements a byte-stream IPC channel between two local
// processes over an AF_UNIX SOCK_STREAM rendezvous socket, modeled on the
// Qubes vchan API: a server that listens and a client that connects,
// identified by (server domain, client domain, port), each side exposing a
// blocking buffered full-duplex stream plus a single event descriptor
// suitable for external readiness polling.
//
// A Channel is driven by one dedicated worker goroutine that owns the
// socket descriptor exclusively: it performs connection setup, then runs a
// manual poll(2) loop shuttling bytes between the socket and two ring
// buffers (internal/ring), coordinating with blocking Read/Recv/Write/Send
// calls through a mutex and two notification pipes (internal/pipefd). See
// worker.go for the poll loop and io.go for the blocking call shapes.
package vchan
