package vchan

import "errors"

// ErrResourceExhausted is returned by Listen/Dial when allocating the
// control block — ring backing or notification pipes — fails. The
// rendezvous socket is created later by the worker goroutine, whose
// failures are logged instead of returned.
// Any partially constructed state is released before the error is
// returned.
var ErrResourceExhausted = errors.New("vchan: resource exhausted")

// ErrIO wraps a failure of Wait's own poll on the notification pipe for a
// reason other than EINTR. It is returned by Wait, and so also by
// Read/Recv/Write/Send while they block in Wait. Worker-side failures (a
// poll error, an unexpected errno from a socket read/write, or a bind/
// listen/connect failure outside the client's retryable cases) are not
// wrapped in ErrIO: the worker logs them and transitions the channel to
// StateDisconnected.
var ErrIO = errors.New("vchan: io error")

// ErrClosed is returned by operations attempted on a Channel after Close
// has been called.
var ErrClosed = errors.New("vchan: channel closed")
