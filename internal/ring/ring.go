// Package ring implements the power-of-two "magic" byte ring described by
// the vchan wire protocol: a single-producer/single-consumer buffer whose
// head and tail are always a contiguous byte span, so socket read/write
// paths never branch on wraparound.
//
// https://lo.calho.st/posts/black-magic-buffer/
package ring

import (
	"fmt"
	"os"
)

// backing is provided per-platform: it allocates the buffer that Ring reads
// and writes through, and owns whatever OS resource backs it.
//
// On Linux, buf is a real double mmap of one physical page sequence (see
// ring_linux.go) and sync is a no-op — the kernel already keeps both
// mappings coherent. On platforms without a fixed-address double-mmap
// primitive, ring_fallback.go allocates a plain 2*size byte slice and sync
// manually mirrors freshly written bytes into the shadow half.
type backing struct {
	buf   []byte
	sync  func(offset, length int)
	close func() error
}

// Ring is a SPSC byte ring of power-of-two capacity `size`, addressable as
// two adjacent virtual copies of total length 2*size so that Head/Tail
// always return a contiguous span.
type Ring struct {
	size  int // power of two, >= one OS page
	start int
	count int
	backing
}

// New rounds minSize up to a power of two not smaller than the OS page
// size, then allocates the doubled backing region. On allocation failure
// it returns an error wrapping the underlying OS error.
func New(minSize int) (*Ring, error) {
	size := os.Getpagesize()
	for size < minSize {
		size <<= 1
	}

	b, err := newBacking(size)
	if err != nil {
		return nil, fmt.Errorf("ring: allocate backing of size %d: %w", size, err)
	}

	return &Ring{size: size, backing: b}, nil
}

// Destroy releases the backing region. Safe to call more than once and
// safe on a zero-value Ring (never initialized via New).
func (r *Ring) Destroy() error {
	if r.backing.close == nil {
		return nil
	}
	err := r.backing.close()
	r.backing = backing{}
	r.buf = nil
	return err
}

// Size returns the ring's capacity in bytes.
func (r *Ring) Size() int { return r.size }

// Available returns how many bytes can be written without blocking.
func (r *Ring) Available() int { return r.size - r.count }

// Filled returns how many bytes are available to read.
func (r *Ring) Filled() int { return r.count }

// Head returns the contiguous span of Filled() readable bytes starting at
// the current read position. Valid until the next AdvanceHead or
// AdvanceTail call.
func (r *Ring) Head() []byte {
	return r.buf[r.start : r.start+r.count]
}

// Tail returns the contiguous span of Available() writable bytes starting
// at the current write position. Valid until the next AdvanceHead or
// AdvanceTail call.
func (r *Ring) Tail() []byte {
	off := r.tailOffset()
	return r.buf[off : off+r.Available()]
}

func (r *Ring) tailOffset() int {
	return (r.start + r.count) & (r.size - 1)
}

// AdvanceHead consumes k bytes from the head (as if copied out by the
// caller). k must not exceed Filled().
func (r *Ring) AdvanceHead(k int) {
	if k < 0 || k > r.count {
		panic(fmt.Sprintf("ring: AdvanceHead(%d) exceeds filled count %d", k, r.count))
	}
	r.start = (r.start + k) & (r.size - 1)
	r.count -= k
}

// AdvanceTail commits k freshly written bytes at the tail (as if copied in
// by the caller via the slice returned from Tail()). k must not exceed
// Available(). Mirrors the written bytes into the shadow half on platforms
// where Tail()'s backing isn't a real double mmap.
func (r *Ring) AdvanceTail(k int) {
	if k < 0 || k > r.Available() {
		panic(fmt.Sprintf("ring: AdvanceTail(%d) exceeds available space %d", k, r.Available()))
	}
	if k > 0 {
		r.sync(r.tailOffset(), k)
	}
	r.count += k
}
