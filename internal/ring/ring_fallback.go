//go:build !linux

package ring

import "fmt"

// newBacking is the portability fallback for platforms without a
// fixed-address double-mmap primitive: it still gives Head/Tail the exact
// same contiguous-span contract, but pays for it with an explicit copy on
// every AdvanceTail instead of a free kernel-level mirror.
//
// buf is a plain 2*size byte slice holding two manually-synced copies of
// the same size logical bytes: physical index i and i+size always hold the
// same byte. AdvanceTail re-copies whatever the caller just wrote into the
// shadow half before the new data becomes visible through Head/Tail.
func newBacking(size int) (backing, error) {
	buf := make([]byte, 2*size)
	return backing{
		buf:   buf,
		sync:  func(offset, length int) { mirror(buf, size, offset, length) },
		close: func() error { return nil },
	}, nil
}

// mirror copies the just-written span buf[offset:offset+length] into its
// shadow copy. The span never itself wraps (callers only ever pass spans
// returned from Tail(), which by construction satisfy offset+length <=
// 2*size), but the shadow destination can straddle the size boundary, so
// the copy is split in at most two pieces.
func mirror(buf []byte, size, offset, length int) {
	if offset+length > 2*size {
		panic(fmt.Sprintf("ring: mirror span [%d,%d) exceeds backing length %d", offset, offset+length, 2*size))
	}
	if offset < size {
		first := length
		if offset+first > size {
			first = size - offset
		}
		copy(buf[offset+size:offset+size+first], buf[offset:offset+first])
		if rest := length - first; rest > 0 {
			// the remainder starts exactly at `size`
			copy(buf[0:rest], buf[size:size+rest])
		}
		return
	}
	copy(buf[offset-size:offset-size+length], buf[offset:offset+length])
}
