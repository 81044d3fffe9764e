//go:build linux

package ring

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// newBacking implements the real "magic buffer" trick: an anonymous,
// memfd-backed page sequence of `size` bytes mapped twice back to back, so
// that any offset in [0, 2*size) reads/writes the same physical byte as the
// corresponding offset mod size. Grounded on
// _examples/original_source/vchan/ring.c's ring_init, translated to
// golang.org/x/sys/unix.
func newBacking(size int) (backing, error) {
	fd, err := unix.MemfdCreate("govchan-ring", unix.MFD_CLOEXEC)
	if err != nil {
		return backing{}, fmt.Errorf("memfd_create: %w", err)
	}
	cleanupFd := func() { unix.Close(fd) }

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		cleanupFd()
		return backing{}, fmt.Errorf("ftruncate: %w", err)
	}

	// Reserve a 2*size virtual range with no access, so the two fixed
	// mappings below are guaranteed not to collide with anything else.
	reserved, err := unix.Mmap(-1, 0, 2*size, unix.PROT_NONE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE)
	if err != nil {
		cleanupFd()
		return backing{}, fmt.Errorf("reserve %d bytes: %w", 2*size, err)
	}
	base := uintptr(unsafe.Pointer(&reserved[0]))

	if _, err := mmapFixed(base, size, fd); err != nil {
		unix.Munmap(reserved)
		cleanupFd()
		return backing{}, fmt.Errorf("mmap first half: %w", err)
	}
	if _, err := mmapFixed(base+uintptr(size), size, fd); err != nil {
		unix.Munmap(reserved)
		cleanupFd()
		return backing{}, fmt.Errorf("mmap second half: %w", err)
	}

	buf := unsafe.Slice((*byte)(unsafe.Pointer(base)), 2*size)

	return backing{
		buf:  buf,
		sync: func(int, int) {}, // the kernel keeps both mappings coherent
		close: func() error {
			if err := unix.Munmap(reserved); err != nil {
				cleanupFd()
				return fmt.Errorf("munmap: %w", err)
			}
			cleanupFd()
			return nil
		},
	}, nil
}

// mmapFixed maps fd's full size bytes at the fixed address addr,
// overwriting the PROT_NONE reservation there. golang.org/x/sys/unix.Mmap
// doesn't take an explicit address, so this issues the mmap(2) syscall
// directly — the same raw-syscall idiom used for MAP_FIXED mappings
// elsewhere in the retrieval pack (e.g. mmapQueues in the ublk example).
func mmapFixed(addr uintptr, size, fd int) (uintptr, error) {
	got, _, errno := unix.Syscall6(
		unix.SYS_MMAP,
		addr,
		uintptr(size),
		uintptr(unix.PROT_READ|unix.PROT_WRITE),
		uintptr(unix.MAP_SHARED|unix.MAP_FIXED),
		uintptr(fd),
		0,
	)
	if errno != 0 {
		return 0, errno
	}
	if got != addr {
		return 0, fmt.Errorf("mmap returned %#x, wanted fixed address %#x", got, addr)
	}
	return got, nil
}
