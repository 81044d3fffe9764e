package ring

import (
	"bytes"
	"math/rand"
	"os"
	"testing"
)

func TestNewRoundsUpToPowerOfTwoPage(t *testing.T) {
	r, err := New(1)
	if err != nil {
		t.Fatalf("New(1): %v", err)
	}
	defer r.Destroy()

	if r.Size() != os.Getpagesize() {
		t.Fatalf("Size() = %d, want page size %d", r.Size(), os.Getpagesize())
	}
	if r.Available() != r.Size() || r.Filled() != 0 {
		t.Fatalf("fresh ring should be empty: available=%d filled=%d", r.Available(), r.Filled())
	}

	r2, err := New(os.Getpagesize() + 1)
	if err != nil {
		t.Fatalf("New(page+1): %v", err)
	}
	defer r2.Destroy()
	if r2.Size() != os.Getpagesize()*2 {
		t.Fatalf("Size() = %d, want %d", r2.Size(), os.Getpagesize()*2)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	r, err := New(64)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Destroy()

	msg := []byte("hello, vchan ring buffer")
	n := copy(r.Tail(), msg)
	r.AdvanceTail(n)

	if r.Filled() != len(msg) {
		t.Fatalf("Filled() = %d, want %d", r.Filled(), len(msg))
	}

	got := append([]byte(nil), r.Head()...)
	r.AdvanceHead(len(got))

	if !bytes.Equal(got, msg) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, msg)
	}
	if r.Filled() != 0 || r.Available() != r.Size() {
		t.Fatalf("ring should be drained: filled=%d available=%d", r.Filled(), r.Available())
	}
}

func TestWrapAroundStaysContiguous(t *testing.T) {
	r, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Destroy()
	size := r.Size()

	// Push the write cursor most of the way around so the next write
	// straddles the physical end of the buffer.
	filler := make([]byte, size-4)
	r.AdvanceTail(copy(r.Tail(), filler))
	r.AdvanceHead(size - 4)

	msg := []byte("ABCDEFGH") // 8 bytes, will wrap past the physical end
	if len(r.Tail()) != size {
		t.Fatalf("Tail() span = %d, want full capacity %d after drain", len(r.Tail()), size)
	}
	n := copy(r.Tail(), msg)
	if n != len(msg) {
		t.Fatalf("copy into tail: wrote %d, want %d", n, len(msg))
	}
	r.AdvanceTail(n)

	if got := r.Head(); !bytes.Equal(got, msg) {
		t.Fatalf("wrapped head span = %q, want %q", got, msg)
	}
}

func TestAdvanceHeadBeyondFilledPanics(t *testing.T) {
	r, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Destroy()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic advancing head past filled count")
		}
	}()
	r.AdvanceHead(1)
}

func TestAdvanceTailBeyondAvailablePanics(t *testing.T) {
	r, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Destroy()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic advancing tail past available space")
		}
	}()
	r.AdvanceTail(r.Size() + 1)
}

func TestRandomChunkedRoundTrip(t *testing.T) {
	r, err := New(256)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Destroy()

	rng := rand.New(rand.NewSource(1))
	var written, read []byte

	for i := 0; i < 5000; i++ {
		if r.Available() > 0 && (r.Filled() == 0 || rng.Intn(2) == 0) {
			n := 1 + rng.Intn(r.Available())
			chunk := make([]byte, n)
			rng.Read(chunk)
			copy(r.Tail(), chunk)
			r.AdvanceTail(n)
			written = append(written, chunk...)
			continue
		}
		if r.Filled() > 0 {
			n := 1 + rng.Intn(r.Filled())
			chunk := append([]byte(nil), r.Head()[:n]...)
			r.AdvanceHead(n)
			read = append(read, chunk...)
		}
	}
	// drain whatever remains
	if r.Filled() > 0 {
		read = append(read, r.Head()...)
		r.AdvanceHead(r.Filled())
	}

	if !bytes.Equal(written, read) {
		t.Fatalf("byte conservation violated: wrote %d bytes, read back %d bytes, equal=%v",
			len(written), len(read), bytes.Equal(written, read))
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	r, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Destroy(); err != nil {
		t.Fatalf("first Destroy: %v", err)
	}
	if err := r.Destroy(); err != nil {
		t.Fatalf("second Destroy should be a no-op: %v", err)
	}

	var zero Ring
	if err := zero.Destroy(); err != nil {
		t.Fatalf("Destroy on zero-value Ring: %v", err)
	}
}
