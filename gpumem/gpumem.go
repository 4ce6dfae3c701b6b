// Package gpumem defines the memory and synchronization contracts the tile
// scheduler consumes from the GPU backend.
//
// A backend hands out Buffers, accepts them back together with the Fence
// that must signal before the memory may be reused, and lets the CPU read
// and write 64-bit control words that the GPU also accesses.
package gpumem

import (
	"context"
	"errors"
)

var (
	// ErrAllocationFailed is returned when the backend cannot provide a
	// buffer of the requested size.
	ErrAllocationFailed = errors.New("gpumem: allocation failed")

	// ErrForeignBuffer is returned when a buffer from another backend is
	// passed in.
	ErrForeignBuffer = errors.New("gpumem: buffer belongs to another allocator")

	// ErrReleased is returned when a released buffer is accessed.
	ErrReleased = errors.New("gpumem: buffer already released")

	// ErrOutOfBounds is returned for control word accesses past the end of a
	// buffer or at a misaligned offset.
	ErrOutOfBounds = errors.New("gpumem: access out of bounds")
)

// WordSize is the size in bytes of a control word.
const WordSize = 8

// Buffer is a GPU memory allocation.
type Buffer interface {
	// Label returns the debug label given at allocation.
	Label() string

	// Size returns the allocation size in bytes.
	Size() uint64
}

// Fence marks a point in a queue's submission order. A fence is only
// meaningful to the backend that issued it.
type Fence interface {
	// Seq returns the fence's position in the queue. Later submissions have
	// larger values.
	Seq() uint64
}

// Allocator hands out GPU memory.
type Allocator interface {
	// Alloc returns a buffer of at least size bytes whose GPU address is a
	// multiple of alignment. Failures wrap ErrAllocationFailed.
	Alloc(label string, size, alignment uint64) (Buffer, error)

	// Release gives the buffer back. The memory is reused only after the
	// after fence has signaled; a nil fence releases immediately.
	Release(buf Buffer, after Fence)

	// Wait blocks until f has signaled or ctx is done.
	Wait(ctx context.Context, f Fence) error
}

// SharedMemory reads and writes control words visible to both the CPU and
// the GPU. Offsets must be multiples of WordSize.
type SharedMemory interface {
	ReadWord(buf Buffer, offset uint64) (uint64, error)
	WriteWord(buf Buffer, offset uint64, value uint64) error
}

// Later returns whichever fence comes later in submission order. Either may
// be nil.
func Later(a, b Fence) Fence {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.Seq() > a.Seq():
		return b
	}
	return a
}
