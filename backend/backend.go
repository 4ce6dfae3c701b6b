package backend

import (
	"context"
	"errors"

	"github.com/gogpu/tbdr/cmdstream"
	"github.com/gogpu/tbdr/gpumem"
)

var (
	// ErrBackendNotAvailable is returned when no backend with the
	// requested name is registered.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Device is a GPU that executes recorded frames. It provides the memory a
// scheduler needs and a queue to submit command streams to.
type Device interface {
	gpumem.Allocator
	gpumem.SharedMemory

	// Submit queues a command stream and returns the fence that signals
	// its completion.
	Submit(ctx context.Context, s *cmdstream.Stream) (gpumem.Fence, error)

	// Close releases the device and all its buffers.
	Close() error
}
