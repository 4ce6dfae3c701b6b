package tbdr

import (
	"github.com/google/uuid"

	"github.com/gogpu/tbdr/cmdstream"
	"github.com/gogpu/tbdr/gpumem"
	"github.com/gogpu/tbdr/internal/vsc"
)

// Frame is a recorded frame ready for submission.
type Frame struct {
	// ID is the id of the batch the frame was recorded from.
	ID uuid.UUID

	Mode Mode

	// Binned is set when the stream starts with a binning pass. Such frames
	// must be passed to ServiceOverflow after submission.
	Binned bool

	Stream *cmdstream.Stream

	// Partition is nil for bypass frames.
	Partition *Partition

	slot      *vsc.Slot
	fence     gpumem.Fence
	serviced  bool
	discarded bool
}

// Fence returns the fence recorded by Submitted, or nil.
func (f *Frame) Fence() gpumem.Fence {
	return f.fence
}

// NeedsService reports whether the frame still has to go through
// ServiceOverflow.
func (f *Frame) NeedsService() bool {
	return f.Binned && !f.serviced
}
