package tbdr

import "errors"

var (
	// ErrConfiguration reports a hardware profile or frame geometry that
	// cannot be tiled: the tile memory budget cannot hold a minimal bin, the
	// tile table is too small, or a profile value is out of range. It is not
	// recoverable by retrying.
	ErrConfiguration = errors.New("tbdr: configuration error")

	// ErrFrameNotSubmitted is returned by ServiceOverflow for a binning frame
	// whose fence was never reported through Submitted, and while any other
	// binning frame is still waiting for submission.
	ErrFrameNotSubmitted = errors.New("tbdr: frame has not been submitted")

	// ErrFrameDiscarded is returned when a frame passed to Discard is
	// submitted.
	ErrFrameDiscarded = errors.New("tbdr: frame was discarded")

	// ErrClosed is returned by a Scheduler after Close.
	ErrClosed = errors.New("tbdr: scheduler closed")
)
