// Package tbdr schedules tile-based deferred rendering for GPUs with a small
// on-chip tile memory (GMEM).
//
// # Overview
//
// A frame that does not fit in tile memory is split into bins. Each bin's
// render targets are restored into tile memory, the frame's draws are
// replayed, and the result is resolved back to system memory. Bins are
// grouped into a small number of visibility pipes; an optional binning pass
// records which bins each draw touches so that empty bins skip their draws
// on the GPU.
//
// The binning pass writes into two visibility streams whose per-pipe size
// (pitch) is only a guess. The GPU checks every pipe against the current
// pitch and reports overflows into shared memory; after the frame's fence
// has signaled, ServiceOverflow doubles the pitch of the overflowing
// stream. The same frame never trusts truncated visibility: an overflow
// makes every bin replay its draws.
//
// # Quick Start
//
//	dev := sim.NewDevice()
//	defer dev.Close()
//
//	s, err := tbdr.NewScheduler(dev, tbdr.WithProfile(tbdr.Gen6()))
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	b := tbdr.NewBatch(tbdr.FrameGeometry{
//	    Area:   image.Rect(0, 0, 1920, 1080),
//	    Colors: []tbdr.Attachment{{Format: gputypes.TextureFormatRGBA8Unorm}},
//	})
//	b.Draw(tbdr.DrawCall{Bounds: image.Rect(0, 0, 200, 200), Primitives: 2})
//
//	f, err := s.Render(b)
//	if err != nil {
//	    return err
//	}
//	if err := s.Submit(ctx, dev, f); err != nil {
//	    return err
//	}
//	pitches, err := s.ServiceOverflow(ctx, f)
//
// # Architecture
//
// The package is organized into:
//   - Public API: Scheduler, Batch, FrameGeometry, Profile, Frame
//   - cmdstream: the typed command stream a frame is recorded into
//   - gpumem: the allocator and shared memory contracts
//   - backend: the device contract and a registry of named backends
//   - backend/sim: a software GPU executing command streams
//   - backend/halmem: gpumem on top of gogpu/wgpu HAL devices
//   - Internal: gmem (bin size), tiling (grid and pipes), vsc (visibility
//     streams), cache (partitions), parallel (software GPU workers)
//
// cmd/tbdrsim renders synthetic frames on a registered backend and logs the
// scheduler's decisions.
package tbdr
