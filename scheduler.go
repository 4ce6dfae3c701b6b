package tbdr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/tbdr/cmdstream"
	"github.com/gogpu/tbdr/gpumem"
	"github.com/gogpu/tbdr/internal/cache"
	"github.com/gogpu/tbdr/internal/vsc"
)

// VersionedPitch is a visibility stream pitch and the generation that
// introduced it.
type VersionedPitch = vsc.VersionedPitch

// Pitches holds the current pitch of both visibility streams.
type Pitches = vsc.Pitches

// Queue submits command streams to a GPU.
type Queue interface {
	Submit(ctx context.Context, s *cmdstream.Stream) (gpumem.Fence, error)
}

// Stats counts scheduler activity.
type Stats struct {
	Frames   int
	Bypassed int
	Tiled    int
	Binned   int

	// BinningSkipped counts frames that would have binned but could not get
	// a control slot.
	BinningSkipped int

	PlanHits   uint64
	PlanMisses uint64

	Growths       int
	StaleRecords  int
	FailedGrowths int
}

// Scheduler turns batches into command streams for one rendering context.
// It owns the partition cache and the visibility streams.
//
// A Scheduler is not safe for concurrent use.
type Scheduler struct {
	prof  Profile
	log   *slog.Logger
	hints Hints

	plans *cache.Cache[Signature, *Partition]
	vsc   *vsc.Controller

	// unsubmitted counts binning frames not yet reported to Submitted.
	unsubmitted int

	stats  Stats
	closed bool
}

// NewScheduler creates a scheduler. The allocator backs the visibility
// streams and the overflow control block; it may be nil when the profile
// disables binning. Control words are accessed through the allocator when
// it implements gpumem.SharedMemory, otherwise through WithSharedMemory.
func NewScheduler(alloc gpumem.Allocator, opts ...Option) (*Scheduler, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.profile.Validate(); err != nil {
		return nil, err
	}
	if o.cacheSize < 1 {
		return nil, fmt.Errorf("%w: cache size %d", ErrConfiguration, o.cacheSize)
	}
	log := o.logger
	if log == nil {
		log = Logger()
	}

	s := &Scheduler{
		prof:  o.profile,
		log:   log,
		hints: o.hints,
		plans: cache.New[Signature, *Partition](o.cacheSize),
	}
	s.plans.OnEvict = func(sig Signature, _ *Partition) {
		s.log.Debug("tbdr: partition evicted", "area", sig.Area, "targets", sig.Targets)
	}
	if !s.prof.Binning {
		return s, nil
	}

	if alloc == nil {
		return nil, fmt.Errorf("%w: binning needs an allocator", ErrConfiguration)
	}
	mem := o.mem
	if mem == nil {
		mem, _ = alloc.(gpumem.SharedMemory)
	}
	if mem == nil {
		return nil, fmt.Errorf("%w: binning needs shared memory access", ErrConfiguration)
	}
	ctl, err := vsc.NewController(vsc.Config{
		Allocator:      alloc,
		Memory:         mem,
		MaxPipes:       s.prof.MaxPipes,
		PrimListPitch:  s.prof.PrimListPitch,
		SecondaryPitch: s.prof.SecondaryPitch,
		PitchAlign:     s.prof.PitchAlign,
		Logger:         log,
	})
	if err != nil {
		if errors.Is(err, vsc.ErrInvalidConfig) {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		return nil, fmt.Errorf("tbdr: %w", err)
	}
	s.vsc = ctl

	log.Debug("tbdr: scheduler created",
		"profile", s.prof.Name,
		"gmem", s.prof.GmemBytes,
		"pipes", s.prof.MaxPipes,
		"bits", s.prof.BitMode)
	return s, nil
}

// Profile returns the scheduler's hardware profile.
func (s *Scheduler) Profile() Profile {
	return s.prof
}

// Plan returns the partition of geom, computing it on first use of the
// geometry's signature. Errors wrap ErrConfiguration.
func (s *Scheduler) Plan(geom FrameGeometry) (*Partition, error) {
	if s.closed {
		return nil, ErrClosed
	}
	sig, err := geom.Signature()
	if err != nil {
		return nil, err
	}
	p, hit, err := s.plans.GetOrCompute(sig, func() (*Partition, error) {
		return partition(sig, &s.prof)
	})
	if err != nil {
		return nil, err
	}
	if !hit {
		s.log.Debug("tbdr: partition computed",
			"area", sig.Area,
			"bin", fmt.Sprintf("%dx%d", p.BinW, p.BinH),
			"tiles", len(p.Tiles),
			"pipes", p.PipesUsed,
			"footprint", p.Footprint)
	}
	return p, nil
}

// Decide chooses the rendering path for a frame. Frames that cannot be
// partitioned are rendered in bypass unless tiling is forced.
func (s *Scheduler) Decide(geom FrameGeometry, hints Hints) Mode {
	m, _, _ := s.decide(&geom, hints)
	return m
}

func (s *Scheduler) decide(geom *FrameGeometry, hints Hints) (Mode, *Partition, error) {
	hints.ForceBypass = hints.ForceBypass || s.hints.ForceBypass
	hints.ForceTiled = hints.ForceTiled || s.hints.ForceTiled

	mode, why := decide(geom, hints, s.prof.BypassDrawThreshold)
	if mode == ModeBypass {
		s.log.Debug("tbdr: bypass", "reason", why)
		return ModeBypass, nil, nil
	}

	p, err := s.Plan(*geom)
	switch {
	case err != nil && hints.ForceTiled:
		return ModeBypass, nil, err
	case errors.Is(err, ErrConfiguration):
		s.log.Warn("tbdr: frame cannot be tiled, using bypass", "area", geom.Area, "err", err)
		return ModeBypass, nil, nil
	case err != nil:
		return ModeBypass, nil, err
	case p.Empty():
		s.log.Debug("tbdr: bypass", "reason", "empty partition")
		return ModeBypass, nil, nil
	}
	s.log.Debug("tbdr: tiled", "reason", why, "tiles", len(p.Tiles))
	return ModeTiled, p, nil
}

// Submit hands the frame's stream to q and records the returned fence.
func (s *Scheduler) Submit(ctx context.Context, q Queue, f *Frame) error {
	if f.discarded {
		return ErrFrameDiscarded
	}
	fence, err := q.Submit(ctx, f.Stream)
	if err != nil {
		return fmt.Errorf("tbdr: submit frame: %w", err)
	}
	s.Submitted(f, fence)
	return nil
}

// Submitted records the fence that signals completion of f. Frames
// submitted through another path must be reported here before
// ServiceOverflow.
func (s *Scheduler) Submitted(f *Frame, fence gpumem.Fence) {
	if f.discarded {
		s.log.Warn("tbdr: discarded frame reported as submitted", "batch", f.ID)
		return
	}
	if f.Binned && f.fence == nil && fence != nil {
		s.unsubmitted--
	}
	f.fence = fence
	if s.vsc != nil && fence != nil {
		s.vsc.Observe(fence)
	}
}

// Discard drops a frame that was rendered but will not be submitted. A
// binning frame gives its control slot back and no longer holds up
// ServiceOverflow. Frames already submitted are left alone; they must go
// through ServiceOverflow. A discarded frame cannot be submitted.
func (s *Scheduler) Discard(f *Frame) {
	if f == nil || f.discarded || f.fence != nil {
		return
	}
	f.discarded = true
	if !f.Binned {
		return
	}
	s.unsubmitted--
	if s.vsc != nil {
		s.vsc.Discard(f.slot)
	}
	f.slot = nil
	f.serviced = true
	s.log.Debug("tbdr: frame discarded", "batch", f.ID)
}

// ServiceOverflow waits for f to complete and grows a visibility stream
// when the GPU reported an overflow. It must be called once for every
// frame that ran a binning pass; for other frames, and for frames already
// serviced, it returns the current pitches without waiting.
//
// Growth replaces buffers that recorded frames refer to, so every binning
// frame rendered so far must have been submitted or discarded; otherwise
// the call fails with ErrFrameNotSubmitted.
//
// A failed growth leaves the pitches unchanged and returns an error
// wrapping gpumem.ErrAllocationFailed; the next call retries it.
func (s *Scheduler) ServiceOverflow(ctx context.Context, f *Frame) (Pitches, error) {
	if s.closed {
		return Pitches{}, ErrClosed
	}
	if s.vsc == nil {
		return Pitches{}, nil
	}
	if f == nil || !f.NeedsService() {
		return s.vsc.Pitches(), nil
	}
	if f.fence == nil {
		return s.vsc.Pitches(), ErrFrameNotSubmitted
	}
	if s.unsubmitted > 0 {
		return s.vsc.Pitches(), fmt.Errorf("%w: %d binning frames recorded but not submitted", ErrFrameNotSubmitted, s.unsubmitted)
	}

	out, err := s.vsc.Service(ctx, f.slot, f.fence)
	if !f.slot.InUse() {
		f.serviced = true
		f.slot = nil
	}
	s.syncOverflowStats()
	if err != nil {
		return out.Pitches, fmt.Errorf("tbdr: service overflow: %w", err)
	}
	if out.Grew {
		s.log.Debug("tbdr: visibility stream grown",
			"batch", f.ID,
			"stream", out.Stream,
			"pitch", out.Pitches.Of(out.Stream))
	}
	return out.Pitches, nil
}

func (s *Scheduler) syncOverflowStats() {
	vs := s.vsc.Stats()
	s.stats.Growths = vs.Growths
	s.stats.StaleRecords = vs.StaleRecords
	s.stats.FailedGrowths = vs.FailedGrowths
}

// Pitches returns the current visibility stream pitches. Without binning
// both are zero.
func (s *Scheduler) Pitches() Pitches {
	if s.vsc == nil {
		return Pitches{}
	}
	return s.vsc.Pitches()
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	st := s.stats
	cs := s.plans.Stats()
	st.PlanHits = cs.Hits
	st.PlanMisses = cs.Misses
	return st
}

// Close releases the visibility streams and drops cached partitions.
// Buffers are released behind the latest submitted fence.
func (s *Scheduler) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.vsc != nil {
		s.vsc.Close()
	}
	s.plans.Clear()
}
