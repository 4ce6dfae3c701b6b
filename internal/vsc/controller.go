// Package vsc manages the visibility stream buffers written by the binning
// pass and grows them when the GPU reports an overflow.
//
// Detection happens on the GPU. After the binning pass the stream carries,
// for every active pipe and stream, a conditional write of an encoded
// overflow record into the frame's scratch word and a conditional clear of
// the frame's no-overflow flag. When the scratch word is non-zero it is
// copied into the sticky record. The flag gates tile skipping in the same
// frame; the sticky record is read by the CPU once the frame's fence has
// signaled and triggers growth.
package vsc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/tbdr/cmdstream"
	"github.com/gogpu/tbdr/gpumem"
	"github.com/gogpu/tbdr/internal/align"
)

var (
	// ErrInvalidConfig is returned by NewController for unusable settings.
	ErrInvalidConfig = errors.New("vsc: invalid configuration")

	// ErrPitchLimit is returned when a stream cannot grow any further.
	ErrPitchLimit = errors.New("vsc: stream pitch limit reached")
)

// DefaultMaxPitch caps stream growth.
const DefaultMaxPitch = 1 << 28

// Slot layout: scratch word, then the no-overflow flag.
const (
	slotScratch    = 0
	slotNoOverflow = gpumem.WordSize
	slotSize       = 2 * gpumem.WordSize
)

// Config configures a Controller.
type Config struct {
	Allocator gpumem.Allocator
	Memory    gpumem.SharedMemory

	// MaxPipes is the number of pipes each stream buffer is sized for.
	MaxPipes int

	// PrimListPitch and SecondaryPitch are the initial per-pipe sizes.
	PrimListPitch  uint32
	SecondaryPitch uint32

	// PitchAlign is the alignment of every pitch; at least 4.
	PitchAlign uint32

	// MaxPitch caps growth. Zero means DefaultMaxPitch.
	MaxPitch uint32

	Logger *slog.Logger
}

// Pitches reports the current pitch of both streams.
type Pitches struct {
	PrimList  VersionedPitch
	Secondary VersionedPitch
}

// Of returns the pitch of one stream.
func (p Pitches) Of(kind cmdstream.StreamKind) VersionedPitch {
	if kind == cmdstream.StreamSecondary {
		return p.Secondary
	}
	return p.PrimList
}

// Outcome describes what Service did.
type Outcome struct {
	Pitches Pitches

	// Grew is set when a stream was replaced; Stream names it.
	Grew   bool
	Stream cmdstream.StreamKind

	// Stale is set when the record predated the current pitch.
	Stale bool
}

// Stats counts controller activity.
type Stats struct {
	Growths        int
	StaleRecords   int
	FailedGrowths  int
	SlotsAllocated int
}

type stream struct {
	kind    cmdstream.StreamKind
	version VersionedPitch
	buf     gpumem.Buffer
}

// Slot is the per-frame part of the control block: a scratch word the
// GPU's overflow checks write into and the no-overflow flag they clear.
// A slot is owned by one frame from BeginFrame until Service.
type Slot struct {
	buf   gpumem.Buffer
	inUse bool
}

// Scratch returns the scratch word.
func (s *Slot) Scratch() cmdstream.Word {
	return cmdstream.Word{Buffer: s.buf, Offset: slotScratch}
}

// NoOverflow returns the no-overflow flag word.
func (s *Slot) NoOverflow() cmdstream.Word {
	return cmdstream.Word{Buffer: s.buf, Offset: slotNoOverflow}
}

// InUse reports whether the slot still belongs to a frame.
func (s *Slot) InUse() bool {
	return s.inUse
}

// Controller owns the two visibility stream buffers and the control block.
// It is not safe for concurrent use.
type Controller struct {
	alloc      gpumem.Allocator
	mem        gpumem.SharedMemory
	maxPipes   int
	pitchAlign uint32
	maxPitch   uint32
	log        *slog.Logger

	streams [cmdstream.NumStreams]stream
	sticky  gpumem.Buffer
	free    []*Slot

	// last is the most recent fence handed to Observe. Replaced buffers are
	// released behind it because any in-flight frame may still read them.
	last gpumem.Fence

	// staleWord is the last sticky word found stale. It stays in place until
	// the next overflow overwrites it and is not counted again.
	staleWord uint64

	stats Stats
}

// NewController validates cfg and allocates the initial stream buffers and
// the sticky record.
func NewController(cfg Config) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		alloc:      cfg.Allocator,
		mem:        cfg.Memory,
		maxPipes:   cfg.MaxPipes,
		pitchAlign: cfg.PitchAlign,
		maxPitch:   cfg.MaxPitch,
		log:        cfg.Logger,
	}
	if c.maxPitch == 0 {
		c.maxPitch = DefaultMaxPitch
	}
	if c.log == nil {
		c.log = slog.New(slog.DiscardHandler)
	}

	initial := [cmdstream.NumStreams]uint32{
		cmdstream.StreamPrimList:  align.Up(cfg.PrimListPitch, cfg.PitchAlign),
		cmdstream.StreamSecondary: align.Up(cfg.SecondaryPitch, cfg.PitchAlign),
	}
	for kind := range cmdstream.NumStreams {
		buf, err := c.allocStream(kind, initial[kind])
		if err != nil {
			c.Close()
			return nil, err
		}
		c.streams[kind] = stream{
			kind:    kind,
			version: VersionedPitch{Pitch: initial[kind]},
			buf:     buf,
		}
	}

	sticky, err := c.alloc.Alloc("vsc overflow record", gpumem.WordSize, gpumem.WordSize)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("vsc: allocate overflow record: %w", err)
	}
	c.sticky = sticky
	if err := c.mem.WriteWord(sticky, 0, 0); err != nil {
		c.Close()
		return nil, fmt.Errorf("vsc: clear overflow record: %w", err)
	}

	c.log.Debug("vsc: streams allocated",
		"primlist", c.streams[cmdstream.StreamPrimList].version,
		"secondary", c.streams[cmdstream.StreamSecondary].version,
		"pipes", c.maxPipes)
	return c, nil
}

func (cfg *Config) validate() error {
	switch {
	case cfg.Allocator == nil || cfg.Memory == nil:
		return fmt.Errorf("%w: allocator and shared memory are required", ErrInvalidConfig)
	case cfg.MaxPipes <= 0:
		return fmt.Errorf("%w: %d pipes", ErrInvalidConfig, cfg.MaxPipes)
	case cfg.PitchAlign < 4 || cfg.PitchAlign&(cfg.PitchAlign-1) != 0:
		return fmt.Errorf("%w: pitch alignment %d must be a power of two >= 4", ErrInvalidConfig, cfg.PitchAlign)
	case cfg.PrimListPitch == 0 || cfg.SecondaryPitch == 0:
		return fmt.Errorf("%w: zero initial pitch", ErrInvalidConfig)
	case cfg.MaxPitch != 0 && (cfg.MaxPitch < cfg.PrimListPitch || cfg.MaxPitch < cfg.SecondaryPitch):
		return fmt.Errorf("%w: max pitch %#x below initial pitch", ErrInvalidConfig, cfg.MaxPitch)
	}
	return nil
}

func (c *Controller) allocStream(kind cmdstream.StreamKind, pitch uint32) (gpumem.Buffer, error) {
	size := uint64(pitch) * uint64(c.maxPipes)
	buf, err := c.alloc.Alloc("vsc "+kind.String()+" stream", size, uint64(c.pitchAlign))
	if err != nil {
		return nil, fmt.Errorf("vsc: allocate %s stream (%d bytes): %w", kind, size, err)
	}
	return buf, nil
}

// Pitches returns the current stream pitches.
func (c *Controller) Pitches() Pitches {
	return Pitches{
		PrimList:  c.streams[cmdstream.StreamPrimList].version,
		Secondary: c.streams[cmdstream.StreamSecondary].version,
	}
}

// Stats returns a snapshot of the controller counters.
func (c *Controller) Stats() Stats {
	return c.stats
}

// Bindings returns the command that binds the current stream buffers.
func (c *Controller) Bindings() cmdstream.SetVisibilityStreamsCommand {
	var cmd cmdstream.SetVisibilityStreamsCommand
	for kind, st := range c.streams {
		cmd.Streams[kind] = cmdstream.StreamBinding{Buffer: st.buf, Pitch: st.version.Pitch}
	}
	return cmd
}

// BeginFrame hands out a control slot for one binning frame, with the
// scratch word cleared and the no-overflow flag set.
func (c *Controller) BeginFrame() (*Slot, error) {
	var slot *Slot
	if n := len(c.free); n > 0 {
		slot = c.free[n-1]
		c.free = c.free[:n-1]
	} else {
		buf, err := c.alloc.Alloc(fmt.Sprintf("vsc frame slot %d", c.stats.SlotsAllocated), slotSize, gpumem.WordSize)
		if err != nil {
			return nil, fmt.Errorf("vsc: allocate frame slot: %w", err)
		}
		c.stats.SlotsAllocated++
		slot = &Slot{buf: buf}
	}

	if err := c.mem.WriteWord(slot.buf, slotScratch, 0); err != nil {
		c.free = append(c.free, slot)
		return nil, fmt.Errorf("vsc: clear frame slot: %w", err)
	}
	if err := c.mem.WriteWord(slot.buf, slotNoOverflow, 1); err != nil {
		c.free = append(c.free, slot)
		return nil, fmt.Errorf("vsc: set frame slot: %w", err)
	}
	slot.inUse = true
	return slot, nil
}

// EmitChecks appends the overflow checks for pipes [0, pipes) after the
// binning pass. Only the last firing write to the scratch word survives,
// which is enough: the service step needs to know that an overflow
// happened and at which pitch, not where.
func (c *Controller) EmitChecks(s *cmdstream.Stream, slot *Slot, pipes int) {
	for p := range pipes {
		for _, st := range c.streams {
			cond := cmdstream.StreamSizeAtLeast{Pipe: p, Stream: st.kind, Size: st.version.Pitch}
			s.Emit(
				cmdstream.CondWriteCommand{Cond: cond, Dst: slot.Scratch(), Value: Encode(TagOf(st.kind), st.version)},
				cmdstream.CondWriteCommand{Cond: cond, Dst: slot.NoOverflow(), Value: 0},
			)
		}
	}
	s.Predicated(cmdstream.WordNonZero{Word: slot.Scratch()}, func(s *cmdstream.Stream) {
		s.Emit(cmdstream.CopyWordCommand{Src: slot.Scratch(), Dst: c.stickyWord()})
	})
}

// Trusted returns the condition that holds when no pipe of the slot's frame
// overflowed, so its visibility data is complete.
func (c *Controller) Trusted(slot *Slot) cmdstream.Condition {
	return cmdstream.WordNonZero{Word: slot.NoOverflow()}
}

func (c *Controller) stickyWord() cmdstream.Word {
	return cmdstream.Word{Buffer: c.sticky}
}

// Observe records a submitted fence. Buffers replaced later are released
// behind the latest observed fence.
func (c *Controller) Observe(f gpumem.Fence) {
	c.last = gpumem.Later(c.last, f)
}

// Service waits for done, the fence of the frame that used slot, returns
// the slot to the pool and acts on the sticky overflow record.
//
// A record older than the stream's current generation is ignored and
// reported once, however many frames find it in place. Otherwise
// the stream's pitch doubles and its buffer is replaced; the old buffer is
// released behind the latest observed fence. When the replacement cannot be
// allocated the stream keeps its pitch, the record stays in place so the
// next Service retries, and the error wraps gpumem.ErrAllocationFailed.
func (c *Controller) Service(ctx context.Context, slot *Slot, done gpumem.Fence) (Outcome, error) {
	out := Outcome{Pitches: c.Pitches()}
	if err := c.alloc.Wait(ctx, done); err != nil {
		return out, fmt.Errorf("vsc: wait for frame: %w", err)
	}
	c.Observe(done)
	if slot != nil && slot.inUse {
		slot.inUse = false
		c.free = append(c.free, slot)
	}

	word, err := c.mem.ReadWord(c.sticky, 0)
	if err != nil {
		return out, fmt.Errorf("vsc: read overflow record: %w", err)
	}
	rec, ok := Decode(word)
	if !ok || word == c.staleWord {
		return out, nil
	}

	kind, ok := rec.Tag.Stream()
	if !ok {
		c.log.Warn("vsc: discarding malformed overflow record", "word", fmt.Sprintf("%#x", word))
		return out, c.clearSticky()
	}

	st := &c.streams[kind]
	if rec.Version.Older(st.version) {
		c.stats.StaleRecords++
		c.staleWord = word
		out.Stale = true
		c.log.Debug("vsc: stale overflow record",
			"stream", kind, "reported", rec.Version, "current", st.version)
		return out, nil
	}

	if st.version.Pitch > c.maxPitch/2 {
		c.stats.FailedGrowths++
		return out, fmt.Errorf("%w: %s stream at %#x", ErrPitchLimit, kind, st.version.Pitch)
	}
	next := VersionedPitch{Pitch: st.version.Pitch * 2, Generation: st.version.Generation + 1}
	buf, err := c.allocStream(kind, next.Pitch)
	if err != nil {
		c.stats.FailedGrowths++
		c.log.Warn("vsc: stream growth failed, keeping current pitch",
			"stream", kind, "pitch", st.version, "err", err)
		return out, err
	}

	c.alloc.Release(st.buf, c.last)
	prev := st.version
	st.buf = buf
	st.version = next
	c.stats.Growths++
	c.log.Info("vsc: stream grown", "stream", kind, "from", prev, "to", next)

	out.Grew = true
	out.Stream = kind
	out.Pitches = c.Pitches()
	return out, c.clearSticky()
}

// Discard returns the slot of a frame that was recorded but never
// submitted. The GPU has not seen the slot, so it is reused at once.
func (c *Controller) Discard(slot *Slot) {
	if slot == nil || !slot.inUse {
		return
	}
	slot.inUse = false
	c.free = append(c.free, slot)
}

func (c *Controller) clearSticky() error {
	if err := c.mem.WriteWord(c.sticky, 0, 0); err != nil {
		return fmt.Errorf("vsc: clear overflow record: %w", err)
	}
	return nil
}

// Close releases every buffer the controller owns behind the latest
// observed fence.
func (c *Controller) Close() {
	for i := range c.streams {
		if c.streams[i].buf != nil {
			c.alloc.Release(c.streams[i].buf, c.last)
			c.streams[i].buf = nil
		}
	}
	if c.sticky != nil {
		c.alloc.Release(c.sticky, c.last)
		c.sticky = nil
	}
	for _, slot := range c.free {
		c.alloc.Release(slot.buf, c.last)
	}
	c.free = nil
}
