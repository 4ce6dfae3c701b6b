package tbdr

import (
	"fmt"

	"github.com/gogpu/tbdr/cmdstream"
	"github.com/gogpu/tbdr/internal/vsc"
)

type renderState uint8

const (
	stateInit renderState = iota
	stateBinning
	stateTiles
	stateFini
	stateBypass
	stateDone
)

var renderStateNames = [...]string{
	stateInit:    "init",
	stateBinning: "binning",
	stateTiles:   "tiles",
	stateFini:    "fini",
	stateBypass:  "bypass",
	stateDone:    "done",
}

func (s renderState) String() string {
	if int(s) < len(renderStateNames) {
		return renderStateNames[s]
	}
	return fmt.Sprintf("renderState(%d)", s)
}

// frameBuilder carries one Render call through the state machine.
type frameBuilder struct {
	s       *Scheduler
	b       *Batch
	f       *Frame
	part    *Partition
	st      *cmdstream.Stream
	slot    *vsc.Slot
	buffers BufferMask
}

// Render records the command stream of a batch.
//
// Bypass frames draw straight into system memory. Tiled frames optionally
// start with a binning pass, then restore, clear, draw and resolve every
// tile in row-major order. When binning ran, each tile's draws are skipped
// on the GPU unless the binning pass saw geometry in the tile or reported
// an overflow; such frames must go through ServiceOverflow after
// submission.
//
// Render fails only for geometry that cannot be described (ErrConfiguration)
// or when tiling is forced on a frame that cannot be partitioned.
func (s *Scheduler) Render(b *Batch) (*Frame, error) {
	if s.closed {
		return nil, ErrClosed
	}
	geom := b.Geometry()
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	mode, part, err := s.decide(&geom, b.Hints())
	if err != nil {
		return nil, err
	}

	f := &Frame{ID: b.ID(), Mode: mode, Stream: cmdstream.New(), Partition: part}
	r := &frameBuilder{
		s:       s,
		b:       b,
		f:       f,
		part:    part,
		st:      f.Stream,
		buffers: geom.Buffers(),
	}

	state := stateInit
	if mode == ModeBypass {
		state = stateBypass
	}
	for state != stateDone {
		state = r.step(state)
	}

	s.stats.Frames++
	switch {
	case mode == ModeBypass:
		s.stats.Bypassed++
	case f.Binned:
		s.stats.Tiled++
		s.stats.Binned++
	default:
		s.stats.Tiled++
	}
	s.log.Debug("tbdr: frame recorded",
		"batch", f.ID,
		"mode", mode,
		"binned", f.Binned,
		"draws", len(b.draws),
		"commands", f.Stream.Len())
	return f, nil
}

func (r *frameBuilder) step(state renderState) renderState {
	switch state {
	case stateInit:
		return r.init()
	case stateBinning:
		r.binning()
		return stateTiles
	case stateTiles:
		for i := range r.part.Tiles {
			r.tile(&r.part.Tiles[i])
		}
		return stateFini
	case stateFini:
		r.st.Emit(cmdstream.FlushCacheCommand{})
		return stateDone
	case stateBypass:
		r.bypass()
		return stateDone
	}
	return stateDone
}

func (r *frameBuilder) init() renderState {
	if r.canBin() {
		slot, err := r.s.vsc.BeginFrame()
		if err == nil {
			r.slot = slot
			return stateBinning
		}
		r.s.stats.BinningSkipped++
		r.s.log.Warn("tbdr: binning skipped", "batch", r.f.ID, "err", err)
	}
	r.st.Emit(cmdstream.SetModeCommand{Mode: cmdstream.ModeGmem})
	return stateTiles
}

func (r *frameBuilder) canBin() bool {
	prof := &r.s.prof
	return r.s.vsc != nil &&
		prof.Binning &&
		len(r.part.Tiles) > 2 &&
		len(r.b.draws) > 0 &&
		r.part.Binnable(prof.VisibilityBits)
}

func (r *frameBuilder) binning() {
	ctl := r.s.vsc
	r.st.Emit(
		cmdstream.SetModeCommand{Mode: cmdstream.ModeBinning},
		ctl.Bindings(),
		cmdstream.SetWindowCommand{Rect: r.part.Signature.Area},
		cmdstream.BinningPassCommand{
			Pipes: r.part.PipesUsed,
			Tiles: r.part.binTiles,
			Draws: r.b.draws,
		},
	)
	ctl.EmitChecks(r.st, r.slot, r.part.PipesUsed)
	r.st.Emit(cmdstream.SetModeCommand{Mode: cmdstream.ModeGmem})
	r.f.Binned = true
	r.f.slot = r.slot
	r.s.unsubmitted++
}

func (r *frameBuilder) tile(t *Tile) {
	rect := t.Bounds()
	r.st.Emit(cmdstream.SetWindowCommand{Rect: rect})

	if restore := r.buffers &^ r.b.clearedOver(rect); restore != 0 {
		r.st.Emit(cmdstream.RestoreCommand{Buffers: restore, Rect: rect})
	}
	for _, c := range r.b.clears {
		if cr := c.rect.Intersect(rect); !cr.Empty() {
			r.st.Emit(cmdstream.ClearCommand{Buffers: c.buffers, Rect: cr, Value: c.value})
		}
	}

	if r.slot != nil {
		cond := cmdstream.Any{
			cmdstream.TileVisible{Pipe: t.Pipe, Bit: t.Bit},
			cmdstream.Not{Cond: r.s.vsc.Trusted(r.slot)},
		}
		r.st.Predicated(cond, r.draws)
	} else {
		r.draws(r.st)
	}

	if resolve := r.buffers &^ r.b.discard; resolve != 0 {
		r.st.Emit(cmdstream.ResolveCommand{Buffers: resolve, Rect: rect})
	}
}

func (r *frameBuilder) draws(st *cmdstream.Stream) {
	for i, d := range r.b.draws {
		st.Emit(cmdstream.DrawCommand{Index: i, Draw: d})
	}
}

func (r *frameBuilder) bypass() {
	area := r.b.geom.Area.Canon()
	r.st.Emit(
		cmdstream.SetModeCommand{Mode: cmdstream.ModeBypass},
		cmdstream.SetWindowCommand{Rect: area},
	)
	for _, c := range r.b.clears {
		r.st.Emit(cmdstream.ClearCommand{Buffers: c.buffers, Rect: c.rect, Value: c.value})
	}
	r.draws(r.st)
	r.st.Emit(cmdstream.FlushCacheCommand{})
}
