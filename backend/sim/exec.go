package sim

import (
	"fmt"
	"image"
	"math"

	"github.com/gogpu/tbdr/cmdstream"
	"github.com/gogpu/tbdr/gpumem"
)

// Binning cost model: every primitive costs PrimitiveBytes in the
// primitive-list stream of each tile it touches, and every draw that
// touches a pipe costs DrawBytes in that pipe's secondary stream.
const (
	PrimitiveBytes = 4
	DrawBytes      = 32
)

// Result describes one executed stream.
type Result struct {
	Commands      int
	DrawsReplayed int
	DrawsSkipped  int

	// OverflowPipes counts pipes whose visibility data did not fit in a
	// stream pitch. Their visibility masks are truncated.
	OverflowPipes int

	// Err is the first execution error. Execution continues past errors.
	Err error
}

type pipeState struct {
	size     [cmdstream.NumStreams]uint32
	overflow bool
}

type executor struct {
	d       *Device
	streams [cmdstream.NumStreams]cmdstream.StreamBinding
	pipes   []pipeState
	mode    cmdstream.RenderMode
	window  image.Rectangle
	res     Result
}

func newExecutor(d *Device) *executor {
	return &executor{d: d}
}

func (e *executor) fail(err error) {
	if e.res.Err == nil {
		e.res.Err = err
	}
}

func (e *executor) run(s *cmdstream.Stream) {
	cmds := s.Commands()
	e.res.Commands = len(cmds)
	for i := 0; i < len(cmds); i++ {
		switch c := cmds[i].(type) {
		case cmdstream.CondExecCommand:
			if !e.eval(c.Cond) {
				end := min(len(cmds), i+1+c.Count)
				e.skip(cmds[i+1 : end])
				i = end - 1
			}
		case cmdstream.SetModeCommand:
			e.mode = c.Mode
		case cmdstream.SetWindowCommand:
			e.window = c.Rect
		case cmdstream.SetVisibilityStreamsCommand:
			e.streams = c.Streams
		case cmdstream.BinningPassCommand:
			e.bin(c)
		case cmdstream.DrawCommand:
			e.res.DrawsReplayed++
		case cmdstream.WriteWordCommand:
			e.write(c.Dst, c.Value)
		case cmdstream.CondWriteCommand:
			if e.eval(c.Cond) {
				e.write(c.Dst, c.Value)
			}
		case cmdstream.CopyWordCommand:
			if v, ok := e.read(c.Src); ok {
				e.write(c.Dst, v)
			}
		case cmdstream.ClearCommand, cmdstream.RestoreCommand, cmdstream.ResolveCommand:
			if e.mode == cmdstream.ModeBinning {
				e.fail(fmt.Errorf("%s during binning", c.Type()))
			}
		case cmdstream.FlushCacheCommand:
		default:
			e.fail(fmt.Errorf("unknown command %s", c.Type()))
		}
	}
}

func (e *executor) skip(cmds []cmdstream.Command) {
	for _, c := range cmds {
		if c.Type() == cmdstream.CmdDraw {
			e.res.DrawsSkipped++
		}
	}
}

func (e *executor) read(w cmdstream.Word) (uint64, bool) {
	e.d.mu.Lock()
	v, err := e.d.readWord(w.Buffer, w.Offset)
	e.d.mu.Unlock()
	if err != nil {
		e.fail(fmt.Errorf("read %s: %w", w, err))
		return 0, false
	}
	return v, true
}

func (e *executor) write(w cmdstream.Word, v uint64) {
	e.d.mu.Lock()
	err := e.d.writeWord(w.Buffer, w.Offset, v)
	e.d.mu.Unlock()
	if err != nil {
		e.fail(fmt.Errorf("write %s: %w", w, err))
	}
}

// visibilityWord is where a pipe's visibility mask lives: the first word of
// its slice of the primitive-list stream.
func (e *executor) visibilityWord(pipe int) cmdstream.Word {
	b := e.streams[cmdstream.StreamPrimList]
	return cmdstream.Word{Buffer: b.Buffer, Offset: uint64(pipe) * uint64(b.Pitch)}
}

func (e *executor) eval(cond cmdstream.Condition) bool {
	switch c := cond.(type) {
	case cmdstream.TileVisible:
		if c.Pipe >= len(e.pipes) {
			return false
		}
		if c.Bit >= 64 {
			return true
		}
		mask, ok := e.read(e.visibilityWord(c.Pipe))
		return ok && mask>>c.Bit&1 != 0
	case cmdstream.StreamSizeAtLeast:
		if c.Pipe >= len(e.pipes) || c.Stream >= cmdstream.NumStreams {
			return false
		}
		return e.pipes[c.Pipe].size[c.Stream] >= c.Size
	case cmdstream.WordNonZero:
		v, ok := e.read(c.Word)
		return ok && v != 0
	case cmdstream.Not:
		return !e.eval(c.Cond)
	case cmdstream.Any:
		for _, sub := range c {
			if e.eval(sub) {
				return true
			}
		}
		return false
	}
	e.fail(fmt.Errorf("unknown condition %T", cond))
	return false
}

// bin runs the binning pass: pipes are binned in parallel, then each
// pipe's visibility mask is stored in its visibility word.
func (e *executor) bin(c cmdstream.BinningPassCommand) {
	for kind, b := range e.streams {
		need := uint64(b.Pitch) * uint64(c.Pipes)
		if b.Buffer == nil || b.Pitch < gpumem.WordSize || b.Buffer.Size() < need {
			e.fail(fmt.Errorf("binning: %s stream cannot hold %d pipes", cmdstream.StreamKind(kind), c.Pipes))
			return
		}
	}

	byPipe := make([][]cmdstream.BinTile, c.Pipes)
	for _, t := range c.Tiles {
		if t.Pipe < 0 || t.Pipe >= c.Pipes {
			e.fail(fmt.Errorf("binning: tile %v in pipe %d of %d", t.Rect, t.Pipe, c.Pipes))
			return
		}
		byPipe[t.Pipe] = append(byPipe[t.Pipe], t)
	}

	pitch := [cmdstream.NumStreams]uint32{
		e.streams[cmdstream.StreamPrimList].Pitch,
		e.streams[cmdstream.StreamSecondary].Pitch,
	}
	e.pipes = make([]pipeState, c.Pipes)
	masks := make([]uint64, c.Pipes)
	e.d.pool.Run(c.Pipes, func(p int) {
		e.pipes[p], masks[p] = binPipe(byPipe[p], c.Draws, pitch)
	})

	for p, ps := range e.pipes {
		if ps.overflow {
			e.res.OverflowPipes++
		}
		e.write(e.visibilityWord(p), masks[p])
	}
}

// binPipe computes one pipe's stream sizes and visibility mask. Draws are
// recorded in order; once a draw no longer fits in a stream's pitch, it and
// every later draw are missing from the mask while the sizes keep counting.
// A stream that ends exactly at its pitch keeps a complete mask, although
// the overflow checks, which fire at size >= pitch, still mark the frame
// untrusted and every tile replays. A draw with empty bounds touches every
// tile.
func binPipe(tiles []cmdstream.BinTile, draws []cmdstream.DrawCall, pitch [cmdstream.NumStreams]uint32) (pipeState, uint64) {
	var (
		ps   pipeState
		mask uint64
		size [cmdstream.NumStreams]uint64
	)
	for _, d := range draws {
		var covered uint64
		var hit uint64
		for _, t := range tiles {
			if d.Bounds.Empty() || d.Bounds.Overlaps(t.Rect) {
				covered++
				if t.Bit < 64 {
					hit |= 1 << t.Bit
				}
			}
		}
		if covered == 0 {
			continue
		}
		size[cmdstream.StreamPrimList] += covered * PrimitiveBytes * uint64(max(d.Primitives, 1))
		size[cmdstream.StreamSecondary] += DrawBytes

		fits := size[cmdstream.StreamPrimList] <= uint64(pitch[cmdstream.StreamPrimList]) &&
			size[cmdstream.StreamSecondary] <= uint64(pitch[cmdstream.StreamSecondary])
		if fits && !ps.overflow {
			mask |= hit
		} else {
			ps.overflow = true
		}
	}
	for k := range size {
		ps.size[k] = uint32(min(size[k], math.MaxUint32))
	}
	return ps, mask
}
