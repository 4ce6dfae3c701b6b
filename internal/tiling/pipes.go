package tiling

import (
	"errors"
	"fmt"
	"image"

	"github.com/gogpu/tbdr/internal/align"
)

// ErrNoPipes is returned when the hardware reports no visibility pipes.
var ErrNoPipes = errors.New("tiling: pipe count must be positive")

// BitMode selects how tiles are numbered inside a pipe's visibility word.
type BitMode uint8

const (
	// BitSequential numbers tiles in the order the pipe produces them.
	BitSequential BitMode = iota

	// BitPacked packs the tile's (row, col) within the pipe block into the
	// bit index: row*tppX + col.
	BitPacked
)

var bitModeNames = [...]string{
	BitSequential: "sequential",
	BitPacked:     "packed",
}

// String returns the mode name.
func (m BitMode) String() string {
	if int(m) < len(bitModeNames) {
		return bitModeNames[m]
	}
	return fmt.Sprintf("BitMode(%d)", m)
}

// MarshalText implements encoding.TextMarshaler.
func (m BitMode) MarshalText() ([]byte, error) {
	if int(m) >= len(bitModeNames) {
		return nil, fmt.Errorf("tiling: unknown bit mode %d", m)
	}
	return []byte(bitModeNames[m]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *BitMode) UnmarshalText(text []byte) error {
	for i, name := range bitModeNames {
		if string(text) == name {
			*m = BitMode(i)
			return nil
		}
	}
	return fmt.Errorf("tiling: unknown bit mode %q", text)
}

// Pipe is a rectangular block of the tile grid owned by one visibility pipe.
// X, Y, W and H are in tile units. An unused pipe slot has a zero rectangle
// and no tiles.
type Pipe struct {
	X, Y, W, H int

	// Tiles lists the owned tile indices in production order.
	Tiles []int
}

// Rect returns the pipe block in tile units.
func (p *Pipe) Rect() image.Rectangle {
	return image.Rect(p.X, p.Y, p.X+p.W, p.Y+p.H)
}

// Empty reports whether the slot is unused.
func (p *Pipe) Empty() bool {
	return p.W == 0 || p.H == 0
}

// PipeLayout is the result of mapping a grid onto the pipe table.
type PipeLayout struct {
	// Pipes is the fixed-size pipe table; its length is the hardware pipe
	// count.
	Pipes []Pipe

	// Used is the number of non-empty slots. Used slots come first.
	Used int

	// TilesPerPipeX and TilesPerPipeY are the pipe block dimensions.
	TilesPerPipeX, TilesPerPipeY int
}

// TilesPerPipe returns the number of tiles in a full pipe block.
func (l *PipeLayout) TilesPerPipe() int {
	return l.TilesPerPipeX * l.TilesPerPipeY
}

// AssignPipes maps the grid onto at most maxPipes pipes and stamps every tile
// with its pipe and bit index.
//
// Rows are folded first: tppY grows until the rows fit, then tppX grows until
// the block count fits. Blocks are produced row-major and clipped at the grid
// edge.
func AssignPipes(g *Grid, maxPipes int, mode BitMode) (PipeLayout, error) {
	if maxPipes <= 0 {
		return PipeLayout{}, ErrNoPipes
	}
	layout := PipeLayout{
		Pipes:         make([]Pipe, maxPipes),
		TilesPerPipeX: 1,
		TilesPerPipeY: 1,
	}
	if g.Len() == 0 {
		return layout, nil
	}

	cols, rows := g.Cols(), g.Rows()
	tppX, tppY := 1, 1
	for align.DivCeil(rows, tppY) > maxPipes {
		tppY++
	}
	for align.DivCeil(rows, tppY)*align.DivCeil(cols, tppX) > maxPipes {
		tppX++
	}
	layout.TilesPerPipeX = tppX
	layout.TilesPerPipeY = tppY

	pipesX := align.DivCeil(cols, tppX)
	for y := 0; y < rows; y += tppY {
		for x := 0; x < cols; x += tppX {
			layout.Pipes[layout.Used] = Pipe{
				X: x,
				Y: y,
				W: min(tppX, cols-x),
				H: min(tppY, rows-y),
			}
			layout.Used++
		}
	}

	for i := range g.tiles {
		t := &g.tiles[i]
		id := (t.Row/tppY)*pipesX + t.Col/tppX
		p := &layout.Pipes[id]
		switch mode {
		case BitPacked:
			t.Bit = uint((t.Row-p.Y)*tppX + (t.Col - p.X))
		default:
			t.Bit = uint(len(p.Tiles))
		}
		t.Pipe = id
		p.Tiles = append(p.Tiles, t.Index)
	}
	return layout, nil
}
