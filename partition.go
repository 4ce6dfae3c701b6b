package tbdr

import (
	"errors"
	"fmt"

	"github.com/gogpu/tbdr/cmdstream"
	"github.com/gogpu/tbdr/internal/gmem"
	"github.com/gogpu/tbdr/internal/tiling"
)

// Tile is one bin of a partition, stamped with its pipe and bit index.
type Tile = tiling.Tile

// Pipe is one visibility pipe: a block of tiles in tile units.
type Pipe = tiling.Pipe

// Partition is the tiling of one frame geometry: the bin size, where each
// target lives in tile memory, the tiles and the pipe table.
//
// Partitions are cached and shared between frames; treat them as read-only.
type Partition struct {
	Signature Signature

	BinW, BinH     int
	NBinsX, NBinsY int

	// Bases holds each target's tile memory offset; Footprint is the total.
	Bases     []uint32
	Footprint uint32

	// Tiles are in row-major order.
	Tiles []Tile

	// Pipes is the full pipe table. Slots past PipesUsed are empty.
	Pipes     []Pipe
	PipesUsed int

	TilesPerPipeX, TilesPerPipeY int

	binTiles []cmdstream.BinTile
}

// Empty reports whether the partition has no tiles.
func (p *Partition) Empty() bool {
	return len(p.Tiles) == 0
}

// Binnable reports whether a pipe block fits in a visibility word of the
// given width.
func (p *Partition) Binnable(bits int) bool {
	return !p.Empty() && p.TilesPerPipeX*p.TilesPerPipeY <= bits
}

// partition computes the partition of sig for the profile. Planner errors
// wrap ErrConfiguration.
func partition(sig Signature, prof *Profile) (*Partition, error) {
	layout, err := gmem.Plan(sig.Area, sig.cpp(), prof.limits())
	if err != nil {
		if errors.Is(err, gmem.ErrBudgetUnsatisfiable) || errors.Is(err, gmem.ErrTileTableFull) || errors.Is(err, gmem.ErrInvalidLimits) {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		return nil, err
	}
	p := &Partition{Signature: sig}
	if layout.Empty() {
		return p, nil
	}

	grid := tiling.NewGrid(sig.Area, layout.BinW, layout.BinH)
	pipes, err := tiling.AssignPipes(grid, prof.MaxPipes, prof.BitMode)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	p.BinW, p.BinH = layout.BinW, layout.BinH
	p.NBinsX, p.NBinsY = grid.Cols(), grid.Rows()
	p.Bases = layout.Bases
	p.Footprint = layout.Footprint
	p.Tiles = grid.Tiles()
	p.Pipes = pipes.Pipes
	p.PipesUsed = pipes.Used
	p.TilesPerPipeX = pipes.TilesPerPipeX
	p.TilesPerPipeY = pipes.TilesPerPipeY

	p.binTiles = make([]cmdstream.BinTile, len(p.Tiles))
	for i := range p.Tiles {
		t := &p.Tiles[i]
		p.binTiles[i] = cmdstream.BinTile{Rect: t.Bounds(), Pipe: t.Pipe, Bit: t.Bit}
	}
	return p, nil
}
