// Package gmem sizes tiles so that every render target of a frame fits in the
// GPU's on-chip tile memory at the same time.
package gmem

import (
	"errors"
	"fmt"
	"image"

	"github.com/gogpu/tbdr/internal/align"
)

var (
	// ErrBudgetUnsatisfiable is returned when even the smallest aligned bin
	// does not fit in the budget.
	ErrBudgetUnsatisfiable = errors.New("gmem: budget cannot hold a minimal bin")

	// ErrTileTableFull is returned when the chosen bin size needs more tiles
	// than the tile table holds.
	ErrTileTableFull = errors.New("gmem: tile count exceeds tile table")

	// ErrInvalidLimits is returned for limits that no bin size can satisfy.
	ErrInvalidLimits = errors.New("gmem: invalid limits")
)

// Limits describes the tile memory of one GPU.
type Limits struct {
	// Budget is the tile memory size in bytes.
	Budget uint32

	// GmemAlign is the alignment of every target's base offset and of the
	// total footprint.
	GmemAlign uint32

	// TileAlignW and TileAlignH are the pixel granularity of bin sizes.
	TileAlignW, TileAlignH int

	// MaxTileWidth is the widest bin the hardware supports. It must be a
	// multiple of TileAlignW.
	MaxTileWidth int

	// MaxTiles is the capacity of the tile table.
	MaxTiles int
}

// Validate reports whether the limits are usable.
func (l Limits) Validate() error {
	switch {
	case l.Budget == 0:
		return fmt.Errorf("%w: zero budget", ErrInvalidLimits)
	case l.TileAlignW <= 0 || l.TileAlignH <= 0:
		return fmt.Errorf("%w: tile alignment %dx%d", ErrInvalidLimits, l.TileAlignW, l.TileAlignH)
	case l.MaxTileWidth < l.TileAlignW || !align.IsMultiple(l.MaxTileWidth, l.TileAlignW):
		return fmt.Errorf("%w: max tile width %d is not a multiple of %d", ErrInvalidLimits, l.MaxTileWidth, l.TileAlignW)
	case l.MaxTiles <= 0:
		return fmt.Errorf("%w: tile table capacity %d", ErrInvalidLimits, l.MaxTiles)
	}
	return nil
}

// Layout is a bin size and the placement of every target inside tile memory.
type Layout struct {
	BinW, BinH     int
	NBinsX, NBinsY int

	// Bases holds the tile memory offset of each target, in input order.
	Bases []uint32

	// Footprint is the aligned tile memory size of one bin.
	Footprint uint32
}

// Empty reports whether the layout has no bins.
func (l *Layout) Empty() bool {
	return l.NBinsX == 0 || l.NBinsY == 0
}

// Tiles returns the number of bins.
func (l *Layout) Tiles() int {
	return l.NBinsX * l.NBinsY
}

// Plan picks the bin size for area.
//
// cpp holds the bytes per pixel of each target with the sample count already
// folded in. The bin starts as the aligned area; it is first split
// horizontally until it respects MaxTileWidth, then whichever dimension is
// larger is split until the footprint fits in the budget.
//
// No targets or an empty area produce an empty layout.
func Plan(area image.Rectangle, cpp []uint32, lim Limits) (Layout, error) {
	if err := lim.Validate(); err != nil {
		return Layout{}, err
	}
	area = area.Canon()
	if len(cpp) == 0 || area.Empty() {
		return Layout{}, nil
	}

	w, h := area.Dx(), area.Dy()
	nx, ny := 1, 1
	binW := align.Up(w, lim.TileAlignW)
	binH := align.Up(h, lim.TileAlignH)

	for binW > lim.MaxTileWidth {
		nx++
		binW = align.Up(align.DivCeil(w, nx), lim.TileAlignW)
	}

	for {
		_, footprint := Footprint(cpp, binW, binH, lim.GmemAlign)
		if footprint <= uint64(lim.Budget) {
			break
		}
		canW := binW > lim.TileAlignW
		canH := binH > lim.TileAlignH
		switch {
		case canW && (binW >= binH || !canH):
			nx++
			binW = align.Up(align.DivCeil(w, nx), lim.TileAlignW)
		case canH:
			ny++
			binH = align.Up(align.DivCeil(h, ny), lim.TileAlignH)
		default:
			return Layout{}, fmt.Errorf("%w: %dx%d bin needs %d bytes, budget is %d",
				ErrBudgetUnsatisfiable, binW, binH, footprint, lim.Budget)
		}
	}

	// Split counts can overshoot when alignment rounds several counts to the
	// same bin size.
	nbx := align.DivCeil(w, binW)
	nby := align.DivCeil(h, binH)
	if nbx*nby > lim.MaxTiles {
		return Layout{}, fmt.Errorf("%w: %dx%d bins of %dx%d, table holds %d",
			ErrTileTableFull, nbx, nby, binW, binH, lim.MaxTiles)
	}

	bases, footprint := Footprint(cpp, binW, binH, lim.GmemAlign)
	return Layout{
		BinW:      binW,
		BinH:      binH,
		NBinsX:    nbx,
		NBinsY:    nby,
		Bases:     bases,
		Footprint: uint32(footprint),
	}, nil
}

// Footprint lays the targets out one after another in tile memory for a
// binW x binH bin. Each base is aligned to gmemAlign and so is the total.
func Footprint(cpp []uint32, binW, binH int, gmemAlign uint32) (bases []uint32, total uint64) {
	bases = make([]uint32, len(cpp))
	ga := uint64(gmemAlign)
	pixels := uint64(binW) * uint64(binH)
	for i, c := range cpp {
		total = align.Up(total, ga)
		bases[i] = uint32(total)
		total += uint64(c) * pixels
	}
	return bases, align.Up(total, ga)
}
