// Package tiling partitions a render area into bins and maps the resulting
// grid onto the hardware visibility pipes.
package tiling

import (
	"image"

	"github.com/gogpu/tbdr/internal/align"
)

// Grid is a row-major partition of a render area into bins of a fixed size.
//
// Tiles start at the area origin. The last column and row are clipped to the
// area, so the tiles cover the area exactly with no gaps or overlaps. Tiles
// are stored in a flat slice, index = row*cols + col.
//
// Grid is not safe for concurrent mutation.
type Grid struct {
	tiles []Tile
	cols  int
	rows  int
	binW  int
	binH  int
	area  image.Rectangle
}

// NewGrid creates the grid covering area with bins of binW x binH pixels.
// An empty area or a non-positive bin size yields an empty grid.
func NewGrid(area image.Rectangle, binW, binH int) *Grid {
	area = area.Canon()
	g := &Grid{binW: binW, binH: binH, area: area}
	if area.Empty() || binW <= 0 || binH <= 0 {
		return g
	}

	w, h := area.Dx(), area.Dy()
	g.cols = align.DivCeil(w, binW)
	g.rows = align.DivCeil(h, binH)
	g.tiles = make([]Tile, g.cols*g.rows)

	for row := range g.rows {
		for col := range g.cols {
			tileW := binW
			tileH := binH

			// Right edge
			if (col+1)*binW > w {
				tileW = w - col*binW
			}
			// Bottom edge
			if (row+1)*binH > h {
				tileH = h - row*binH
			}

			idx := row*g.cols + col
			g.tiles[idx] = Tile{
				Index:  idx,
				Col:    col,
				Row:    row,
				X:      area.Min.X + col*binW,
				Y:      area.Min.Y + row*binH,
				Width:  tileW,
				Height: tileH,
			}
		}
	}
	return g
}

// Tiles returns the tiles in row-major order. The slice is owned by the grid.
func (g *Grid) Tiles() []Tile {
	return g.tiles
}

// Len returns the number of tiles.
func (g *Grid) Len() int {
	return len(g.tiles)
}

// Cols returns the number of tile columns.
func (g *Grid) Cols() int {
	return g.cols
}

// Rows returns the number of tile rows.
func (g *Grid) Rows() int {
	return g.rows
}

// BinSize returns the unclipped bin dimensions.
func (g *Grid) BinSize() (w, h int) {
	return g.binW, g.binH
}

// Area returns the rectangle covered by the grid.
func (g *Grid) Area() image.Rectangle {
	return g.area
}

// TileAt returns the tile at grid coordinates (col, row), or nil when the
// coordinates are out of range.
func (g *Grid) TileAt(col, row int) *Tile {
	if col < 0 || col >= g.cols || row < 0 || row >= g.rows {
		return nil
	}
	return &g.tiles[row*g.cols+col]
}

// TileAtPixel returns the tile containing the absolute pixel (px, py), or nil
// when the pixel lies outside the area.
func (g *Grid) TileAtPixel(px, py int) *Tile {
	if !(image.Point{X: px, Y: py}).In(g.area) {
		return nil
	}
	return g.TileAt((px-g.area.Min.X)/g.binW, (py-g.area.Min.Y)/g.binH)
}

// Overlapping calls fn for every tile whose rectangle intersects r, in
// row-major order.
func (g *Grid) Overlapping(r image.Rectangle, fn func(*Tile)) {
	r = r.Intersect(g.area)
	if r.Empty() {
		return
	}
	c0 := (r.Min.X - g.area.Min.X) / g.binW
	r0 := (r.Min.Y - g.area.Min.Y) / g.binH
	c1 := (r.Max.X - 1 - g.area.Min.X) / g.binW
	r1 := (r.Max.Y - 1 - g.area.Min.Y) / g.binH
	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			fn(&g.tiles[row*g.cols+col])
		}
	}
}
