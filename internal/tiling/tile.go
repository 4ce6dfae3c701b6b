package tiling

import "image"

// Tile is one bin of the render area.
//
// Col and Row are grid coordinates; X and Y are the absolute pixel offset of
// the tile's top-left corner. Edge tiles are clipped, so Width and Height may
// be smaller than the grid's bin size. Pipe and Bit are zero until the grid
// has been assigned to pipes.
type Tile struct {
	// Index is the tile's position in row-major production order.
	Index int

	// Col and Row are the tile's grid coordinates.
	Col, Row int

	// X and Y are the absolute pixel offset of the tile.
	X, Y int

	// Width and Height are the clipped tile dimensions in pixels.
	Width, Height int

	// Pipe is the visibility pipe that owns the tile.
	Pipe int

	// Bit is the tile's bit index within its pipe's visibility word.
	Bit uint
}

// Bounds returns the tile rectangle in absolute pixel coordinates.
func (t *Tile) Bounds() image.Rectangle {
	return image.Rect(t.X, t.Y, t.X+t.Width, t.Y+t.Height)
}

// Contains reports whether the absolute pixel (px, py) lies inside the tile.
func (t *Tile) Contains(px, py int) bool {
	return px >= t.X && px < t.X+t.Width && py >= t.Y && py < t.Y+t.Height
}

// Pixels returns the number of pixels covered by the tile.
func (t *Tile) Pixels() int {
	return t.Width * t.Height
}
