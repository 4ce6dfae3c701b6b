// Package align provides the integer rounding helpers shared by the tile
// planners and the visibility buffer controller.
package align

import "golang.org/x/exp/constraints"

// Up rounds x up to the next multiple of to. Alignments of 0 and 1 leave x
// unchanged.
func Up[T constraints.Integer](x, to T) T {
	if to <= 1 {
		return x
	}
	if r := x % to; r != 0 {
		return x + to - r
	}
	return x
}

// Down rounds x down to a multiple of to.
func Down[T constraints.Integer](x, to T) T {
	if to <= 1 {
		return x
	}
	return x - x%to
}

// DivCeil returns x/y rounded towards positive infinity. y must be positive.
func DivCeil[T constraints.Integer](x, y T) T {
	return (x + y - 1) / y
}

// IsMultiple reports whether x is a multiple of to.
func IsMultiple[T constraints.Integer](x, to T) bool {
	return to > 0 && x%to == 0
}
