package cmdstream

import (
	"fmt"
	"strings"
)

// Condition is a predicate the GPU evaluates while executing a stream.
type Condition interface {
	fmt.Stringer
	condition()
}

// TileVisible holds when the binning pass marked the tile with bit Bit of
// pipe Pipe as having visible geometry.
type TileVisible struct {
	Pipe int
	Bit  uint
}

// StreamSizeAtLeast holds when pipe Pipe recorded at least Size bytes into
// stream Stream during the binning pass.
type StreamSizeAtLeast struct {
	Pipe   int
	Stream StreamKind
	Size   uint32
}

// WordNonZero holds when the control word is non-zero.
type WordNonZero struct {
	Word Word
}

// Not negates a condition.
type Not struct {
	Cond Condition
}

// Any holds when at least one of its conditions holds.
type Any []Condition

func (TileVisible) condition()       {}
func (StreamSizeAtLeast) condition() {}
func (WordNonZero) condition()       {}
func (Not) condition()               {}
func (Any) condition()               {}

func (c TileVisible) String() string {
	return fmt.Sprintf("visible(pipe=%d, bit=%d)", c.Pipe, c.Bit)
}

func (c StreamSizeAtLeast) String() string {
	return fmt.Sprintf("size(pipe=%d, %s) >= %d", c.Pipe, c.Stream, c.Size)
}

func (c WordNonZero) String() string {
	return fmt.Sprintf("[%s] != 0", c.Word)
}

func (c Not) String() string {
	return "!" + c.Cond.String()
}

func (c Any) String() string {
	parts := make([]string, len(c))
	for i, cond := range c {
		parts[i] = cond.String()
	}
	return "any(" + strings.Join(parts, ", ") + ")"
}
