package cmdstream

import (
	"fmt"
	"strings"
)

// Stream is an ordered list of commands for one frame.
type Stream struct {
	cmds []Command
}

// New creates an empty stream.
func New() *Stream {
	return &Stream{cmds: make([]Command, 0, 64)}
}

// Emit appends commands.
func (s *Stream) Emit(cmds ...Command) {
	s.cmds = append(s.cmds, cmds...)
}

// Predicated appends the commands fn emits so that they execute only when
// cond holds. Nothing is appended when fn emits nothing.
func (s *Stream) Predicated(cond Condition, fn func(*Stream)) {
	at := len(s.cmds)
	s.cmds = append(s.cmds, CondExecCommand{Cond: cond})
	fn(s)
	n := len(s.cmds) - at - 1
	if n == 0 {
		s.cmds = s.cmds[:at]
		return
	}
	s.cmds[at] = CondExecCommand{Cond: cond, Count: n}
}

// Commands returns the commands in order. The slice is owned by the stream.
func (s *Stream) Commands() []Command {
	return s.cmds
}

// Len returns the number of commands.
func (s *Stream) Len() int {
	return len(s.cmds)
}

// Count returns the number of commands of type t.
func (s *Stream) Count(t CommandType) int {
	n := 0
	for _, c := range s.cmds {
		if c.Type() == t {
			n++
		}
	}
	return n
}

// Walk calls fn for each command with its predication depth, the number of
// enclosing CondExec commands. Walk stops when fn returns false.
func (s *Stream) Walk(fn func(depth int, c Command) bool) {
	var ends []int
	for i, c := range s.cmds {
		for len(ends) > 0 && ends[len(ends)-1] <= i {
			ends = ends[:len(ends)-1]
		}
		if !fn(len(ends), c) {
			return
		}
		if ce, ok := c.(CondExecCommand); ok {
			ends = append(ends, i+1+ce.Count)
		}
	}
}

// String dumps the stream one command per line, indented by predication
// depth.
func (s *Stream) String() string {
	var b strings.Builder
	s.Walk(func(depth int, c Command) bool {
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(Describe(c))
		b.WriteByte('\n')
		return true
	})
	return b.String()
}

// Describe returns a one-line description of a command.
func Describe(c Command) string {
	switch c := c.(type) {
	case SetModeCommand:
		return fmt.Sprintf("SetMode %s", c.Mode)
	case SetWindowCommand:
		return fmt.Sprintf("SetWindow %v", c.Rect)
	case SetVisibilityStreamsCommand:
		return fmt.Sprintf("SetVisibilityStreams primlist pitch=%#x secondary pitch=%#x",
			c.Streams[StreamPrimList].Pitch, c.Streams[StreamSecondary].Pitch)
	case BinningPassCommand:
		return fmt.Sprintf("BinningPass pipes=%d tiles=%d draws=%d", c.Pipes, len(c.Tiles), len(c.Draws))
	case ClearCommand:
		return fmt.Sprintf("Clear %s %v", c.Buffers, c.Rect)
	case RestoreCommand:
		return fmt.Sprintf("Restore %s %v", c.Buffers, c.Rect)
	case ResolveCommand:
		return fmt.Sprintf("Resolve %s %v", c.Buffers, c.Rect)
	case DrawCommand:
		return fmt.Sprintf("Draw #%d prims=%d", c.Index, c.Draw.Primitives)
	case WriteWordCommand:
		return fmt.Sprintf("WriteWord [%s] = %#x", c.Dst, c.Value)
	case CondWriteCommand:
		return fmt.Sprintf("CondWrite if %s: [%s] = %#x", c.Cond, c.Dst, c.Value)
	case CopyWordCommand:
		return fmt.Sprintf("CopyWord [%s] -> [%s]", c.Src, c.Dst)
	case CondExecCommand:
		return fmt.Sprintf("CondExec if %s: next %d", c.Cond, c.Count)
	}
	return c.Type().String()
}
