package cmdstream

import (
	"image"
	"strings"
	"testing"
)

type testBuffer string

func (b testBuffer) Label() string { return string(b) }
func (b testBuffer) Size() uint64  { return 64 }

func TestCommandType_String(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{SetModeCommand{}, "SetMode"},
		{SetWindowCommand{}, "SetWindow"},
		{SetVisibilityStreamsCommand{}, "SetVisibilityStreams"},
		{BinningPassCommand{}, "BinningPass"},
		{ClearCommand{}, "Clear"},
		{RestoreCommand{}, "Restore"},
		{ResolveCommand{}, "Resolve"},
		{DrawCommand{}, "Draw"},
		{FlushCacheCommand{}, "FlushCache"},
		{WriteWordCommand{}, "WriteWord"},
		{CondWriteCommand{}, "CondWrite"},
		{CopyWordCommand{}, "CopyWord"},
		{CondExecCommand{}, "CondExec"},
	}
	for _, tt := range tests {
		if got := tt.cmd.Type().String(); got != tt.want {
			t.Errorf("%T.Type() = %q, want %q", tt.cmd, got, tt.want)
		}
	}
	if got := CommandType(200).String(); got != "Unknown" {
		t.Errorf("CommandType(200) = %q, want Unknown", got)
	}
}

func TestStream_Predicated(t *testing.T) {
	s := New()
	s.Emit(SetWindowCommand{Rect: image.Rect(0, 0, 32, 32)})
	s.Predicated(TileVisible{Pipe: 1, Bit: 3}, func(s *Stream) {
		s.Emit(DrawCommand{Index: 0}, DrawCommand{Index: 1})
	})
	s.Emit(ResolveCommand{Buffers: BufferColor(0)})

	if s.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", s.Len())
	}
	ce, ok := s.Commands()[1].(CondExecCommand)
	if !ok {
		t.Fatalf("command 1 is %T, want CondExecCommand", s.Commands()[1])
	}
	if ce.Count != 2 {
		t.Errorf("Count = %d, want 2", ce.Count)
	}
	if ce.Cond != (TileVisible{Pipe: 1, Bit: 3}) {
		t.Errorf("Cond = %v", ce.Cond)
	}
}

func TestStream_PredicatedNested(t *testing.T) {
	s := New()
	s.Predicated(WordNonZero{Word: Word{Buffer: testBuffer("ctl")}}, func(s *Stream) {
		s.Emit(FlushCacheCommand{})
		s.Predicated(Not{Cond: TileVisible{}}, func(s *Stream) {
			s.Emit(DrawCommand{}, DrawCommand{})
		})
	})

	outer := s.Commands()[0].(CondExecCommand)
	inner := s.Commands()[2].(CondExecCommand)
	if outer.Count != 4 || inner.Count != 2 {
		t.Errorf("counts = %d, %d, want 4, 2", outer.Count, inner.Count)
	}

	var depths []int
	s.Walk(func(depth int, _ Command) bool {
		depths = append(depths, depth)
		return true
	})
	want := []int{0, 1, 1, 2, 2}
	for i := range want {
		if depths[i] != want[i] {
			t.Fatalf("depths = %v, want %v", depths, want)
		}
	}
}

func TestStream_PredicatedEmptyBody(t *testing.T) {
	s := New()
	s.Predicated(TileVisible{}, func(*Stream) {})
	if s.Len() != 0 {
		t.Errorf("empty predicated block left %d commands", s.Len())
	}
}

func TestStream_CountAndWalkStop(t *testing.T) {
	s := New()
	for i := range 4 {
		s.Emit(DrawCommand{Index: i})
	}
	s.Emit(FlushCacheCommand{})
	if n := s.Count(CmdDraw); n != 4 {
		t.Errorf("Count(CmdDraw) = %d, want 4", n)
	}
	visited := 0
	s.Walk(func(int, Command) bool {
		visited++
		return visited < 2
	})
	if visited != 2 {
		t.Errorf("Walk visited %d commands after stop, want 2", visited)
	}
}

func TestStream_String(t *testing.T) {
	ctl := Word{Buffer: testBuffer("slot"), Offset: 8}
	s := New()
	s.Emit(SetModeCommand{Mode: ModeGmem})
	s.Predicated(Any{TileVisible{Pipe: 0, Bit: 1}, Not{Cond: WordNonZero{Word: ctl}}}, func(s *Stream) {
		s.Emit(DrawCommand{Index: 7, Draw: DrawCall{Primitives: 12}})
	})
	out := s.String()
	for _, want := range []string{
		"SetMode gmem",
		"CondExec if any(visible(pipe=0, bit=1), ![slot+8] != 0): next 1",
		"  Draw #7 prims=12",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("String() missing %q:\n%s", want, out)
		}
	}
}

func TestBufferMask(t *testing.T) {
	m := BufferColor(0) | BufferColor(2) | BufferDepth
	if got := m.String(); got != "c0|c2|z" {
		t.Errorf("String() = %q", got)
	}
	if !m.Has(BufferColor(2) | BufferDepth) {
		t.Error("Has(c2|z) = false")
	}
	if m.Has(BufferStencil) {
		t.Error("Has(s) = true")
	}
	if BufferMask(0).String() != "none" {
		t.Errorf("empty mask = %q", BufferMask(0).String())
	}
	if BufferAllColor != 0xff {
		t.Errorf("BufferAllColor = %#x", BufferAllColor)
	}
}
