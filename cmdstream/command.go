// Package cmdstream provides the typed command stream a tile scheduler emits
// for one frame.
//
// Commands are plain structs so a stream can be inspected, dumped and
// replayed. Turning a stream into a hardware packet format is the job of an
// encoder; that includes the bit-level realization of predication.
//
// # Predication
//
// CondExecCommand executes the next Count commands only when its condition
// holds. Stream.Predicated wraps a block of commands that way:
//
//	s.Predicated(cmdstream.TileVisible{Pipe: 2, Bit: 5}, func(s *cmdstream.Stream) {
//		s.Emit(cmdstream.DrawCommand{Index: 0, Draw: d})
//	})
//
// Conditional writes (CondWriteCommand) and word copies let the GPU feed
// results of the binning pass back to the CPU without a round trip.
package cmdstream

import (
	"fmt"
	"image"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/tbdr/gpumem"
)

// CommandType identifies the type of a command.
type CommandType uint8

const (
	// Mode and state commands
	CmdSetMode              CommandType = iota // Select bypass, tile or binning rendering
	CmdSetWindow                               // Set the window and scissor
	CmdSetVisibilityStreams                    // Bind the visibility stream buffers

	// Pass commands
	CmdBinningPass // Run the binning pre-pass
	CmdClear       // Clear buffers inside a rectangle
	CmdRestore     // Copy system memory into tile memory
	CmdResolve     // Copy tile memory back to system memory
	CmdDraw        // Replay one draw call
	CmdFlushCache  // Flush color and depth caches

	// Memory and control flow commands
	CmdWriteWord // Write a control word
	CmdCondWrite // Write a control word when a condition holds
	CmdCopyWord  // Copy one control word to another
	CmdCondExec  // Execute the next commands when a condition holds
)

var commandTypeNames = [...]string{
	CmdSetMode:              "SetMode",
	CmdSetWindow:            "SetWindow",
	CmdSetVisibilityStreams: "SetVisibilityStreams",
	CmdBinningPass:          "BinningPass",
	CmdClear:                "Clear",
	CmdRestore:              "Restore",
	CmdResolve:              "Resolve",
	CmdDraw:                 "Draw",
	CmdFlushCache:           "FlushCache",
	CmdWriteWord:            "WriteWord",
	CmdCondWrite:            "CondWrite",
	CmdCopyWord:             "CopyWord",
	CmdCondExec:             "CondExec",
}

// String returns the string representation of a CommandType.
func (c CommandType) String() string {
	if int(c) < len(commandTypeNames) {
		return commandTypeNames[c]
	}
	return "Unknown"
}

// Command is the interface implemented by all command types.
type Command interface {
	// Type returns the CommandType for this command.
	Type() CommandType
}

// --------------------------------------------------------------------------
// Operand Types
// --------------------------------------------------------------------------

// RenderMode selects how the GPU renders the commands that follow.
type RenderMode uint8

const (
	// ModeBypass renders straight to system memory.
	ModeBypass RenderMode = iota

	// ModeGmem renders one tile at a time through tile memory.
	ModeGmem

	// ModeBinning runs draws through the visibility pipes only.
	ModeBinning
)

var renderModeNames = [...]string{
	ModeBypass:  "bypass",
	ModeGmem:    "gmem",
	ModeBinning: "binning",
}

// String returns the mode name.
func (m RenderMode) String() string {
	if int(m) < len(renderModeNames) {
		return renderModeNames[m]
	}
	return fmt.Sprintf("RenderMode(%d)", m)
}

// BufferMask selects render target buffers. Bits 0-7 are color targets.
type BufferMask uint16

const (
	// MaxColorTargets is the number of color target bits in a BufferMask.
	MaxColorTargets = 8

	BufferDepth   BufferMask = 1 << MaxColorTargets
	BufferStencil BufferMask = 1 << (MaxColorTargets + 1)

	// BufferAllColor selects every color target.
	BufferAllColor BufferMask = 1<<MaxColorTargets - 1
)

// BufferColor returns the mask bit of color target i.
func BufferColor(i int) BufferMask {
	return 1 << i
}

// Has reports whether every buffer in o is selected.
func (m BufferMask) Has(o BufferMask) bool {
	return m&o == o
}

// String lists the selected buffers, for example "c0|c2|z|s".
func (m BufferMask) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	for i := range MaxColorTargets {
		if m&BufferColor(i) != 0 {
			parts = append(parts, fmt.Sprintf("c%d", i))
		}
	}
	if m&BufferDepth != 0 {
		parts = append(parts, "z")
	}
	if m&BufferStencil != 0 {
		parts = append(parts, "s")
	}
	return strings.Join(parts, "|")
}

// ClearValue is the value a clear writes into each selected buffer.
type ClearValue struct {
	Color   gputypes.Color
	Depth   float32
	Stencil uint32
}

// DrawCall is one recorded draw. Tokens are the encoded draw packets; the
// scheduler replays them without looking inside. Bounds is the screen-space
// extent of the draw and Primitives its primitive count, both used by the
// binning pass.
type DrawCall struct {
	Tokens     []uint32
	Bounds     image.Rectangle
	Primitives uint32
}

// Word addresses a 64-bit control word.
type Word struct {
	Buffer gpumem.Buffer
	Offset uint64
}

// String returns "label+offset".
func (w Word) String() string {
	if w.Buffer == nil {
		return fmt.Sprintf("<nil>+%d", w.Offset)
	}
	return fmt.Sprintf("%s+%d", w.Buffer.Label(), w.Offset)
}

// StreamKind identifies one of the two visibility stream buffers.
type StreamKind uint8

const (
	// StreamPrimList is the primitive list stream.
	StreamPrimList StreamKind = iota

	// StreamSecondary holds the per-draw secondary data.
	StreamSecondary

	// NumStreams is the number of visibility stream kinds.
	NumStreams
)

var streamKindNames = [...]string{
	StreamPrimList:  "primlist",
	StreamSecondary: "secondary",
}

// String returns the stream name.
func (k StreamKind) String() string {
	if int(k) < len(streamKindNames) {
		return streamKindNames[k]
	}
	return fmt.Sprintf("StreamKind(%d)", k)
}

// StreamBinding binds a visibility stream buffer. Pipe p writes at offset
// p*Pitch and may use at most Pitch bytes.
type StreamBinding struct {
	Buffer gpumem.Buffer
	Pitch  uint32
}

// BinTile describes one tile to the binning pass.
type BinTile struct {
	Rect image.Rectangle
	Pipe int
	Bit  uint
}

// --------------------------------------------------------------------------
// Mode and State Commands
// --------------------------------------------------------------------------

// SetModeCommand selects the render mode.
type SetModeCommand struct {
	Mode RenderMode
}

// Type implements Command.
func (SetModeCommand) Type() CommandType { return CmdSetMode }

// SetWindowCommand sets the window offset and scissor to Rect.
type SetWindowCommand struct {
	Rect image.Rectangle
}

// Type implements Command.
func (SetWindowCommand) Type() CommandType { return CmdSetWindow }

// SetVisibilityStreamsCommand binds the buffers the binning pass writes.
type SetVisibilityStreamsCommand struct {
	Streams [NumStreams]StreamBinding
}

// Type implements Command.
func (SetVisibilityStreamsCommand) Type() CommandType { return CmdSetVisibilityStreams }

// --------------------------------------------------------------------------
// Pass Commands
// --------------------------------------------------------------------------

// BinningPassCommand bins Draws against Tiles. Afterwards every pipe holds a
// visibility word and the size of each stream it recorded.
type BinningPassCommand struct {
	Pipes int
	Tiles []BinTile
	Draws []DrawCall
}

// Type implements Command.
func (BinningPassCommand) Type() CommandType { return CmdBinningPass }

// ClearCommand clears Buffers inside Rect.
type ClearCommand struct {
	Buffers BufferMask
	Rect    image.Rectangle
	Value   ClearValue
}

// Type implements Command.
func (ClearCommand) Type() CommandType { return CmdClear }

// RestoreCommand loads Buffers inside Rect from system memory into tile
// memory.
type RestoreCommand struct {
	Buffers BufferMask
	Rect    image.Rectangle
}

// Type implements Command.
func (RestoreCommand) Type() CommandType { return CmdRestore }

// ResolveCommand stores Buffers inside Rect from tile memory to system
// memory.
type ResolveCommand struct {
	Buffers BufferMask
	Rect    image.Rectangle
}

// Type implements Command.
func (ResolveCommand) Type() CommandType { return CmdResolve }

// DrawCommand replays one draw. Index is the draw's position in the frame's
// draw list.
type DrawCommand struct {
	Index int
	Draw  DrawCall
}

// Type implements Command.
func (DrawCommand) Type() CommandType { return CmdDraw }

// FlushCacheCommand flushes the render caches to memory.
type FlushCacheCommand struct{}

// Type implements Command.
func (FlushCacheCommand) Type() CommandType { return CmdFlushCache }

// --------------------------------------------------------------------------
// Memory and Control Flow Commands
// --------------------------------------------------------------------------

// WriteWordCommand writes Value to Dst.
type WriteWordCommand struct {
	Dst   Word
	Value uint64
}

// Type implements Command.
func (WriteWordCommand) Type() CommandType { return CmdWriteWord }

// CondWriteCommand writes Value to Dst when Cond holds.
type CondWriteCommand struct {
	Cond  Condition
	Dst   Word
	Value uint64
}

// Type implements Command.
func (CondWriteCommand) Type() CommandType { return CmdCondWrite }

// CopyWordCommand copies Src to Dst.
type CopyWordCommand struct {
	Src Word
	Dst Word
}

// Type implements Command.
func (CopyWordCommand) Type() CommandType { return CmdCopyWord }

// CondExecCommand executes the next Count commands only when Cond holds.
// Nested CondExec commands count as one command each, plus their bodies.
type CondExecCommand struct {
	Cond  Condition
	Count int
}

// Type implements Command.
func (CondExecCommand) Type() CommandType { return CmdCondExec }
