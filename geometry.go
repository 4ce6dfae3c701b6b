package tbdr

import (
	"fmt"
	"image"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/tbdr/cmdstream"
)

// BufferMask selects render targets of a frame.
type BufferMask = cmdstream.BufferMask

// ClearValue is the value a clear writes into each buffer.
type ClearValue = cmdstream.ClearValue

// Buffer masks.
const (
	BufferDepth    = cmdstream.BufferDepth
	BufferStencil  = cmdstream.BufferStencil
	BufferAllColor = cmdstream.BufferAllColor
)

// BufferColor returns the mask of color target i.
func BufferColor(i int) BufferMask {
	return cmdstream.BufferColor(i)
}

// Attachment describes one render target of a frame.
type Attachment struct {
	Format gputypes.TextureFormat

	// Samples is the MSAA sample count. Zero means one.
	Samples int

	// BytesPerPixel overrides the size derived from Format. It is required
	// for formats without a fixed per-pixel size.
	BytesPerPixel uint32

	// Layers is the array layer count. More than one forces bypass.
	Layers int

	// LoadOp and StoreOp seed a Batch created by NewBatch: LoadOpClear
	// clears the whole render area with ClearValue, StoreOpDiscard
	// invalidates the target.
	LoadOp     gputypes.LoadOp
	StoreOp    gputypes.StoreOp
	ClearValue ClearValue
}

func (a *Attachment) samples() int {
	if a.Samples < 1 {
		return 1
	}
	return a.Samples
}

// cpp returns the bytes per pixel in tile memory, sample count included.
func (a *Attachment) cpp() (uint32, error) {
	bpp := a.BytesPerPixel
	if bpp == 0 {
		bpp = formatBytesPerPixel(a.Format)
	}
	if bpp == 0 {
		return 0, fmt.Errorf("%w: format %v has no tile memory size", ErrConfiguration, a.Format)
	}
	return bpp * uint32(a.samples()), nil
}

// FrameGeometry is the render area and render targets of a frame.
type FrameGeometry struct {
	Area   image.Rectangle
	Colors []Attachment

	// Depth is the depth plane, or a combined depth-stencil attachment when
	// its format carries stencil and Stencil is nil.
	Depth *Attachment

	// Stencil is a separate stencil plane.
	Stencil *Attachment
}

type target struct {
	mask BufferMask
	att  *Attachment
}

func (g *FrameGeometry) targets() []target {
	ts := make([]target, 0, len(g.Colors)+2)
	for i := range g.Colors {
		ts = append(ts, target{mask: BufferColor(i), att: &g.Colors[i]})
	}
	if g.Depth != nil {
		m := BufferDepth
		if g.Stencil == nil && g.Depth.Format.HasStencil() {
			m |= BufferStencil
		}
		ts = append(ts, target{mask: m, att: g.Depth})
	}
	if g.Stencil != nil {
		ts = append(ts, target{mask: BufferStencil, att: g.Stencil})
	}
	return ts
}

// Buffers returns the mask of every target in the frame.
func (g *FrameGeometry) Buffers() BufferMask {
	var m BufferMask
	for _, t := range g.targets() {
		m |= t.mask
	}
	return m
}

// Samples returns the highest sample count of any target.
func (g *FrameGeometry) Samples() int {
	n := 1
	for _, t := range g.targets() {
		n = max(n, t.att.samples())
	}
	return n
}

// Layered reports whether any target is an array with more than one layer.
func (g *FrameGeometry) Layered() bool {
	for _, t := range g.targets() {
		if t.att.Layers > 1 {
			return true
		}
	}
	return false
}

// Validate checks that every target has a known tile memory size.
func (g *FrameGeometry) Validate() error {
	if len(g.Colors) > cmdstream.MaxColorTargets {
		return fmt.Errorf("%w: %d color targets, at most %d", ErrConfiguration, len(g.Colors), cmdstream.MaxColorTargets)
	}
	for _, t := range g.targets() {
		if _, err := t.att.cpp(); err != nil {
			return err
		}
	}
	return nil
}

// maxTargets is the size of the Signature's per-target table.
const maxTargets = cmdstream.MaxColorTargets + 2

// Signature is the part of a FrameGeometry that determines its partition.
// It is comparable and used as the partition cache key.
type Signature struct {
	Area    image.Rectangle
	Targets int
	Cpp     [maxTargets]uint32
}

// Signature returns the geometry's partition key.
func (g *FrameGeometry) Signature() (Signature, error) {
	if err := g.Validate(); err != nil {
		return Signature{}, err
	}
	sig := Signature{Area: g.Area.Canon()}
	for _, t := range g.targets() {
		cpp, _ := t.att.cpp()
		sig.Cpp[sig.Targets] = cpp
		sig.Targets++
	}
	return sig, nil
}

func (s Signature) cpp() []uint32 {
	return s.Cpp[:s.Targets]
}

// formatBytesPerPixel returns the texel size of uncompressed formats and
// zero for everything else.
func formatBytesPerPixel(f gputypes.TextureFormat) uint32 {
	switch f {
	case gputypes.TextureFormatR8Unorm, gputypes.TextureFormatR8Snorm,
		gputypes.TextureFormatR8Uint, gputypes.TextureFormatR8Sint,
		gputypes.TextureFormatStencil8:
		return 1
	case gputypes.TextureFormatR16Unorm, gputypes.TextureFormatR16Snorm,
		gputypes.TextureFormatR16Uint, gputypes.TextureFormatR16Sint,
		gputypes.TextureFormatR16Float,
		gputypes.TextureFormatRG8Unorm, gputypes.TextureFormatRG8Snorm,
		gputypes.TextureFormatRG8Uint, gputypes.TextureFormatRG8Sint,
		gputypes.TextureFormatDepth16Unorm:
		return 2
	case gputypes.TextureFormatR32Float, gputypes.TextureFormatR32Uint,
		gputypes.TextureFormatR32Sint,
		gputypes.TextureFormatRG16Unorm, gputypes.TextureFormatRG16Snorm,
		gputypes.TextureFormatRG16Uint, gputypes.TextureFormatRG16Sint,
		gputypes.TextureFormatRG16Float,
		gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatRGBA8Snorm, gputypes.TextureFormatRGBA8Uint,
		gputypes.TextureFormatRGBA8Sint,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatRGB10A2Uint, gputypes.TextureFormatRGB10A2Unorm,
		gputypes.TextureFormatRG11B10Ufloat, gputypes.TextureFormatRGB9E5Ufloat,
		gputypes.TextureFormatDepth24Plus, gputypes.TextureFormatDepth24PlusStencil8,
		gputypes.TextureFormatDepth32Float:
		return 4
	case gputypes.TextureFormatRG32Float, gputypes.TextureFormatRG32Uint,
		gputypes.TextureFormatRG32Sint,
		gputypes.TextureFormatRGBA16Unorm, gputypes.TextureFormatRGBA16Snorm,
		gputypes.TextureFormatRGBA16Uint, gputypes.TextureFormatRGBA16Sint,
		gputypes.TextureFormatRGBA16Float,
		gputypes.TextureFormatDepth32FloatStencil8:
		return 8
	case gputypes.TextureFormatRGBA32Float, gputypes.TextureFormatRGBA32Uint,
		gputypes.TextureFormatRGBA32Sint:
		return 16
	}
	return 0
}
