package tbdr

import (
	"image"

	"github.com/gogpu/gputypes"
	"github.com/google/uuid"

	"github.com/gogpu/tbdr/cmdstream"
)

// DrawCall is one recorded draw.
type DrawCall = cmdstream.DrawCall

type clearOp struct {
	buffers BufferMask
	rect    image.Rectangle
	value   ClearValue
}

// Batch records one frame: its draws, clears, discarded buffers and the
// pipeline features that affect the choice of rendering path. Clears take
// effect before every draw of the batch.
//
// A Batch is not safe for concurrent use.
type Batch struct {
	id    uuid.UUID
	geom  FrameGeometry
	draws []DrawCall

	clears  []clearOp
	cleared BufferMask
	discard BufferMask

	reasons GmemReason
	tess    bool
}

// NewBatch starts a batch for geom and applies the attachments' load and
// store operations.
func NewBatch(geom FrameGeometry) *Batch {
	b := &Batch{id: uuid.New(), geom: geom}
	for _, t := range b.geom.targets() {
		if t.att.LoadOp == gputypes.LoadOpClear {
			b.Clear(t.mask, image.Rectangle{}, t.att.ClearValue)
		}
		if t.att.StoreOp == gputypes.StoreOpDiscard {
			b.Invalidate(t.mask)
		}
	}
	return b
}

// ID returns the batch's unique id.
func (b *Batch) ID() uuid.UUID {
	return b.id
}

// Geometry returns the frame geometry.
func (b *Batch) Geometry() FrameGeometry {
	return b.geom
}

// Draw appends a draw call.
func (b *Batch) Draw(d DrawCall) {
	b.draws = append(b.draws, d)
}

// Draws returns the recorded draw calls.
func (b *Batch) Draws() []DrawCall {
	return b.draws
}

// Clear clears buffers inside r. An empty r clears the whole render area.
// Buffers outside the frame and parts of r outside the area are ignored.
func (b *Batch) Clear(buffers BufferMask, r image.Rectangle, v ClearValue) {
	buffers &= b.geom.Buffers()
	area := b.geom.Area.Canon()
	if r.Empty() {
		r = area
	}
	r = r.Intersect(area)
	if buffers == 0 || r.Empty() {
		return
	}
	b.clears = append(b.clears, clearOp{buffers: buffers, rect: r, value: v})
	if r == area {
		b.cleared |= buffers
	}
}

// Invalidate marks buffers whose content is not needed after the frame.
// They are not resolved back to system memory.
func (b *Batch) Invalidate(buffers BufferMask) {
	b.discard |= buffers & b.geom.Buffers()
}

// Require records pipeline features used by the batch's draws.
func (b *Batch) Require(r GmemReason) {
	b.reasons |= r
}

// UseTessellation records that some draw uses tessellation.
func (b *Batch) UseTessellation() {
	b.tess = true
}

// Hints summarizes the batch for Decide.
func (b *Batch) Hints() Hints {
	return Hints{
		DrawCount:    len(b.draws),
		FullClear:    b.cleared != 0,
		Reasons:      b.reasons,
		Tessellation: b.tess,
	}
}

// clearedOver returns the buffers fully cleared over r.
func (b *Batch) clearedOver(r image.Rectangle) BufferMask {
	var m BufferMask
	for _, c := range b.clears {
		if r.In(c.rect) {
			m |= c.buffers
		}
	}
	return m
}
