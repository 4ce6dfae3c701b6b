package tbdr

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/tbdr/backend/sim"
)

// smallProfile splits a 256x256 RGBA8 frame into 2x2 bins of 128x128,
// grouped into two pipes of one row each.
func smallProfile() Profile {
	p := Gen6()
	p.Name = "small"
	p.GmemBytes = 64 * 1024
	p.GmemAlign = 0x1000
	p.MaxPipes = 2
	return p
}

func rgba(w, h int) FrameGeometry {
	return FrameGeometry{
		Area:   image.Rect(0, 0, w, h),
		Colors: []Attachment{{Format: gputypes.TextureFormatRGBA8Unorm}},
	}
}

func rgbaDepth(w, h int) FrameGeometry {
	g := rgba(w, h)
	g.Depth = &Attachment{Format: gputypes.TextureFormatDepth24PlusStencil8}
	return g
}

func newSimScheduler(t *testing.T, opts ...Option) (*Scheduler, *sim.Device) {
	t.Helper()
	dev := sim.NewDevice()
	s, err := NewScheduler(dev, opts...)
	if err != nil {
		dev.Close()
		t.Fatalf("NewScheduler failed: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		dev.Close()
	})
	return s, dev
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// runFrame renders, submits and services one batch and returns the frame
// with the device's execution result.
func runFrame(t *testing.T, ctx context.Context, s *Scheduler, dev *sim.Device, b *Batch) (*Frame, sim.Result) {
	t.Helper()
	f, err := s.Render(b)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if err := s.Submit(ctx, dev, f); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := s.ServiceOverflow(ctx, f); err != nil {
		t.Fatalf("ServiceOverflow failed: %v", err)
	}
	return f, fenceResult(t, ctx, dev, f)
}

func fenceResult(t *testing.T, ctx context.Context, dev *sim.Device, f *Frame) sim.Result {
	t.Helper()
	if err := dev.Wait(ctx, f.Fence()); err != nil {
		t.Fatalf("frame failed on the device: %v", err)
	}
	return f.Fence().(*sim.Fence).Result()
}

// tileDraws draws n single-primitive quads inside r.
func tileDraws(b *Batch, r image.Rectangle, n int) {
	for range n {
		b.Draw(DrawCall{Bounds: r, Primitives: 1})
	}
}
