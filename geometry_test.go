package tbdr

import (
	"errors"
	"image"
	"testing"

	"github.com/gogpu/gputypes"
)

func TestFrameGeometry_Buffers(t *testing.T) {
	tests := []struct {
		name string
		geom FrameGeometry
		want BufferMask
	}{
		{"color only", rgba(64, 64), BufferColor(0)},
		{"combined depth stencil", rgbaDepth(64, 64), BufferColor(0) | BufferDepth | BufferStencil},
		{
			name: "depth without stencil",
			geom: FrameGeometry{
				Area:  image.Rect(0, 0, 64, 64),
				Depth: &Attachment{Format: gputypes.TextureFormatDepth32Float},
			},
			want: BufferDepth,
		},
		{
			name: "separate stencil",
			geom: FrameGeometry{
				Area:    image.Rect(0, 0, 64, 64),
				Depth:   &Attachment{Format: gputypes.TextureFormatDepth32FloatStencil8},
				Stencil: &Attachment{Format: gputypes.TextureFormatStencil8},
			},
			want: BufferDepth | BufferStencil,
		},
		{
			name: "two colors",
			geom: FrameGeometry{
				Area: image.Rect(0, 0, 64, 64),
				Colors: []Attachment{
					{Format: gputypes.TextureFormatRGBA8Unorm},
					{Format: gputypes.TextureFormatRGBA16Float},
				},
			},
			want: BufferColor(0) | BufferColor(1),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.geom.Buffers(); got != tt.want {
				t.Errorf("Buffers() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFrameGeometry_SamplesAndLayers(t *testing.T) {
	g := rgbaDepth(64, 64)
	if g.Samples() != 1 || g.Layered() {
		t.Fatalf("Samples() = %d, Layered() = %v, want 1 and false", g.Samples(), g.Layered())
	}
	g.Depth.Samples = 4
	g.Colors[0].Layers = 2
	if g.Samples() != 4 {
		t.Errorf("Samples() = %d, want 4", g.Samples())
	}
	if !g.Layered() {
		t.Error("Layered() = false, want true")
	}
}

func TestFrameGeometry_Signature(t *testing.T) {
	g := rgbaDepth(100, 50)
	g.Colors[0].Samples = 2
	sig, err := g.Signature()
	if err != nil {
		t.Fatalf("Signature failed: %v", err)
	}
	if sig.Targets != 2 {
		t.Fatalf("Targets = %d, want 2", sig.Targets)
	}
	if got := sig.cpp(); got[0] != 8 || got[1] != 4 {
		t.Errorf("cpp = %v, want [8 4]", got)
	}

	// Load and store operations do not change the partition.
	h := rgbaDepth(100, 50)
	h.Colors[0].Samples = 2
	h.Colors[0].LoadOp = gputypes.LoadOpClear
	other, err := h.Signature()
	if err != nil {
		t.Fatalf("Signature failed: %v", err)
	}
	if sig != other {
		t.Errorf("signatures differ: %+v vs %+v", sig, other)
	}

	h.Area = image.Rect(0, 0, 100, 51)
	if other, _ = h.Signature(); sig == other {
		t.Error("different areas produced the same signature")
	}
}

func TestFrameGeometry_Validate(t *testing.T) {
	t.Run("unknown format", func(t *testing.T) {
		g := FrameGeometry{
			Area:   image.Rect(0, 0, 8, 8),
			Colors: []Attachment{{Format: gputypes.TextureFormatBC1RGBAUnorm}},
		}
		if err := g.Validate(); !errors.Is(err, ErrConfiguration) {
			t.Errorf("Validate() = %v, want ErrConfiguration", err)
		}
		g.Colors[0].BytesPerPixel = 1
		if err := g.Validate(); err != nil {
			t.Errorf("Validate() with explicit size = %v", err)
		}
	})
	t.Run("too many colors", func(t *testing.T) {
		g := FrameGeometry{Area: image.Rect(0, 0, 8, 8)}
		for range 9 {
			g.Colors = append(g.Colors, Attachment{Format: gputypes.TextureFormatR8Unorm})
		}
		if err := g.Validate(); !errors.Is(err, ErrConfiguration) {
			t.Errorf("Validate() = %v, want ErrConfiguration", err)
		}
	})
}
