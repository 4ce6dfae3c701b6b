package tbdr

import (
	"fmt"
	"strings"
)

// Mode is the rendering path chosen for a frame.
type Mode uint8

const (
	// ModeBypass renders straight to system memory in one pass.
	ModeBypass Mode = iota

	// ModeTiled renders tile by tile through tile memory.
	ModeTiled
)

func (m Mode) String() string {
	switch m {
	case ModeBypass:
		return "bypass"
	case ModeTiled:
		return "tiled"
	}
	return fmt.Sprintf("Mode(%d)", m)
}

// GmemReason is a set of pipeline features that favor tile memory.
type GmemReason uint8

const (
	ReasonFramebufferRead GmemReason = 1 << iota
	ReasonDepthTest
	ReasonStencilTest
	ReasonBlend
)

var gmemReasonNames = []struct {
	r    GmemReason
	name string
}{
	{ReasonFramebufferRead, "fbread"},
	{ReasonDepthTest, "depth"},
	{ReasonStencilTest, "stencil"},
	{ReasonBlend, "blend"},
}

func (r GmemReason) String() string {
	if r == 0 {
		return "none"
	}
	var parts []string
	for _, n := range gmemReasonNames {
		if r&n.r != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Hints summarizes a frame's workload for Decide.
type Hints struct {
	DrawCount int

	// FullClear is set when some buffer is cleared over the whole area.
	FullClear bool

	Reasons      GmemReason
	Tessellation bool

	// ForceBypass overrides every other input. ForceTiled overrides the
	// workload but not layered attachments or tessellation, which always
	// bypass.
	ForceBypass bool
	ForceTiled  bool
}

// Decide chooses between bypass and tiled rendering with the default draw
// threshold. It does not plan the frame; Scheduler.Decide also falls back
// to bypass when the frame cannot be partitioned.
func Decide(geom FrameGeometry, hints Hints) Mode {
	m, _ := decide(&geom, hints, DefaultBypassDrawThreshold)
	return m
}

// decide returns the mode and a short reason for logging.
func decide(geom *FrameGeometry, hints Hints, threshold int) (Mode, string) {
	switch {
	case hints.ForceBypass:
		return ModeBypass, "forced"
	case geom.Layered():
		return ModeBypass, "layered"
	case hints.Tessellation:
		return ModeBypass, "tessellation"
	case hints.ForceTiled:
		return ModeTiled, "forced"
	case geom.Area.Empty() || len(geom.targets()) == 0:
		return ModeBypass, "empty"
	case hints.FullClear:
		return ModeTiled, "clear"
	case hints.Reasons != 0:
		return ModeTiled, hints.Reasons.String()
	case hints.DrawCount > threshold:
		return ModeTiled, "draws"
	case geom.Samples() > 1:
		return ModeTiled, "msaa"
	}
	return ModeBypass, "light"
}
