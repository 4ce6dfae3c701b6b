package tbdr

import (
	"fmt"
	"os"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"github.com/gogpu/tbdr/internal/gmem"
	"github.com/gogpu/tbdr/internal/tiling"
)

// BitMode selects how tiles are numbered inside a pipe's visibility word.
type BitMode = tiling.BitMode

const (
	BitSequential = tiling.BitSequential
	BitPacked     = tiling.BitPacked
)

// DefaultBypassDrawThreshold is the draw count above which a frame is
// tiled even without another reason.
const DefaultBypassDrawThreshold = 5

// Profile describes the tiling hardware of one GPU generation.
type Profile struct {
	Name string `toml:"name"`

	// GmemBytes is the tile memory budget.
	GmemBytes uint32 `toml:"gmem_bytes"`
	// GmemAlign aligns each target's base offset in tile memory.
	GmemAlign uint32 `toml:"gmem_align"`
	// TileAlignW and TileAlignH are the bin size granularity in pixels.
	TileAlignW int `toml:"tile_align_w"`
	TileAlignH int `toml:"tile_align_h"`
	// MaxTileWidth is the widest supported bin.
	MaxTileWidth int `toml:"max_tile_width"`
	// MaxTiles is the tile table capacity.
	MaxTiles int `toml:"max_tiles"`

	// MaxPipes is the number of visibility pipes.
	MaxPipes int `toml:"max_pipes"`
	// VisibilityBits is the width of a pipe's visibility word.
	VisibilityBits int     `toml:"visibility_bits"`
	BitMode        BitMode `toml:"bit_mode"`

	// PrimListPitch and SecondaryPitch are the initial per-pipe stream sizes.
	PrimListPitch  uint32 `toml:"primlist_pitch"`
	SecondaryPitch uint32 `toml:"secondary_pitch"`
	PitchAlign     uint32 `toml:"pitch_align"`

	// Binning enables the binning pre-pass.
	Binning bool `toml:"binning"`

	// BypassDrawThreshold is the draw count above which frames are tiled.
	BypassDrawThreshold int `toml:"bypass_draw_threshold"`
}

// Gen5 returns the profile of the older generation: 256 KiB of tile memory,
// 16 pipes and packed visibility bits.
func Gen5() Profile {
	return Profile{
		Name:                "gen5",
		GmemBytes:           256 * 1024,
		GmemAlign:           0x4000,
		TileAlignW:          64,
		TileAlignH:          32,
		MaxTileWidth:        1024,
		MaxTiles:            2048,
		MaxPipes:            16,
		VisibilityBits:      32,
		BitMode:             BitPacked,
		PrimListPitch:       0x1000,
		SecondaryPitch:      0x400,
		PitchAlign:          0x40,
		Binning:             true,
		BypassDrawThreshold: DefaultBypassDrawThreshold,
	}
}

// Gen6 returns the profile of the newer generation: 1 MiB of tile memory,
// 32 pipes and sequential visibility bits.
func Gen6() Profile {
	return Profile{
		Name:                "gen6",
		GmemBytes:           1024 * 1024,
		GmemAlign:           0x4000,
		TileAlignW:          32,
		TileAlignH:          16,
		MaxTileWidth:        1024,
		MaxTiles:            2048,
		MaxPipes:            32,
		VisibilityBits:      32,
		BitMode:             BitSequential,
		PrimListPitch:       0x1040,
		SecondaryPitch:      0x440,
		PitchAlign:          0x40,
		Binning:             true,
		BypassDrawThreshold: DefaultBypassDrawThreshold,
	}
}

var builtinProfiles = map[string]func() Profile{
	"gen5": Gen5,
	"gen6": Gen6,
}

// ProfileByName returns a built-in profile.
func ProfileByName(name string) (Profile, bool) {
	fn, ok := builtinProfiles[name]
	if !ok {
		return Profile{}, false
	}
	return fn(), true
}

// ProfileNames lists the built-in profiles in sorted order.
func ProfileNames() []string {
	names := make([]string, 0, len(builtinProfiles))
	for name := range builtinProfiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadProfile reads a TOML profile file. See ParseProfile.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("tbdr: read profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes a TOML profile. A top-level base key names a
// built-in profile whose values apply to every key the document omits:
//
//	base = "gen6"
//	name = "gen6-small"
//	gmem_bytes = 262144
//	bit_mode = "packed"
func ParseProfile(data []byte) (Profile, error) {
	var head struct {
		Base string `toml:"base"`
	}
	if err := toml.Unmarshal(data, &head); err != nil {
		return Profile{}, fmt.Errorf("%w: decode profile: %w", ErrConfiguration, err)
	}

	var p Profile
	if head.Base != "" {
		base, ok := ProfileByName(head.Base)
		if !ok {
			return Profile{}, fmt.Errorf("%w: unknown base profile %q", ErrConfiguration, head.Base)
		}
		p = base
	}
	if err := toml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("%w: decode profile: %w", ErrConfiguration, err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// TOML encodes the profile as a TOML document that ParseProfile accepts.
func (p Profile) TOML() ([]byte, error) {
	return toml.Marshal(p)
}

// Validate reports values no hardware could have. Errors wrap
// ErrConfiguration.
func (p Profile) Validate() error {
	if err := p.limits().Validate(); err != nil {
		return fmt.Errorf("%w: profile %q: %w", ErrConfiguration, p.Name, err)
	}
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: profile %q: "+format, append([]any{ErrConfiguration, p.Name}, args...)...)
	}
	switch {
	case p.MaxPipes <= 0:
		return bad("max_pipes %d", p.MaxPipes)
	case p.VisibilityBits <= 0 || p.VisibilityBits > 64:
		return bad("visibility_bits %d outside [1, 64]", p.VisibilityBits)
	case p.BitMode != BitSequential && p.BitMode != BitPacked:
		return bad("bit_mode %v", p.BitMode)
	case p.PitchAlign < 4 || p.PitchAlign&(p.PitchAlign-1) != 0:
		return bad("pitch_align %#x must be a power of two >= 4", p.PitchAlign)
	case p.PrimListPitch == 0 || p.PrimListPitch%p.PitchAlign != 0:
		return bad("primlist_pitch %#x not a multiple of %#x", p.PrimListPitch, p.PitchAlign)
	case p.SecondaryPitch == 0 || p.SecondaryPitch%p.PitchAlign != 0:
		return bad("secondary_pitch %#x not a multiple of %#x", p.SecondaryPitch, p.PitchAlign)
	case p.BypassDrawThreshold < 0:
		return bad("bypass_draw_threshold %d", p.BypassDrawThreshold)
	}
	return nil
}

func (p Profile) limits() gmem.Limits {
	return gmem.Limits{
		Budget:       p.GmemBytes,
		GmemAlign:    p.GmemAlign,
		TileAlignW:   p.TileAlignW,
		TileAlignH:   p.TileAlignH,
		MaxTileWidth: p.MaxTileWidth,
		MaxTiles:     p.MaxTiles,
	}
}
