package tbdr

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestBuiltinProfilesValid(t *testing.T) {
	names := ProfileNames()
	if !slices.Equal(names, []string{"gen5", "gen6"}) {
		t.Fatalf("ProfileNames() = %v", names)
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			p, ok := ProfileByName(name)
			if !ok {
				t.Fatal("profile not found")
			}
			if p.Name != name {
				t.Errorf("Name = %q", p.Name)
			}
			if err := p.Validate(); err != nil {
				t.Errorf("Validate() = %v", err)
			}
		})
	}
	if _, ok := ProfileByName("gen9"); ok {
		t.Error("ProfileByName(gen9) found a profile")
	}
}

func TestProfile_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Profile)
	}{
		{"zero budget", func(p *Profile) { p.GmemBytes = 0 }},
		{"no pipes", func(p *Profile) { p.MaxPipes = 0 }},
		{"wide visibility word", func(p *Profile) { p.VisibilityBits = 65 }},
		{"bad bit mode", func(p *Profile) { p.BitMode = BitMode(7) }},
		{"pitch align not power of two", func(p *Profile) { p.PitchAlign = 0x30 }},
		{"unaligned primlist pitch", func(p *Profile) { p.PrimListPitch = 0x1001 }},
		{"zero secondary pitch", func(p *Profile) { p.SecondaryPitch = 0 }},
		{"negative threshold", func(p *Profile) { p.BypassDrawThreshold = -1 }},
		{"unaligned max tile width", func(p *Profile) { p.MaxTileWidth = 1000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Gen6()
			tt.mutate(&p)
			if err := p.Validate(); !errors.Is(err, ErrConfiguration) {
				t.Errorf("Validate() = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestParseProfile_Base(t *testing.T) {
	doc := `
base = "gen6"
name = "gen6-small"
gmem_bytes = 262144
bit_mode = "packed"
`
	p, err := ParseProfile([]byte(doc))
	if err != nil {
		t.Fatalf("ParseProfile failed: %v", err)
	}
	want := Gen6()
	want.Name = "gen6-small"
	want.GmemBytes = 262144
	want.BitMode = BitPacked
	if p != want {
		t.Errorf("ParseProfile() = %+v, want %+v", p, want)
	}
}

func TestParseProfile_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"syntax", "gmem_bytes = "},
		{"unknown base", `base = "gen1"`},
		{"invalid without base", `name = "bare"`},
		{"invalid values", "base = \"gen5\"\nmax_pipes = 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseProfile([]byte(tt.doc)); !errors.Is(err, ErrConfiguration) {
				t.Errorf("ParseProfile() = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestProfile_TOMLRoundTrip(t *testing.T) {
	p := Gen5()
	p.Name = "custom"
	p.Binning = false

	data, err := p.TOML()
	if err != nil {
		t.Fatalf("TOML failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "custom.toml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}
	if got != p {
		t.Errorf("LoadProfile() = %+v, want %+v", got, p)
	}
}

func TestLoadProfile_Missing(t *testing.T) {
	if _, err := LoadProfile(filepath.Join(t.TempDir(), "none.toml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadProfile() = %v, want os.ErrNotExist", err)
	}
}
